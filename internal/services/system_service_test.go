package services

import (
	"context"
	"testing"
	"time"

	"github.com/aquapure/api/internal/domain"
)

type fakeHealthRepo struct {
	report domain.SystemHealthReport
	err    error
}

func (f *fakeHealthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	if f.err != nil {
		return domain.SystemHealthReport{}, f.err
	}
	return f.report, nil
}

func TestHealthReportFillsBuildMetadata(t *testing.T) {
	started := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	now := started.Add(3 * time.Hour)

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &fakeHealthRepo{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
		}},
		Clock: fixedClock(now),
		Build: BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc123" || report.Environment != "staging" {
		t.Fatalf("build metadata missing: %+v", report)
	}
	if report.Uptime != 3*time.Hour {
		t.Fatalf("expected 3h uptime, got %s", report.Uptime)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %s", report.Status)
	}
}

func TestHealthReportDerivesDegradedStatus(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &fakeHealthRepo{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"pubsub":    {Status: domain.HealthStatusDegraded},
			},
		}},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
}
