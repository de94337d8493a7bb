package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aquapure/api/internal/domain"
	"github.com/aquapure/api/internal/services"
)

type fakeSystemService struct {
	report domain.SystemHealthReport
	err    error
}

func (s *fakeSystemService) HealthReport(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*fakeSystemService)(nil)

func performHealthRequest(t *testing.T, target string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestHealthzReportsBuildMetadata(t *testing.T) {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := performHealthRequest(t, "/healthz", handlers.Healthz)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	for key, want := range map[string]any{
		"status":    domain.HealthStatusOK,
		"version":   "1.0.0",
		"commitSha": "abc123",
		"uptime":    "30s",
	} {
		if body[key] != want {
			t.Fatalf("healthz %s = %v, want %v", key, body[key], want)
		}
	}
}

func TestReadyzHealthyDependencies(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 1, 0, 0, time.UTC)
	svc := &fakeSystemService{
		report: domain.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			Uptime:      time.Minute,
			GeneratedAt: now,
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
			},
		},
	}
	handlers := NewHealthHandlers(
		WithHealthSystemService(svc),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := performHealthRequest(t, "/readyz", handlers.Readyz)
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz returned %d", rr.Code)
	}

	var body readinessPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.Status != domain.HealthStatusOK {
		t.Fatalf("status = %s, want ok", body.Status)
	}
	if len(body.Details) != 0 {
		t.Fatalf("expected no failure details, got %v", body.Details)
	}
	if body.Checks["firestore"].Status != domain.HealthStatusOK {
		t.Fatalf("firestore check = %s, want ok", body.Checks["firestore"].Status)
	}
}

func TestReadyzDegradedDependencyReturns503(t *testing.T) {
	svc := &fakeSystemService{
		report: domain.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.SystemHealthCheck{
				"pubsub": {Status: domain.HealthStatusDegraded, Error: "publish failed"},
			},
		},
	}
	handlers := NewHealthHandlers(WithHealthSystemService(svc))

	rr := performHealthRequest(t, "/readyz", handlers.Readyz)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz returned %d, want 503", rr.Code)
	}

	var body readinessPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.Status != domain.HealthStatusDegraded {
		t.Fatalf("status = %s, want degraded", body.Status)
	}
	if len(body.Details) != 1 || body.Details[0] != "pubsub: publish failed" {
		t.Fatalf("details = %v, want the pubsub failure", body.Details)
	}
}

func TestReadyzWithoutSystemService(t *testing.T) {
	handlers := NewHealthHandlers()

	rr := performHealthRequest(t, "/readyz", handlers.Readyz)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz returned %d, want 503", rr.Code)
	}
}
