package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aquapure/api/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the counter hit its configured maximum.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// CounterServiceDeps bundles collaborators for NewCounterService.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

// NewCounterService builds the sequence-number service backing order and
// booking numbers.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &counterService{
		repo:  deps.Repository,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

// Next increments the counter identified by scope and name and formats the
// resulting value. Counters are created on first use.
func (s *counterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	scope = strings.TrimSpace(scope)
	name = strings.TrimSpace(name)
	if scope == "" {
		return CounterValue{}, fmt.Errorf("%w: scope is required", ErrCounterInvalidInput)
	}
	if name == "" {
		return CounterValue{}, fmt.Errorf("%w: name is required", ErrCounterInvalidInput)
	}
	counterID := scope + ":" + name

	if opts.MaxValue != nil || opts.InitialValue != nil || opts.Step > 0 {
		cfg := repositories.CounterConfig{
			Step:         opts.Step,
			MaxValue:     opts.MaxValue,
			InitialValue: opts.InitialValue,
		}
		if err := s.repo.Configure(ctx, counterID, cfg); err != nil {
			return CounterValue{}, err
		}
	}

	value, err := s.repo.Next(ctx, counterID, opts.Step)
	if err != nil {
		return CounterValue{}, mapCounterError(err)
	}

	return CounterValue{Value: value, Formatted: formatCounterValue(s.clock(), value, opts)}, nil
}

// NextOrderNumber issues the next order number. Sequences restart each
// calendar year: AQ-2026-000001.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	return s.yearSequence(ctx, "orders", "AQ")
}

// NextBookingNumber issues the next service booking number, sequenced
// independently of orders: SB-2026-000001.
func (s *counterService) NextBookingNumber(ctx context.Context) (string, error) {
	return s.yearSequence(ctx, "bookings", "SB")
}

func (s *counterService) yearSequence(ctx context.Context, scope, prefix string) (string, error) {
	year := s.clock().Year()
	result, err := s.Next(ctx, scope, fmt.Sprintf("%04d", year), CounterGenerationOptions{
		Formatter: func(_ time.Time, seq int64) string {
			return fmt.Sprintf("%s-%04d-%06d", prefix, year, seq)
		},
	})
	if err != nil {
		return "", err
	}
	return result.Formatted, nil
}

func mapCounterError(err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		case repositories.CounterErrorExhausted:
			return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
		}
	}
	return err
}

func formatCounterValue(now time.Time, value int64, opts CounterGenerationOptions) string {
	if opts.Formatter != nil {
		return opts.Formatter(now, value)
	}
	formatted := fmt.Sprintf("%d", value)
	if opts.PadLength > 0 {
		formatted = fmt.Sprintf("%0*d", opts.PadLength, value)
	}
	return opts.Prefix + formatted + opts.Suffix
}
