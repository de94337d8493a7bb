package notifications

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aquapure/api/internal/domain"
)

const sinkTimeout = 5 * time.Second

// EventSink consumes lifecycle events. Sinks must tolerate duplicate delivery.
type EventSink interface {
	HandleEvent(ctx context.Context, event domain.LifecycleEvent) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(context.Context, domain.LifecycleEvent) error

// HandleEvent implements EventSink.
func (f EventSinkFunc) HandleEvent(ctx context.Context, event domain.LifecycleEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// Dispatcher fans lifecycle events out to the registered sinks. Delivery is
// best-effort: a failing sink is logged and never blocks the state transition
// that produced the event.
type Dispatcher struct {
	sinks   []EventSink
	logger  *zap.Logger
	timeout time.Duration
}

// NewDispatcher constructs a dispatcher over the provided sinks. Each sink
// gets at most sinkTimeout per event.
func NewDispatcher(logger *zap.Logger, sinks ...EventSink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			kept = append(kept, sink)
		}
	}
	return &Dispatcher{
		sinks:   kept,
		logger:  logger,
		timeout: sinkTimeout,
	}
}

// Dispatch delivers the event to every sink. Failures are logged, not returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.LifecycleEvent) {
	if d == nil {
		return
	}

	// Delivery continues even when the request context is already done.
	base := context.WithoutCancel(ctx)

	for _, sink := range d.sinks {
		sinkCtx, cancel := context.WithTimeout(base, d.timeout)
		err := sink.HandleEvent(sinkCtx, event)
		cancel()
		if err != nil {
			d.logger.Warn("notification sink failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.String("entity_id", event.EntityID),
				zap.Error(err),
			)
		}
	}
}
