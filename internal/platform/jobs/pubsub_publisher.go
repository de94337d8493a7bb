package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/aquapure/api/internal/domain"
)

// PubSubEventPublisher publishes order and booking lifecycle events to a Pub/Sub topic.
// Consumers include the notification dispatcher and the audit log sink.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed lifecycle event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishEvent enqueues the lifecycle event on the configured topic and returns the server message ID.
func (p *PubSubEventPublisher) PublishEvent(ctx context.Context, event domain.LifecycleEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub event publisher: not initialised")
	}
	if strings.TrimSpace(string(event.Type)) == "" {
		return "", errors.New("pubsub event publisher: event type is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal lifecycle event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "eventType", string(event.Type))
	setAttr(attrs, "entityKind", event.EntityKind)
	setAttr(attrs, "entityId", event.EntityID)
	setAttr(attrs, "userId", event.UserID)
	setAttr(attrs, "toStatus", event.ToStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey(event),
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish lifecycle event: %w", err)
	}
	return id, nil
}

// orderingKey keeps events for the same aggregate in emission order when the
// topic has message ordering enabled.
func orderingKey(event domain.LifecycleEvent) string {
	if event.EntityKind == "" || event.EntityID == "" {
		return ""
	}
	return event.EntityKind + "/" + event.EntityID
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
