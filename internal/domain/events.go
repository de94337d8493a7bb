package domain

import "time"

// EventType identifies a lifecycle event emitted by the order and booking services.
type EventType string

const (
	EventOrderCreated         EventType = "order.created"
	EventOrderStatusChanged   EventType = "order.status.changed"
	EventOrderReturnRequested EventType = "order.return.requested"
	EventOrderReturnApproved  EventType = "order.return.approved"
	EventOrderReturnRejected  EventType = "order.return.rejected"
	EventOrderRefundInitiated EventType = "order.refund.initiated"
	EventOrderRefundCompleted EventType = "order.refund.completed"

	EventBookingCreated         EventType = "booking.created"
	EventBookingStatusChanged   EventType = "booking.status.changed"
	EventBookingRefundInitiated EventType = "booking.refund.initiated"
	EventBookingRefundCompleted EventType = "booking.refund.completed"
)

// Entity kinds referenced by lifecycle events.
const (
	EntityOrder   = "order"
	EntityBooking = "service_booking"
)

// LifecycleEvent records a state change on an order or service booking. Events
// feed the notification dispatcher and the audit topic; they are emitted after
// the owning aggregate has been durably updated.
type LifecycleEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	EntityKind string         `json:"entityKind"`
	EntityID   string         `json:"entityId"`
	UserID     string         `json:"userId,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	FromStatus string         `json:"fromStatus,omitempty"`
	ToStatus   string         `json:"toStatus,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}
