package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage wraps a page of results plus the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for product orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is placed and awaits seller confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the seller accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being packed for dispatch.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusOutForDelivery indicates the courier is delivering the order.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered indicates the customer received the order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order was returned and money refunded.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentMethod distinguishes how an order is settled.
type PaymentMethod string

const (
	// PaymentMethodOnline is a prepaid gateway payment captured before dispatch.
	PaymentMethodOnline PaymentMethod = "online"
	// PaymentMethodCOD is cash collected by the courier at delivery.
	PaymentMethodCOD PaymentMethod = "cod"
)

// ReturnStatus tracks the post-delivery return sub-flow of an order.
type ReturnStatus string

const (
	ReturnStatusNone      ReturnStatus = "none"
	ReturnStatusRequested ReturnStatus = "requested"
	ReturnStatusApproved  ReturnStatus = "approved"
	ReturnStatusRejected  ReturnStatus = "rejected"
	ReturnStatusPickedUp  ReturnStatus = "picked_up"
	ReturnStatusReceived  ReturnStatus = "received"
	ReturnStatusRefunded  ReturnStatus = "refunded"
)

// RefundStatus tracks refund execution independent of the return flow.
type RefundStatus string

const (
	RefundStatusNone       RefundStatus = "none"
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

// ReturnWindow is how long after delivery a customer may request a return.
const ReturnWindow = 7 * 24 * time.Hour

// StatusHistoryEntry is one append-only audit record of a lifecycle
// transition. Entries are never mutated or removed once persisted.
type StatusHistoryEntry struct {
	Status    string
	Note      string
	Actor     string
	ActorRole string
	At        time.Time
}

// OrderItem is a line item snapshotted at checkout time. Price and name are
// frozen here and must not follow later product catalog edits.
type OrderItem struct {
	ProductRef string
	Name       string
	Image      string
	Quantity   int
	UnitPrice  int64
	Total      int64
}

// OrderReturn captures the return sub-state of a delivered order.
type OrderReturn struct {
	Requested       bool
	Status          ReturnStatus
	Reason          string
	RejectionReason string
	RequestedAt     *time.Time
	ApprovedAt      *time.Time
	RejectedAt      *time.Time
	PickedUpAt      *time.Time
	ReceivedAt      *time.Time
	ActionedBy      string
}

// OrderRefund captures refund intent and execution state for an order.
type OrderRefund struct {
	Status        RefundStatus
	Amount        int64
	Method        string
	TransactionID string
	Note          string
	InitiatedAt   *time.Time
	CompletedAt   *time.Time
}

// OrderShipment stores forward or reverse courier references on the order.
type OrderShipment struct {
	ShipmentID  string
	AWB         string
	CourierName string
	TrackingURL string
	Mode        string
	CreatedAt   *time.Time
}

// Order is the persisted product-order aggregate. Status is the single
// source of truth for lifecycle position; StatusHistory is append-only.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string

	Items         []OrderItem
	ItemsPrice    int64
	TaxPrice      int64
	ShippingPrice int64
	TotalPrice    int64

	PaymentMethod PaymentMethod
	IsPaid        bool
	PaidAt        *time.Time
	PaymentRef    string
	// GatewayOrderID is the gateway-side order created at checkout. A payment
	// may only mark this order paid when it settles that gateway order.
	GatewayOrderID string

	Status        OrderStatus
	StatusHistory []StatusHistoryEntry

	IsDelivered bool
	DeliveredAt *time.Time
	ShippedAt   *time.Time
	CancelledAt *time.Time
	CancelledBy string

	Return        OrderReturn
	Refund        OrderRefund
	Shipment      *OrderShipment
	ReversePickup *OrderShipment

	ContactName     string
	ContactPhone    string
	ShippingAddress string
	ShippingCity    string
	ShippingState   string
	ShippingPostal  string

	// Version guards every status-changing write; a mismatched version on
	// update must fail the write rather than clobber a concurrent transition.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanBeCancelled reports whether the owning customer may still cancel.
func (o Order) CanBeCancelled() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

// CanBeReturned reports whether a return request is admissible at now. When
// DeliveredAt was never stamped the record update time approximates the
// window start.
func (o Order) CanBeReturned(now time.Time) bool {
	if o.Status != OrderStatusDelivered || o.Return.Requested {
		return false
	}
	deliveredAt := o.UpdatedAt
	if o.DeliveredAt != nil {
		deliveredAt = *o.DeliveredAt
	}
	return now.Sub(deliveredAt) <= ReturnWindow
}

// RecognisedRevenue returns the amount this order contributes to realized
// revenue: online orders count once paid, COD orders only once delivered.
func (o Order) RecognisedRevenue() int64 {
	switch o.PaymentMethod {
	case PaymentMethodCOD:
		if o.Status == OrderStatusDelivered {
			return o.TotalPrice
		}
	default:
		if o.IsPaid {
			return o.TotalPrice
		}
	}
	return 0
}

// BookingStatus enumerates service booking lifecycle states.
type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "pending"
	BookingStatusConfirmed  BookingStatus = "confirmed"
	BookingStatusAssigned   BookingStatus = "assigned"
	BookingStatusInProgress BookingStatus = "in_progress"
	BookingStatusCompleted  BookingStatus = "completed"
	BookingStatusCancelled  BookingStatus = "cancelled"
)

// BookingPaymentStatus tracks the advance/remaining payment split.
type BookingPaymentStatus string

const (
	BookingPaymentPending           BookingPaymentStatus = "pending"
	BookingPaymentAdvancePaid       BookingPaymentStatus = "advance_paid"
	BookingPaymentFullyPaid         BookingPaymentStatus = "fully_paid"
	BookingPaymentRefundPending     BookingPaymentStatus = "refund_pending"
	BookingPaymentRefunded          BookingPaymentStatus = "refunded"
	BookingPaymentPartiallyRefunded BookingPaymentStatus = "partially_refunded"
)

// BookingRefundStatus tracks refund execution for a cancelled booking.
type BookingRefundStatus string

const (
	BookingRefundPending   BookingRefundStatus = "pending"
	BookingRefundProcessed BookingRefundStatus = "processed"
	BookingRefundFailed    BookingRefundStatus = "failed"
)

// AdvancePayment is populated only after gateway signature verification.
type AdvancePayment struct {
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	Amount           int64
	PaidAt           *time.Time
}

// BookingRefund records the fee-deducted refund computed at cancellation.
type BookingRefund struct {
	Amount          int64
	DeductedAmount  int64
	RefundedAmount  int64
	GatewayRefundID string
	Reason          string
	Status          BookingRefundStatus
	RefundedAt      *time.Time
}

// BookingFeedback stores the customer's post-completion rating.
type BookingFeedback struct {
	Rating      int
	Comment     string
	SubmittedAt time.Time
}

// ServiceBooking is the persisted installation/repair call aggregate.
type ServiceBooking struct {
	ID            string
	BookingNumber string
	UserID        string

	ServiceType   string
	Description   string
	Address       string
	PostalCode    string
	ScheduledDate *time.Time
	TermsAccepted bool

	DistanceFromWarehouse float64
	ServiceCost           int64
	AdvanceAmount         int64
	RemainingAmount       int64

	Status         BookingStatus
	PaymentStatus  BookingPaymentStatus
	StatusHistory  []StatusHistoryEntry
	AdvancePayment *AdvancePayment
	Refund         *BookingRefund
	Feedback       *BookingFeedback

	Technician    string
	CompletedDate *time.Time
	CancelledAt   *time.Time
	CancelledBy   string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether no further lifecycle transitions are allowed.
func (b ServiceBooking) IsTerminal() bool {
	return b.Status == BookingStatusCompleted || b.Status == BookingStatusCancelled
}

// Product is the catalog projection the order flow depends on. The catalog
// itself is owned elsewhere; only stock and the checkout snapshot fields are
// read here.
type Product struct {
	ID       string
	Name     string
	Image    string
	Price    int64
	Stock    int
	IsActive bool
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
