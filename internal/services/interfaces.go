package services

import (
	"context"
	"time"

	"github.com/aquapure/api/internal/domain"
	"github.com/aquapure/api/internal/payments"
)

// Actor roles recognised by the lifecycle services. Handlers collapse the
// authenticated identity's role set into the single strongest role before
// invoking a service.
const (
	ActorRoleCustomer = "customer"
	ActorRoleSeller   = "seller"
	ActorRoleAdmin    = "admin"
	// ActorRoleSystem tags transitions driven by inbound webhooks rather than
	// a human principal.
	ActorRoleSystem = "system"
)

// Actor identifies the principal requesting a state change.
type Actor struct {
	ID   string
	Role string
}

// IsStaff reports whether the actor holds seller or admin privileges.
func (a Actor) IsStaff() bool {
	return a.Role == ActorRoleSeller || a.Role == ActorRoleAdmin
}

// EventPublisher emits lifecycle events after a transition has been durably
// committed. Publish failures are logged by the caller and never propagated
// into the transition result.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event domain.LifecycleEvent) (string, error)
}

// Order service ---------------------------------------------------------------

// CheckoutItemInput references a catalog product and quantity to order.
type CheckoutItemInput struct {
	ProductID string
	Quantity  int
}

// CheckoutCommand captures a customer checkout request. Prices and product
// names are resolved server-side against the live catalog, never trusted from
// the client.
type CheckoutCommand struct {
	Actor         Actor
	Items         []CheckoutItemInput
	PaymentMethod domain.PaymentMethod

	ContactName     string
	ContactPhone    string
	ShippingAddress string
	ShippingCity    string
	ShippingState   string
	ShippingPostal  string
}

// CheckoutResult returns the persisted order plus, for online payments, the
// gateway order the client completes payment against.
type CheckoutResult struct {
	Order        domain.Order
	GatewayOrder *payments.GatewayOrder
}

// MarkOrderPaidCommand settles an order. With gateway identifiers present it
// verifies an online payment; without them it is the staff COD mark-paid
// action.
type MarkOrderPaidCommand struct {
	Actor   Actor
	OrderID string

	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
}

// MarkOrderShippedCommand dispatches the order with the courier partner.
type MarkOrderShippedCommand struct {
	Actor       Actor
	OrderID     string
	WeightGrams int
	Note        string
}

// MarkOrderDeliveredCommand records final delivery.
type MarkOrderDeliveredCommand struct {
	Actor   Actor
	OrderID string
	Note    string
}

// CancelOrderCommand requests cancellation under the policy engine rules.
type CancelOrderCommand struct {
	Actor   Actor
	OrderID string
	Reason  string
}

// RequestReturnCommand opens the post-delivery return flow.
type RequestReturnCommand struct {
	Actor   Actor
	OrderID string
	Reason  string
}

// ReturnActionCommand drives the staff-side return decisions.
type ReturnActionCommand struct {
	Actor   Actor
	OrderID string
	Reason  string
}

// ProcessOrderRefundCommand executes a queued refund intent. AmountOverride,
// when set, replaces the default full-total refund amount.
type ProcessOrderRefundCommand struct {
	Actor          Actor
	OrderID        string
	AmountOverride *int64
	Note           string
}

// CourierStatusCommand is the inbound webhook payload after vendor-status
// translation at the handler boundary.
type CourierStatusCommand struct {
	OrderID      string
	VendorStatus string
	DeliveredAt  *time.Time
}

// OrderListQuery filters the order listing. Non-staff actors are always
// scoped to their own orders regardless of the UserID filter.
type OrderListQuery struct {
	UserID     string
	Status     []string
	From       *time.Time
	To         *time.Time
	Pagination domain.Pagination
}

// OrderService orchestrates the product-order lifecycle.
type OrderService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, actor Actor, query OrderListQuery) (domain.CursorPage[domain.Order], error)

	MarkAsPaid(ctx context.Context, cmd MarkOrderPaidCommand) (domain.Order, error)
	MarkAsShipped(ctx context.Context, cmd MarkOrderShippedCommand) (domain.Order, error)
	MarkAsDelivered(ctx context.Context, cmd MarkOrderDeliveredCommand) (domain.Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)

	RequestReturn(ctx context.Context, cmd RequestReturnCommand) (domain.Order, error)
	ApproveReturn(ctx context.Context, cmd ReturnActionCommand) (domain.Order, error)
	RejectReturn(ctx context.Context, cmd ReturnActionCommand) (domain.Order, error)
	MarkReturnReceived(ctx context.Context, cmd ReturnActionCommand) (domain.Order, error)
	ProcessRefund(ctx context.Context, cmd ProcessOrderRefundCommand) (domain.Order, error)

	ApplyCourierStatus(ctx context.Context, cmd CourierStatusCommand) (domain.Order, error)
}

// Service booking service -----------------------------------------------------

// CreateBookingCommand captures a customer's service call request. Pricing is
// recomputed server-side from DistanceFromWarehouse.
type CreateBookingCommand struct {
	Actor Actor

	ServiceType   string
	Description   string
	Address       string
	PostalCode    string
	ScheduledDate *time.Time
	TermsAccepted bool

	DistanceFromWarehouse float64
}

// BookingPaymentOrder pairs the booking with the gateway order sized to the
// advance amount.
type BookingPaymentOrder struct {
	Booking      domain.ServiceBooking
	GatewayOrder payments.GatewayOrder
}

// VerifyBookingPaymentCommand carries the client-reported gateway identifiers
// for advance-payment verification.
type VerifyBookingPaymentCommand struct {
	Actor Actor

	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
}

// UpdateBookingStatusCommand is the staff-side lifecycle control: status
// moves plus optional technician assignment, reschedule and cost override.
type UpdateBookingStatusCommand struct {
	Actor     Actor
	BookingID string

	Status        domain.BookingStatus
	Technician    string
	ScheduledDate *time.Time
	CostOverride  *int64
	Note          string
}

// CancelBookingCommand cancels a booking and computes the fee-deducted refund
// when the advance was paid.
type CancelBookingCommand struct {
	Actor     Actor
	BookingID string
	Reason    string
}

// ProcessBookingRefundCommand executes the refund computed at cancellation.
type ProcessBookingRefundCommand struct {
	Actor     Actor
	BookingID string
}

// SubmitFeedbackCommand records the customer's post-completion rating.
type SubmitFeedbackCommand struct {
	Actor     Actor
	BookingID string
	Rating    int
	Comment   string
}

// BookingListQuery filters the booking listing with the same owner scoping
// rules as orders.
type BookingListQuery struct {
	UserID     string
	Status     []string
	From       *time.Time
	To         *time.Time
	Pagination domain.Pagination
}

// BookingService orchestrates the service-booking lifecycle.
type BookingService interface {
	Create(ctx context.Context, cmd CreateBookingCommand) (domain.ServiceBooking, error)
	GetBooking(ctx context.Context, actor Actor, bookingID string) (domain.ServiceBooking, error)
	ListBookings(ctx context.Context, actor Actor, query BookingListQuery) (domain.CursorPage[domain.ServiceBooking], error)

	CreatePaymentOrder(ctx context.Context, actor Actor, bookingID string) (BookingPaymentOrder, error)
	VerifyPayment(ctx context.Context, cmd VerifyBookingPaymentCommand) (domain.ServiceBooking, error)

	UpdateStatus(ctx context.Context, cmd UpdateBookingStatusCommand) (domain.ServiceBooking, error)
	Cancel(ctx context.Context, cmd CancelBookingCommand) (domain.ServiceBooking, error)
	ProcessRefund(ctx context.Context, cmd ProcessBookingRefundCommand) (domain.ServiceBooking, error)
	SubmitFeedback(ctx context.Context, cmd SubmitFeedbackCommand) (domain.ServiceBooking, error)
}

// Counter service --------------------------------------------------------------

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, seq int64) string
}

// CounterValue is the raw and formatted result of a counter increment.
type CounterValue struct {
	Value     int64
	Formatted string
}

// CounterService issues transaction-safe sequence numbers and the
// human-readable order/booking identifiers built from them.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
	NextBookingNumber(ctx context.Context) (string, error)
}

// System service ----------------------------------------------------------------

// SystemService exposes operational utilities consumed by health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}
