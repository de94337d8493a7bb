package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aquapure/api/internal/courier"
	"github.com/aquapure/api/internal/domain"
	"github.com/aquapure/api/internal/payments"
	"github.com/aquapure/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"
	orderCurrency = "INR"

	// shipmentModeCourier marks shipments booked with the courier partner;
	// shipmentModeSimulation marks the manual fallback used when the partner
	// is unavailable.
	shipmentModeCourier    = "courier"
	shipmentModeSimulation = "simulation"

	refundMethodOriginalPayment = "original-payment"
	refundMethodManualTransfer  = "manual-transfer"
)

// orderStateTransitions is the forward lifecycle. Same-status writes are
// rejected rather than treated as no-ops so repeated staff actions surface as
// errors instead of silently re-running side effects.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:        {domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:      {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:     {domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:        {domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:      {domain.OrderStatusRefunded},
}

// orderStatusRank orders the courier-driven forward progression so webhook
// events arriving out of order never move an order backwards.
var orderStatusRank = map[domain.OrderStatus]int{
	domain.OrderStatusPending:        0,
	domain.OrderStatusConfirmed:      1,
	domain.OrderStatusProcessing:     2,
	domain.OrderStatusShipped:        3,
	domain.OrderStatusOutForDelivery: 4,
	domain.OrderStatusDelivered:      5,
}

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	CreateGatewayOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.GatewayOrderRequest) (payments.GatewayOrder, error)
	VerifyPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VerificationRequest) error
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, paymentID string) (payments.PaymentDetails, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error)
}

// courierGateway abstracts courier.Provider for easier testing.
type courierGateway interface {
	CreateShipment(ctx context.Context, req courier.ShipmentRequest) (courier.Shipment, error)
	CreateReversePickup(ctx context.Context, req courier.ReversePickupRequest) (courier.Shipment, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductCatalog
	Counters    CounterService
	UnitOfWork  repositories.UnitOfWork
	Payments    paymentGateway
	Courier     courierGateway
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductCatalog
	counters   CounterService
	unitOfWork repositories.UnitOfWork
	gateway    paymentGateway
	courier    courierGateway
	clock      func() time.Time
	newID      func() string
	events     EventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product catalog is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		counters:   deps.Counters,
		unitOfWork: unit,
		gateway:    deps.Payments,
		courier:    deps.Courier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return CheckoutResult{}, fmt.Errorf("%w: actor id is required", ErrValidation)
	}
	if len(cmd.Items) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: cart must contain at least one item", ErrValidation)
	}
	if cmd.PaymentMethod != domain.PaymentMethodOnline && cmd.PaymentMethod != domain.PaymentMethodCOD {
		return CheckoutResult{}, fmt.Errorf("%w: unknown payment method %q", ErrValidation, cmd.PaymentMethod)
	}
	if strings.TrimSpace(cmd.ShippingAddress) == "" {
		return CheckoutResult{}, fmt.Errorf("%w: shipping address is required", ErrValidation)
	}

	delivery, err := ComputeDeliveryCharge(cmd.ShippingPostal)
	if err != nil {
		return CheckoutResult{}, err
	}

	// Revalidate every line against the live catalog; cart snapshots are
	// never trusted for price, stock or the active flag.
	items := make([]domain.OrderItem, 0, len(cmd.Items))
	var itemsPrice int64
	for _, input := range cmd.Items {
		if input.Quantity < 1 {
			return CheckoutResult{}, fmt.Errorf("%w: quantity must be at least 1 for product %s", ErrValidation, input.ProductID)
		}
		product, err := s.products.FindByID(ctx, input.ProductID)
		if err != nil {
			return CheckoutResult{}, mapRepositoryError(err)
		}
		if !product.IsActive {
			return CheckoutResult{}, fmt.Errorf("%w: product %s is no longer available", ErrValidation, product.ID)
		}
		if product.Stock < input.Quantity {
			return CheckoutResult{}, fmt.Errorf("%w: insufficient stock for %s (have %d, want %d)",
				ErrValidation, product.Name, product.Stock, input.Quantity)
		}
		total := product.Price * int64(input.Quantity)
		items = append(items, domain.OrderItem{
			ProductRef: product.ID,
			Name:       product.Name,
			Image:      product.Image,
			Quantity:   input.Quantity,
			UnitPrice:  product.Price,
			Total:      total,
		})
		itemsPrice += total
	}

	now := s.now()
	taxPrice := domain.ComputeTax(itemsPrice)
	totalPrice := itemsPrice + taxPrice + delivery.Charge

	orderNumber, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return CheckoutResult{}, err
	}

	order := domain.Order{
		ID:          orderIDPrefix + s.newID(),
		OrderNumber: orderNumber,
		UserID:      cmd.Actor.ID,

		Items:         items,
		ItemsPrice:    itemsPrice,
		TaxPrice:      taxPrice,
		ShippingPrice: delivery.Charge,
		TotalPrice:    totalPrice,

		PaymentMethod: cmd.PaymentMethod,
		Status:        domain.OrderStatusPending,

		ContactName:     strings.TrimSpace(cmd.ContactName),
		ContactPhone:    strings.TrimSpace(cmd.ContactPhone),
		ShippingAddress: strings.TrimSpace(cmd.ShippingAddress),
		ShippingCity:    strings.TrimSpace(cmd.ShippingCity),
		ShippingState:   strings.TrimSpace(cmd.ShippingState),
		ShippingPostal:  strings.TrimSpace(cmd.ShippingPostal),

		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	order.Return.Status = domain.ReturnStatusNone
	order.Refund.Status = domain.RefundStatusNone
	appendHistory(&order, string(domain.OrderStatusPending), "order placed", cmd.Actor, now)

	var gatewayOrder *payments.GatewayOrder
	if cmd.PaymentMethod == domain.PaymentMethodOnline {
		if s.gateway == nil {
			return CheckoutResult{}, fmt.Errorf("%w: online payments are not configured", ErrValidation)
		}
		created, err := s.gateway.CreateGatewayOrder(ctx, payments.PaymentContext{Currency: orderCurrency}, payments.GatewayOrderRequest{
			Amount:         totalPrice,
			Currency:       orderCurrency,
			Receipt:        orderNumber,
			Notes:          map[string]string{"orderId": order.ID, "userId": order.UserID},
			IdempotencyKey: order.ID,
		})
		if err != nil {
			return CheckoutResult{}, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
		}
		gatewayOrder = &created
		order.GatewayOrderID = created.ID
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		decremented, err := s.decrementStock(txCtx, items)
		if err != nil {
			s.restoreStock(txCtx, decremented)
			return err
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			s.restoreStock(txCtx, items)
			return mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventOrderCreated,
		EntityKind: domain.EntityOrder,
		EntityID:   order.ID,
		UserID:     order.UserID,
		Actor:      cmd.Actor.Role,
		ToStatus:   string(order.Status),
		Payload: map[string]any{
			"orderNumber":   order.OrderNumber,
			"totalPrice":    order.TotalPrice,
			"paymentMethod": string(order.PaymentMethod),
		},
		OccurredAt: now,
	})

	return CheckoutResult{Order: order, GatewayOrder: gatewayOrder}, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (domain.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := authorizeOrderAccess(order, actor); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, actor Actor, query OrderListQuery) (domain.CursorPage[domain.Order], error) {
	filter := repositories.OrderListFilter{
		UserID:     strings.TrimSpace(query.UserID),
		Status:     query.Status,
		DateRange:  domain.RangeQuery[time.Time]{From: query.From, To: query.To},
		Pagination: query.Pagination,
	}
	// Non-staff actors only ever see their own orders.
	if !actor.IsStaff() {
		filter.UserID = actor.ID
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) MarkAsPaid(ctx context.Context, cmd MarkOrderPaidCommand) (domain.Order, error) {
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.IsPaid {
		return domain.Order{}, fmt.Errorf("%w: order %s is already paid", ErrInvalidTransition, order.ID)
	}

	now := s.now()
	online := strings.TrimSpace(cmd.GatewayPaymentID) != ""

	if online {
		if err := authorizeOrderAccess(order, cmd.Actor); err != nil {
			return domain.Order{}, err
		}
		if order.PaymentMethod != domain.PaymentMethodOnline {
			return domain.Order{}, fmt.Errorf("%w: order %s is not an online payment order", ErrInvalidTransition, order.ID)
		}
		if s.gateway == nil {
			return domain.Order{}, fmt.Errorf("%w: online payments are not configured", ErrValidation)
		}
		// The payment must settle the gateway order issued for this order at
		// checkout; an authentic signature for some other gateway order proves
		// nothing about this one.
		gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
		if order.GatewayOrderID == "" || gatewayOrderID != order.GatewayOrderID {
			return domain.Order{}, fmt.Errorf("%w: payment does not belong to order %s", ErrGatewayRejected, order.ID)
		}
		// Signature mismatch is a hard failure with no state mutation.
		if err := s.gateway.VerifyPayment(ctx, payments.PaymentContext{Currency: orderCurrency}, payments.VerificationRequest{
			GatewayOrderID: gatewayOrderID,
			PaymentID:      cmd.GatewayPaymentID,
			Signature:      cmd.GatewaySignature,
		}); err != nil {
			return domain.Order{}, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
		}
		details, err := s.gateway.LookupPayment(ctx, payments.PaymentContext{Currency: orderCurrency}, strings.TrimSpace(cmd.GatewayPaymentID))
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
		}
		if details.Status != payments.StatusCaptured {
			return domain.Order{}, fmt.Errorf("%w: payment %s is not captured", ErrGatewayRejected, details.PaymentID)
		}
		if details.Amount != order.TotalPrice {
			return domain.Order{}, fmt.Errorf("%w: payment amount %d does not match order total %d", ErrGatewayRejected, details.Amount, order.TotalPrice)
		}
		order.PaymentRef = strings.TrimSpace(cmd.GatewayPaymentID)
		appendHistory(&order, "payment_verified", "online payment captured", cmd.Actor, now)
	} else {
		if err := requireStaff(cmd.Actor); err != nil {
			return domain.Order{}, err
		}
		if order.PaymentMethod != domain.PaymentMethodCOD {
			return domain.Order{}, fmt.Errorf("%w: only cash-on-delivery orders can be marked paid manually", ErrInvalidTransition)
		}
		appendHistory(&order, "payment_recorded", "cash payment recorded", cmd.Actor, now)
	}

	order.IsPaid = true
	order.PaidAt = &now
	order.UpdatedAt = now

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	payload := map[string]any{"orderNumber": updated.OrderNumber, "isPaid": true}
	if online {
		// Online carts are cleared once payment is confirmed; COD carts wait
		// until delivery.
		payload["clearCart"] = true
	}
	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventOrderStatusChanged,
		EntityKind: domain.EntityOrder,
		EntityID:   updated.ID,
		UserID:     updated.UserID,
		Actor:      cmd.Actor.Role,
		FromStatus: string(updated.Status),
		ToStatus:   string(updated.Status),
		Payload:    payload,
		OccurredAt: now,
	})
	return updated, nil
}

func (s *orderService) MarkAsShipped(ctx context.Context, cmd MarkOrderShippedCommand) (domain.Order, error) {
	if err := requireStaff(cmd.Actor); err != nil {
		return domain.Order{}, err
	}
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	prev := order.Status
	if err := s.applyStatusTransition(&order, domain.OrderStatusShipped, now); err != nil {
		return domain.Order{}, err
	}

	shipment, note := s.bookForwardShipment(ctx, order, cmd.WeightGrams, now)
	order.Shipment = shipment
	if cmd.Note != "" {
		note = note + "; " + sanitizeFreeText(cmd.Note)
	}
	appendHistory(&order, string(domain.OrderStatusShipped), note, cmd.Actor, now)

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	s.publishStatusChange(ctx, updated, prev, cmd.Actor, now, map[string]any{
		"shipmentMode": shipment.Mode,
		"awb":          shipment.AWB,
	})
	return updated, nil
}

// bookForwardShipment books the consignment with the courier partner. A
// failed booking degrades to simulation mode: the order still ships, the
// history records the mode, and staff arrange the pickup manually.
func (s *orderService) bookForwardShipment(ctx context.Context, order domain.Order, weightGrams int, now time.Time) (*domain.OrderShipment, string) {
	if s.courier == nil {
		return &domain.OrderShipment{Mode: shipmentModeSimulation, CreatedAt: &now}, "shipment created in simulation mode"
	}

	paymentMode := courier.PaymentModePrepaid
	var codAmount int64
	if order.PaymentMethod == domain.PaymentMethodCOD {
		paymentMode = courier.PaymentModeCOD
		codAmount = order.TotalPrice
	}
	items := make([]courier.ShipmentItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, courier.ShipmentItem{
			Name:     item.Name,
			SKU:      item.ProductRef,
			Quantity: item.Quantity,
			Price:    item.UnitPrice,
		})
	}

	booked, err := s.courier.CreateShipment(ctx, courier.ShipmentRequest{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		PaymentMode:   paymentMode,
		CODAmount:     codAmount,
		DeclaredValue: order.TotalPrice,
		WeightGrams:   weightGrams,
		Delivery: courier.Address{
			Name:     order.ContactName,
			Phone:    order.ContactPhone,
			Line1:    order.ShippingAddress,
			City:     order.ShippingCity,
			State:    order.ShippingState,
			Postcode: order.ShippingPostal,
		},
		Items: items,
	})
	if err != nil {
		s.logger(ctx, "order.shipment.degraded", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
		return &domain.OrderShipment{Mode: shipmentModeSimulation, CreatedAt: &now}, "shipment created in simulation mode"
	}

	return &domain.OrderShipment{
		ShipmentID:  booked.AWB,
		AWB:         booked.AWB,
		CourierName: booked.CourierName,
		TrackingURL: booked.TrackingURL,
		Mode:        shipmentModeCourier,
		CreatedAt:   &now,
	}, fmt.Sprintf("shipment booked with %s", booked.CourierName)
}

func (s *orderService) MarkAsDelivered(ctx context.Context, cmd MarkOrderDeliveredCommand) (domain.Order, error) {
	if err := requireStaff(cmd.Actor); err != nil {
		return domain.Order{}, err
	}
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	prev := order.Status
	if err := s.applyStatusTransition(&order, domain.OrderStatusDelivered, now); err != nil {
		return domain.Order{}, err
	}
	s.applyDeliveryEffects(&order, now)

	note := "order delivered"
	if cmd.Note != "" {
		note = note + "; " + sanitizeFreeText(cmd.Note)
	}
	appendHistory(&order, string(domain.OrderStatusDelivered), note, cmd.Actor, now)

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	payload := map[string]any{}
	if updated.PaymentMethod == domain.PaymentMethodCOD {
		payload["clearCart"] = true
	}
	s.publishStatusChange(ctx, updated, prev, cmd.Actor, now, payload)
	return updated, nil
}

// applyDeliveryEffects stamps delivery exactly once and settles COD payment,
// cash having been collected at the door.
func (s *orderService) applyDeliveryEffects(order *domain.Order, now time.Time) {
	order.IsDelivered = true
	if order.DeliveredAt == nil {
		order.DeliveredAt = &now
	}
	if order.PaymentMethod == domain.PaymentMethodCOD && !order.IsPaid {
		order.IsPaid = true
		order.PaidAt = &now
	}
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := checkOrderCancellation(order, cmd.Actor); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	prev := order.Status
	reason := sanitizeFreeText(cmd.Reason)

	if err := s.applyStatusTransition(&order, domain.OrderStatusCancelled, now); err != nil {
		return domain.Order{}, err
	}
	order.CancelledAt = &now
	order.CancelledBy = cmd.Actor.ID

	note := "order cancelled"
	if reason != "" {
		note = note + ": " + reason
	}
	appendHistory(&order, string(domain.OrderStatusCancelled), note, cmd.Actor, now)

	// Paid orders queue a refund intent for staff to execute; the gateway is
	// never called during cancellation itself.
	if order.IsPaid {
		order.Refund = domain.OrderRefund{
			Status:      domain.RefundStatusPending,
			Amount:      order.TotalPrice,
			Method:      refundMethodOriginalPayment,
			Note:        reason,
			InitiatedAt: &now,
		}
	}

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	// Stock restoration is post-commit and best-effort; a missing product is
	// logged, not fatal.
	s.restoreStock(ctx, updated.Items)

	s.publishStatusChange(ctx, updated, prev, cmd.Actor, now, map[string]any{
		"reason":        reason,
		"refundPending": updated.Refund.Status == domain.RefundStatusPending,
	})
	return updated, nil
}

func (s *orderService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (domain.Order, error) {
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	if err := checkReturnRequest(order, cmd.Actor, now); err != nil {
		return domain.Order{}, err
	}

	reason := sanitizeFreeText(cmd.Reason)
	order.Return = domain.OrderReturn{
		Requested:   true,
		Status:      domain.ReturnStatusRequested,
		Reason:      reason,
		RequestedAt: &now,
	}
	order.UpdatedAt = now
	appendHistory(&order, "return_requested", reason, cmd.Actor, now)

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventOrderReturnRequested,
		EntityKind: domain.EntityOrder,
		EntityID:   updated.ID,
		UserID:     updated.UserID,
		Actor:      cmd.Actor.Role,
		Reason:     reason,
		ToStatus:   string(updated.Status),
		OccurredAt: now,
	})
	return updated, nil
}

func (s *orderService) ApproveReturn(ctx context.Context, cmd ReturnActionCommand) (domain.Order, error) {
	if err := requireStaff(cmd.Actor); err != nil {
		return domain.Order{}, err
	}
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := requireReturnStatus(order, domain.ReturnStatusRequested); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order.Return.Status = domain.ReturnStatusApproved
	order.Return.ApprovedAt = &now
	order.Return.ActionedBy = cmd.Actor.ID
	order.UpdatedAt = now
	appendHistory(&order, "return_approved", "", cmd.Actor, now)

	// Reverse pickup is attempted immediately; a courier failure leaves the
	// return at approved for manual pickup arrangement and is not an error.
	if s.courier != nil {
		pickup, err := s.courier.CreateReversePickup(ctx, courier.ReversePickupRequest{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			AWB:         forwardAWB(order),
			Reason:      order.Return.Reason,
			Pickup: courier.Address{
				Name:     order.ContactName,
				Phone:    order.ContactPhone,
				Line1:    order.ShippingAddress,
				City:     order.ShippingCity,
				State:    order.ShippingState,
				Postcode: order.ShippingPostal,
			},
			Items: shipmentItems(order.Items),
		})
		if err != nil {
			s.logger(ctx, "order.reverse_pickup.degraded", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
			appendHistory(&order, "return_approved", "reverse pickup unavailable, manual arrangement required", cmd.Actor, now)
		} else {
			order.Return.Status = domain.ReturnStatusPickedUp
			order.Return.PickedUpAt = &now
			order.ReversePickup = &domain.OrderShipment{
				ShipmentID:  pickup.AWB,
				AWB:         pickup.AWB,
				CourierName: pickup.CourierName,
				TrackingURL: pickup.TrackingURL,
				Mode:        shipmentModeCourier,
				CreatedAt:   &now,
			}
			appendHistory(&order, "return_picked_up", fmt.Sprintf("reverse pickup booked with %s", pickup.CourierName), cmd.Actor, now)
		}
	}

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventOrderReturnApproved,
		EntityKind: domain.EntityOrder,
		EntityID:   updated.ID,
		UserID:     updated.UserID,
		Actor:      cmd.Actor.Role,
		ToStatus:   string(updated.Return.Status),
		OccurredAt: now,
	})
	return updated, nil
}

func (s *orderService) RejectReturn(ctx context.Context, cmd ReturnActionCommand) (domain.Order, error) {
	if err := requireStaff(cmd.Actor); err != nil {
		return domain.Order{}, err
	}
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := requireReturnStatus(order, domain.ReturnStatusRequested); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	reason := sanitizeFreeText(cmd.Reason)
	if reason == "" {
		reason = "Not specified"
	}
	order.Return.Status = domain.ReturnStatusRejected
	order.Return.RejectionReason = reason
	order.Return.RejectedAt = &now
	order.Return.ActionedBy = cmd.Actor.ID
	order.UpdatedAt = now
	appendHistory(&order, "return_rejected", reason, cmd.Actor, now)

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventOrderReturnRejected,
		EntityKind: domain.EntityOrder,
		EntityID:   updated.ID,
		UserID:     updated.UserID,
		Actor:      cmd.Actor.Role,
		Reason:     reason,
		OccurredAt: now,
	})
	return updated, nil
}

func (s *orderService) MarkReturnReceived(ctx context.Context, cmd ReturnActionCommand) (domain.Order, error) {
	if err := requireStaff(cmd.Actor); err != nil {
		return domain.Order{}, err
	}
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := requireReturnStatus(order, domain.ReturnStatusPickedUp, domain.ReturnStatusApproved); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order.Return.Status = domain.ReturnStatusReceived
	order.Return.ReceivedAt = &now
	order.Return.ActionedBy = cmd.Actor.ID
	order.UpdatedAt = now
	appendHistory(&order, "return_received", "", cmd.Actor, now)

	// Receipt of the goods queues the refund intent.
	if order.Refund.Status == domain.RefundStatusNone {
		order.Refund = domain.OrderRefund{
			Status:      domain.RefundStatusPending,
			Amount:      order.TotalPrice,
			Method:      refundMethodOriginalPayment,
			InitiatedAt: &now,
		}
	}

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventOrderRefundInitiated,
		EntityKind: domain.EntityOrder,
		EntityID:   updated.ID,
		UserID:     updated.UserID,
		Actor:      cmd.Actor.Role,
		Payload:    map[string]any{"amount": updated.Refund.Amount},
		OccurredAt: now,
	})
	return updated, nil
}

func (s *orderService) ProcessRefund(ctx context.Context, cmd ProcessOrderRefundCommand) (domain.Order, error) {
	if err := requireStaff(cmd.Actor); err != nil {
		return domain.Order{}, err
	}
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}

	if order.Refund.Status == domain.RefundStatusCompleted {
		return domain.Order{}, fmt.Errorf("%w: refund already completed for order %s", ErrInvalidTransition, order.ID)
	}
	returnFlow := order.Return.Status == domain.ReturnStatusReceived
	cancelledFlow := order.Status == domain.OrderStatusCancelled && order.Refund.Status == domain.RefundStatusPending
	if !returnFlow && !cancelledFlow {
		return domain.Order{}, fmt.Errorf("%w: order %s has no refundable state", ErrInvalidTransition, order.ID)
	}

	amount := order.TotalPrice
	if order.Refund.Amount > 0 {
		amount = order.Refund.Amount
	}
	if cmd.AmountOverride != nil {
		if *cmd.AmountOverride <= 0 || *cmd.AmountOverride > order.TotalPrice {
			return domain.Order{}, fmt.Errorf("%w: refund amount must be between 1 and %d", ErrValidation, order.TotalPrice)
		}
		amount = *cmd.AmountOverride
	}

	now := s.now()
	note := sanitizeFreeText(cmd.Note)

	order.Refund.Amount = amount
	if order.Refund.InitiatedAt == nil {
		order.Refund.InitiatedAt = &now
	}

	switch {
	case order.PaymentMethod == domain.PaymentMethodOnline && order.PaymentRef != "" && s.gateway != nil:
		result, err := s.gateway.Refund(ctx, payments.PaymentContext{Currency: orderCurrency}, payments.RefundRequest{
			PaymentID:      order.PaymentRef,
			Amount:         &amount,
			Reason:         order.Return.Reason,
			Notes:          map[string]string{"orderId": order.ID},
			IdempotencyKey: order.ID + ":refund",
		})
		if err != nil {
			// Gateway failures downgrade the refund, they do not fail the
			// request; staff retry after resolving the gateway issue.
			s.logger(ctx, "order.refund.gateway_failed", map[string]any{
				"order": order.ID,
				"error": err.Error(),
			})
			order.Refund.Status = domain.RefundStatusFailed
			order.Refund.Note = joinNotes(note, "gateway refund failed: "+err.Error())
			appendHistory(&order, "refund_failed", order.Refund.Note, cmd.Actor, now)
		} else {
			order.Refund.Status = domain.RefundStatusCompleted
			order.Refund.Method = refundMethodOriginalPayment
			order.Refund.TransactionID = result.ID
			order.Refund.CompletedAt = &now
			order.Refund.Note = note
			appendHistory(&order, "refund_completed", fmt.Sprintf("refunded %d via gateway", amount), cmd.Actor, now)
		}
	default:
		// COD or no captured payment reference: the transfer happens outside
		// the gateway and stays at processing until reconciled.
		order.Refund.Status = domain.RefundStatusProcessing
		order.Refund.Method = refundMethodManualTransfer
		order.Refund.Note = joinNotes(note, "manual transfer required")
		appendHistory(&order, "refund_processing", order.Refund.Note, cmd.Actor, now)
	}

	if order.Refund.Status == domain.RefundStatusCompleted && returnFlow {
		order.Return.Status = domain.ReturnStatusRefunded
		if err := s.applyStatusTransition(&order, domain.OrderStatusRefunded, now); err != nil {
			return domain.Order{}, err
		}
		appendHistory(&order, string(domain.OrderStatusRefunded), "", cmd.Actor, now)
	}
	order.UpdatedAt = now

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	eventType := domain.EventOrderRefundInitiated
	if updated.Refund.Status == domain.RefundStatusCompleted {
		eventType = domain.EventOrderRefundCompleted
	}
	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       eventType,
		EntityKind: domain.EntityOrder,
		EntityID:   updated.ID,
		UserID:     updated.UserID,
		Actor:      cmd.Actor.Role,
		ToStatus:   string(updated.Status),
		Payload: map[string]any{
			"amount":       updated.Refund.Amount,
			"refundStatus": string(updated.Refund.Status),
			"method":       updated.Refund.Method,
		},
		OccurredAt: now,
	})
	return updated, nil
}

func (s *orderService) ApplyCourierStatus(ctx context.Context, cmd CourierStatusCommand) (domain.Order, error) {
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}

	target, ok := courier.NormalizeStatus(cmd.VendorStatus)
	if !ok {
		// Manifest scans and hub transfers do not move the lifecycle.
		return order, nil
	}
	if orderStatusRank[target] <= orderStatusRank[order.Status] {
		// Late or duplicate webhook delivery; the order already progressed.
		return order, nil
	}
	if order.Status == domain.OrderStatusCancelled || order.Status == domain.OrderStatusRefunded {
		return domain.Order{}, fmt.Errorf("%w: courier update for terminal order %s", ErrInvalidTransition, order.ID)
	}

	now := s.now()
	prev := order.Status
	actor := Actor{ID: "webhook", Role: ActorRoleSystem}

	if err := s.applyStatusTransition(&order, target, now); err != nil {
		return domain.Order{}, err
	}
	if target == domain.OrderStatusDelivered {
		deliveredAt := now
		if cmd.DeliveredAt != nil {
			deliveredAt = cmd.DeliveredAt.UTC()
		}
		order.DeliveredAt = &deliveredAt
		s.applyDeliveryEffects(&order, deliveredAt)
	}
	appendHistory(&order, string(target), fmt.Sprintf("courier status %q", cmd.VendorStatus), actor, now)

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}

	s.publishStatusChange(ctx, updated, prev, actor, now, map[string]any{
		"vendorStatus": cmd.VendorStatus,
	})
	return updated, nil
}

// Internal helpers -------------------------------------------------------------

func (s *orderService) findOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	return order, nil
}

// applyStatusTransition moves the order along the forward lifecycle, stamping
// the per-status timestamps. Same-status calls are rejected so repeated
// actions never re-run side effects.
func (s *orderService) applyStatusTransition(order *domain.Order, target domain.OrderStatus, now time.Time) error {
	current := order.Status
	if current == target {
		return fmt.Errorf("%w: order is already %s", ErrInvalidTransition, current)
	}
	if !slices.Contains(orderStateTransitions[current], target) {
		return fmt.Errorf("%w: cannot move order from %s to %s", ErrInvalidTransition, current, target)
	}

	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusShipped:
		if order.ShippedAt == nil {
			order.ShippedAt = &now
		}
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	}
	return nil
}

func (s *orderService) decrementStock(ctx context.Context, items []domain.OrderItem) ([]domain.OrderItem, error) {
	done := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if err := s.products.DecrementStock(ctx, item.ProductRef, item.Quantity); err != nil {
			return done, mapRepositoryError(err)
		}
		done = append(done, item)
	}
	return done, nil
}

// restoreStock compensates a failed checkout or a cancellation. Failures are
// logged and swallowed; stock drift is reconciled operationally.
func (s *orderService) restoreStock(ctx context.Context, items []domain.OrderItem) {
	for _, item := range items {
		if err := s.products.RestoreStock(ctx, item.ProductRef, item.Quantity); err != nil {
			s.logger(ctx, "order.stock.restore_failed", map[string]any{
				"product":  item.ProductRef,
				"quantity": item.Quantity,
				"error":    err.Error(),
			})
		}
	}
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishStatusChange(ctx context.Context, order domain.Order, from domain.OrderStatus, actor Actor, now time.Time, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["orderNumber"] = order.OrderNumber
	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventOrderStatusChanged,
		EntityKind: domain.EntityOrder,
		EntityID:   order.ID,
		UserID:     order.UserID,
		Actor:      actor.Role,
		FromStatus: string(from),
		ToStatus:   string(order.Status),
		Payload:    payload,
		OccurredAt: now,
	})
}

// publishEvent emits post-commit. Failures are logged and never propagated
// into the transition result.
func (s *orderService) publishEvent(ctx context.Context, event domain.LifecycleEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = "evt_" + s.newID()
	}
	if _, err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":   string(event.Type),
			"entity": event.EntityID,
			"error":  err.Error(),
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func appendHistory(order *domain.Order, status, note string, actor Actor, at time.Time) {
	order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
		Status:    status,
		Note:      note,
		Actor:     actor.ID,
		ActorRole: actor.Role,
		At:        at,
	})
}

func forwardAWB(order domain.Order) string {
	if order.Shipment == nil {
		return ""
	}
	return order.Shipment.AWB
}

func shipmentItems(items []domain.OrderItem) []courier.ShipmentItem {
	out := make([]courier.ShipmentItem, 0, len(items))
	for _, item := range items {
		out = append(out, courier.ShipmentItem{
			Name:     item.Name,
			SKU:      item.ProductRef,
			Quantity: item.Quantity,
			Price:    item.UnitPrice,
		})
	}
	return out
}

func joinNotes(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "; ")
}
