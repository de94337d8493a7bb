package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/aquapure/api/internal/domain"
	"github.com/aquapure/api/internal/payments"
	"github.com/aquapure/api/internal/repositories"
)

const bookingIDPrefix = "svc_"

// bookingServiceTypes are the service calls technicians perform.
var bookingServiceTypes = map[string]struct{}{
	"installation":   {},
	"repair":         {},
	"maintenance":    {},
	"filter_change":  {},
	"uninstallation": {},
}

// BookingServiceDeps bundles collaborators required to construct the booking service.
type BookingServiceDeps struct {
	Bookings    repositories.ServiceBookingRepository
	Counters    CounterService
	Payments    paymentGateway
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type bookingService struct {
	bookings repositories.ServiceBookingRepository
	counters CounterService
	gateway  paymentGateway
	clock    func() time.Time
	newID    func() string
	events   EventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewBookingService wires dependencies into a concrete BookingService implementation.
func NewBookingService(deps BookingServiceDeps) (BookingService, error) {
	if deps.Bookings == nil {
		return nil, errors.New("booking service: booking repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("booking service: counter service is required")
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

	return &bookingService{
		bookings: deps.Bookings,
		counters: deps.Counters,
		gateway:  deps.Payments,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *bookingService) Create(ctx context.Context, cmd CreateBookingCommand) (domain.ServiceBooking, error) {
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		return domain.ServiceBooking{}, fmt.Errorf("%w: actor id is required", ErrValidation)
	}
	serviceType := strings.ToLower(strings.TrimSpace(cmd.ServiceType))
	if _, ok := bookingServiceTypes[serviceType]; !ok {
		return domain.ServiceBooking{}, fmt.Errorf("%w: unknown service type %q", ErrValidation, cmd.ServiceType)
	}
	if strings.TrimSpace(cmd.Address) == "" {
		return domain.ServiceBooking{}, fmt.Errorf("%w: service address is required", ErrValidation)
	}
	if !cmd.TermsAccepted {
		return domain.ServiceBooking{}, fmt.Errorf("%w: terms must be accepted", ErrValidation)
	}
	if cmd.DistanceFromWarehouse < 0 {
		return domain.ServiceBooking{}, fmt.Errorf("%w: distance must be non-negative", ErrValidation)
	}
	if _, err := ComputeDeliveryCharge(cmd.PostalCode); err != nil {
		return domain.ServiceBooking{}, err
	}

	// Pricing is always recomputed server-side from the distance; client
	// supplied amounts are ignored.
	pricing := domain.ComputeServiceCost(cmd.DistanceFromWarehouse)

	now := s.now()
	bookingNumber, err := s.counters.NextBookingNumber(ctx)
	if err != nil {
		return domain.ServiceBooking{}, err
	}

	booking := domain.ServiceBooking{
		ID:            bookingIDPrefix + s.newID(),
		BookingNumber: bookingNumber,
		UserID:        cmd.Actor.ID,

		ServiceType:   serviceType,
		Description:   sanitizeFreeText(cmd.Description),
		Address:       strings.TrimSpace(cmd.Address),
		PostalCode:    strings.TrimSpace(cmd.PostalCode),
		ScheduledDate: cmd.ScheduledDate,
		TermsAccepted: true,

		DistanceFromWarehouse: cmd.DistanceFromWarehouse,
		ServiceCost:           pricing.ServiceCost,
		AdvanceAmount:         pricing.AdvanceAmount,
		RemainingAmount:       pricing.RemainingAmount,

		Status:        domain.BookingStatusPending,
		PaymentStatus: domain.BookingPaymentPending,

		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	appendBookingHistory(&booking, string(domain.BookingStatusPending), "booking placed", cmd.Actor, now)

	if err := s.bookings.Insert(ctx, booking); err != nil {
		return domain.ServiceBooking{}, mapRepositoryError(err)
	}

	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventBookingCreated,
		EntityKind: domain.EntityBooking,
		EntityID:   booking.ID,
		UserID:     booking.UserID,
		Actor:      cmd.Actor.Role,
		ToStatus:   string(booking.Status),
		Payload: map[string]any{
			"bookingNumber": booking.BookingNumber,
			"serviceType":   booking.ServiceType,
			"serviceCost":   booking.ServiceCost,
			"advanceAmount": booking.AdvanceAmount,
		},
		OccurredAt: now,
	})
	return booking, nil
}

func (s *bookingService) GetBooking(ctx context.Context, actor Actor, bookingID string) (domain.ServiceBooking, error) {
	booking, err := s.findBooking(ctx, bookingID)
	if err != nil {
		return domain.ServiceBooking{}, err
	}
	if err := authorizeBookingAccess(booking, actor); err != nil {
		return domain.ServiceBooking{}, err
	}
	return booking, nil
}

func (s *bookingService) ListBookings(ctx context.Context, actor Actor, query BookingListQuery) (domain.CursorPage[domain.ServiceBooking], error) {
	filter := repositories.BookingListFilter{
		UserID:     strings.TrimSpace(query.UserID),
		Status:     query.Status,
		DateRange:  domain.RangeQuery[time.Time]{From: query.From, To: query.To},
		Pagination: query.Pagination,
	}
	if !actor.IsStaff() {
		filter.UserID = actor.ID
	}

	page, err := s.bookings.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.ServiceBooking]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *bookingService) CreatePaymentOrder(ctx context.Context, actor Actor, bookingID string) (BookingPaymentOrder, error) {
	booking, err := s.findBooking(ctx, bookingID)
	if err != nil {
		return BookingPaymentOrder{}, err
	}
	if err := authorizeBookingAccess(booking, actor); err != nil {
		return BookingPaymentOrder{}, err
	}
	if booking.IsTerminal() {
		return BookingPaymentOrder{}, fmt.Errorf("%w: booking in status %q cannot accept payment", ErrInvalidTransition, booking.Status)
	}
	switch booking.PaymentStatus {
	case domain.BookingPaymentAdvancePaid, domain.BookingPaymentFullyPaid:
		return BookingPaymentOrder{}, fmt.Errorf("%w: advance is already paid", ErrInvalidTransition)
	}
	if !booking.TermsAccepted {
		return BookingPaymentOrder{}, fmt.Errorf("%w: terms must be accepted before payment", ErrValidation)
	}
	if s.gateway == nil {
		return BookingPaymentOrder{}, fmt.Errorf("%w: online payments are not configured", ErrValidation)
	}

	// Older records created before a pricing change are repriced lazily.
	if booking.ServiceCost == 0 {
		pricing := domain.ComputeServiceCost(booking.DistanceFromWarehouse)
		booking.ServiceCost = pricing.ServiceCost
		booking.AdvanceAmount = pricing.AdvanceAmount
		booking.RemainingAmount = pricing.RemainingAmount
	}

	gatewayOrder, err := s.gateway.CreateGatewayOrder(ctx, payments.PaymentContext{Currency: orderCurrency}, payments.GatewayOrderRequest{
		Amount:         booking.AdvanceAmount,
		Currency:       orderCurrency,
		Receipt:        booking.BookingNumber,
		Notes:          map[string]string{"bookingId": booking.ID, "userId": booking.UserID},
		IdempotencyKey: booking.ID + ":advance",
	})
	if err != nil {
		return BookingPaymentOrder{}, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	now := s.now()
	booking.AdvancePayment = &domain.AdvancePayment{
		GatewayOrderID: gatewayOrder.ID,
		Amount:         booking.AdvanceAmount,
	}
	booking.UpdatedAt = now

	updated, err := s.bookings.Update(ctx, booking)
	if err != nil {
		return BookingPaymentOrder{}, mapRepositoryError(err)
	}
	return BookingPaymentOrder{Booking: updated, GatewayOrder: gatewayOrder}, nil
}

func (s *bookingService) VerifyPayment(ctx context.Context, cmd VerifyBookingPaymentCommand) (domain.ServiceBooking, error) {
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	if gatewayOrderID == "" {
		return domain.ServiceBooking{}, fmt.Errorf("%w: gateway order id is required", ErrValidation)
	}
	if strings.TrimSpace(cmd.GatewayPaymentID) == "" {
		return domain.ServiceBooking{}, fmt.Errorf("%w: gateway payment id is required", ErrValidation)
	}

	booking, err := s.bookings.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return domain.ServiceBooking{}, mapRepositoryError(err)
	}
	if err := authorizeBookingAccess(booking, cmd.Actor); err != nil {
		return domain.ServiceBooking{}, err
	}
	if booking.PaymentStatus == domain.BookingPaymentAdvancePaid || booking.PaymentStatus == domain.BookingPaymentFullyPaid {
		return domain.ServiceBooking{}, fmt.Errorf("%w: advance is already paid", ErrInvalidTransition)
	}
	if s.gateway == nil {
		return domain.ServiceBooking{}, fmt.Errorf("%w: online payments are not configured", ErrValidation)
	}

	// Signature mismatch is a hard failure; the booking is left untouched.
	if err := s.gateway.VerifyPayment(ctx, payments.PaymentContext{Currency: orderCurrency}, payments.VerificationRequest{
		GatewayOrderID: gatewayOrderID,
		PaymentID:      cmd.GatewayPaymentID,
		Signature:      cmd.GatewaySignature,
	}); err != nil {
		return domain.ServiceBooking{}, fmt.Errorf("%w: %v", ErrGatewayRejected, err)
	}

	now := s.now()
	amount := booking.AdvanceAmount
	booking.AdvancePayment = &domain.AdvancePayment{
		GatewayOrderID:   gatewayOrderID,
		GatewayPaymentID: strings.TrimSpace(cmd.GatewayPaymentID),
		GatewaySignature: strings.TrimSpace(cmd.GatewaySignature),
		Amount:           amount,
		PaidAt:           &now,
	}
	booking.PaymentStatus = domain.BookingPaymentAdvancePaid
	booking.UpdatedAt = now

	prev := booking.Status
	if booking.Status == domain.BookingStatusPending {
		booking.Status = domain.BookingStatusConfirmed
		appendBookingHistory(&booking, string(domain.BookingStatusConfirmed), "advance payment verified", cmd.Actor, now)
	} else {
		appendBookingHistory(&booking, string(booking.Status), "advance payment verified", cmd.Actor, now)
	}

	updated, err := s.bookings.Update(ctx, booking)
	if err != nil {
		return domain.ServiceBooking{}, mapRepositoryError(err)
	}

	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventBookingStatusChanged,
		EntityKind: domain.EntityBooking,
		EntityID:   updated.ID,
		UserID:     updated.UserID,
		Actor:      cmd.Actor.Role,
		FromStatus: string(prev),
		ToStatus:   string(updated.Status),
		Payload: map[string]any{
			"bookingNumber": updated.BookingNumber,
			"paymentStatus": string(updated.PaymentStatus),
			"advanceAmount": amount,
		},
		OccurredAt: now,
	})
	return updated, nil
}

func (s *bookingService) UpdateStatus(ctx context.Context, cmd UpdateBookingStatusCommand) (domain.ServiceBooking, error) {
	if err := requireStaff(cmd.Actor); err != nil {
		return domain.ServiceBooking{}, err
	}
	booking, err := s.findBooking(ctx, cmd.BookingID)
	if err != nil {
		return domain.ServiceBooking{}, err
	}

	now := s.now()
	prev := booking.Status
	changed := false

	if cmd.Status != "" && cmd.Status != booking.Status {
		if err := checkBookingStatusMove(booking.Status, cmd.Status); err != nil {
			return domain.ServiceBooking{}, err
		}
		booking.Status = cmd.Status
		if cmd.Status == domain.BookingStatusCompleted {
			booking.CompletedDate = &now
			if booking.PaymentStatus == domain.BookingPaymentAdvancePaid {
				booking.PaymentStatus = domain.BookingPaymentFullyPaid
			}
		}
		changed = true
	}
	if technician := strings.TrimSpace(cmd.Technician); technician != "" {
		booking.Technician = technician
		if booking.Status == domain.BookingStatusConfirmed {
			booking.Status = domain.BookingStatusAssigned
		}
		changed = true
	}
	if cmd.ScheduledDate != nil {
		booking.ScheduledDate = cmd.ScheduledDate
		changed = true
	}
	if cmd.CostOverride != nil {
		if *cmd.CostOverride <= 0 {
			return domain.ServiceBooking{}, fmt.Errorf("%w: cost override must be positive", ErrValidation)
		}
		booking.ServiceCost = *cmd.CostOverride
		// The advance already collected stays fixed; only the remainder moves.
		booking.RemainingAmount = booking.ServiceCost - booking.AdvanceAmount
		if booking.RemainingAmount < 0 {
			booking.RemainingAmount = 0
		}
		changed = true
	}
	if !changed {
		return domain.ServiceBooking{}, fmt.Errorf("%w: no changes requested", ErrValidation)
	}

	note := sanitizeFreeText(cmd.Note)
	appendBookingHistory(&booking, string(booking.Status), note, cmd.Actor, now)
	booking.UpdatedAt = now

	updated, err := s.bookings.Update(ctx, booking)
	if err != nil {
		return domain.ServiceBooking{}, mapRepositoryError(err)
	}

	s.publishBookingStatusChange(ctx, updated, prev, cmd.Actor, now, map[string]any{
		"technician": updated.Technician,
	})
	return updated, nil
}

func (s *bookingService) Cancel(ctx context.Context, cmd CancelBookingCommand) (domain.ServiceBooking, error) {
	booking, err := s.findBooking(ctx, cmd.BookingID)
	if err != nil {
		return domain.ServiceBooking{}, err
	}
	if err := checkBookingCancellation(booking, cmd.Actor); err != nil {
		return domain.ServiceBooking{}, err
	}

	now := s.now()
	prev := booking.Status
	reason := sanitizeFreeText(cmd.Reason)

	booking.Status = domain.BookingStatusCancelled
	booking.CancelledAt = &now
	booking.CancelledBy = cmd.Actor.ID
	booking.UpdatedAt = now

	note := "booking cancelled"
	if reason != "" {
		note = note + ": " + reason
	}
	appendBookingHistory(&booking, string(domain.BookingStatusCancelled), note, cmd.Actor, now)

	// The fee-deducted refund is computed now, at cancellation time; the
	// gateway call happens later in ProcessRefund.
	if booking.PaymentStatus == domain.BookingPaymentAdvancePaid {
		advance := booking.AdvanceAmount
		if booking.AdvancePayment != nil && booking.AdvancePayment.Amount > 0 {
			advance = booking.AdvancePayment.Amount
		}
		refund := calculateBookingRefund(advance, reason)
		booking.Refund = &refund
		booking.PaymentStatus = domain.BookingPaymentRefundPending
	}

	updated, err := s.bookings.Update(ctx, booking)
	if err != nil {
		return domain.ServiceBooking{}, mapRepositoryError(err)
	}

	payload := map[string]any{"bookingNumber": updated.BookingNumber, "reason": reason}
	if updated.Refund != nil {
		payload["refundAmount"] = updated.Refund.Amount
		payload["deductedAmount"] = updated.Refund.DeductedAmount
		payload["refundedAmount"] = updated.Refund.RefundedAmount
	}
	s.publishBookingStatusChange(ctx, updated, prev, cmd.Actor, now, payload)
	return updated, nil
}

func (s *bookingService) ProcessRefund(ctx context.Context, cmd ProcessBookingRefundCommand) (domain.ServiceBooking, error) {
	booking, err := s.findBooking(ctx, cmd.BookingID)
	if err != nil {
		return domain.ServiceBooking{}, err
	}
	if err := authorizeBookingAccess(booking, cmd.Actor); err != nil {
		return domain.ServiceBooking{}, err
	}
	if booking.Status != domain.BookingStatusCancelled {
		return domain.ServiceBooking{}, fmt.Errorf("%w: refunds require a cancelled booking", ErrInvalidTransition)
	}
	switch booking.PaymentStatus {
	case domain.BookingPaymentRefunded, domain.BookingPaymentPartiallyRefunded:
		return domain.ServiceBooking{}, fmt.Errorf("%w: refund was already processed", ErrInvalidTransition)
	case domain.BookingPaymentAdvancePaid, domain.BookingPaymentRefundPending:
	default:
		return domain.ServiceBooking{}, fmt.Errorf("%w: payment status %q has nothing to refund", ErrInvalidTransition, booking.PaymentStatus)
	}
	if booking.AdvancePayment == nil || booking.AdvancePayment.GatewayPaymentID == "" {
		return domain.ServiceBooking{}, fmt.Errorf("%w: no captured payment to refund", ErrInvalidTransition)
	}

	// Recompute the same formula applied at cancellation.
	advance := booking.AdvancePayment.Amount
	reason := ""
	if booking.Refund != nil {
		reason = booking.Refund.Reason
	}
	refund := calculateBookingRefund(advance, reason)

	now := s.now()

	if refund.RefundedAmount == 0 {
		// The fee consumed the whole advance; nothing moves through the gateway.
		refund.Status = domain.BookingRefundProcessed
		refund.RefundedAt = &now
		booking.Refund = &refund
		booking.PaymentStatus = domain.BookingPaymentRefunded
		appendBookingHistory(&booking, "refund_processed", "cancellation fee consumed the advance", cmd.Actor, now)
		return s.persistRefundOutcome(ctx, booking, cmd.Actor, now)
	}

	if s.gateway == nil {
		return domain.ServiceBooking{}, fmt.Errorf("%w: online payments are not configured", ErrValidation)
	}
	amount := refund.RefundedAmount
	result, err := s.gateway.Refund(ctx, payments.PaymentContext{Currency: orderCurrency}, payments.RefundRequest{
		PaymentID:      booking.AdvancePayment.GatewayPaymentID,
		Amount:         &amount,
		Reason:         reason,
		Notes:          map[string]string{"bookingId": booking.ID},
		IdempotencyKey: booking.ID + ":refund",
	})
	if err != nil {
		refund.Status = domain.BookingRefundFailed
		booking.Refund = &refund
		booking.UpdatedAt = now
		appendBookingHistory(&booking, "refund_failed", "gateway refund failed", cmd.Actor, now)
		if _, updateErr := s.bookings.Update(ctx, booking); updateErr != nil {
			s.logger(ctx, "booking.refund.record_failed", map[string]any{
				"booking": booking.ID,
				"error":   updateErr.Error(),
			})
		}
		return domain.ServiceBooking{}, fmt.Errorf("%w: %v", ErrExternalServiceDegraded, err)
	}

	refund.Status = domain.BookingRefundProcessed
	refund.GatewayRefundID = result.ID
	refund.RefundedAt = &now
	booking.Refund = &refund
	if refund.RefundedAmount < refund.Amount {
		booking.PaymentStatus = domain.BookingPaymentPartiallyRefunded
	} else {
		booking.PaymentStatus = domain.BookingPaymentRefunded
	}
	appendBookingHistory(&booking, "refund_processed",
		fmt.Sprintf("refunded %d of %d (fee %d)", refund.RefundedAmount, refund.Amount, refund.DeductedAmount), cmd.Actor, now)

	return s.persistRefundOutcome(ctx, booking, cmd.Actor, now)
}

func (s *bookingService) persistRefundOutcome(ctx context.Context, booking domain.ServiceBooking, actor Actor, now time.Time) (domain.ServiceBooking, error) {
	booking.UpdatedAt = now
	updated, err := s.bookings.Update(ctx, booking)
	if err != nil {
		return domain.ServiceBooking{}, mapRepositoryError(err)
	}

	payload := map[string]any{"bookingNumber": updated.BookingNumber}
	if updated.Refund != nil {
		payload["amount"] = updated.Refund.Amount
		payload["deductedAmount"] = updated.Refund.DeductedAmount
		payload["refundedAmount"] = updated.Refund.RefundedAmount
	}
	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventBookingRefundCompleted,
		EntityKind: domain.EntityBooking,
		EntityID:   updated.ID,
		UserID:     updated.UserID,
		Actor:      actor.Role,
		ToStatus:   string(updated.PaymentStatus),
		Payload:    payload,
		OccurredAt: now,
	})
	return updated, nil
}

func (s *bookingService) SubmitFeedback(ctx context.Context, cmd SubmitFeedbackCommand) (domain.ServiceBooking, error) {
	booking, err := s.findBooking(ctx, cmd.BookingID)
	if err != nil {
		return domain.ServiceBooking{}, err
	}
	if cmd.Actor.ID != booking.UserID {
		return domain.ServiceBooking{}, fmt.Errorf("%w: only the booking owner may submit feedback", ErrForbidden)
	}
	if booking.Status != domain.BookingStatusCompleted {
		return domain.ServiceBooking{}, fmt.Errorf("%w: feedback requires a completed booking", ErrInvalidTransition)
	}
	if booking.Feedback != nil {
		return domain.ServiceBooking{}, fmt.Errorf("%w: feedback was already submitted", ErrInvalidTransition)
	}
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return domain.ServiceBooking{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}

	now := s.now()
	booking.Feedback = &domain.BookingFeedback{
		Rating:      cmd.Rating,
		Comment:     sanitizeFreeText(cmd.Comment),
		SubmittedAt: now,
	}
	booking.UpdatedAt = now

	updated, err := s.bookings.Update(ctx, booking)
	if err != nil {
		return domain.ServiceBooking{}, mapRepositoryError(err)
	}
	return updated, nil
}

// Internal helpers -------------------------------------------------------------

func (s *bookingService) findBooking(ctx context.Context, bookingID string) (domain.ServiceBooking, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return domain.ServiceBooking{}, fmt.Errorf("%w: booking id is required", ErrValidation)
	}
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return domain.ServiceBooking{}, mapRepositoryError(err)
	}
	return booking, nil
}

func (s *bookingService) now() time.Time {
	return s.clock()
}

func (s *bookingService) publishBookingStatusChange(ctx context.Context, booking domain.ServiceBooking, from domain.BookingStatus, actor Actor, now time.Time, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["bookingNumber"] = booking.BookingNumber
	s.publishEvent(ctx, domain.LifecycleEvent{
		Type:       domain.EventBookingStatusChanged,
		EntityKind: domain.EntityBooking,
		EntityID:   booking.ID,
		UserID:     booking.UserID,
		Actor:      actor.Role,
		FromStatus: string(from),
		ToStatus:   string(booking.Status),
		Payload:    payload,
		OccurredAt: now,
	})
}

func (s *bookingService) publishEvent(ctx context.Context, event domain.LifecycleEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = "evt_" + s.newID()
	}
	if _, err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "booking.event.publish_failed", map[string]any{
			"type":   string(event.Type),
			"entity": event.EntityID,
			"error":  err.Error(),
		})
	}
}

func appendBookingHistory(booking *domain.ServiceBooking, status, note string, actor Actor, at time.Time) {
	booking.StatusHistory = append(booking.StatusHistory, domain.StatusHistoryEntry{
		Status:    status,
		Note:      note,
		Actor:     actor.ID,
		ActorRole: actor.Role,
		At:        at,
	})
}
