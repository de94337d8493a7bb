package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aquapure/api/internal/domain"
	"github.com/aquapure/api/internal/payments"
	"github.com/aquapure/api/internal/platform/auth"
	"github.com/aquapure/api/internal/services"
)

type stubBookingService struct {
	createFn   func(context.Context, services.CreateBookingCommand) (domain.ServiceBooking, error)
	getFn      func(context.Context, services.Actor, string) (domain.ServiceBooking, error)
	listFn     func(context.Context, services.Actor, services.BookingListQuery) (domain.CursorPage[domain.ServiceBooking], error)
	payOrderFn func(context.Context, services.Actor, string) (services.BookingPaymentOrder, error)
	verifyFn   func(context.Context, services.VerifyBookingPaymentCommand) (domain.ServiceBooking, error)
	updateFn   func(context.Context, services.UpdateBookingStatusCommand) (domain.ServiceBooking, error)
	cancelFn   func(context.Context, services.CancelBookingCommand) (domain.ServiceBooking, error)
	refundFn   func(context.Context, services.ProcessBookingRefundCommand) (domain.ServiceBooking, error)
	feedbackFn func(context.Context, services.SubmitFeedbackCommand) (domain.ServiceBooking, error)
}

func (s *stubBookingService) Create(ctx context.Context, cmd services.CreateBookingCommand) (domain.ServiceBooking, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.ServiceBooking{}, errors.New("not implemented")
}

func (s *stubBookingService) GetBooking(ctx context.Context, actor services.Actor, bookingID string) (domain.ServiceBooking, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, bookingID)
	}
	return domain.ServiceBooking{}, errors.New("not implemented")
}

func (s *stubBookingService) ListBookings(ctx context.Context, actor services.Actor, query services.BookingListQuery) (domain.CursorPage[domain.ServiceBooking], error) {
	if s.listFn != nil {
		return s.listFn(ctx, actor, query)
	}
	return domain.CursorPage[domain.ServiceBooking]{}, nil
}

func (s *stubBookingService) CreatePaymentOrder(ctx context.Context, actor services.Actor, bookingID string) (services.BookingPaymentOrder, error) {
	if s.payOrderFn != nil {
		return s.payOrderFn(ctx, actor, bookingID)
	}
	return services.BookingPaymentOrder{}, errors.New("not implemented")
}

func (s *stubBookingService) VerifyPayment(ctx context.Context, cmd services.VerifyBookingPaymentCommand) (domain.ServiceBooking, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return domain.ServiceBooking{}, errors.New("not implemented")
}

func (s *stubBookingService) UpdateStatus(ctx context.Context, cmd services.UpdateBookingStatusCommand) (domain.ServiceBooking, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return domain.ServiceBooking{}, errors.New("not implemented")
}

func (s *stubBookingService) Cancel(ctx context.Context, cmd services.CancelBookingCommand) (domain.ServiceBooking, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return domain.ServiceBooking{}, errors.New("not implemented")
}

func (s *stubBookingService) ProcessRefund(ctx context.Context, cmd services.ProcessBookingRefundCommand) (domain.ServiceBooking, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return domain.ServiceBooking{}, errors.New("not implemented")
}

func (s *stubBookingService) SubmitFeedback(ctx context.Context, cmd services.SubmitFeedbackCommand) (domain.ServiceBooking, error) {
	if s.feedbackFn != nil {
		return s.feedbackFn(ctx, cmd)
	}
	return domain.ServiceBooking{}, errors.New("not implemented")
}

var _ services.BookingService = (*stubBookingService)(nil)

func newBookingRouter(svc services.BookingService) chi.Router {
	router := chi.NewRouter()
	router.Route("/services", NewBookingHandlers(nil, svc).Routes)
	return router
}

func TestCreateBookingForwardsCommand(t *testing.T) {
	var captured services.CreateBookingCommand
	svc := &stubBookingService{
		createFn: func(_ context.Context, cmd services.CreateBookingCommand) (domain.ServiceBooking, error) {
			captured = cmd
			return domain.ServiceBooking{
				ID:            "svc_1",
				BookingNumber: "SB-2026-000001",
				ServiceType:   cmd.ServiceType,
				ServiceCost:   400,
				AdvanceAmount: 200,
				Status:        domain.BookingStatusPending,
				PaymentStatus: domain.BookingPaymentPending,
			}, nil
		},
	}
	router := newBookingRouter(svc)

	req := authenticatedRequest(t, http.MethodPost, "/services/", createBookingRequest{
		ServiceType:           "installation",
		Description:           "new RO unit",
		Address:               "12 Ring Road, Surat",
		PostalCode:            "395007",
		ScheduledDate:         "2026-05-10",
		TermsAccepted:         true,
		DistanceFromWarehouse: 15,
	}, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ServiceType != "installation" || !captured.TermsAccepted || captured.DistanceFromWarehouse != 15 {
		t.Fatalf("command not forwarded: %+v", captured)
	}
	if captured.ScheduledDate == nil || !captured.ScheduledDate.Equal(time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("date-only scheduledDate not parsed: %v", captured.ScheduledDate)
	}

	var body bookingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.Booking.BookingNumber != "SB-2026-000001" || body.Booking.AdvanceAmount != 200 {
		t.Fatalf("unexpected booking payload: %+v", body.Booking)
	}
}

func TestCreateBookingTranslatesValidation(t *testing.T) {
	svc := &stubBookingService{
		createFn: func(context.Context, services.CreateBookingCommand) (domain.ServiceBooking, error) {
			return domain.ServiceBooking{}, fmt.Errorf("%w: terms must be accepted", services.ErrValidation)
		},
	}
	router := newBookingRouter(svc)

	req := authenticatedRequest(t, http.MethodPost, "/services/", createBookingRequest{ServiceType: "repair"}, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateBookingRejectsBadScheduledDate(t *testing.T) {
	router := newBookingRouter(&stubBookingService{})

	req := authenticatedRequest(t, http.MethodPost, "/services/", createBookingRequest{
		ServiceType:   "repair",
		ScheduledDate: "next tuesday",
	}, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCreateBookingPaymentOrderReturnsAdvanceSizedPayment(t *testing.T) {
	svc := &stubBookingService{
		payOrderFn: func(_ context.Context, actor services.Actor, bookingID string) (services.BookingPaymentOrder, error) {
			if actor.ID != "user-1" || bookingID != "svc_1" {
				t.Fatalf("unexpected arguments: %+v %q", actor, bookingID)
			}
			return services.BookingPaymentOrder{
				Booking: domain.ServiceBooking{ID: "svc_1", AdvanceAmount: 200},
				GatewayOrder: payments.GatewayOrder{
					ID:       "rzp_order_2",
					Provider: "razorpay",
					Amount:   200,
					Currency: "INR",
					Status:   payments.StatusCreated,
				},
			}, nil
		},
	}
	router := newBookingRouter(svc)

	req := authenticatedRequest(t, http.MethodPost, "/services/svc_1/payment:create", nil, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var body bookingPaymentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.Payment.GatewayOrderID != "rzp_order_2" || body.Payment.Amount != 200 {
		t.Fatalf("unexpected payment payload: %+v", body.Payment)
	}
}

func TestVerifyBookingPaymentForwardsIdentifiers(t *testing.T) {
	var captured services.VerifyBookingPaymentCommand
	svc := &stubBookingService{
		verifyFn: func(_ context.Context, cmd services.VerifyBookingPaymentCommand) (domain.ServiceBooking, error) {
			captured = cmd
			return domain.ServiceBooking{ID: "svc_1", PaymentStatus: domain.BookingPaymentAdvancePaid, Status: domain.BookingStatusConfirmed}, nil
		},
	}
	router := newBookingRouter(svc)

	req := authenticatedRequest(t, http.MethodPost, "/services/payment:verify", verifyBookingPaymentRequest{
		GatewayOrderID:   "rzp_order_2",
		GatewayPaymentID: "pay_2",
		GatewaySignature: "sig",
	}, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.GatewayOrderID != "rzp_order_2" || captured.GatewayPaymentID != "pay_2" || captured.GatewaySignature != "sig" {
		t.Fatalf("identifiers not forwarded: %+v", captured)
	}

	var body bookingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.Booking.PaymentStatus != string(domain.BookingPaymentAdvancePaid) {
		t.Fatalf("unexpected payment status: %q", body.Booking.PaymentStatus)
	}
}

func TestUpdateBookingStatusForwardsOverrides(t *testing.T) {
	var captured services.UpdateBookingStatusCommand
	svc := &stubBookingService{
		updateFn: func(_ context.Context, cmd services.UpdateBookingStatusCommand) (domain.ServiceBooking, error) {
			captured = cmd
			return domain.ServiceBooking{ID: cmd.BookingID, Status: cmd.Status}, nil
		},
	}
	router := newBookingRouter(svc)

	override := int64(600)
	req := authenticatedRequest(t, http.MethodPost, "/services/svc_1:update-status", updateBookingStatusRequest{
		Status:       "Assigned",
		Technician:   "Ravi",
		CostOverride: &override,
		Note:         "extra piping",
	}, &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleSeller}})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Status != domain.BookingStatusAssigned {
		t.Fatalf("status not normalised: %q", captured.Status)
	}
	if captured.Technician != "Ravi" || captured.CostOverride == nil || *captured.CostOverride != 600 {
		t.Fatalf("overrides not forwarded: %+v", captured)
	}
	if captured.Actor.Role != services.ActorRoleSeller {
		t.Fatalf("expected seller actor, got %q", captured.Actor.Role)
	}
}

func TestCancelBookingReturnsRefundBreakdown(t *testing.T) {
	svc := &stubBookingService{
		cancelFn: func(_ context.Context, cmd services.CancelBookingCommand) (domain.ServiceBooking, error) {
			return domain.ServiceBooking{
				ID:            cmd.BookingID,
				Status:        domain.BookingStatusCancelled,
				PaymentStatus: domain.BookingPaymentRefundPending,
				Refund: &domain.BookingRefund{
					Amount:         200,
					DeductedAmount: 100,
					RefundedAmount: 100,
					Status:         domain.BookingRefundPending,
					Reason:         cmd.Reason,
				},
			}, nil
		},
	}
	router := newBookingRouter(svc)

	req := authenticatedRequest(t, http.MethodPost, "/services/svc_1:cancel", reasonRequest{Reason: "moving house"}, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body bookingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	refund := body.Booking.Refund
	if refund == nil || refund.Amount != 200 || refund.DeductedAmount != 100 || refund.RefundedAmount != 100 {
		t.Fatalf("refund breakdown missing: %+v", refund)
	}
}

func TestProcessBookingRefundTranslatesDegradedGateway(t *testing.T) {
	svc := &stubBookingService{
		refundFn: func(context.Context, services.ProcessBookingRefundCommand) (domain.ServiceBooking, error) {
			return domain.ServiceBooking{}, fmt.Errorf("%w: gateway refund failed", services.ErrExternalServiceDegraded)
		},
	}
	router := newBookingRouter(svc)

	req := authenticatedRequest(t, http.MethodPost, "/services/svc_1:refund", nil, &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleAdmin}})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestSubmitFeedbackForwardsRating(t *testing.T) {
	var captured services.SubmitFeedbackCommand
	svc := &stubBookingService{
		feedbackFn: func(_ context.Context, cmd services.SubmitFeedbackCommand) (domain.ServiceBooking, error) {
			captured = cmd
			return domain.ServiceBooking{
				ID:       cmd.BookingID,
				Status:   domain.BookingStatusCompleted,
				Feedback: &domain.BookingFeedback{Rating: cmd.Rating, Comment: cmd.Comment},
			}, nil
		},
	}
	router := newBookingRouter(svc)

	req := authenticatedRequest(t, http.MethodPost, "/services/svc_1/feedback", feedbackRequest{Rating: 5, Comment: "quick and tidy"}, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Rating != 5 || captured.Comment != "quick and tidy" {
		t.Fatalf("feedback not forwarded: %+v", captured)
	}
}

func TestGetBookingTranslatesForbidden(t *testing.T) {
	svc := &stubBookingService{
		getFn: func(context.Context, services.Actor, string) (domain.ServiceBooking, error) {
			return domain.ServiceBooking{}, fmt.Errorf("%w: not the booking owner", services.ErrForbidden)
		},
	}
	router := newBookingRouter(svc)

	req := authenticatedRequest(t, http.MethodGet, "/services/svc_1", nil, &auth.Identity{UID: "user-2"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestListBookingsScopesQuery(t *testing.T) {
	var captured services.BookingListQuery
	svc := &stubBookingService{
		listFn: func(_ context.Context, _ services.Actor, query services.BookingListQuery) (domain.CursorPage[domain.ServiceBooking], error) {
			captured = query
			return domain.CursorPage[domain.ServiceBooking]{Items: []domain.ServiceBooking{{ID: "svc_1"}}}, nil
		},
	}
	router := newBookingRouter(svc)

	req := authenticatedRequest(t, http.MethodGet, "/services/?status=pending&page_size=5", nil, &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Status) != 1 || captured.Status[0] != "pending" {
		t.Fatalf("status filter not parsed: %v", captured.Status)
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("page size not forwarded: %d", captured.Pagination.PageSize)
	}
}
