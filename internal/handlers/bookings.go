package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aquapure/api/internal/domain"
	"github.com/aquapure/api/internal/platform/auth"
	"github.com/aquapure/api/internal/platform/httpx"
	"github.com/aquapure/api/internal/services"
)

const (
	defaultBookingPageSize = 20
	maxBookingPageSize     = 100
)

// BookingHandlers exposes the service booking lifecycle endpoints.
type BookingHandlers struct {
	authn    *auth.Authenticator
	bookings services.BookingService
}

// NewBookingHandlers constructs a new BookingHandlers instance.
func NewBookingHandlers(authn *auth.Authenticator, bookings services.BookingService) *BookingHandlers {
	return &BookingHandlers{
		authn:    authn,
		bookings: bookings,
	}
}

// Routes registers the /services endpoints.
func (h *BookingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.createBooking)
	r.Get("/", h.listBookings)
	r.Get("/{bookingID}", h.getBooking)
	r.Post("/{bookingID}/payment:create", h.createPaymentOrder)
	r.Post("/payment:verify", h.verifyPayment)
	r.Post("/{bookingID}:update-status", h.updateStatus)
	r.Post("/{bookingID}:cancel", h.cancelBooking)
	r.Post("/{bookingID}:refund", h.processRefund)
	r.Post("/{bookingID}/feedback", h.submitFeedback)
}

type createBookingRequest struct {
	ServiceType           string  `json:"serviceType"`
	Description           string  `json:"description"`
	Address               string  `json:"address"`
	PostalCode            string  `json:"postalCode"`
	ScheduledDate         string  `json:"scheduledDate"`
	TermsAccepted         bool    `json:"termsAccepted"`
	DistanceFromWarehouse float64 `json:"distanceFromWarehouse"`
}

func (h *BookingHandlers) createBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req createBookingRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	scheduled, ok := parseScheduledDate(ctx, w, req.ScheduledDate)
	if !ok {
		return
	}

	booking, err := h.bookings.Create(ctx, services.CreateBookingCommand{
		Actor:                 actor,
		ServiceType:           req.ServiceType,
		Description:           req.Description,
		Address:               req.Address,
		PostalCode:            req.PostalCode,
		ScheduledDate:         scheduled,
		TermsAccepted:         req.TermsAccepted,
		DistanceFromWarehouse: req.DistanceFromWarehouse,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, bookingResponse{Message: "booking created", Booking: buildBookingPayload(booking)})
}

func (h *BookingHandlers) listBookings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	listQuery := services.BookingListQuery{
		UserID: strings.TrimSpace(query.Get("user_id")),
		Status: parseFilterValues(query["status"]),
	}

	from, to, ok := parseDateRange(ctx, w, query.Get("created_after"), query.Get("created_before"))
	if !ok {
		return
	}
	listQuery.From = from
	listQuery.To = to

	pageSize, ok := parsePageSize(ctx, w, query.Get("page_size"), defaultBookingPageSize, maxBookingPageSize)
	if !ok {
		return
	}
	listQuery.Pagination = domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.bookings.ListBookings(ctx, actor, listQuery)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	items := make([]bookingPayload, 0, len(page.Items))
	for _, booking := range page.Items {
		items = append(items, buildBookingPayload(booking))
	}
	writeJSONResponse(w, http.StatusOK, listResponse[bookingPayload]{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *BookingHandlers) getBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	bookingID, ok := requireURLParam(ctx, w, r, "bookingID", "booking id is required")
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(ctx, actor, bookingID)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking)})
}

type bookingPaymentResponse struct {
	Message string              `json:"message"`
	Booking bookingPayload      `json:"booking"`
	Payment gatewayOrderPayload `json:"payment"`
}

func (h *BookingHandlers) createPaymentOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	bookingID, ok := requireURLParam(ctx, w, r, "bookingID", "booking id is required")
	if !ok {
		return
	}

	result, err := h.bookings.CreatePaymentOrder(ctx, actor, bookingID)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, bookingPaymentResponse{
		Message: "payment order created",
		Booking: buildBookingPayload(result.Booking),
		Payment: buildGatewayOrderPayload(result.GatewayOrder),
	})
}

type verifyBookingPaymentRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	GatewaySignature string `json:"gatewaySignature"`
}

func (h *BookingHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req verifyBookingPaymentRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	booking, err := h.bookings.VerifyPayment(ctx, services.VerifyBookingPaymentCommand{
		Actor:            actor,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		GatewaySignature: req.GatewaySignature,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Message: "payment verified", Booking: buildBookingPayload(booking)})
}

type updateBookingStatusRequest struct {
	Status        string `json:"status"`
	Technician    string `json:"technician"`
	ScheduledDate string `json:"scheduledDate"`
	CostOverride  *int64 `json:"costOverride"`
	Note          string `json:"note"`
}

func (h *BookingHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	bookingID, ok := requireURLParam(ctx, w, r, "bookingID", "booking id is required")
	if !ok {
		return
	}

	var req updateBookingStatusRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	scheduled, ok := parseScheduledDate(ctx, w, req.ScheduledDate)
	if !ok {
		return
	}

	booking, err := h.bookings.UpdateStatus(ctx, services.UpdateBookingStatusCommand{
		Actor:         actor,
		BookingID:     bookingID,
		Status:        domain.BookingStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Technician:    req.Technician,
		ScheduledDate: scheduled,
		CostOverride:  req.CostOverride,
		Note:          req.Note,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Message: "booking status updated", Booking: buildBookingPayload(booking)})
}

func (h *BookingHandlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	bookingID, ok := requireURLParam(ctx, w, r, "bookingID", "booking id is required")
	if !ok {
		return
	}

	var req reasonRequest
	if hasBody(r) && !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	booking, err := h.bookings.Cancel(ctx, services.CancelBookingCommand{
		Actor:     actor,
		BookingID: bookingID,
		Reason:    req.Reason,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Message: "booking cancelled", Booking: buildBookingPayload(booking)})
}

func (h *BookingHandlers) processRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	bookingID, ok := requireURLParam(ctx, w, r, "bookingID", "booking id is required")
	if !ok {
		return
	}

	booking, err := h.bookings.ProcessRefund(ctx, services.ProcessBookingRefundCommand{
		Actor:     actor,
		BookingID: bookingID,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Message: "refund processed", Booking: buildBookingPayload(booking)})
}

type feedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *BookingHandlers) submitFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	bookingID, ok := requireURLParam(ctx, w, r, "bookingID", "booking id is required")
	if !ok {
		return
	}

	var req feedbackRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	booking, err := h.bookings.SubmitFeedback(ctx, services.SubmitFeedbackCommand{
		Actor:     actor,
		BookingID: bookingID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Message: "feedback recorded", Booking: buildBookingPayload(booking)})
}

// Payload shapes -------------------------------------------------------------

// bookingResponse wraps a single booking. Message carries the human-readable
// outcome on mutations and is omitted on reads.
type bookingResponse struct {
	Message string         `json:"message,omitempty"`
	Booking bookingPayload `json:"booking"`
}

type advancePaymentPayload struct {
	GatewayOrderID   string     `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string     `json:"gatewayPaymentId,omitempty"`
	Amount           int64      `json:"amount"`
	PaidAt           *time.Time `json:"paidAt,omitempty"`
}

type bookingRefundPayload struct {
	Amount          int64      `json:"amount"`
	DeductedAmount  int64      `json:"deductedAmount"`
	RefundedAmount  int64      `json:"refundedAmount"`
	GatewayRefundID string     `json:"gatewayRefundId,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	Status          string     `json:"status"`
	RefundedAt      *time.Time `json:"refundedAt,omitempty"`
}

type feedbackPayload struct {
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type bookingPayload struct {
	ID            string `json:"id"`
	BookingNumber string `json:"bookingNumber"`
	UserID        string `json:"userId"`

	ServiceType   string     `json:"serviceType"`
	Description   string     `json:"description,omitempty"`
	Address       string     `json:"address"`
	PostalCode    string     `json:"postalCode"`
	ScheduledDate *time.Time `json:"scheduledDate,omitempty"`
	TermsAccepted bool       `json:"termsAccepted"`

	DistanceFromWarehouse float64 `json:"distanceFromWarehouse"`
	ServiceCost           int64   `json:"serviceCost"`
	AdvanceAmount         int64   `json:"advanceAmount"`
	RemainingAmount       int64   `json:"remainingAmount"`

	Status        string                 `json:"status"`
	PaymentStatus string                 `json:"paymentStatus"`
	StatusHistory []statusHistoryPayload `json:"statusHistory"`

	AdvancePayment *advancePaymentPayload `json:"advancePayment,omitempty"`
	Refund         *bookingRefundPayload  `json:"refund,omitempty"`
	Feedback       *feedbackPayload       `json:"feedback,omitempty"`

	Technician    string     `json:"technician,omitempty"`
	CompletedDate *time.Time `json:"completedDate,omitempty"`
	CancelledAt   *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy   string     `json:"cancelledBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func buildBookingPayload(booking domain.ServiceBooking) bookingPayload {
	history := make([]statusHistoryPayload, 0, len(booking.StatusHistory))
	for _, entry := range booking.StatusHistory {
		history = append(history, statusHistoryPayload{
			Status:    entry.Status,
			Note:      entry.Note,
			Actor:     entry.Actor,
			ActorRole: entry.ActorRole,
			At:        entry.At,
		})
	}

	payload := bookingPayload{
		ID:                    booking.ID,
		BookingNumber:         booking.BookingNumber,
		UserID:                booking.UserID,
		ServiceType:           booking.ServiceType,
		Description:           booking.Description,
		Address:               booking.Address,
		PostalCode:            booking.PostalCode,
		ScheduledDate:         booking.ScheduledDate,
		TermsAccepted:         booking.TermsAccepted,
		DistanceFromWarehouse: booking.DistanceFromWarehouse,
		ServiceCost:           booking.ServiceCost,
		AdvanceAmount:         booking.AdvanceAmount,
		RemainingAmount:       booking.RemainingAmount,
		Status:                string(booking.Status),
		PaymentStatus:         string(booking.PaymentStatus),
		StatusHistory:         history,
		Technician:            booking.Technician,
		CompletedDate:         booking.CompletedDate,
		CancelledAt:           booking.CancelledAt,
		CancelledBy:           booking.CancelledBy,
		CreatedAt:             booking.CreatedAt,
		UpdatedAt:             booking.UpdatedAt,
	}

	if booking.AdvancePayment != nil {
		payload.AdvancePayment = &advancePaymentPayload{
			GatewayOrderID:   booking.AdvancePayment.GatewayOrderID,
			GatewayPaymentID: booking.AdvancePayment.GatewayPaymentID,
			Amount:           booking.AdvancePayment.Amount,
			PaidAt:           booking.AdvancePayment.PaidAt,
		}
	}
	if booking.Refund != nil {
		payload.Refund = &bookingRefundPayload{
			Amount:          booking.Refund.Amount,
			DeductedAmount:  booking.Refund.DeductedAmount,
			RefundedAmount:  booking.Refund.RefundedAmount,
			GatewayRefundID: booking.Refund.GatewayRefundID,
			Reason:          booking.Refund.Reason,
			Status:          string(booking.Refund.Status),
			RefundedAt:      booking.Refund.RefundedAt,
		}
	}
	if booking.Feedback != nil {
		payload.Feedback = &feedbackPayload{
			Rating:      booking.Feedback.Rating,
			Comment:     booking.Feedback.Comment,
			SubmittedAt: booking.Feedback.SubmittedAt,
		}
	}

	return payload
}

func parseScheduledDate(ctx context.Context, w http.ResponseWriter, raw string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	if ts, err := parseTimeParam(raw); err == nil {
		return &ts, true
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		ts = ts.UTC()
		return &ts, true
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "scheduledDate must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
	return nil, false
}
