package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aquapure/api/internal/platform/httpx"
	"github.com/aquapure/api/internal/services"
)

// WebhookHandlers ingests courier partner callbacks. Signature validation is
// applied by the router's webhook middleware group before these handlers run.
type WebhookHandlers struct {
	orders services.OrderService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(orders services.OrderService) *WebhookHandlers {
	return &WebhookHandlers{orders: orders}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/courier/status", h.courierStatus)
}

type courierStatusRequest struct {
	OrderID     string `json:"orderId"`
	AWB         string `json:"awb"`
	Status      string `json:"status"`
	DeliveredAt string `json:"deliveredAt"`
}

type courierStatusResponse struct {
	Message     string `json:"message"`
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

func (h *WebhookHandlers) courierStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req courierStatusRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	var deliveredAt *time.Time
	if raw := strings.TrimSpace(req.DeliveredAt); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "deliveredAt must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		deliveredAt = &ts
	}

	order, err := h.orders.ApplyCourierStatus(ctx, services.CourierStatusCommand{
		OrderID:      strings.TrimSpace(req.OrderID),
		VendorStatus: req.Status,
		DeliveredAt:  deliveredAt,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, courierStatusResponse{
		Message:     "courier status applied",
		OrderID:     order.ID,
		OrderStatus: string(order.Status),
	})
}
