package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aquapure/api/internal/domain"
	"github.com/aquapure/api/internal/services"
)

func newWebhookRouter(svc services.OrderService) chi.Router {
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(svc).Routes)
	return router
}

func TestCourierStatusWebhookForwardsCommand(t *testing.T) {
	var captured services.CourierStatusCommand
	svc := &stubOrderService{
		courierStatFn: func(_ context.Context, cmd services.CourierStatusCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{ID: cmd.OrderID, Status: domain.OrderStatusOutForDelivery}, nil
		},
	}
	router := newWebhookRouter(svc)

	req := authenticatedRequest(t, http.MethodPost, "/webhooks/courier/status", courierStatusRequest{
		OrderID: "ord_1",
		AWB:     "SHIP123",
		Status:  "OUT FOR DELIVERY",
	}, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.VendorStatus != "OUT FOR DELIVERY" {
		t.Fatalf("command not forwarded: %+v", captured)
	}

	var body courierStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.OrderStatus != string(domain.OrderStatusOutForDelivery) {
		t.Fatalf("unexpected order status: %q", body.OrderStatus)
	}
}

func TestCourierStatusWebhookParsesDeliveredAt(t *testing.T) {
	var captured services.CourierStatusCommand
	svc := &stubOrderService{
		courierStatFn: func(_ context.Context, cmd services.CourierStatusCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{ID: cmd.OrderID, Status: domain.OrderStatusDelivered}, nil
		},
	}
	router := newWebhookRouter(svc)

	req := authenticatedRequest(t, http.MethodPost, "/webhooks/courier/status", courierStatusRequest{
		OrderID:     "ord_1",
		Status:      "DELIVERED",
		DeliveredAt: "2026-04-05T14:30:00Z",
	}, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.DeliveredAt == nil || !captured.DeliveredAt.Equal(time.Date(2026, 4, 5, 14, 30, 0, 0, time.UTC)) {
		t.Fatalf("deliveredAt not parsed: %v", captured.DeliveredAt)
	}
}

func TestCourierStatusWebhookRequiresOrderID(t *testing.T) {
	router := newWebhookRouter(&stubOrderService{})

	req := authenticatedRequest(t, http.MethodPost, "/webhooks/courier/status", courierStatusRequest{Status: "DELIVERED"}, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCourierStatusWebhookTranslatesTerminalConflict(t *testing.T) {
	svc := &stubOrderService{
		courierStatFn: func(context.Context, services.CourierStatusCommand) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: order already cancelled", services.ErrInvalidTransition)
		},
	}
	router := newWebhookRouter(svc)

	req := authenticatedRequest(t, http.MethodPost, "/webhooks/courier/status", courierStatusRequest{
		OrderID: "ord_1",
		Status:  "IN TRANSIT",
	}, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
