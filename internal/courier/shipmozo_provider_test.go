package courier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aquapure/api/internal/domain"
)

func newTestShipmozo(t *testing.T, handler http.Handler, retries int) *ShipmozoProvider {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	provider, err := NewShipmozoProvider(ShipmozoConfig{
		APIKey:     "pub-key",
		APISecret:  "priv-key",
		BaseURL:    srv.URL,
		MaxRetries: retries,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func shipmentFixture() ShipmentRequest {
	return ShipmentRequest{
		OrderID:       "order-1",
		OrderNumber:   "AQ-2026-000042",
		PaymentMode:   PaymentModeCOD,
		CODAmount:     450000,
		DeclaredValue: 450000,
		WeightGrams:   9000,
		Delivery: Address{
			Name:     "A Customer",
			Phone:    "9999999999",
			Line1:    "12 Lake View Road",
			City:     "Chennai",
			State:    "Tamil Nadu",
			Postcode: "600001",
		},
		Items: []ShipmentItem{{Name: "RO Purifier", SKU: "RO-CLASSIC", Quantity: 1, Price: 450000}},
	}
}

func TestShipmozoCreateShipment(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]any

	provider := newTestShipmozo(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result":  1,
			"message": "success",
			"data": map[string]any{
				"awb_number":   "AWB900100",
				"courier_name": "Bluedart",
				"tracking_url": "https://track.example/AWB900100",
			},
		})
	}), 0)

	shipment, err := provider.CreateShipment(context.Background(), shipmentFixture())
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}

	if gotHeaders.Get("public-key") != "pub-key" || gotHeaders.Get("private-key") != "priv-key" {
		t.Fatalf("missing auth headers: %v", gotHeaders)
	}
	if gotBody["payment_mode"] != "COD" || gotBody["cod_amount"] != float64(450000) {
		t.Fatalf("unexpected request body %v", gotBody)
	}
	if shipment.AWB != "AWB900100" || shipment.CourierName != "Bluedart" {
		t.Fatalf("unexpected shipment %#v", shipment)
	}
}

func TestShipmozoRetriesTransientFailures(t *testing.T) {
	attempts := 0
	provider := newTestShipmozo(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": 1,
			"data":   map[string]any{"awb_number": "AWB900101", "courier_name": "Delhivery"},
		})
	}), 2)

	shipment, err := provider.CreateShipment(context.Background(), shipmentFixture())
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if shipment.AWB != "AWB900101" {
		t.Fatalf("unexpected shipment %#v", shipment)
	}
}

func TestShipmozoGivesUpAfterRetries(t *testing.T) {
	provider := newTestShipmozo(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), 2)

	_, err := provider.CreateShipment(context.Background(), shipmentFixture())
	if !errors.Is(err, ErrCourierUnavailable) {
		t.Fatalf("expected ErrCourierUnavailable, got %v", err)
	}
}

func TestShipmozoDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	provider := newTestShipmozo(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "pincode not serviceable"})
	}), 3)

	_, err := provider.CreateShipment(context.Background(), shipmentFixture())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "pincode not serviceable" {
		t.Fatalf("unexpected api error %#v", apiErr)
	}
	if attempts != 1 {
		t.Fatalf("expected single attempt, got %d", attempts)
	}
}

func TestShipmozoRates(t *testing.T) {
	provider := newTestShipmozo(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": 1,
			"data": []map[string]any{
				{"courier_name": "Bluedart", "total_charges": 120.50, "estimated_delivery_days": 2},
				{"courier_name": "Delhivery", "total_charges": 99.00, "estimated_delivery_days": 4},
			},
		})
	}), 0)

	quotes, err := provider.Rates(context.Background(), RateRequest{
		PickupPostcode:   "600001",
		DeliveryPostcode: "560001",
		WeightGrams:      9000,
	})
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	if quotes[0].Amount != 12050 || quotes[1].CourierName != "Delhivery" {
		t.Fatalf("unexpected quotes %#v", quotes)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw    string
		want   domain.OrderStatus
		wantOK bool
	}{
		{raw: "IN TRANSIT", want: domain.OrderStatusShipped, wantOK: true},
		{raw: "picked up", want: domain.OrderStatusShipped, wantOK: true},
		{raw: "OUT-FOR-DELIVERY", want: domain.OrderStatusOutForDelivery, wantOK: true},
		{raw: "Delivered", want: domain.OrderStatusDelivered, wantOK: true},
		{raw: "MANIFESTED", wantOK: false},
		{raw: "", wantOK: false},
	}

	for _, tc := range cases {
		got, ok := NormalizeStatus(tc.raw)
		if ok != tc.wantOK {
			t.Fatalf("NormalizeStatus(%q) ok = %v, want %v", tc.raw, ok, tc.wantOK)
		}
		if ok && got != tc.want {
			t.Fatalf("NormalizeStatus(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestSimulatedCourier(t *testing.T) {
	ctx := context.Background()
	provider := NewSimulatedProvider()

	shipment, err := provider.CreateShipment(ctx, shipmentFixture())
	if err != nil {
		t.Fatalf("create shipment: %v", err)
	}
	if shipment.AWB == "" || shipment.CourierName == "" {
		t.Fatalf("unexpected shipment %#v", shipment)
	}

	reverse, err := provider.CreateReversePickup(ctx, ReversePickupRequest{OrderNumber: "AQ-2026-000042"})
	if err != nil {
		t.Fatalf("create reverse pickup: %v", err)
	}
	if reverse.AWB == shipment.AWB {
		t.Fatalf("reverse AWB must differ from forward AWB")
	}

	if _, err := provider.Rates(ctx, RateRequest{DeliveryPostcode: "560001"}); err != nil {
		t.Fatalf("rates: %v", err)
	}
}
