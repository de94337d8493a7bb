package domain

import (
	"testing"
	"time"
)

func TestComputeServiceCostTiers(t *testing.T) {
	cases := []struct {
		distance float64
		cost     int64
	}{
		{0, 300},
		{5.5, 300},
		{10, 300},
		{10.01, 400},
		{15, 400},
		{20, 400},
		{20.5, 500},
		{120, 500},
		{-3, 300},
	}

	for _, tc := range cases {
		quote := ComputeServiceCost(tc.distance)
		if quote.ServiceCost != tc.cost {
			t.Fatalf("distance %.2f: expected cost %d got %d", tc.distance, tc.cost, quote.ServiceCost)
		}
		if quote.AdvanceAmount+quote.RemainingAmount != quote.ServiceCost {
			t.Fatalf("distance %.2f: advance %d + remaining %d != cost %d",
				tc.distance, quote.AdvanceAmount, quote.RemainingAmount, quote.ServiceCost)
		}
	}
}

func TestComputeServiceCostSplitsAdvanceInHalf(t *testing.T) {
	quote := ComputeServiceCost(15)
	if quote.ServiceCost != 400 {
		t.Fatalf("expected cost 400 got %d", quote.ServiceCost)
	}
	if quote.AdvanceAmount != 200 {
		t.Fatalf("expected advance 200 got %d", quote.AdvanceAmount)
	}
	if quote.RemainingAmount != 200 {
		t.Fatalf("expected remaining 200 got %d", quote.RemainingAmount)
	}
}

func TestComputeDeliveryCharge(t *testing.T) {
	if charge := ComputeDeliveryCharge("395001"); !charge.IsFree || charge.Charge != 0 {
		t.Fatalf("expected free delivery in zone, got %+v", charge)
	}
	if charge := ComputeDeliveryCharge("560034"); charge.IsFree || charge.Charge != FlatDeliveryCharge {
		t.Fatalf("expected flat fee outside zone, got %+v", charge)
	}
	if charge := ComputeDeliveryCharge(""); charge.IsFree {
		t.Fatalf("empty postal code must not be free")
	}
}

func TestComputeTax(t *testing.T) {
	if tax := ComputeTax(10000); tax != 1800 {
		t.Fatalf("expected 1800 got %d", tax)
	}
	if tax := ComputeTax(0); tax != 0 {
		t.Fatalf("expected 0 got %d", tax)
	}
	if tax := ComputeTax(999); tax != 180 {
		// 999 * 0.18 = 179.82 rounds to 180
		t.Fatalf("expected 180 got %d", tax)
	}
}

func TestOrderCanBeReturnedWindow(t *testing.T) {
	delivered := mustTime(t, "2026-03-01T10:00:00Z")

	order := Order{
		Status:      OrderStatusDelivered,
		DeliveredAt: &delivered,
	}

	atBoundary := delivered.Add(ReturnWindow)
	if !order.CanBeReturned(atBoundary) {
		t.Fatalf("expected return allowed at exactly 7 days")
	}
	if order.CanBeReturned(atBoundary.Add(1)) {
		t.Fatalf("expected return rejected beyond 7 days")
	}

	order.Return.Requested = true
	if order.CanBeReturned(delivered.Add(time.Hour)) {
		t.Fatalf("expected return rejected when already requested")
	}

	order.Return.Requested = false
	order.Status = OrderStatusShipped
	if order.CanBeReturned(delivered.Add(time.Hour)) {
		t.Fatalf("expected return rejected before delivery")
	}
}

func TestOrderCanBeReturnedFallsBackToUpdatedAt(t *testing.T) {
	updated := mustTime(t, "2026-03-05T09:00:00Z")
	order := Order{
		Status:    OrderStatusDelivered,
		UpdatedAt: updated,
	}
	if !order.CanBeReturned(updated.Add(24 * time.Hour)) {
		t.Fatalf("expected fallback window from UpdatedAt")
	}
	if order.CanBeReturned(updated.Add(ReturnWindow + time.Minute)) {
		t.Fatalf("expected fallback window to expire")
	}
}

func TestRecognisedRevenue(t *testing.T) {
	cod := Order{PaymentMethod: PaymentMethodCOD, TotalPrice: 5000, Status: OrderStatusShipped}
	if got := cod.RecognisedRevenue(); got != 0 {
		t.Fatalf("COD before delivery must contribute 0, got %d", got)
	}
	cod.Status = OrderStatusDelivered
	if got := cod.RecognisedRevenue(); got != 5000 {
		t.Fatalf("COD after delivery must contribute total, got %d", got)
	}

	online := Order{PaymentMethod: PaymentMethodOnline, TotalPrice: 7200}
	if got := online.RecognisedRevenue(); got != 0 {
		t.Fatalf("unpaid online order must contribute 0, got %d", got)
	}
	online.IsPaid = true
	if got := online.RecognisedRevenue(); got != 7200 {
		t.Fatalf("paid online order must contribute total, got %d", got)
	}
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %s: %v", value, err)
	}
	return ts
}
