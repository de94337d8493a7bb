package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp string
	order  GatewayOrder
	refund RefundResult
	detail PaymentDetails
	err    error
}

func (f *fakeProvider) CreateGatewayOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	f.lastOp = "create"
	return f.order, f.err
}

func (f *fakeProvider) VerifyPayment(ctx context.Context, req VerificationRequest) error {
	f.lastOp = "verify"
	return f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	f.lastOp = "refund"
	return f.refund, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, paymentID string) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.detail, f.err
}

func TestManagerCreateGatewayOrderUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	razorpay := &fakeProvider{order: GatewayOrder{ID: "order_rzp"}}
	stripe := &fakeProvider{order: GatewayOrder{ID: "pi_stripe"}}

	mgr, err := NewManager(map[string]Provider{
		"razorpay": razorpay,
		"stripe":   stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	order, err := mgr.CreateGatewayOrder(ctx, PaymentContext{PreferredProvider: "stripe"}, GatewayOrderRequest{Amount: 5000, Currency: "USD"})
	if err != nil {
		t.Fatalf("create gateway order: %v", err)
	}

	if order.Provider != "stripe" {
		t.Fatalf("expected provider 'stripe', got %q", order.Provider)
	}
	if stripe.lastOp != "create" {
		t.Fatalf("expected stripe provider to handle call")
	}
	if razorpay.lastOp != "" {
		t.Fatalf("expected razorpay provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	razorpay := &fakeProvider{order: GatewayOrder{ID: "order_rzp"}}
	stripe := &fakeProvider{order: GatewayOrder{ID: "pi_stripe"}}

	mgr, err := NewManager(
		map[string]Provider{
			"razorpay": razorpay,
			"stripe":   stripe,
		},
		WithCurrencyRoutes(map[string]string{"USD": "stripe"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	order, err := mgr.CreateGatewayOrder(ctx, PaymentContext{Currency: "USD"}, GatewayOrderRequest{Amount: 5000, Currency: "USD"})
	if err != nil {
		t.Fatalf("create gateway order: %v", err)
	}
	if order.Provider != "stripe" {
		t.Fatalf("expected provider 'stripe', got %q", order.Provider)
	}
}

func TestManagerDefaultsToRazorpay(t *testing.T) {
	ctx := context.Background()
	razorpay := &fakeProvider{refund: RefundResult{ID: "rfnd_1"}}
	stripe := &fakeProvider{}

	mgr, err := NewManager(map[string]Provider{
		"razorpay": razorpay,
		"stripe":   stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	refund, err := mgr.Refund(ctx, PaymentContext{}, RefundRequest{PaymentID: "pay_1"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if razorpay.lastOp != "refund" {
		t.Fatalf("expected refund to invoke default provider")
	}
	if refund.ID != "rfnd_1" {
		t.Fatalf("unexpected refund result %#v", refund)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"razorpay": &fakeProvider{}, "stripe": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreateGatewayOrder(ctx, PaymentContext{PreferredProvider: "unknown"}, GatewayOrderRequest{Amount: 100, Currency: "INR"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
