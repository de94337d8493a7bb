package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SimulatedProvider is an in-memory gateway used in local development and tests.
// It honours the same order/verify/refund lifecycle as the real gateways and
// signs verification payloads with a configurable shared secret.
type SimulatedProvider struct {
	secret []byte
	clock  func() time.Time

	mu       sync.Mutex
	orders   map[string]GatewayOrder
	payments map[string]PaymentDetails
}

// NewSimulatedProvider constructs a simulated gateway with the provided signing secret.
func NewSimulatedProvider(secret string, clock func() time.Time) (*SimulatedProvider, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("simulated: signing secret is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SimulatedProvider{
		secret: []byte(secret),
		clock: func() time.Time {
			return clock().UTC()
		},
		orders:   make(map[string]GatewayOrder),
		payments: make(map[string]PaymentDetails),
	}, nil
}

// CreateGatewayOrder registers an in-memory gateway order.
func (p *SimulatedProvider) CreateGatewayOrder(_ context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("simulated: amount must be positive")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	order := GatewayOrder{
		ID:        "order_sim_" + ulid.Make().String(),
		Provider:  "simulated",
		Amount:    req.Amount,
		Currency:  currency,
		Status:    StatusCreated,
		CreatedAt: p.clock(),
	}

	p.mu.Lock()
	p.orders[order.ID] = order
	p.mu.Unlock()

	return order, nil
}

// CompletePayment records a captured payment against an order and returns the
// payment ID plus the signature a client would submit. Intended for tests and
// the local checkout flow.
func (p *SimulatedProvider) CompletePayment(gatewayOrderID string) (paymentID, signature string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[gatewayOrderID]
	if !ok {
		return "", "", errors.New("simulated: unknown gateway order")
	}

	paymentID = "pay_sim_" + ulid.Make().String()
	capturedAt := p.clock()
	p.payments[paymentID] = PaymentDetails{
		Provider:   "simulated",
		PaymentID:  paymentID,
		OrderID:    order.ID,
		Status:     StatusCaptured,
		Amount:     order.Amount,
		Currency:   order.Currency,
		Method:     "simulated",
		CapturedAt: &capturedAt,
	}
	order.Status = StatusCaptured
	p.orders[order.ID] = order

	return paymentID, p.sign(order.ID, paymentID), nil
}

// VerifyPayment checks the signature over "<gateway order id>|<payment id>".
func (p *SimulatedProvider) VerifyPayment(_ context.Context, req VerificationRequest) error {
	orderID := strings.TrimSpace(req.GatewayOrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	signature := strings.TrimSpace(req.Signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return ErrSignatureMismatch
	}
	if !hmac.Equal([]byte(p.sign(orderID, paymentID)), []byte(strings.ToLower(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

// Refund marks the payment refunded in memory.
func (p *SimulatedProvider) Refund(_ context.Context, req RefundRequest) (RefundResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payment, ok := p.payments[strings.TrimSpace(req.PaymentID)]
	if !ok {
		return RefundResult{}, ErrPaymentNotFound
	}

	amount := payment.Amount
	if req.Amount != nil && *req.Amount > 0 && *req.Amount < amount {
		amount = *req.Amount
	}

	refundedAt := p.clock()
	payment.Status = StatusRefunded
	payment.RefundedAt = &refundedAt
	p.payments[payment.PaymentID] = payment

	return RefundResult{
		ID:        "rfnd_sim_" + ulid.Make().String(),
		PaymentID: payment.PaymentID,
		Amount:    amount,
		Status:    StatusRefunded,
		CreatedAt: refundedAt,
	}, nil
}

// LookupPayment returns the stored payment details.
func (p *SimulatedProvider) LookupPayment(_ context.Context, paymentID string) (PaymentDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	payment, ok := p.payments[strings.TrimSpace(paymentID)]
	if !ok {
		return PaymentDetails{}, ErrPaymentNotFound
	}
	return payment, nil
}

func (p *SimulatedProvider) sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, p.secret)
	_, _ = mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
