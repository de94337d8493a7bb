package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across gateways.
type Status string

const (
	// StatusCreated indicates a gateway order exists but no payment was attempted yet.
	StatusCreated Status = "created"
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusCaptured indicates the gateway reports the payment as successfully captured.
	StatusCaptured Status = "captured"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded.
	StatusRefunded Status = "refunded"
)

// Sentinel errors surfaced by gateway adapters.
var (
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	ErrSignatureMismatch   = errors.New("payments: signature verification failed")
	ErrPaymentNotFound     = errors.New("payments: payment not found")
)

// GatewayError captures a rejection returned by the payment gateway API.
type GatewayError struct {
	Provider    string
	StatusCode  int
	Code        string
	Description string
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("payments: %s rejected request (%d %s): %s", e.Provider, e.StatusCode, e.Code, e.Description)
}

// GatewayOrderRequest captures the payload required to open a gateway order
// ahead of collecting an online payment or a booking advance.
type GatewayOrderRequest struct {
	Amount         int64 // minor currency units
	Currency       string
	Receipt        string
	Notes          map[string]string
	IdempotencyKey string
}

// GatewayOrder represents the gateway-side order returned to the client for checkout.
type GatewayOrder struct {
	ID        string
	Provider  string
	Amount    int64
	Currency  string
	Status    Status
	CreatedAt time.Time
	Raw       map[string]any
}

// VerificationRequest carries the client-reported payment identifiers to verify.
type VerificationRequest struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// RefundRequest defines a gateway refund attempt, optionally for a partial amount.
type RefundRequest struct {
	PaymentID      string
	Amount         *int64
	Reason         string
	Notes          map[string]string
	IdempotencyKey string
}

// RefundResult normalises the gateway refund response.
type RefundResult struct {
	ID        string
	PaymentID string
	Amount    int64
	Status    Status
	CreatedAt time.Time
}

// PaymentDetails normalises gateway specific payment fields for storage and reconciliation.
type PaymentDetails struct {
	Provider   string
	PaymentID  string
	OrderID    string
	Status     Status
	Amount     int64
	Currency   string
	Method     string
	CapturedAt *time.Time
	RefundedAt *time.Time
	Raw        map[string]any
}

// Provider defines the contract payment gateway adapters implement.
type Provider interface {
	CreateGatewayOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	VerifyPayment(ctx context.Context, req VerificationRequest) error
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	LookupPayment(ctx context.Context, paymentID string) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["razorpay"]; ok {
		m.defaultProvider = "razorpay"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateGatewayOrder delegates to the resolved provider.
func (m *Manager) CreateGatewayOrder(ctx context.Context, paymentCtx PaymentContext, req GatewayOrderRequest) (GatewayOrder, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := provider.CreateGatewayOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = key
	return order, nil
}

// VerifyPayment delegates to the resolved provider.
func (m *Manager) VerifyPayment(ctx context.Context, paymentCtx PaymentContext, req VerificationRequest) error {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return err
	}
	return provider.VerifyPayment(ctx, req)
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (RefundResult, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return RefundResult{}, err
	}
	return provider.Refund(ctx, req)
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, paymentID string) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.LookupPayment(ctx, paymentID)
}
