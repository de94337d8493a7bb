package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayLogger defines the logging contract for gateway operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

// RazorpayConfig configures the RazorpayProvider.
type RazorpayConfig struct {
	KeyID      string
	KeySecret  string
	BaseURL    string
	HTTPClient *http.Client
	Logger     RazorpayLogger
	Clock      func() time.Time
}

// RazorpayProvider implements the Provider interface against the Razorpay REST API.
// Amounts are expressed in paise throughout.
type RazorpayProvider struct {
	keyID     string
	keySecret []byte
	baseURL   string
	client    *http.Client
	logger    RazorpayLogger
	clock     func() time.Time
}

// NewRazorpayProvider constructs a gateway adapter using the given configuration.
func NewRazorpayProvider(cfg RazorpayConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("razorpay: invalid base url: %w", err)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &RazorpayProvider{
		keyID:     keyID,
		keySecret: []byte(keySecret),
		baseURL:   baseURL,
		client:    client,
		logger:    logger,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

type razorpayOrderResponse struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type razorpayRefundResponse struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type razorpayPaymentResponse struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	Method         string `json:"method"`
	CapturedAt     int64  `json:"captured_at"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateGatewayOrder opens a gateway order to collect a payment against.
func (p *RazorpayProvider) CreateGatewayOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("razorpay: provider is nil")
	}
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("razorpay: amount must be positive")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	payload := map[string]any{
		"amount":   req.Amount,
		"currency": currency,
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		payload["receipt"] = receipt
	}
	if len(req.Notes) > 0 {
		payload["notes"] = req.Notes
	}

	var body razorpayOrderResponse
	if err := p.do(ctx, http.MethodPost, "/orders", req.IdempotencyKey, payload, &body); err != nil {
		return GatewayOrder{}, err
	}

	p.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"gatewayOrderId": body.ID,
		"amount":         body.Amount,
		"currency":       body.Currency,
	})

	raw := map[string]any{
		"id":       body.ID,
		"receipt":  body.Receipt,
		"status":   body.Status,
		"currency": body.Currency,
	}

	return GatewayOrder{
		ID:        body.ID,
		Provider:  "razorpay",
		Amount:    body.Amount,
		Currency:  body.Currency,
		Status:    mapRazorpayOrderStatus(body.Status),
		CreatedAt: unixOr(body.CreatedAt, p.clock()),
		Raw:       raw,
	}, nil
}

// VerifyPayment checks the client-supplied signature against the shared key secret.
// The signed message is "<gateway order id>|<payment id>" and the signature is hex encoded.
func (p *RazorpayProvider) VerifyPayment(_ context.Context, req VerificationRequest) error {
	if p == nil {
		return errors.New("razorpay: provider is nil")
	}

	orderID := strings.TrimSpace(req.GatewayOrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	signature := strings.TrimSpace(req.Signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return ErrSignatureMismatch
	}

	mac := hmac.New(sha256.New, p.keySecret)
	_, _ = mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrSignatureMismatch
	}
	return nil
}

// Refund issues a refund against a captured payment.
func (p *RazorpayProvider) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if p == nil {
		return RefundResult{}, errors.New("razorpay: provider is nil")
	}
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return RefundResult{}, errors.New("razorpay: payment id is required")
	}

	payload := map[string]any{}
	if req.Amount != nil && *req.Amount > 0 {
		payload["amount"] = *req.Amount
	}
	notes := make(map[string]string, len(req.Notes)+1)
	for k, v := range req.Notes {
		notes[k] = v
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		notes["reason"] = reason
	}
	if len(notes) > 0 {
		payload["notes"] = notes
	}

	var body razorpayRefundResponse
	path := "/payments/" + url.PathEscape(paymentID) + "/refund"
	if err := p.do(ctx, http.MethodPost, path, req.IdempotencyKey, payload, &body); err != nil {
		return RefundResult{}, err
	}

	p.logger(ctx, "payments.razorpay.refund.created", map[string]any{
		"refundId":  body.ID,
		"paymentId": body.PaymentID,
		"amount":    body.Amount,
	})

	return RefundResult{
		ID:        body.ID,
		PaymentID: body.PaymentID,
		Amount:    body.Amount,
		Status:    mapRazorpayRefundStatus(body.Status),
		CreatedAt: unixOr(body.CreatedAt, p.clock()),
	}, nil
}

// LookupPayment retrieves payment details for reconciliation.
func (p *RazorpayProvider) LookupPayment(ctx context.Context, paymentID string) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("razorpay: provider is nil")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return PaymentDetails{}, errors.New("razorpay: payment id is required")
	}

	var body razorpayPaymentResponse
	if err := p.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), "", nil, &body); err != nil {
		var gatewayErr *GatewayError
		if errors.As(err, &gatewayErr) && gatewayErr.StatusCode == http.StatusNotFound {
			return PaymentDetails{}, ErrPaymentNotFound
		}
		return PaymentDetails{}, err
	}

	details := PaymentDetails{
		Provider:  "razorpay",
		PaymentID: body.ID,
		OrderID:   body.OrderID,
		Status:    mapRazorpayPaymentStatus(body.Status),
		Amount:    body.Amount,
		Currency:  strings.ToUpper(body.Currency),
		Method:    body.Method,
	}
	if body.CapturedAt > 0 {
		t := time.Unix(body.CapturedAt, 0).UTC()
		details.CapturedAt = &t
	}
	if body.AmountRefunded >= body.Amount && body.Amount > 0 {
		details.Status = StatusRefunded
	}
	return details, nil
}

func (p *RazorpayProvider) do(ctx context.Context, method, path, idempotencyKey string, payload any, out any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("razorpay: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("razorpay: build request: %w", err)
	}
	req.SetBasicAuth(p.keyID, string(p.keySecret))
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("razorpay: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr razorpayErrorResponse
		_ = json.Unmarshal(data, &apiErr)
		return &GatewayError{
			Provider:    "razorpay",
			StatusCode:  resp.StatusCode,
			Code:        apiErr.Error.Code,
			Description: apiErr.Error.Description,
		}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("razorpay: decode response: %w", err)
		}
	}
	return nil
}

func mapRazorpayOrderStatus(status string) Status {
	switch strings.ToLower(status) {
	case "paid":
		return StatusCaptured
	case "attempted":
		return StatusPending
	default:
		return StatusCreated
	}
}

func mapRazorpayPaymentStatus(status string) Status {
	switch strings.ToLower(status) {
	case "captured":
		return StatusCaptured
	case "refunded":
		return StatusRefunded
	case "failed":
		return StatusFailed
	case "authorized", "created":
		return StatusPending
	default:
		return StatusPending
	}
}

func mapRazorpayRefundStatus(status string) Status {
	switch strings.ToLower(status) {
	case "processed":
		return StatusRefunded
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}

func unixOr(seconds int64, fallback time.Time) time.Time {
	if seconds <= 0 {
		return fallback
	}
	return time.Unix(seconds, 0).UTC()
}
