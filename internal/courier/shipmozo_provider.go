package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultShipmozoBaseURL = "https://shipping-api.shipmozo.com/v1"

// ShipmozoLogger defines the logging contract for courier operations.
type ShipmozoLogger func(ctx context.Context, event string, fields map[string]any)

// ShipmozoConfig configures the ShipmozoProvider.
type ShipmozoConfig struct {
	APIKey     string
	APISecret  string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     ShipmozoLogger
	Sleep      func(context.Context, time.Duration) error
}

// ShipmozoProvider books shipments through the Shipmozo aggregator API.
// Transient upstream failures are retried with linear backoff before the
// request is reported as unavailable.
type ShipmozoProvider struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	client     *http.Client
	maxRetries int
	logger     ShipmozoLogger
	sleep      func(context.Context, time.Duration) error
}

// NewShipmozoProvider constructs the adapter using the given configuration.
func NewShipmozoProvider(cfg ShipmozoConfig) (*ShipmozoProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	apiSecret := strings.TrimSpace(cfg.APISecret)
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("shipmozo: api key and secret are required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultShipmozoBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}

	return &ShipmozoProvider{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		client:     client,
		maxRetries: maxRetries,
		logger:     logger,
		sleep:      sleep,
	}, nil
}

type shipmozoShipmentResponse struct {
	Result  int    `json:"result"`
	Message string `json:"message"`
	Data    struct {
		AWB         string `json:"awb_number"`
		CourierName string `json:"courier_name"`
		TrackingURL string `json:"tracking_url"`
		LabelURL    string `json:"label_url"`
	} `json:"data"`
}

type shipmozoRateResponse struct {
	Result  int    `json:"result"`
	Message string `json:"message"`
	Data    []struct {
		CourierName   string  `json:"courier_name"`
		Total         float64 `json:"total_charges"`
		EstimatedDays int     `json:"estimated_delivery_days"`
	} `json:"data"`
}

// CreateShipment books a forward shipment and returns the assigned AWB.
func (p *ShipmozoProvider) CreateShipment(ctx context.Context, req ShipmentRequest) (Shipment, error) {
	if p == nil {
		return Shipment{}, errors.New("shipmozo: provider is nil")
	}
	if strings.TrimSpace(req.OrderNumber) == "" {
		return Shipment{}, errors.New("shipmozo: order number is required")
	}

	paymentMode := strings.ToUpper(strings.TrimSpace(req.PaymentMode))
	if paymentMode != PaymentModeCOD {
		paymentMode = PaymentModePrepaid
	}

	items := make([]map[string]any, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, map[string]any{
			"name":     item.Name,
			"sku":      item.SKU,
			"quantity": item.Quantity,
			"price":    item.Price,
		})
	}

	payload := map[string]any{
		"order_id":       req.OrderNumber,
		"payment_mode":   paymentMode,
		"declared_value": req.DeclaredValue,
		"weight":         req.WeightGrams,
		"consignee": map[string]any{
			"name":     req.Delivery.Name,
			"phone":    req.Delivery.Phone,
			"address":  strings.TrimSpace(req.Delivery.Line1 + " " + req.Delivery.Line2),
			"city":     req.Delivery.City,
			"state":    req.Delivery.State,
			"pin_code": req.Delivery.Postcode,
		},
		"products": items,
	}
	if paymentMode == PaymentModeCOD {
		payload["cod_amount"] = req.CODAmount
	}

	var body shipmozoShipmentResponse
	if err := p.do(ctx, http.MethodPost, "/push-order", payload, &body); err != nil {
		return Shipment{}, err
	}
	if body.Result != 1 || strings.TrimSpace(body.Data.AWB) == "" {
		return Shipment{}, &APIError{Provider: "shipmozo", StatusCode: http.StatusOK, Message: body.Message}
	}

	p.logger(ctx, "courier.shipmozo.shipment.created", map[string]any{
		"orderNumber": req.OrderNumber,
		"awb":         body.Data.AWB,
		"courier":     body.Data.CourierName,
	})

	return Shipment{
		AWB:         body.Data.AWB,
		CourierName: body.Data.CourierName,
		TrackingURL: body.Data.TrackingURL,
		LabelURL:    body.Data.LabelURL,
	}, nil
}

// CreateReversePickup books a return pickup for an approved return.
func (p *ShipmozoProvider) CreateReversePickup(ctx context.Context, req ReversePickupRequest) (Shipment, error) {
	if p == nil {
		return Shipment{}, errors.New("shipmozo: provider is nil")
	}
	if strings.TrimSpace(req.OrderNumber) == "" {
		return Shipment{}, errors.New("shipmozo: order number is required")
	}

	items := make([]map[string]any, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, map[string]any{
			"name":     item.Name,
			"sku":      item.SKU,
			"quantity": item.Quantity,
			"price":    item.Price,
		})
	}

	payload := map[string]any{
		"order_id":     req.OrderNumber,
		"original_awb": req.AWB,
		"reason":       req.Reason,
		"pickup": map[string]any{
			"name":     req.Pickup.Name,
			"phone":    req.Pickup.Phone,
			"address":  strings.TrimSpace(req.Pickup.Line1 + " " + req.Pickup.Line2),
			"city":     req.Pickup.City,
			"state":    req.Pickup.State,
			"pin_code": req.Pickup.Postcode,
		},
		"products": items,
	}

	var body shipmozoShipmentResponse
	if err := p.do(ctx, http.MethodPost, "/create-reverse-order", payload, &body); err != nil {
		return Shipment{}, err
	}
	if body.Result != 1 || strings.TrimSpace(body.Data.AWB) == "" {
		return Shipment{}, &APIError{Provider: "shipmozo", StatusCode: http.StatusOK, Message: body.Message}
	}

	p.logger(ctx, "courier.shipmozo.reverse_pickup.created", map[string]any{
		"orderNumber": req.OrderNumber,
		"awb":         body.Data.AWB,
	})

	return Shipment{
		AWB:         body.Data.AWB,
		CourierName: body.Data.CourierName,
		TrackingURL: body.Data.TrackingURL,
	}, nil
}

// Rates returns serviceable courier options for the lane.
func (p *ShipmozoProvider) Rates(ctx context.Context, req RateRequest) ([]RateQuote, error) {
	if p == nil {
		return nil, errors.New("shipmozo: provider is nil")
	}

	payload := map[string]any{
		"pickup_pincode":   req.PickupPostcode,
		"delivery_pincode": req.DeliveryPostcode,
		"weight":           req.WeightGrams,
		"payment_type":     PaymentModePrepaid,
	}
	if req.COD {
		payload["payment_type"] = PaymentModeCOD
	}

	var body shipmozoRateResponse
	if err := p.do(ctx, http.MethodPost, "/rate-calculator", payload, &body); err != nil {
		return nil, err
	}
	if body.Result != 1 {
		return nil, &APIError{Provider: "shipmozo", StatusCode: http.StatusOK, Message: body.Message}
	}

	quotes := make([]RateQuote, 0, len(body.Data))
	for _, entry := range body.Data {
		quotes = append(quotes, RateQuote{
			CourierName:   entry.CourierName,
			Amount:        int64(entry.Total * 100),
			EstimatedDays: entry.EstimatedDays,
		})
	}
	return quotes, nil
}

func (p *ShipmozoProvider) do(ctx context.Context, method, path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("shipmozo: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, time.Duration(attempt)*500*time.Millisecond); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("shipmozo: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("public-key", p.apiKey)
		req.Header.Set("private-key", p.apiSecret)

		resp, err := p.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		responseBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if retryableStatus(resp.StatusCode) {
			lastErr = &APIError{Provider: "shipmozo", StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			p.logger(ctx, "courier.shipmozo.retry", map[string]any{
				"status":  resp.StatusCode,
				"attempt": attempt + 1,
			})
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			message := http.StatusText(resp.StatusCode)
			var apiErr struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(responseBody, &apiErr) == nil && apiErr.Message != "" {
				message = apiErr.Message
			}
			return &APIError{Provider: "shipmozo", StatusCode: resp.StatusCode, Message: message}
		}

		if out != nil {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return fmt.Errorf("shipmozo: decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %s", ErrCourierUnavailable, lastErr.Error())
	}
	return ErrCourierUnavailable
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
