package courier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aquapure/api/internal/domain"
)

// Payment modes accepted by courier partners.
const (
	PaymentModePrepaid = "PREPAID"
	PaymentModeCOD     = "COD"
)

// Sentinel errors surfaced by courier adapters.
var (
	ErrCourierUnavailable = errors.New("courier: service unavailable")
	ErrShipmentNotFound   = errors.New("courier: shipment not found")
)

// APIError captures a rejection returned by the courier partner API.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("courier: %s rejected request (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// Address identifies a pickup or delivery location.
type Address struct {
	Name     string
	Phone    string
	Line1    string
	Line2    string
	City     string
	State    string
	Postcode string
}

// ShipmentItem describes a single parcel line.
type ShipmentItem struct {
	Name     string
	SKU      string
	Quantity int
	Price    int64
}

// ShipmentRequest captures the payload to book a forward shipment.
type ShipmentRequest struct {
	OrderID       string
	OrderNumber   string
	PaymentMode   string
	CODAmount     int64
	DeclaredValue int64
	WeightGrams   int
	Delivery      Address
	Items         []ShipmentItem
}

// ReversePickupRequest captures the payload to book a return pickup.
type ReversePickupRequest struct {
	OrderID     string
	OrderNumber string
	AWB         string
	Reason      string
	Pickup      Address
	Items       []ShipmentItem
}

// Shipment represents a booked consignment.
type Shipment struct {
	AWB         string
	CourierName string
	TrackingURL string
	LabelURL    string
}

// RateRequest asks for serviceability and pricing between two postcodes.
type RateRequest struct {
	PickupPostcode   string
	DeliveryPostcode string
	WeightGrams      int
	COD              bool
}

// RateQuote describes one courier option for a lane.
type RateQuote struct {
	CourierName   string
	Amount        int64
	EstimatedDays int
}

// Provider defines the contract courier adapters implement.
type Provider interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (Shipment, error)
	CreateReversePickup(ctx context.Context, req ReversePickupRequest) (Shipment, error)
	Rates(ctx context.Context, req RateRequest) ([]RateQuote, error)
}

// NormalizeStatus maps a courier-reported status string onto the order status
// it implies. The second return value is false for events that do not move the
// order lifecycle (manifest scans, hub transfers and similar).
func NormalizeStatus(status string) (domain.OrderStatus, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(status))
	normalized = strings.ReplaceAll(normalized, "-", " ")
	normalized = strings.ReplaceAll(normalized, "_", " ")

	switch normalized {
	case "PICKED UP", "PICKUP COMPLETE", "IN TRANSIT", "SHIPPED":
		return domain.OrderStatusShipped, true
	case "OUT FOR DELIVERY":
		return domain.OrderStatusOutForDelivery, true
	case "DELIVERED":
		return domain.OrderStatusDelivered, true
	default:
		return "", false
	}
}
