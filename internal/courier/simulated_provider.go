package courier

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// SimulatedProvider fulfils the Provider contract without calling a partner
// API. Used when courier credentials are absent (local development) and as a
// deterministic stand-in for tests.
type SimulatedProvider struct {
	mu        sync.Mutex
	shipments map[string]ShipmentRequest
}

// NewSimulatedProvider constructs the in-memory courier.
func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{shipments: make(map[string]ShipmentRequest)}
}

// CreateShipment assigns a synthetic AWB.
func (p *SimulatedProvider) CreateShipment(_ context.Context, req ShipmentRequest) (Shipment, error) {
	if strings.TrimSpace(req.OrderNumber) == "" {
		return Shipment{}, errors.New("simulated courier: order number is required")
	}

	awb := "SIMAWB" + ulid.Make().String()

	p.mu.Lock()
	p.shipments[awb] = req
	p.mu.Unlock()

	return Shipment{
		AWB:         awb,
		CourierName: "Simulated Express",
		TrackingURL: "https://track.local/" + awb,
	}, nil
}

// CreateReversePickup assigns a synthetic reverse AWB.
func (p *SimulatedProvider) CreateReversePickup(_ context.Context, req ReversePickupRequest) (Shipment, error) {
	if strings.TrimSpace(req.OrderNumber) == "" {
		return Shipment{}, errors.New("simulated courier: order number is required")
	}

	awb := "SIMRVP" + ulid.Make().String()
	return Shipment{
		AWB:         awb,
		CourierName: "Simulated Express",
		TrackingURL: "https://track.local/" + awb,
	}, nil
}

// Rates returns a single flat quote for any serviceable lane.
func (p *SimulatedProvider) Rates(_ context.Context, req RateRequest) ([]RateQuote, error) {
	if strings.TrimSpace(req.DeliveryPostcode) == "" {
		return nil, errors.New("simulated courier: delivery postcode is required")
	}
	return []RateQuote{
		{CourierName: "Simulated Express", Amount: 9900, EstimatedDays: 3},
	}, nil
}
