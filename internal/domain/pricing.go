package domain

import "math"

// Service visit pricing is a three-tier table over the distance between the
// customer address and the warehouse. Half of the cost is collected upfront
// as the advance; the remainder is due after the visit.
const (
	serviceCostNear = 300
	serviceCostMid  = 400
	serviceCostFar  = 500

	serviceTierNearKm = 10
	serviceTierMidKm  = 20
)

// TaxRate is the flat GST rate applied to order item totals.
const TaxRate = 0.18

// FlatDeliveryCharge applies to destinations outside the free delivery zone.
const FlatDeliveryCharge = 99

// ServiceQuote is the derived pricing for a service booking. It is always
// recomputed server-side; client-supplied amounts are never trusted.
type ServiceQuote struct {
	ServiceCost     int64
	AdvanceAmount   int64
	RemainingAmount int64
}

// ComputeServiceCost derives the visit price from the distance in km.
// Negative distances are clamped to zero. AdvanceAmount+RemainingAmount is
// always exactly ServiceCost.
func ComputeServiceCost(distanceKm float64) ServiceQuote {
	if distanceKm < 0 {
		distanceKm = 0
	}

	var cost int64
	switch {
	case distanceKm <= serviceTierNearKm:
		cost = serviceCostNear
	case distanceKm <= serviceTierMidKm:
		cost = serviceCostMid
	default:
		cost = serviceCostFar
	}

	advance := int64(math.Round(float64(cost) / 2))
	return ServiceQuote{
		ServiceCost:     cost,
		AdvanceAmount:   advance,
		RemainingAmount: cost - advance,
	}
}

// DeliveryCharge is the result of the flat-fee shipping lookup.
type DeliveryCharge struct {
	Charge int64
	IsFree bool
}

// Postal codes served by the warehouse's own delivery fleet.
var freeDeliveryZones = map[string]struct{}{
	"395001": {},
	"395002": {},
	"395003": {},
	"395004": {},
	"395005": {},
	"395006": {},
	"395007": {},
	"395009": {},
	"395010": {},
	"395017": {},
}

// ComputeDeliveryCharge resolves the shipping fee for a destination postal
// code: free inside the delivery zone, a flat fee everywhere else.
func ComputeDeliveryCharge(postalCode string) DeliveryCharge {
	if _, ok := freeDeliveryZones[postalCode]; ok {
		return DeliveryCharge{Charge: 0, IsFree: true}
	}
	return DeliveryCharge{Charge: FlatDeliveryCharge, IsFree: false}
}

// ComputeTax returns the flat-rate tax on an item subtotal.
func ComputeTax(itemsPrice int64) int64 {
	return int64(math.Round(float64(itemsPrice) * TaxRate))
}
