package services

import (
	"fmt"
	"strings"

	"github.com/aquapure/api/internal/domain"
)

// ComputeDeliveryCharge validates the destination postal code before pricing
// it. The fee table itself lives in the domain package.
func ComputeDeliveryCharge(postalCode string) (domain.DeliveryCharge, error) {
	code := strings.TrimSpace(postalCode)
	if len(code) != 6 {
		return domain.DeliveryCharge{}, fmt.Errorf("%w: postal code must be 6 digits, got %q", ErrValidation, postalCode)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return domain.DeliveryCharge{}, fmt.Errorf("%w: postal code must be numeric, got %q", ErrValidation, postalCode)
		}
	}
	return domain.ComputeDeliveryCharge(code), nil
}
