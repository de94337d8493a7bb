package services

import (
	"errors"
	"testing"
)

func TestComputeDeliveryCharge(t *testing.T) {
	free, err := ComputeDeliveryCharge("395003")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !free.IsFree || free.Charge != 0 {
		t.Fatalf("expected free delivery inside the zone, got %+v", free)
	}

	paid, err := ComputeDeliveryCharge("110001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paid.IsFree || paid.Charge == 0 {
		t.Fatalf("expected flat fee outside the zone, got %+v", paid)
	}
}

func TestComputeDeliveryChargeTrimsWhitespace(t *testing.T) {
	charge, err := ComputeDeliveryCharge(" 395003 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !charge.IsFree {
		t.Fatalf("expected padded zone code to price as free, got %+v", charge)
	}
}

func TestComputeDeliveryChargeRejectsMalformedCodes(t *testing.T) {
	for _, code := range []string{"", "1234", "12345678", "39500a"} {
		if _, err := ComputeDeliveryCharge(code); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", code, err)
		}
	}
}
