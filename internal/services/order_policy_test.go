package services

import (
	"errors"
	"testing"
	"time"

	"github.com/aquapure/api/internal/domain"
)

func policyOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:     "ord_1",
		UserID: "user-1",
		Status: status,
	}
}

func TestCheckOrderCancellationCustomer(t *testing.T) {
	customer := Actor{ID: "user-1", Role: ActorRoleCustomer}

	for _, status := range []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed} {
		if err := checkOrderCancellation(policyOrder(status), customer); err != nil {
			t.Fatalf("status %s: expected customer cancel allowed, got %v", status, err)
		}
	}

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	} {
		if err := checkOrderCancellation(policyOrder(status), customer); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("status %s: expected invalid transition, got %v", status, err)
		}
	}
}

func TestCheckOrderCancellationStaff(t *testing.T) {
	seller := Actor{ID: "staff-1", Role: ActorRoleSeller}

	if err := checkOrderCancellation(policyOrder(domain.OrderStatusProcessing), seller); err != nil {
		t.Fatalf("staff should cancel processing orders: %v", err)
	}

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusShipped,
		domain.OrderStatusOutForDelivery,
		domain.OrderStatusDelivered,
	} {
		if err := checkOrderCancellation(policyOrder(status), seller); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("status %s: expected invalid transition for staff, got %v", status, err)
		}
	}
}

func TestCheckOrderCancellationRejectsStrangers(t *testing.T) {
	stranger := Actor{ID: "someone-else", Role: ActorRoleCustomer}
	if err := checkOrderCancellation(policyOrder(domain.OrderStatusPending), stranger); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCheckReturnRequestWindowBoundary(t *testing.T) {
	deliveredAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := policyOrder(domain.OrderStatusDelivered)
	order.DeliveredAt = &deliveredAt
	owner := Actor{ID: "user-1", Role: ActorRoleCustomer}

	atBoundary := deliveredAt.Add(domain.ReturnWindow)
	if err := checkReturnRequest(order, owner, atBoundary); err != nil {
		t.Fatalf("expected return allowed at exactly the window boundary: %v", err)
	}

	pastBoundary := atBoundary.Add(time.Second)
	if err := checkReturnRequest(order, owner, pastBoundary); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected window closed past the boundary, got %v", err)
	}
}

func TestCheckReturnRequestRejectsDuplicates(t *testing.T) {
	deliveredAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := policyOrder(domain.OrderStatusDelivered)
	order.DeliveredAt = &deliveredAt
	order.Return.Requested = true

	owner := Actor{ID: "user-1", Role: ActorRoleCustomer}
	if err := checkReturnRequest(order, owner, deliveredAt.Add(time.Hour)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected duplicate request rejected, got %v", err)
	}
}

func TestCheckReturnRequestOwnerOnly(t *testing.T) {
	deliveredAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := policyOrder(domain.OrderStatusDelivered)
	order.DeliveredAt = &deliveredAt

	staff := Actor{ID: "staff-1", Role: ActorRoleAdmin}
	if err := checkReturnRequest(order, staff, deliveredAt.Add(time.Hour)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected only the owner to request returns, got %v", err)
	}
}
