package services

import (
	"fmt"
	"slices"
	"time"

	"github.com/aquapure/api/internal/domain"
)

// staffCancellableStatuses are the states from which seller/admin actors may
// cancel. Customers are limited to the stricter CanBeCancelled window.
var staffCancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
}

// authorizeOrderAccess rejects actors that are neither the owning customer
// nor staff.
func authorizeOrderAccess(order domain.Order, actor Actor) error {
	if actor.IsStaff() || actor.ID == order.UserID {
		return nil
	}
	return fmt.Errorf("%w: actor %s may not act on order %s", ErrForbidden, actor.ID, order.ID)
}

// checkOrderCancellation enforces the cancellation policy. Staff may cancel
// later-stage orders that customers cannot, but never once the parcel left
// the warehouse.
func checkOrderCancellation(order domain.Order, actor Actor) error {
	if err := authorizeOrderAccess(order, actor); err != nil {
		return err
	}

	if actor.IsStaff() {
		if !slices.Contains(staffCancellableStatuses, order.Status) {
			return fmt.Errorf("%w: order in status %q cannot be cancelled", ErrInvalidTransition, order.Status)
		}
		return nil
	}

	if !order.CanBeCancelled() {
		return fmt.Errorf("%w: customers may cancel only pending or confirmed orders, status is %q",
			ErrInvalidTransition, order.Status)
	}
	return nil
}

// checkReturnRequest enforces the return-window rule. Only the owning
// customer may open a return.
func checkReturnRequest(order domain.Order, actor Actor, now time.Time) error {
	if actor.ID != order.UserID {
		return fmt.Errorf("%w: only the order owner may request a return", ErrForbidden)
	}
	if order.Status != domain.OrderStatusDelivered {
		return fmt.Errorf("%w: returns require a delivered order, status is %q", ErrInvalidTransition, order.Status)
	}
	if order.Return.Requested {
		return fmt.Errorf("%w: a return was already requested", ErrInvalidTransition)
	}
	if !order.CanBeReturned(now) {
		return fmt.Errorf("%w: the %s return window has closed", ErrInvalidTransition, domain.ReturnWindow)
	}
	return nil
}

// requireStaff guards staff-only lifecycle actions.
func requireStaff(actor Actor) error {
	if !actor.IsStaff() {
		return fmt.Errorf("%w: seller or admin role required", ErrForbidden)
	}
	return nil
}

// requireReturnStatus checks the return sub-state before a staff decision.
func requireReturnStatus(order domain.Order, allowed ...domain.ReturnStatus) error {
	if slices.Contains(allowed, order.Return.Status) {
		return nil
	}
	return fmt.Errorf("%w: return status is %q, expected one of %v", ErrInvalidTransition, order.Return.Status, allowed)
}
