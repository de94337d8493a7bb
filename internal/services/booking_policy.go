package services

import (
	"fmt"

	"github.com/aquapure/api/internal/domain"
)

// bookingCancellationFee is deducted from the advance, never from the full
// service cost, whenever a paid booking is cancelled.
const bookingCancellationFee = 100

// bookingStatusRank orders the forward lifecycle so staff updates can skip
// intermediate states but never move a booking backwards. Cancellation is a
// separate action and is absent here on purpose.
var bookingStatusRank = map[domain.BookingStatus]int{
	domain.BookingStatusPending:    0,
	domain.BookingStatusConfirmed:  1,
	domain.BookingStatusAssigned:   2,
	domain.BookingStatusInProgress: 3,
	domain.BookingStatusCompleted:  4,
}

// authorizeBookingAccess rejects actors that are neither the owning customer
// nor staff.
func authorizeBookingAccess(booking domain.ServiceBooking, actor Actor) error {
	if actor.IsStaff() || actor.ID == booking.UserID {
		return nil
	}
	return fmt.Errorf("%w: actor %s may not act on booking %s", ErrForbidden, actor.ID, booking.ID)
}

// checkBookingCancellation permits cancellation by the owner or staff from
// any non-terminal state.
func checkBookingCancellation(booking domain.ServiceBooking, actor Actor) error {
	if err := authorizeBookingAccess(booking, actor); err != nil {
		return err
	}
	if booking.IsTerminal() {
		return fmt.Errorf("%w: booking in status %q cannot be cancelled", ErrInvalidTransition, booking.Status)
	}
	return nil
}

// checkBookingStatusMove validates a staff-driven forward move.
func checkBookingStatusMove(current, target domain.BookingStatus) error {
	currentRank, ok := bookingStatusRank[current]
	if !ok {
		return fmt.Errorf("%w: booking in status %q accepts no further updates", ErrInvalidTransition, current)
	}
	targetRank, ok := bookingStatusRank[target]
	if !ok {
		return fmt.Errorf("%w: %q is not a valid target status", ErrInvalidTransition, target)
	}
	if targetRank <= currentRank {
		return fmt.Errorf("%w: cannot move booking from %q to %q", ErrInvalidTransition, current, target)
	}
	return nil
}

// calculateBookingRefund applies the fixed cancellation fee to the paid
// advance. The fee is unconditional: it does not depend on how far into the
// lifecycle the cancellation happens.
func calculateBookingRefund(advancePaid int64, reason string) domain.BookingRefund {
	refunded := advancePaid - bookingCancellationFee
	if refunded < 0 {
		refunded = 0
	}
	return domain.BookingRefund{
		Amount:         advancePaid,
		DeductedAmount: bookingCancellationFee,
		RefundedAmount: refunded,
		Reason:         reason,
		Status:         domain.BookingRefundPending,
	}
}
