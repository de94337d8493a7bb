package services

import (
	"errors"
	"fmt"

	"github.com/aquapure/api/internal/repositories"
)

// Shared error taxonomy surfaced by lifecycle services. Handlers translate
// these sentinels into HTTP status codes; wrap with fmt.Errorf("%w: ...") to
// attach context.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("services: not found")
	// ErrForbidden indicates the actor lacks ownership or the required role.
	ErrForbidden = errors.New("services: forbidden")
	// ErrInvalidTransition indicates the requested state change is not legal
	// from the entity's current state for this actor.
	ErrInvalidTransition = errors.New("services: invalid transition")
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("services: validation failed")
	// ErrStaleState indicates an optimistic concurrency conflict; the caller
	// should re-read and retry.
	ErrStaleState = errors.New("services: stale state")
	// ErrGatewayRejected indicates the payment gateway rejected the request
	// outright (signature mismatch, declined refund). No state was mutated.
	ErrGatewayRejected = errors.New("services: gateway rejected")
	// ErrExternalServiceDegraded indicates an external collaborator failed or
	// timed out and the operation fell back to a degraded mode.
	ErrExternalServiceDegraded = errors.New("services: external service degraded")
)

// mapRepositoryError converts categorised persistence failures into the
// shared sentinels. Version-check conflicts become ErrStaleState so callers
// know a retry after re-read is appropriate.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrStaleState, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrExternalServiceDegraded, err)
		}
	}

	return err
}
