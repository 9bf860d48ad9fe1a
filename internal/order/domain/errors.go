package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest covers malformed order requests, rejected before
	// any remote call.
	ErrInvalidRequest = errors.New("invalid order request")

	// ErrCustomerNotFound means the customer service has no record for
	// the requested id. Terminal, nothing to compensate.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrInsufficientStock and ErrUnknownProduct are terminal reservation
	// failures; the reservation call is all-or-nothing so nothing was held.
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnknownProduct    = errors.New("unknown product")

	ErrPaymentRejected    = errors.New("payment rejected")
	ErrPaymentUnreachable = errors.New("payment provider unreachable")

	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderCancelled is returned for a duplicate request whose original
	// saga already ended in CANCELLED.
	ErrOrderCancelled = errors.New("order cancelled")

	// ErrReferenceInFlight means another request with the same reference is
	// currently being processed and no result exists yet to return.
	ErrReferenceInFlight = errors.New("order reference is being processed")

	// ErrTerminalState is returned by the store when an update targets an
	// order already in CONFIRMED or CANCELLED.
	ErrTerminalState = errors.New("order is in a terminal state")
)

// CompensationError reports that a committed side effect could not be rolled
// back after Cause failed the saga. It is never silently dropped: it carries
// both errors and matches either one under errors.Is.
type CompensationError struct {
	// Cause is the failure that triggered compensation.
	Cause error
	// Compensation is the error from the compensating action itself.
	Compensation error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed (%v) after: %v", e.Compensation, e.Cause)
}

func (e *CompensationError) Unwrap() []error {
	return []error{e.Cause, e.Compensation}
}
