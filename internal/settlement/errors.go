package settlement

import (
	"errors"
	"fmt"
)

// Lookup and state-conflict errors.
var (
	ErrNotFound = errors.New("settlement not found")
	// ErrInFlight is returned when the principal already has a pending
	// settlement; it must be reconciled before another payout starts.
	ErrInFlight = errors.New("a settlement for this principal is already in flight")
	// ErrNotPending is returned when a terminal settlement is finalized
	// again.
	ErrNotPending = errors.New("settlement is not pending")
)

// BelowMinimumError reports a pending balance under the payout floor.
type BelowMinimumError struct {
	Pending   int64
	MinPayout int64
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("pending balance %d is below the minimum payout of %d", e.Pending, e.MinPayout)
}

// ExternalPayError wraps a failure from the external payment rail. It is the
// one retryable category: the failed settlement left pending untouched, so a
// retry re-attempts the payout from unchanged local state.
type ExternalPayError struct {
	Err error
}

func (e *ExternalPayError) Error() string {
	return fmt.Sprintf("external payment rail: %v", e.Err)
}

func (e *ExternalPayError) Unwrap() error { return e.Err }
