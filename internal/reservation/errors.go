package reservation

import "errors"

// Lookup and state-conflict errors.
var (
	ErrNotFound = errors.New("reservation not found")
	// ErrNotActive is returned when capture targets a reservation that has
	// already terminated.
	ErrNotActive = errors.New("reservation is not active")
	// ErrExpired is returned when capture finds the reservation past its
	// expiry; the reservation is flipped to expired as part of the failure.
	ErrExpired = errors.New("reservation has expired")
	// ErrCalleeNotFound is returned when the reservation's callee does not
	// exist.
	ErrCalleeNotFound = errors.New("callee not found")
)
