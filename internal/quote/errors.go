package quote

import (
	"errors"
	"fmt"
)

// Lookup and state-conflict errors.
var (
	ErrNotFound = errors.New("quote not found")
	// ErrExpired is returned when a quote is past its expiry (plus grace).
	ErrExpired = errors.New("quote has expired")
	// ErrAlreadyUsed is returned when a quote was already consumed.
	ErrAlreadyUsed = errors.New("quote has already been used")
	// ErrNotActive is returned for cancelled or otherwise terminal quotes.
	ErrNotActive = errors.New("quote is not active")
)

// IdentityMismatchError reports a quote presented with a caller, callee, or
// tool other than the one it was issued for.
type IdentityMismatchError struct {
	Field string
	Want  string
	Got   string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("quote %s mismatch: issued for %q, presented with %q", e.Field, e.Want, e.Got)
}

// TokenOverrunError reports actual consumption above the estimate the quote
// priced. A quote honors its frozen price only up to the estimated tokens.
type TokenOverrunError struct {
	Actual    int64
	Estimated int64
}

func (e *TokenOverrunError) Error() string {
	return fmt.Sprintf("actual tokens %d exceed the quoted estimate of %d", e.Actual, e.Estimated)
}
