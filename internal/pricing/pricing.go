// Package pricing implements the deterministic cost model for metered tool
// calls. Every function here is pure and integer-only: the same inputs always
// produce the same lamport amounts, which is what makes a quote or a usage
// record an auditable receipt.
package pricing

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors returned by the cost functions.
var (
	ErrNegativeTokens = errors.New("tokens must be >= 0")
	ErrNegativeRate   = errors.New("rate must be >= 0")
)

// TokensExceedLimitError reports a token count above the configured per-call
// maximum.
type TokensExceedLimitError struct {
	Tokens int64
	Limit  int64
}

func (e *TokensExceedLimitError) Error() string {
	return fmt.Sprintf("tokens %d exceed the per-call maximum of %d", e.Tokens, e.Limit)
}

// Params holds the pricing constants for the engine. It is built once at
// startup from config and passed by value into every component; nothing
// mutates it afterwards.
type Params struct {
	// MinCost is the floor charged for any call, in lamports.
	MinCost int64
	// MaxTokensPerCall is the largest token count a single call may claim.
	MaxTokensPerCall int64
	// FeeBps is the platform fee in basis points of the settled gross.
	FeeBps int64
	// MinPayout is the smallest pending balance that may be settled.
	MinPayout int64
	// MarginBps is the reservation safety margin in basis points; 11000
	// holds 1.1x the estimated cost.
	MarginBps int64

	QuoteValidityMin     time.Duration
	QuoteValidityDefault time.Duration
	QuoteValidityMax     time.Duration
	// QuoteGrace absorbs request latency when checking quote expiry.
	QuoteGrace time.Duration

	ReservationTimeoutDefault time.Duration
	ReservationTimeoutMax     time.Duration
}

// DefaultParams returns the stock pricing constants.
func DefaultParams() Params {
	return Params{
		MinCost:                   1,
		MaxTokensPerCall:          1_000_000,
		FeeBps:                    500,
		MinPayout:                 1_000,
		MarginBps:                 11_000,
		QuoteValidityMin:          30 * time.Second,
		QuoteValidityDefault:      5 * time.Minute,
		QuoteValidityMax:          time.Hour,
		QuoteGrace:                5 * time.Second,
		ReservationTimeoutDefault: 5 * time.Minute,
		ReservationTimeoutMax:     30 * time.Minute,
	}
}

// Cost computes the charge for a call: ceil(tokens/1000) blocks at ratePer1k
// lamports each, floored at MinCost. Zero tokens still price at MinCost so no
// call is ever free.
func (p Params) Cost(tokens, ratePer1k int64) (int64, error) {
	if tokens < 0 {
		return 0, ErrNegativeTokens
	}
	if ratePer1k < 0 {
		return 0, ErrNegativeRate
	}

	blocks := tokens / 1000
	if tokens%1000 != 0 || tokens == 0 {
		blocks++
	}

	cost := blocks * ratePer1k
	if cost < p.MinCost {
		cost = p.MinCost
	}
	return cost, nil
}

// CheckTokenLimit rejects token counts above MaxTokensPerCall. The cost
// formula itself does not enforce the limit; callers apply it at admission.
func (p Params) CheckTokenLimit(tokens int64) error {
	if tokens > p.MaxTokensPerCall {
		return &TokensExceedLimitError{Tokens: tokens, Limit: p.MaxTokensPerCall}
	}
	return nil
}

// FeeSplit divides a settled gross into platform fee and net payout. The fee
// is floored by integer division, so fee + net == gross always holds.
func (p Params) FeeSplit(gross int64) (fee, net int64) {
	fee = gross * p.FeeBps / 10_000
	return fee, gross - fee
}

// Hold returns the reserved amount for an estimated cost: the cost scaled by
// the safety margin, rounded up so the hold never undershoots the margin.
func (p Params) Hold(estimatedCost int64) int64 {
	return (estimatedCost*p.MarginBps + 9_999) / 10_000
}

// ClampQuoteValidity bounds a requested quote validity into the configured
// window; zero means the default.
func (p Params) ClampQuoteValidity(v time.Duration) time.Duration {
	if v == 0 {
		v = p.QuoteValidityDefault
	}
	if v < p.QuoteValidityMin {
		v = p.QuoteValidityMin
	}
	if v > p.QuoteValidityMax {
		v = p.QuoteValidityMax
	}
	return v
}

// ClampReservationTimeout bounds a requested reservation timeout; zero means
// the default.
func (p Params) ClampReservationTimeout(v time.Duration) time.Duration {
	if v == 0 {
		v = p.ReservationTimeoutDefault
	}
	if v < 0 {
		v = p.ReservationTimeoutDefault
	}
	if v > p.ReservationTimeoutMax {
		v = p.ReservationTimeoutMax
	}
	return v
}
