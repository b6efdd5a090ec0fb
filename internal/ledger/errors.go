package ledger

import (
	"errors"
	"fmt"
)

// Lookup and state-conflict errors.
var (
	// ErrPrincipalNotFound is returned when a caller or callee row does not
	// exist at commit time.
	ErrPrincipalNotFound = errors.New("principal not found")

	// ErrQuoteConsumed is returned when the quote backing an execution is no
	// longer active at commit time (already used, cancelled, or expired by
	// the sweeper). The whole execution rolls back.
	ErrQuoteConsumed = errors.New("quote is no longer active")
)

// InsufficientBalanceError reports a spend that the caller's balance cannot
// cover. It carries every number the caller needs to correct the request.
type InsufficientBalanceError struct {
	// Need is the amount the operation required.
	Need int64
	// Balance is the caller's total balance at the time of the check.
	Balance int64
	// Reserved is the total held by the caller's active reservations.
	Reserved int64
	// Available is Balance minus Reserved when the check was against
	// available funds, or equal to Balance for direct spends.
	Available int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: need %d, have %d available of %d total, %d reserved",
		e.Need, e.Available, e.Balance, e.Reserved)
}
