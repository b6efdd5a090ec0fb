package settlement

import "time"

// Status is the lifecycle state of a settlement attempt.
type Status string

const (
	// StatusPending means the external payment call is (or was) in flight.
	// A crash leaves this state behind for reconciliation against the rail.
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Settlement is one attempt to pay out a principal's pending balance, net of
// the platform fee.
type Settlement struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	GrossAmount int64  `json:"gross_amount"`
	FeeAmount   int64  `json:"fee_amount"`
	NetAmount   int64  `json:"net_amount"`
	// TxRef is the external rail's transaction reference, set on confirm.
	TxRef  *string `json:"tx_ref,omitempty"`
	Status Status  `json:"status"`

	CreatedAt     time.Time  `json:"created_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	FailureReason *string    `json:"failure_reason,omitempty"`
}
