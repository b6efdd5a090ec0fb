package reservation

import (
	"time"

	"github.com/agentrail/meterbank/internal/ledger"
)

// Status is the lifecycle state of a reservation. A reservation terminates
// exactly once: by capture, by release, or passively by expiry.
type Status string

const (
	StatusActive   Status = "active"
	StatusCaptured Status = "captured"
	StatusReleased Status = "released"
	StatusExpired  Status = "expired"
)

// Reservation is a hold against a caller's available balance for an
// estimated cost plus safety margin. Active holds reduce availability
// without moving any money; money moves only at capture.
type Reservation struct {
	ID              string  `json:"id"`
	CallerID        string  `json:"caller_id"`
	CalleeID        string  `json:"callee_id"`
	ToolID          *string `json:"tool_id,omitempty"`
	ToolName        string  `json:"tool_name"`
	EstimatedTokens int64   `json:"estimated_tokens"`
	EstimatedCost   int64   `json:"estimated_cost"`
	// ReservedAmount is the estimated cost scaled by the safety margin.
	ReservedAmount int64  `json:"reserved_amount"`
	Status         Status `json:"status"`

	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CapturedAt    *time.Time `json:"captured_at,omitempty"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	ReleaseReason *string    `json:"release_reason,omitempty"`
	UsageRecordID *string    `json:"usage_record_id,omitempty"`
}

// ReserveInput holds the fields required to place a hold.
type ReserveInput struct {
	CallerID        string        `json:"-"`
	CalleeID        string        `json:"callee_id"`
	ToolName        string        `json:"tool_name"`
	EstimatedTokens int64         `json:"estimated_tokens"`
	Timeout         time.Duration `json:"timeout,omitempty"`
}

// CaptureResult is the outcome of a successful capture: the terminal
// reservation, the usage record it produced, and the actual charge.
type CaptureResult struct {
	Reservation *Reservation        `json:"reservation"`
	UsageRecord *ledger.UsageRecord `json:"usage_record"`
	ActualCost  int64               `json:"actual_cost"`
	RatePer1k   int64               `json:"rate_per_1k"`
}
