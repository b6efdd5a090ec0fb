package quote

import "time"

// Status is the lifecycle state of a quote. Terminal states are immutable.
type Status string

const (
	StatusActive    Status = "active"
	StatusUsed      Status = "used"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Quote is a frozen price snapshot. Once issued, its rate and cost never
// change even if the underlying tool's live rate does; a caller holding a
// valid quote is charged exactly the frozen cost.
type Quote struct {
	ID              string    `json:"id"`
	CallerID        string    `json:"caller_id"`
	CalleeID        string    `json:"callee_id"`
	ToolID          *string   `json:"tool_id,omitempty"`
	ToolName        string    `json:"tool_name"`
	EstimatedTokens int64     `json:"estimated_tokens"`
	RatePer1k       int64     `json:"rate_per_1k"`
	Cost            int64     `json:"cost"`
	Status          Status    `json:"status"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	// UsageRecordID links a used quote to the execution it priced.
	UsageRecordID *string `json:"usage_record_id,omitempty"`
}

// IssueInput holds the fields required to issue a quote.
type IssueInput struct {
	CallerID        string        `json:"-"`
	CalleeID        string        `json:"callee_id"`
	ToolName        string        `json:"tool_name"`
	EstimatedTokens int64         `json:"estimated_tokens"`
	Validity        time.Duration `json:"validity,omitempty"`
}
