package ledger

import "time"

// UsageRecord is one append-only ledger entry: what was called, at what rate,
// and what it cost. Records are immutable once written; nothing in the engine
// updates or deletes them.
type UsageRecord struct {
	ID        string    `json:"id"`
	CallerID  string    `json:"caller_id"`
	CalleeID  string    `json:"callee_id"`
	ToolID    *string   `json:"tool_id,omitempty"`
	ToolName  string    `json:"tool_name"`
	Tokens    int64     `json:"tokens"`
	RatePer1k int64     `json:"rate_per_1k"`
	Cost      int64     `json:"cost"`
	QuoteID   *string   `json:"quote_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecuteInput describes one priced call about to be committed: the money
// movement and the usage record it produces share a transaction.
type ExecuteInput struct {
	CallerID  string
	CalleeID  string
	ToolID    *string
	ToolName  string
	Tokens    int64
	RatePer1k int64
	Cost      int64
}

// UsageSummary holds aggregate metrics for a set of usage records.
type UsageSummary struct {
	TotalCalls  int64 `json:"total_calls"`
	TotalCost   int64 `json:"total_cost"`
	TotalTokens int64 `json:"total_tokens"`
}

// UsageQuery defines filters and pagination for querying usage records.
type UsageQuery struct {
	CallerID string    `json:"caller_id,omitempty"`
	CalleeID string    `json:"callee_id,omitempty"`
	ToolName string    `json:"tool_name,omitempty"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Cursor   string    `json:"cursor,omitempty"`
	Limit    int       `json:"limit"`
}
