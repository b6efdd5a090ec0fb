package agent

import "time"

// Agent is a principal in the metering engine: it spends from Balance as a
// caller and accrues Pending as a provider. All amounts are lamports.
type Agent struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	APIKeyHash   string `json:"-"`
	APIKeyPrefix string `json:"api_key_prefix"`

	// Balance is spendable funds; Pending is earned-but-unsettled. The
	// schema enforces both >= 0 as a last-resort backstop.
	Balance int64 `json:"balance"`
	Pending int64 `json:"pending"`

	// DefaultRatePer1k prices calls to tools this agent owns that carry no
	// tool-specific rate, in lamports per 1,000 tokens.
	DefaultRatePer1k int64 `json:"default_rate_per_1k"`

	// Guardrail configuration. A nil limit means the limit is not set; a
	// nil AllowedCallees means any callee is permitted.
	MaxCostPerCall *int64   `json:"max_cost_per_call"`
	DailySpendCap  *int64   `json:"daily_spend_cap"`
	Paused         bool     `json:"paused"`
	AllowedCallees []string `json:"allowed_callees"`

	CreatedAt time.Time `json:"created_at"`
}

// CreateAgentInput holds the fields required to register a new agent.
type CreateAgentInput struct {
	Name             string `json:"name"`
	APIKeyHash       string `json:"-"`
	APIKeyPrefix     string `json:"-"`
	InitialBalance   int64  `json:"initial_balance"`
	DefaultRatePer1k int64  `json:"default_rate_per_1k"`
}

// GuardrailUpdate describes a partial update to an agent's guardrail
// configuration. For the nullable limits a nil pointer leaves the field as
// is and the matching Clear flag removes the limit entirely.
type GuardrailUpdate struct {
	MaxCostPerCall      *int64 `json:"max_cost_per_call,omitempty"`
	ClearMaxCostPerCall bool   `json:"clear_max_cost_per_call,omitempty"`

	DailySpendCap      *int64 `json:"daily_spend_cap,omitempty"`
	ClearDailySpendCap bool   `json:"clear_daily_spend_cap,omitempty"`

	AllowedCallees      []string `json:"allowed_callees,omitempty"`
	ClearAllowedCallees bool     `json:"clear_allowed_callees,omitempty"`

	DefaultRatePer1k *int64 `json:"default_rate_per_1k,omitempty"`
}

// AgentListParams controls cursor-based pagination for listing agents.
type AgentListParams struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}
