package registry

import "time"

// Tool is a priced resource owned by exactly one agent. Its RatePer1kTokens
// overrides the owner's default rate for calls to this tool.
type Tool struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	RatePer1kTokens int64     `json:"rate_per_1k_tokens"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateToolInput holds the fields required to register a new tool.
type CreateToolInput struct {
	OwnerID         string `json:"-"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	RatePer1kTokens int64  `json:"rate_per_1k_tokens"`
}

// UpdateToolInput holds the fields that can be updated on a tool. All fields
// are optional; only non-nil fields are applied.
type UpdateToolInput struct {
	Name            *string `json:"name"`
	Description     *string `json:"description"`
	RatePer1kTokens *int64  `json:"rate_per_1k_tokens"`
}

// RateSource identifies where a resolved rate came from.
type RateSource string

const (
	// RateSourceTool means a registered tool supplied the rate.
	RateSourceTool RateSource = "tool"
	// RateSourceDefault means the callee's default rate was used because
	// the tool is not registered.
	RateSourceDefault RateSource = "default"
)

// ResolvedRate is the outcome of a pricing lookup for (callee, tool name).
type ResolvedRate struct {
	RatePer1kTokens int64      `json:"rate_per_1k_tokens"`
	Source          RateSource `json:"source"`
	// ToolID is set only when Source is RateSourceTool.
	ToolID string `json:"tool_id,omitempty"`
}
