// Package guardrail implements admission control for spends: the kill
// switch, the per-call ceiling, the rolling daily cap, and the callee
// allowlist. Every check runs even after the first failure so a caller sees
// all of the reasons a call was blocked at once, and the same evaluation
// serves both dry-run previews and enforcement.
package guardrail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentrail/meterbank/internal/agent"
)

// SpendWindow is the trailing period the daily cap is evaluated over.
const SpendWindow = 24 * time.Hour

// Rule names a guardrail check.
type Rule string

const (
	RulePaused         Rule = "paused"
	RuleMaxCostPerCall Rule = "max_cost_per_call"
	RuleDailySpendCap  Rule = "daily_spend_cap"
	RuleAllowedCallees Rule = "allowed_callees"
)

// Violation is one failed guardrail check with the concrete numbers involved.
type Violation struct {
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
}

// ViolationError wraps the full set of violated rules for a blocked call.
type ViolationError struct {
	Violations []Violation
}

func (e *ViolationError) Error() string {
	rules := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		rules[i] = string(v.Rule)
	}
	return "guardrail violation: " + strings.Join(rules, ", ")
}

// SpendReader reports a caller's total charged cost from `since` onward. It
// is satisfied by the ledger store.
type SpendReader interface {
	CallerSpendSince(ctx context.Context, callerID string, since time.Time) (int64, error)
}

// Engine evaluates guardrail checks against live spend data.
type Engine struct {
	spend SpendReader
}

// NewEngine creates a guardrail engine reading spend history from the given
// source.
func NewEngine(spend SpendReader) *Engine {
	return &Engine{spend: spend}
}

// Check evaluates all guardrails for a prospective call and returns every
// violated rule. An empty slice means the call is admitted. The daily spend
// query is skipped when no cap is set.
func (e *Engine) Check(ctx context.Context, caller *agent.Agent, calleeID string, cost int64) ([]Violation, error) {
	var dailySpend int64
	if caller.DailySpendCap != nil {
		var err error
		dailySpend, err = e.spend.CallerSpendSince(ctx, caller.ID, time.Now().Add(-SpendWindow))
		if err != nil {
			return nil, fmt.Errorf("reading daily spend: %w", err)
		}
	}
	return Evaluate(caller, calleeID, cost, dailySpend), nil
}

// DailySpend returns the caller's charged total over the trailing window.
func (e *Engine) DailySpend(ctx context.Context, callerID string) (int64, error) {
	return e.spend.CallerSpendSince(ctx, callerID, time.Now().Add(-SpendWindow))
}

// Evaluate is the pure core of the engine: given the caller's configuration,
// the target callee, the prospective cost, and the spend already charged in
// the trailing window, it returns every violated rule.
func Evaluate(caller *agent.Agent, calleeID string, cost, dailySpend int64) []Violation {
	var violations []Violation

	if caller.Paused {
		violations = append(violations, Violation{
			Rule:    RulePaused,
			Message: "agent is paused; no spending is permitted",
		})
	}

	if caller.MaxCostPerCall != nil && cost > *caller.MaxCostPerCall {
		violations = append(violations, Violation{
			Rule: RuleMaxCostPerCall,
			Message: fmt.Sprintf("cost %d exceeds the per-call ceiling of %d",
				cost, *caller.MaxCostPerCall),
		})
	}

	if caller.DailySpendCap != nil && dailySpend+cost > *caller.DailySpendCap {
		violations = append(violations, Violation{
			Rule: RuleDailySpendCap,
			Message: fmt.Sprintf("cost %d plus %d already spent in the trailing 24h exceeds the daily cap of %d",
				cost, dailySpend, *caller.DailySpendCap),
		})
	}

	if caller.AllowedCallees != nil && !contains(caller.AllowedCallees, calleeID) {
		violations = append(violations, Violation{
			Rule:    RuleAllowedCallees,
			Message: fmt.Sprintf("callee %s is not on the allowlist", calleeID),
		})
	}

	return violations
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
