// Package engine is the execution orchestrator: it ties pricing, guardrail
// admission, and the ledger's atomic mutation together for a single tool
// call, and serves the read-only preview and budget-status views with the
// same code paths enforcement uses.
package engine

import (
	"context"
	"fmt"

	"github.com/agentrail/meterbank/internal/agent"
	"github.com/agentrail/meterbank/internal/guardrail"
	"github.com/agentrail/meterbank/internal/ledger"
	"github.com/agentrail/meterbank/internal/pricing"
	"github.com/agentrail/meterbank/internal/quote"
	"github.com/agentrail/meterbank/internal/registry"
)

// PrincipalReader looks up agents.
type PrincipalReader interface {
	GetByID(ctx context.Context, id string) (*agent.Agent, error)
}

// RateResolver looks up the live rate for a (callee, tool name) pair.
type RateResolver interface {
	ResolveRate(ctx context.Context, calleeID, toolName string) (*registry.ResolvedRate, error)
}

// GuardrailChecker runs admission control and reports spend history.
type GuardrailChecker interface {
	Check(ctx context.Context, caller *agent.Agent, calleeID string, cost int64) ([]guardrail.Violation, error)
	DailySpend(ctx context.Context, callerID string) (int64, error)
}

// Executor performs the atomic ledger mutation for one call.
type Executor interface {
	ExecuteDirect(ctx context.Context, in ledger.ExecuteInput) (*ledger.UsageRecord, error)
	ExecuteWithQuote(ctx context.Context, in ledger.ExecuteInput, quoteID string) (*ledger.UsageRecord, error)
}

// QuoteValidator checks a quote against the execution about to consume it.
type QuoteValidator interface {
	Validate(ctx context.Context, id, callerID, calleeID, toolName string, actualTokens int64) (*quote.Quote, error)
}

// HoldReader reports a caller's total active reservation hold.
type HoldReader interface {
	ActiveHold(ctx context.Context, callerID string) (int64, error)
}

// Service orchestrates direct and quote-backed executions.
type Service struct {
	principals PrincipalReader
	rates      RateResolver
	guardrails GuardrailChecker
	ledger     Executor
	quotes     QuoteValidator
	holds      HoldReader
	params     pricing.Params
}

// NewService creates an execution orchestrator.
func NewService(principals PrincipalReader, rates RateResolver, guardrails GuardrailChecker,
	ledgerStore Executor, quotes QuoteValidator, holds HoldReader, params pricing.Params) *Service {
	return &Service{
		principals: principals,
		rates:      rates,
		guardrails: guardrails,
		ledger:     ledgerStore,
		quotes:     quotes,
		holds:      holds,
		params:     params,
	}
}

// ExecuteResult is the outcome of a successful execution.
type ExecuteResult struct {
	Cost          int64               `json:"cost"`
	RatePer1k     int64               `json:"rate_per_1k"`
	RateSource    registry.RateSource `json:"rate_source"`
	UsageRecordID string              `json:"usage_record_id"`
}

// BudgetStatus is the caller-facing view of an agent's spending position.
type BudgetStatus struct {
	Balance        int64    `json:"balance"`
	Pending        int64    `json:"pending"`
	Reserved       int64    `json:"reserved"`
	Available      int64    `json:"available"`
	DailySpend     int64    `json:"daily_spend"`
	MaxCostPerCall *int64   `json:"max_cost_per_call"`
	DailySpendCap  *int64   `json:"daily_spend_cap"`
	Paused         bool     `json:"paused"`
	AllowedCallees []string `json:"allowed_callees"`
	Warnings       []string `json:"warnings"`
}

// Preview is a dry-run of an execution: the price it would carry and every
// reason it would be blocked, with no mutation anywhere.
type Preview struct {
	Cost       int64                 `json:"cost"`
	RatePer1k  int64                 `json:"rate_per_1k"`
	RateSource registry.RateSource   `json:"rate_source"`
	Blocks     int64                 `json:"blocks"`
	Violations []guardrail.Violation `json:"violations"`
	Budget     BudgetStatus          `json:"budget"`
	Warnings   []string              `json:"warnings"`
	CanExecute bool                  `json:"can_execute"`
}

// ExecuteDirect performs an immediate execution with no quote or
// reservation: price, admit, then debit + credit + usage record atomically.
func (s *Service) ExecuteDirect(ctx context.Context, callerID, calleeID, toolName string, tokens int64) (*ExecuteResult, error) {
	if err := s.params.CheckTokenLimit(tokens); err != nil {
		return nil, err
	}

	caller, err := s.principals.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}

	rate, err := s.rates.ResolveRate(ctx, calleeID, toolName)
	if err != nil {
		return nil, err
	}

	cost, err := s.params.Cost(tokens, rate.RatePer1kTokens)
	if err != nil {
		return nil, err
	}

	violations, err := s.guardrails.Check(ctx, caller, calleeID, cost)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, &guardrail.ViolationError{Violations: violations}
	}

	in := ledger.ExecuteInput{
		CallerID:  callerID,
		CalleeID:  calleeID,
		ToolName:  toolName,
		Tokens:    tokens,
		RatePer1k: rate.RatePer1kTokens,
		Cost:      cost,
	}
	if rate.ToolID != "" {
		toolID := rate.ToolID
		in.ToolID = &toolID
	}

	rec, err := s.ledger.ExecuteDirect(ctx, in)
	if err != nil {
		return nil, err
	}

	return &ExecuteResult{
		Cost:          cost,
		RatePer1k:     rate.RatePer1kTokens,
		RateSource:    rate.Source,
		UsageRecordID: rec.ID,
	}, nil
}

// ExecuteWithQuote performs an execution priced by a previously issued
// quote. The caller is charged exactly the frozen cost, regardless of what
// the live rate has become, and the quote flips to used atomically with the
// usage record.
func (s *Service) ExecuteWithQuote(ctx context.Context, quoteID, callerID, calleeID, toolName string, actualTokens int64) (*ExecuteResult, error) {
	q, err := s.quotes.Validate(ctx, quoteID, callerID, calleeID, toolName, actualTokens)
	if err != nil {
		return nil, err
	}

	caller, err := s.principals.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}

	violations, err := s.guardrails.Check(ctx, caller, calleeID, q.Cost)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, &guardrail.ViolationError{Violations: violations}
	}

	rec, err := s.ledger.ExecuteWithQuote(ctx, ledger.ExecuteInput{
		CallerID:  callerID,
		CalleeID:  calleeID,
		ToolID:    q.ToolID,
		ToolName:  toolName,
		Tokens:    actualTokens,
		RatePer1k: q.RatePer1k,
		Cost:      q.Cost,
	}, quoteID)
	if err != nil {
		return nil, err
	}

	source := registry.RateSourceDefault
	if q.ToolID != nil {
		source = registry.RateSourceTool
	}
	return &ExecuteResult{
		Cost:          q.Cost,
		RatePer1k:     q.RatePer1k,
		RateSource:    source,
		UsageRecordID: rec.ID,
	}, nil
}

// Preview prices a prospective call and evaluates admission without
// mutating anything. It runs the same guardrail evaluation enforcement
// does, so a clean preview and a rejected execution cannot disagree about
// the rules.
func (s *Service) Preview(ctx context.Context, callerID, calleeID, toolName string, tokens int64) (*Preview, error) {
	if err := s.params.CheckTokenLimit(tokens); err != nil {
		return nil, err
	}

	caller, err := s.principals.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}

	rate, err := s.rates.ResolveRate(ctx, calleeID, toolName)
	if err != nil {
		return nil, err
	}

	cost, err := s.params.Cost(tokens, rate.RatePer1kTokens)
	if err != nil {
		return nil, err
	}

	violations, err := s.guardrails.Check(ctx, caller, calleeID, cost)
	if err != nil {
		return nil, err
	}

	budget, err := s.budgetStatus(ctx, caller)
	if err != nil {
		return nil, err
	}

	blocks := tokens / 1000
	if tokens%1000 != 0 || tokens == 0 {
		blocks++
	}

	p := &Preview{
		Cost:       cost,
		RatePer1k:  rate.RatePer1kTokens,
		RateSource: rate.Source,
		Blocks:     blocks,
		Violations: violations,
		Budget:     *budget,
		CanExecute: len(violations) == 0,
	}
	if caller.Balance < cost {
		p.CanExecute = false
		p.Warnings = append(p.Warnings, fmt.Sprintf(
			"balance %d cannot cover cost %d", caller.Balance, cost))
	}
	return p, nil
}

// BudgetStatus reports the agent's balance, limits, and trailing spend.
func (s *Service) BudgetStatus(ctx context.Context, principalID string) (*BudgetStatus, error) {
	caller, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return s.budgetStatus(ctx, caller)
}

func (s *Service) budgetStatus(ctx context.Context, a *agent.Agent) (*BudgetStatus, error) {
	reserved, err := s.holds.ActiveHold(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	dailySpend, err := s.guardrails.DailySpend(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	b := &BudgetStatus{
		Balance:        a.Balance,
		Pending:        a.Pending,
		Reserved:       reserved,
		Available:      a.Balance - reserved,
		DailySpend:     dailySpend,
		MaxCostPerCall: a.MaxCostPerCall,
		DailySpendCap:  a.DailySpendCap,
		Paused:         a.Paused,
		AllowedCallees: a.AllowedCallees,
	}
	if a.Paused {
		b.Warnings = append(b.Warnings, "agent is paused")
	}
	if a.DailySpendCap != nil && dailySpend >= *a.DailySpendCap {
		b.Warnings = append(b.Warnings, fmt.Sprintf(
			"daily spend %d has reached the cap of %d", dailySpend, *a.DailySpendCap))
	}
	return b, nil
}
