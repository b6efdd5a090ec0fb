package quote

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentrail/meterbank/internal/pricing"
	"github.com/agentrail/meterbank/internal/registry"
)

// RateResolver looks up the live rate for a (callee, tool name) pair.
type RateResolver interface {
	ResolveRate(ctx context.Context, calleeID, toolName string) (*registry.ResolvedRate, error)
}

// Repository is the persistence surface the service needs. It exists so the
// service can be tested without a real database.
type Repository interface {
	Insert(ctx context.Context, q *Quote) error
	GetByID(ctx context.Context, id string) (*Quote, error)
	Cancel(ctx context.Context, id string) (*Quote, error)
	MarkExpired(ctx context.Context, id string) error
	ListActiveByCaller(ctx context.Context, callerID string) ([]*Quote, error)
}

// Service issues and validates price-frozen quotes.
type Service struct {
	repo   Repository
	rates  RateResolver
	params pricing.Params
}

// NewService creates a quote service.
func NewService(repo Repository, rates RateResolver, params pricing.Params) *Service {
	return &Service{repo: repo, rates: rates, params: params}
}

// Issue snapshots the live rate for (callee, tool) into a new active quote.
// The validity window is clamped into the configured bounds and the frozen
// cost is computed with the same deterministic formula executions use.
func (s *Service) Issue(ctx context.Context, in IssueInput) (*Quote, error) {
	if err := s.params.CheckTokenLimit(in.EstimatedTokens); err != nil {
		return nil, err
	}

	rate, err := s.rates.ResolveRate(ctx, in.CalleeID, in.ToolName)
	if err != nil {
		return nil, fmt.Errorf("resolving rate for quote: %w", err)
	}

	cost, err := s.params.Cost(in.EstimatedTokens, rate.RatePer1kTokens)
	if err != nil {
		return nil, err
	}

	validity := s.params.ClampQuoteValidity(in.Validity)
	now := time.Now().UTC()

	q := &Quote{
		ID:              uuid.NewString(),
		CallerID:        in.CallerID,
		CalleeID:        in.CalleeID,
		ToolName:        in.ToolName,
		EstimatedTokens: in.EstimatedTokens,
		RatePer1k:       rate.RatePer1kTokens,
		Cost:            cost,
		Status:          StatusActive,
		IssuedAt:        now,
		ExpiresAt:       now.Add(validity),
	}
	if rate.ToolID != "" {
		q.ToolID = &rate.ToolID
	}

	if err := s.repo.Insert(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

// Validate checks a quote against the execution about to consume it, in
// order: existence, expiry (with a grace period absorbing request latency),
// terminal state, identity match, and token overrun. A quote found expired is
// flipped to expired as a side effect; the flip is best-effort because the
// inline check is already authoritative.
func (s *Service) Validate(ctx context.Context, id, callerID, calleeID, toolName string, actualTokens int64) (*Quote, error) {
	q, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if time.Now().After(q.ExpiresAt.Add(s.params.QuoteGrace)) {
		if q.Status == StatusActive {
			_ = s.repo.MarkExpired(ctx, id)
		}
		return nil, ErrExpired
	}

	switch q.Status {
	case StatusActive:
	case StatusUsed:
		return nil, ErrAlreadyUsed
	case StatusExpired:
		return nil, ErrExpired
	default:
		return nil, ErrNotActive
	}

	if q.CallerID != callerID {
		return nil, &IdentityMismatchError{Field: "caller", Want: q.CallerID, Got: callerID}
	}
	if q.CalleeID != calleeID {
		return nil, &IdentityMismatchError{Field: "callee", Want: q.CalleeID, Got: calleeID}
	}
	if q.ToolName != toolName {
		return nil, &IdentityMismatchError{Field: "tool", Want: q.ToolName, Got: toolName}
	}

	if actualTokens < 0 {
		return nil, pricing.ErrNegativeTokens
	}
	if actualTokens > q.EstimatedTokens {
		return nil, &TokenOverrunError{Actual: actualTokens, Estimated: q.EstimatedTokens}
	}

	return q, nil
}

// Get retrieves a quote by id.
func (s *Service) Get(ctx context.Context, id string) (*Quote, error) {
	return s.repo.GetByID(ctx, id)
}

// Cancel transitions an active quote to cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*Quote, error) {
	return s.repo.Cancel(ctx, id)
}

// ListActive returns the caller's active quotes.
func (s *Service) ListActive(ctx context.Context, callerID string) ([]*Quote, error) {
	return s.repo.ListActiveByCaller(ctx, callerID)
}
