package reservation

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
	Reserve(ctx context.Context, r *Reservation) error
	Capture(ctx context.Context, id string, actualTokens int64) (*CaptureResult, error)
	Release(ctx context.Context, id, reason string) (*Reservation, error)
	GetByID(ctx context.Context, id string) (*Reservation, error)
	ActiveHold(ctx context.Context, callerID string) (int64, error)
}

// WorkFn is the unit of work executed under a pre-authorization. It returns
// the actual tokens consumed.
type WorkFn func(ctx context.Context) (int64, error)

// Service orchestrates the reserve/capture/release lifecycle.
type Service struct {
	repo   Repository
	rates  RateResolver
	params pricing.Params
}

// NewService creates a reservation service.
func NewService(repo Repository, rates RateResolver, params pricing.Params) *Service {
	return &Service{repo: repo, rates: rates, params: params}
}

// Reserve places a hold for the estimated cost scaled by the safety margin.
// The timeout is clamped into the configured bounds.
func (s *Service) Reserve(ctx context.Context, in ReserveInput) (*Reservation, error) {
	if err := s.params.CheckTokenLimit(in.EstimatedTokens); err != nil {
		return nil, err
	}

	rate, err := s.rates.ResolveRate(ctx, in.CalleeID, in.ToolName)
	if err != nil {
		return nil, fmt.Errorf("resolving rate for reservation: %w", err)
	}

	estimatedCost, err := s.params.Cost(in.EstimatedTokens, rate.RatePer1kTokens)
	if err != nil {
		return nil, err
	}

	timeout := s.params.ClampReservationTimeout(in.Timeout)

	r := &Reservation{
		ID:              uuid.NewString(),
		CallerID:        in.CallerID,
		CalleeID:        in.CalleeID,
		ToolName:        in.ToolName,
		EstimatedTokens: in.EstimatedTokens,
		EstimatedCost:   estimatedCost,
		ReservedAmount:  s.params.Hold(estimatedCost),
		ExpiresAt:       time.Now().UTC().Add(timeout),
	}
	if rate.ToolID != "" {
		r.ToolID = &rate.ToolID
	}

	if err := s.repo.Reserve(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Capture finalizes a reservation at the actual token count.
func (s *Service) Capture(ctx context.Context, id string, actualTokens int64) (*CaptureResult, error) {
	if err := s.params.CheckTokenLimit(actualTokens); err != nil {
		return nil, err
	}
	return s.repo.Capture(ctx, id, actualTokens)
}

// Release returns an active reservation's hold. Idempotent.
func (s *Service) Release(ctx context.Context, id, reason string) (*Reservation, error) {
	return s.repo.Release(ctx, id, reason)
}

// Get retrieves a reservation by id.
func (s *Service) Get(ctx context.Context, id string) (*Reservation, error) {
	return s.repo.GetByID(ctx, id)
}

// ActiveHold returns the caller's total active hold.
func (s *Service) ActiveHold(ctx context.Context, callerID string) (int64, error) {
	return s.repo.ActiveHold(ctx, callerID)
}

// ExecuteWithPreAuth runs work under a financial guarantee: reserve first,
// capture the actual cost if the work succeeds, release the hold if it
// fails. The work error propagates to the caller either way.
func (s *Service) ExecuteWithPreAuth(ctx context.Context, in ReserveInput, work WorkFn) (*CaptureResult, error) {
	r, err := s.Reserve(ctx, in)
	if err != nil {
		return nil, err
	}

	actualTokens, workErr := work(ctx)
	if workErr != nil {
		if _, relErr := s.Release(ctx, r.ID, fmt.Sprintf("work failed: %v", workErr)); relErr != nil {
			return nil, fmt.Errorf("releasing after work failure (%v): %w", workErr, relErr)
		}
		return nil, fmt.Errorf("executing reserved work: %w", workErr)
	}

	return s.Capture(ctx, r.ID, actualTokens)
}
