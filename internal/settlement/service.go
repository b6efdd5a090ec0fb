package settlement

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// PayFunc is the injected external-pay capability: move netAmount to the
// recipient and return the rail's transaction reference. Signing and
// broadcasting live entirely behind this boundary.
type PayFunc func(ctx context.Context, recipientID string, netAmount int64) (string, error)

// Repository is the persistence surface the service needs. It exists so the
// service can be tested without a real database.
type Repository interface {
	CreatePending(ctx context.Context, principalID string) (*Settlement, error)
	MarkFailed(ctx context.Context, id, reason string) (*Settlement, error)
	Confirm(ctx context.Context, id, txRef string) (*Settlement, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]*Settlement, error)
}

// Service runs settlement attempts against an injected payment rail.
type Service struct {
	repo Repository
	pay  PayFunc
}

// NewService creates a settlement service bound to a payment rail.
func NewService(repo Repository, pay PayFunc) *Service {
	return &Service{repo: repo, pay: pay}
}

// Settle pays out the principal's pending balance. The pending settlement
// row commits before the external call; a rail failure marks it failed and
// leaves the balance untouched for retry, a success finalizes atomically.
func (s *Service) Settle(ctx context.Context, principalID string) (*Settlement, error) {
	st, err := s.repo.CreatePending(ctx, principalID)
	if err != nil {
		return nil, err
	}

	txRef, payErr := s.pay(ctx, principalID, st.NetAmount)
	if payErr != nil {
		failed, markErr := s.repo.MarkFailed(ctx, st.ID, payErr.Error())
		if markErr != nil {
			// The row stays pending; reconciliation against the rail
			// will resolve it.
			slog.Error("failed to mark settlement failed",
				"settlement_id", st.ID, "pay_error", payErr, "error", markErr)
			return nil, &ExternalPayError{Err: payErr}
		}
		_ = failed
		return nil, &ExternalPayError{Err: payErr}
	}

	return s.repo.Confirm(ctx, st.ID, txRef)
}

// List returns the principal's settlement history.
func (s *Service) List(ctx context.Context, principalID string) ([]*Settlement, error) {
	return s.repo.ListByPrincipal(ctx, principalID)
}

// NewLoggingRail returns a PayFunc for local development: it performs no
// transfer, just logs the payout and fabricates a reference.
func NewLoggingRail() PayFunc {
	return func(_ context.Context, recipientID string, netAmount int64) (string, error) {
		ref := "devnet-" + uuid.NewString()
		slog.Info("devnet payout", "recipient", recipientID, "net", netAmount, "tx_ref", ref)
		return ref, nil
	}
}
