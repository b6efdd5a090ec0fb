// Package settlement drains a provider's pending earnings to an external
// payment rail, net of the platform fee. The ordering is the failure
// isolation device: a pending settlement row is committed before the
// external call, so a crash mid-payout is distinguishable from one that
// never started and can be reconciled against the rail by the recorded
// reference instead of blindly re-paying.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentrail/meterbank/internal/pricing"
)

const settlementColumns = `id, principal_id, gross_amount, fee_amount, net_amount,
	tx_ref, status, created_at, confirmed_at, failed_at, failure_reason`

// Store provides transactional database operations for settlements.
type Store struct {
	pool   *pgxpool.Pool
	params pricing.Params
}

// NewStore creates a settlement store.
func NewStore(pool *pgxpool.Pool, params pricing.Params) *Store {
	return &Store{pool: pool, params: params}
}

func scanSettlement(row pgx.Row) (*Settlement, error) {
	st := &Settlement{}
	err := row.Scan(&st.ID, &st.PrincipalID, &st.GrossAmount, &st.FeeAmount,
		&st.NetAmount, &st.TxRef, &st.Status, &st.CreatedAt,
		&st.ConfirmedAt, &st.FailedAt, &st.FailureReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CreatePending snapshots the principal's pending balance into a new pending
// settlement. The agent row is locked so the gross amount is read
// consistently, the payout floor is enforced, and only one settlement per
// principal can be in flight.
func (s *Store) CreatePending(ctx context.Context, principalID string) (*Settlement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning settlement tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var pending int64
	err = tx.QueryRow(ctx,
		`SELECT pending FROM agents WHERE id = $1 FOR UPDATE`,
		principalID).Scan(&pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("principal %s: %w", principalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("locking principal row: %w", err)
	}

	if pending < s.params.MinPayout {
		return nil, &BelowMinimumError{Pending: pending, MinPayout: s.params.MinPayout}
	}

	var inFlight bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM settlements WHERE principal_id = $1 AND status = 'pending')`,
		principalID).Scan(&inFlight); err != nil {
		return nil, fmt.Errorf("checking in-flight settlements: %w", err)
	}
	if inFlight {
		return nil, ErrInFlight
	}

	fee, net := s.params.FeeSplit(pending)
	st := &Settlement{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		GrossAmount: pending,
		FeeAmount:   fee,
		NetAmount:   net,
		Status:      StatusPending,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO settlements (id, principal_id, gross_amount, fee_amount, net_amount, status)
		 VALUES ($1, $2, $3, $4, $5, 'pending')
		 RETURNING created_at`,
		st.ID, st.PrincipalID, st.GrossAmount, st.FeeAmount, st.NetAmount,
	).Scan(&st.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting settlement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing settlement tx: %w", err)
	}
	return st, nil
}

// MarkFailed records an external-pay failure. The principal's pending
// balance is untouched, so the payout can be retried later.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) (*Settlement, error) {
	st, err := scanSettlement(s.pool.QueryRow(ctx,
		`UPDATE settlements
		 SET status = 'failed', failed_at = now(), failure_reason = $1
		 WHERE id = $2 AND status = 'pending'
		 RETURNING `+settlementColumns,
		reason, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotPending
		}
		return nil, fmt.Errorf("marking settlement failed: %w", err)
	}
	return st, nil
}

// Confirm finalizes a successful payout: it records the rail's transaction
// reference, flips the settlement to confirmed, deducts the settled gross
// from the principal's pending, and writes the platform fee record, all
// atomically.
func (s *Store) Confirm(ctx context.Context, id, txRef string) (*Settlement, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning confirm tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st, err := scanSettlement(tx.QueryRow(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("locking settlement: %w", err)
	}
	if st.Status != StatusPending {
		return nil, ErrNotPending
	}

	// Deduct the settled gross rather than zeroing: earnings that accrued
	// while the external call was in flight stay pending for the next run.
	tag, err := tx.Exec(ctx,
		`UPDATE agents SET pending = pending - $1 WHERE id = $2`,
		st.GrossAmount, st.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("clearing pending balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("principal %s: %w", st.PrincipalID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO platform_fees (id, settlement_id, amount) VALUES ($1, $2, $3)`,
		uuid.NewString(), st.ID, st.FeeAmount); err != nil {
		return nil, fmt.Errorf("recording platform fee: %w", err)
	}

	st2, err := scanSettlement(tx.QueryRow(ctx,
		`UPDATE settlements
		 SET status = 'confirmed', confirmed_at = now(), tx_ref = $1
		 WHERE id = $2
		 RETURNING `+settlementColumns,
		txRef, id))
	if err != nil {
		return nil, fmt.Errorf("confirming settlement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing confirm tx: %w", err)
	}
	return st2, nil
}

// GetByID retrieves a settlement by its primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Settlement, error) {
	st, err := scanSettlement(s.pool.QueryRow(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting settlement: %w", err)
	}
	return st, nil
}

// ListByPrincipal returns the principal's settlements, newest first.
func (s *Store) ListByPrincipal(ctx context.Context, principalID string) ([]*Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+settlementColumns+` FROM settlements
		 WHERE principal_id = $1 ORDER BY created_at DESC`,
		principalID)
	if err != nil {
		return nil, fmt.Errorf("listing settlements: %w", err)
	}
	defer rows.Close()

	var out []*Settlement
	for rows.Next() {
		st, serr := scanSettlement(rows)
		if serr != nil {
			return nil, fmt.Errorf("scanning settlement row: %w", serr)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settlement rows: %w", err)
	}
	return out, nil
}
