// Package reservation implements the pre-authorization pattern: a hold is
// placed against a caller's available balance before work runs, then either
// captured at the actual cost or released. Capture and release serialize on
// a row lock over the reservation, so each hold terminates exactly once even
// when both paths race.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentrail/meterbank/internal/ledger"
	"github.com/agentrail/meterbank/internal/pricing"
)

const reservationColumns = `id, caller_id, callee_id, tool_id, tool_name,
	estimated_tokens, estimated_cost, reserved_amount, status,
	created_at, expires_at, captured_at, released_at, release_reason, usage_record_id`

// Store provides transactional database operations for reservations.
type Store struct {
	pool   *pgxpool.Pool
	params pricing.Params
}

// NewStore creates a reservation store. Capture re-prices from live rates,
// so the store carries the pricing params.
func NewStore(pool *pgxpool.Pool, params pricing.Params) *Store {
	return &Store{pool: pool, params: params}
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	r := &Reservation{}
	err := row.Scan(&r.ID, &r.CallerID, &r.CalleeID, &r.ToolID, &r.ToolName,
		&r.EstimatedTokens, &r.EstimatedCost, &r.ReservedAmount, &r.Status,
		&r.CreatedAt, &r.ExpiresAt, &r.CapturedAt, &r.ReleasedAt,
		&r.ReleaseReason, &r.UsageRecordID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Reserve inserts an active reservation after checking, under the caller's
// row lock, that the hold fits within balance minus the caller's other
// active, unexpired holds.
func (s *Store) Reserve(ctx context.Context, r *Reservation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning reserve tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT balance FROM agents WHERE id = $1 FOR UPDATE`,
		r.CallerID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrPrincipalNotFound
	}
	if err != nil {
		return fmt.Errorf("locking caller row: %w", err)
	}

	var calleeExists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents WHERE id = $1)`,
		r.CalleeID).Scan(&calleeExists); err != nil {
		return fmt.Errorf("checking callee: %w", err)
	}
	if !calleeExists {
		return ErrCalleeNotFound
	}

	reserved, err := s.activeHold(ctx, tx, r.CallerID, "")
	if err != nil {
		return err
	}

	available := balance - reserved
	if available < r.ReservedAmount {
		return &ledger.InsufficientBalanceError{
			Need:      r.ReservedAmount,
			Balance:   balance,
			Reserved:  reserved,
			Available: available,
		}
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO reservations (id, caller_id, callee_id, tool_id, tool_name,
		                           estimated_tokens, estimated_cost, reserved_amount, status, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'active', $9)
		 RETURNING created_at`,
		r.ID, r.CallerID, r.CalleeID, r.ToolID, r.ToolName,
		r.EstimatedTokens, r.EstimatedCost, r.ReservedAmount, r.ExpiresAt,
	).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing reserve tx: %w", err)
	}
	r.Status = StatusActive
	return nil
}

// Capture finalizes a reservation at the actual cost: it locks the
// reservation row, re-prices from the live tool rate, debits the caller,
// credits the callee's pending, appends the usage record, and marks the
// reservation captured, all in one transaction. An expired reservation is
// flipped to expired and the capture fails with ErrExpired.
func (s *Store) Capture(ctx context.Context, id string, actualTokens int64) (*CaptureResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning capture tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := scanReservation(tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("locking reservation: %w", err)
	}

	if r.Status != StatusActive {
		return nil, ErrNotActive
	}

	if time.Now().After(r.ExpiresAt) {
		if _, err := tx.Exec(ctx,
			`UPDATE reservations SET status = 'expired' WHERE id = $1`, id); err != nil {
			return nil, fmt.Errorf("expiring reservation: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("committing expiry: %w", err)
		}
		return nil, ErrExpired
	}

	rate, toolID, err := s.resolveRate(ctx, tx, r.CalleeID, r.ToolName)
	if err != nil {
		return nil, err
	}
	actualCost, err := s.params.Cost(actualTokens, rate)
	if err != nil {
		return nil, err
	}

	balance, err := lockBalances(ctx, tx, r.CallerID, r.CalleeID)
	if err != nil {
		return nil, err
	}

	otherHolds, err := s.activeHold(ctx, tx, r.CallerID, r.ID)
	if err != nil {
		return nil, err
	}

	// The hold guarantees funds up to ReservedAmount; anything beyond must
	// come out of balance not claimed by any hold.
	if actualCost > r.ReservedAmount {
		unreserved := balance - otherHolds - r.ReservedAmount
		if extra := actualCost - r.ReservedAmount; unreserved < extra {
			return nil, &ledger.InsufficientBalanceError{
				Need:      extra,
				Balance:   balance,
				Reserved:  otherHolds + r.ReservedAmount,
				Available: unreserved,
			}
		}
	}
	if balance < actualCost {
		return nil, &ledger.InsufficientBalanceError{
			Need:      actualCost,
			Balance:   balance,
			Reserved:  otherHolds + r.ReservedAmount,
			Available: balance,
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE agents SET balance = balance - $1 WHERE id = $2`,
		actualCost, r.CallerID); err != nil {
		return nil, fmt.Errorf("debiting caller: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE agents SET pending = pending + $1 WHERE id = $2`,
		actualCost, r.CalleeID); err != nil {
		return nil, fmt.Errorf("crediting callee: %w", err)
	}

	rec := &ledger.UsageRecord{
		ID:        uuid.NewString(),
		CallerID:  r.CallerID,
		CalleeID:  r.CalleeID,
		ToolID:    toolID,
		ToolName:  r.ToolName,
		Tokens:    actualTokens,
		RatePer1k: rate,
		Cost:      actualCost,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO usage_records (id, caller_id, callee_id, tool_id, tool_name, tokens, rate_per_1k, cost)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		rec.ID, rec.CallerID, rec.CalleeID, rec.ToolID, rec.ToolName,
		rec.Tokens, rec.RatePer1k, rec.Cost,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting usage record: %w", err)
	}

	r2, err := scanReservation(tx.QueryRow(ctx,
		`UPDATE reservations
		 SET status = 'captured', captured_at = now(), usage_record_id = $1
		 WHERE id = $2
		 RETURNING `+reservationColumns,
		rec.ID, id))
	if err != nil {
		return nil, fmt.Errorf("marking reservation captured: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing capture tx: %w", err)
	}

	return &CaptureResult{
		Reservation: r2,
		UsageRecord: rec,
		ActualCost:  actualCost,
		RatePer1k:   rate,
	}, nil
}

// Release marks an active reservation released with no balance movement: the
// hold simply stops counting against availability. Releasing a reservation
// that already terminated is a no-op, not an error.
func (s *Store) Release(ctx context.Context, id, reason string) (*Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning release tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	r, err := scanReservation(tx.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("locking reservation: %w", err)
	}

	if r.Status != StatusActive {
		return r, nil
	}

	var reasonArg *string
	if reason != "" {
		reasonArg = &reason
	}
	r2, err := scanReservation(tx.QueryRow(ctx,
		`UPDATE reservations
		 SET status = 'released', released_at = now(), release_reason = $1
		 WHERE id = $2
		 RETURNING `+reservationColumns,
		reasonArg, id))
	if err != nil {
		return nil, fmt.Errorf("marking reservation released: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing release tx: %w", err)
	}
	return r2, nil
}

// GetByID retrieves a reservation by its primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Reservation, error) {
	r, err := scanReservation(s.pool.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting reservation: %w", err)
	}
	return r, nil
}

// ActiveHold sums the caller's active, unexpired holds.
func (s *Store) ActiveHold(ctx context.Context, callerID string) (int64, error) {
	var reserved int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(reserved_amount), 0) FROM reservations
		 WHERE caller_id = $1 AND status = 'active' AND expires_at > now()`,
		callerID).Scan(&reserved)
	if err != nil {
		return 0, fmt.Errorf("summing active holds: %w", err)
	}
	return reserved, nil
}

// ExpireStale flips every active reservation past its expiry to expired and
// returns the number flipped.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reservations SET status = 'expired'
		 WHERE status = 'active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expiring stale reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// activeHold sums active, unexpired holds for a caller inside a transaction,
// optionally excluding one reservation.
func (s *Store) activeHold(ctx context.Context, tx pgx.Tx, callerID, excludeID string) (int64, error) {
	var reserved int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(reserved_amount), 0) FROM reservations
		 WHERE caller_id = $1 AND status = 'active' AND expires_at > now() AND id != $2`,
		callerID, excludeID).Scan(&reserved)
	if err != nil {
		return 0, fmt.Errorf("summing active holds: %w", err)
	}
	return reserved, nil
}

// resolveRate returns the live rate for (calleeID, toolName) within the
// capture transaction: the registered tool's rate, or the callee's default.
func (s *Store) resolveRate(ctx context.Context, tx pgx.Tx, calleeID, toolName string) (int64, *string, error) {
	var rate int64
	var toolID string
	err := tx.QueryRow(ctx,
		`SELECT rate_per_1k_tokens, id FROM tools WHERE owner_id = $1 AND name = $2`,
		calleeID, toolName).Scan(&rate, &toolID)
	if err == nil {
		return rate, &toolID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, fmt.Errorf("resolving tool rate: %w", err)
	}

	err = tx.QueryRow(ctx,
		`SELECT default_rate_per_1k FROM agents WHERE id = $1`, calleeID).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, ErrCalleeNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("resolving default rate: %w", err)
	}
	return rate, nil, nil
}

// lockBalances takes FOR UPDATE locks on the caller and callee rows in
// sorted id order and returns the caller's balance.
func lockBalances(ctx context.Context, tx pgx.Tx, callerID, calleeID string) (int64, error) {
	ids := []string{callerID}
	if calleeID != callerID {
		ids = append(ids, calleeID)
	}
	sort.Strings(ids)

	rows, err := tx.Query(ctx,
		`SELECT id, balance FROM agents WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		ids)
	if err != nil {
		return 0, fmt.Errorf("locking agent rows: %w", err)
	}
	defer rows.Close()

	var callerBalance int64
	found := 0
	for rows.Next() {
		var rowID string
		var balance int64
		if err := rows.Scan(&rowID, &balance); err != nil {
			return 0, fmt.Errorf("scanning locked agent row: %w", err)
		}
		found++
		if rowID == callerID {
			callerBalance = balance
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating locked agent rows: %w", err)
	}
	if found != len(ids) {
		return 0, ledger.ErrPrincipalNotFound
	}
	return callerBalance, nil
}
