package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const quoteColumns = `id, caller_id, callee_id, tool_id, tool_name, estimated_tokens,
	rate_per_1k, cost, status, issued_at, expires_at, usage_record_id`

// Store provides database operations for quotes. The used transition is not
// here: consumption happens inside the ledger's execute transaction so it is
// atomic with the usage record it backs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new quote store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanQuote(row pgx.Row) (*Quote, error) {
	q := &Quote{}
	err := row.Scan(&q.ID, &q.CallerID, &q.CalleeID, &q.ToolID, &q.ToolName,
		&q.EstimatedTokens, &q.RatePer1k, &q.Cost, &q.Status,
		&q.IssuedAt, &q.ExpiresAt, &q.UsageRecordID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Insert persists a freshly issued quote.
func (s *Store) Insert(ctx context.Context, q *Quote) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO quotes (id, caller_id, callee_id, tool_id, tool_name,
		                     estimated_tokens, rate_per_1k, cost, status, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING issued_at`,
		q.ID, q.CallerID, q.CalleeID, q.ToolID, q.ToolName,
		q.EstimatedTokens, q.RatePer1k, q.Cost, q.Status, q.IssuedAt, q.ExpiresAt,
	).Scan(&q.IssuedAt)
	if err != nil {
		return fmt.Errorf("inserting quote: %w", err)
	}
	return nil
}

// GetByID retrieves a quote by its primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Quote, error) {
	q, err := scanQuote(s.pool.QueryRow(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting quote: %w", err)
	}
	return q, nil
}

// Cancel transitions an active quote to cancelled. Terminal quotes produce a
// state-conflict error naming the state they are in.
func (s *Store) Cancel(ctx context.Context, id string) (*Quote, error) {
	q, err := scanQuote(s.pool.QueryRow(ctx,
		`UPDATE quotes SET status = 'cancelled'
		 WHERE id = $1 AND status = 'active'
		 RETURNING `+quoteColumns, id))
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("cancelling quote: %w", err)
	}

	// No active row: distinguish unknown id from a terminal state.
	existing, gerr := s.GetByID(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	switch existing.Status {
	case StatusUsed:
		return nil, ErrAlreadyUsed
	case StatusExpired:
		return nil, ErrExpired
	default:
		return nil, ErrNotActive
	}
}

// MarkExpired flips an active quote to expired. It is a no-op for quotes in
// any other state, so racing with consumption is safe.
func (s *Store) MarkExpired(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE quotes SET status = 'expired' WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return fmt.Errorf("marking quote expired: %w", err)
	}
	return nil
}

// ListActiveByCaller returns the caller's active, unexpired quotes ordered by
// expiry.
func (s *Store) ListActiveByCaller(ctx context.Context, callerID string) ([]*Quote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+quoteColumns+` FROM quotes
		 WHERE caller_id = $1 AND status = 'active' AND expires_at > now()
		 ORDER BY expires_at`,
		callerID)
	if err != nil {
		return nil, fmt.Errorf("listing active quotes: %w", err)
	}
	defer rows.Close()

	var quotes []*Quote
	for rows.Next() {
		q, serr := scanQuote(rows)
		if serr != nil {
			return nil, fmt.Errorf("scanning quote row: %w", serr)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating quote rows: %w", err)
	}
	return quotes, nil
}

// ExpireStale flips every active quote past its expiry to expired and returns
// the number flipped. The sweeper calls this; validation checks expiry inline
// regardless, so correctness does not depend on it running.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quotes SET status = 'expired'
		 WHERE status = 'active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expiring stale quotes: %w", err)
	}
	return tag.RowsAffected(), nil
}
