// Package ledger owns the authoritative money state: agent balances, pending
// earnings, and the append-only usage log. Every mutation runs inside a
// single database transaction with row locks taken before any balance check,
// so a debit, its matching credit, and the usage record commit together or
// not at all.
package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, caller_id, callee_id, tool_id, tool_name, tokens,
	rate_per_1k, cost, quote_id, created_at`

// Store provides transactional balance mutation and usage-record queries.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new ledger store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ExecuteDirect debits the caller, credits the callee's pending, and appends
// the usage record as one atomic unit. The caller row is locked before the
// sufficiency check, so concurrent debits against one agent serialize and the
// balance can never go negative.
func (s *Store) ExecuteDirect(ctx context.Context, in ExecuteInput) (*UsageRecord, error) {
	return s.execute(ctx, in, nil)
}

// ExecuteWithQuote is ExecuteDirect plus single-use quote consumption: the
// quote flips to used in the same transaction as the usage record it backs.
// If the quote is no longer active the whole execution rolls back with
// ErrQuoteConsumed.
func (s *Store) ExecuteWithQuote(ctx context.Context, in ExecuteInput, quoteID string) (*UsageRecord, error) {
	return s.execute(ctx, in, &quoteID)
}

func (s *Store) execute(ctx context.Context, in ExecuteInput, quoteID *string) (*UsageRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning execute tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	balance, err := lockBalances(ctx, tx, in.CallerID, in.CalleeID)
	if err != nil {
		return nil, err
	}

	if balance < in.Cost {
		reserved, rerr := activeHold(ctx, tx, in.CallerID)
		if rerr != nil {
			return nil, rerr
		}
		return nil, &InsufficientBalanceError{
			Need:      in.Cost,
			Balance:   balance,
			Reserved:  reserved,
			Available: balance,
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE agents SET balance = balance - $1 WHERE id = $2`,
		in.Cost, in.CallerID); err != nil {
		return nil, fmt.Errorf("debiting caller: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE agents SET pending = pending + $1 WHERE id = $2`,
		in.Cost, in.CalleeID); err != nil {
		return nil, fmt.Errorf("crediting callee: %w", err)
	}

	rec, err := insertUsageRecord(ctx, tx, in, quoteID)
	if err != nil {
		return nil, err
	}

	if quoteID != nil {
		tag, err := tx.Exec(ctx,
			`UPDATE quotes SET status = 'used', usage_record_id = $1
			 WHERE id = $2 AND status = 'active'`,
			rec.ID, *quoteID)
		if err != nil {
			return nil, fmt.Errorf("consuming quote: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrQuoteConsumed
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing execute tx: %w", err)
	}
	return rec, nil
}

// lockBalances takes FOR UPDATE locks on the caller and callee rows in sorted
// id order (so two opposite-direction executions cannot deadlock) and returns
// the caller's balance.
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
	callerFound := false
	for rows.Next() {
		var id string
		var balance int64
		if err := rows.Scan(&id, &balance); err != nil {
			return 0, fmt.Errorf("scanning locked agent row: %w", err)
		}
		found++
		if id == callerID {
			callerBalance = balance
			callerFound = true
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating locked agent rows: %w", err)
	}
	if found != len(ids) || !callerFound {
		return 0, ErrPrincipalNotFound
	}
	return callerBalance, nil
}

// activeHold sums the caller's active, unexpired reservation holds.
func activeHold(ctx context.Context, tx pgx.Tx, callerID string) (int64, error) {
	var reserved int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(reserved_amount), 0) FROM reservations
		 WHERE caller_id = $1 AND status = 'active' AND expires_at > now()`,
		callerID).Scan(&reserved)
	if err != nil {
		return 0, fmt.Errorf("summing active holds: %w", err)
	}
	return reserved, nil
}

func insertUsageRecord(ctx context.Context, tx pgx.Tx, in ExecuteInput, quoteID *string) (*UsageRecord, error) {
	rec := &UsageRecord{
		ID:        uuid.NewString(),
		CallerID:  in.CallerID,
		CalleeID:  in.CalleeID,
		ToolID:    in.ToolID,
		ToolName:  in.ToolName,
		Tokens:    in.Tokens,
		RatePer1k: in.RatePer1k,
		Cost:      in.Cost,
		QuoteID:   quoteID,
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO usage_records (id, caller_id, callee_id, tool_id, tool_name, tokens, rate_per_1k, cost, quote_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING created_at`,
		rec.ID, rec.CallerID, rec.CalleeID, rec.ToolID, rec.ToolName,
		rec.Tokens, rec.RatePer1k, rec.Cost, rec.QuoteID,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting usage record: %w", err)
	}
	return rec, nil
}

// CallerSpendSince sums the costs charged to the given caller from `since`
// onward. The guardrail engine uses it for the rolling daily cap.
func (s *Store) CallerSpendSince(ctx context.Context, callerID string, since time.Time) (int64, error) {
	var spend int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost), 0) FROM usage_records
		 WHERE caller_id = $1 AND created_at >= $2`,
		callerID, since).Scan(&spend)
	if err != nil {
		return 0, fmt.Errorf("summing caller spend: %w", err)
	}
	return spend, nil
}

// GetRecord retrieves a single usage record by id.
func (s *Store) GetRecord(ctx context.Context, id string) (*UsageRecord, error) {
	rec := &UsageRecord{}
	err := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM usage_records WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.CallerID, &rec.CalleeID, &rec.ToolID, &rec.ToolName,
		&rec.Tokens, &rec.RatePer1k, &rec.Cost, &rec.QuoteID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("usage record %s: %w", id, pgx.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("getting usage record: %w", err)
	}
	return rec, nil
}

// GetSummary returns aggregate usage metrics matching the given query filters.
func (s *Store) GetSummary(ctx context.Context, q UsageQuery) (*UsageSummary, error) {
	where, args := buildWhereClause(q)

	query := `SELECT COUNT(*), COALESCE(SUM(cost), 0), COALESCE(SUM(tokens), 0)
	FROM usage_records` + where

	var summary UsageSummary
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&summary.TotalCalls, &summary.TotalCost, &summary.TotalTokens)
	if err != nil {
		return nil, fmt.Errorf("querying usage summary: %w", err)
	}
	return &summary, nil
}

// ListRecords returns a page of usage records matching the query filters,
// ordered by created_at DESC, id DESC. It uses cursor-based pagination and
// returns the next cursor (empty string if no more results).
func (s *Store) ListRecords(ctx context.Context, q UsageQuery) ([]*UsageRecord, string, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	where, args := buildWhereClause(q)

	// Apply cursor: the cursor encodes "created_at|id".
	if q.Cursor != "" {
		ts, id, err := decodeCursor(q.Cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		n := len(args)
		if where == "" {
			where = " WHERE"
		} else {
			where += " AND"
		}
		where += fmt.Sprintf(" (created_at, id) < ($%d, $%d)", n+1, n+2)
		args = append(args, ts, id)
	}

	query := `SELECT ` + recordColumns + ` FROM usage_records` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit+1) // fetch one extra to determine if there's a next page

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("listing usage records: %w", err)
	}
	defer rows.Close()

	var recs []*UsageRecord
	for rows.Next() {
		rec := &UsageRecord{}
		if err := rows.Scan(&rec.ID, &rec.CallerID, &rec.CalleeID, &rec.ToolID,
			&rec.ToolName, &rec.Tokens, &rec.RatePer1k, &rec.Cost,
			&rec.QuoteID, &rec.CreatedAt); err != nil {
			return nil, "", fmt.Errorf("scanning usage record row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating usage record rows: %w", err)
	}

	var nextCursor string
	if len(recs) > limit {
		last := recs[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
		recs = recs[:limit]
	}

	return recs, nextCursor, nil
}

// buildWhereClause constructs a WHERE clause and positional arguments from a
// UsageQuery. The returned string starts with " WHERE" or is empty.
func buildWhereClause(q UsageQuery) (string, []any) {
	var conditions []string
	var args []any

	if q.CallerID != "" {
		args = append(args, q.CallerID)
		conditions = append(conditions, fmt.Sprintf("caller_id = $%d", len(args)))
	}
	if q.CalleeID != "" {
		args = append(args, q.CalleeID)
		conditions = append(conditions, fmt.Sprintf("callee_id = $%d", len(args)))
	}
	if q.ToolName != "" {
		args = append(args, q.ToolName)
		conditions = append(conditions, fmt.Sprintf("tool_name = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// encodeCursor encodes a timestamp and id into an opaque cursor string.
func encodeCursor(ts time.Time, id string) string {
	raw := ts.Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// decodeCursor decodes an opaque cursor string into a timestamp and id.
func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor timestamp: %w", err)
	}
	return ts, parts[1], nil
}
