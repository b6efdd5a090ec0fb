package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no agent matches the lookup.
var ErrNotFound = errors.New("agent not found")

const agentColumns = `id, name, api_key_hash, api_key_prefix, balance, pending,
	default_rate_per_1k, max_cost_per_call, daily_spend_cap, paused,
	allowed_callees, created_at`

// Store provides database operations for agents. Balance and pending are
// mutated only by the ledger, reservation, and settlement transactions; this
// store owns identity and guardrail configuration.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new agent store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanAgent(row pgx.Row) (*Agent, error) {
	a := &Agent{}
	err := row.Scan(&a.ID, &a.Name, &a.APIKeyHash, &a.APIKeyPrefix,
		&a.Balance, &a.Pending, &a.DefaultRatePer1k,
		&a.MaxCostPerCall, &a.DailySpendCap, &a.Paused,
		&a.AllowedCallees, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new agent and returns the created record.
func (s *Store) Create(ctx context.Context, in CreateAgentInput) (*Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`INSERT INTO agents (name, api_key_hash, api_key_prefix, balance, default_rate_per_1k)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+agentColumns,
		in.Name, in.APIKeyHash, in.APIKeyPrefix, in.InitialBalance, in.DefaultRatePer1k,
	))
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	return a, nil
}

// GetByID retrieves an agent by its primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting agent by id: %w", err)
	}
	return a, nil
}

// GetByKeyHash retrieves an agent by its API key hash, used for authentication.
func (s *Store) GetByKeyHash(ctx context.Context, hash string) (*Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE api_key_hash = $1`, hash))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting agent by key hash: %w", err)
	}
	return a, nil
}

// List returns a page of agents ordered by created_at DESC, id DESC using
// cursor-based pagination. It returns the agents, the next cursor (empty if
// no more results), and any error.
func (s *Store) List(ctx context.Context, params AgentListParams) ([]*Agent, string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if params.Cursor != "" {
		cursorTime, cursorID, cerr := decodeCursor(params.Cursor)
		if cerr != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", cerr)
		}
		rows, err = s.pool.Query(ctx,
			`SELECT `+agentColumns+` FROM agents
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			cursorTime, cursorID, limit+1,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+agentColumns+` FROM agents
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}
	if err != nil {
		return nil, "", fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, serr := scanAgent(rows)
		if serr != nil {
			return nil, "", fmt.Errorf("scanning agent row: %w", serr)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating agent rows: %w", err)
	}

	var nextCursor string
	if len(agents) > limit {
		last := agents[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
		agents = agents[:limit]
	}

	return agents, nextCursor, nil
}

// UpdateGuardrails applies a partial guardrail update and returns the updated
// record. Clear flags win over a value supplied for the same field.
func (s *Store) UpdateGuardrails(ctx context.Context, id string, in GuardrailUpdate) (*Agent, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	set := func(clause string, value any) {
		setClauses = append(setClauses, fmt.Sprintf(clause, argIdx))
		args = append(args, value)
		argIdx++
	}

	switch {
	case in.ClearMaxCostPerCall:
		setClauses = append(setClauses, "max_cost_per_call = NULL")
	case in.MaxCostPerCall != nil:
		set("max_cost_per_call = $%d", *in.MaxCostPerCall)
	}

	switch {
	case in.ClearDailySpendCap:
		setClauses = append(setClauses, "daily_spend_cap = NULL")
	case in.DailySpendCap != nil:
		set("daily_spend_cap = $%d", *in.DailySpendCap)
	}

	switch {
	case in.ClearAllowedCallees:
		setClauses = append(setClauses, "allowed_callees = NULL")
	case in.AllowedCallees != nil:
		set("allowed_callees = $%d", in.AllowedCallees)
	}

	if in.DefaultRatePer1k != nil {
		set("default_rate_per_1k = $%d", *in.DefaultRatePer1k)
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE agents SET %s WHERE id = $%d RETURNING `+agentColumns,
		strings.Join(setClauses, ", "), argIdx,
	)

	a, err := scanAgent(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating guardrails: %w", err)
	}
	return a, nil
}

// SetPaused flips the kill switch for the given agent.
func (s *Store) SetPaused(ctx context.Context, id string, paused bool) (*Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`UPDATE agents SET paused = $1 WHERE id = $2 RETURNING `+agentColumns,
		paused, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("setting paused: %w", err)
	}
	return a, nil
}

// Credit adds funds to an agent's spendable balance. Amount must be
// positive; this is the funding path, not a transfer.
func (s *Store) Credit(ctx context.Context, id string, amount int64) (*Agent, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`UPDATE agents SET balance = balance + $1 WHERE id = $2 RETURNING `+agentColumns,
		amount, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("crediting agent: %w", err)
	}
	return a, nil
}

// Delete removes an agent by id. Owned tools cascade away with it.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	return nil
}

// encodeCursor produces a base64 string from a created_at timestamp and id.
func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.Format(time.RFC3339Nano) + "|" + id
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses a base64 cursor back into its created_at and id parts.
func decodeCursor(cursor string) (time.Time, string, error) {
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor base64: %w", err)
	}

	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}

	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor time: %w", err)
	}

	return t, parts[1], nil
}
