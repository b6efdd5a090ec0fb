package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Lookup errors.
var (
	ErrNotFound      = errors.New("tool not found")
	ErrOwnerNotFound = errors.New("owner not found")
)

const toolColumns = `id, owner_id, name, description, rate_per_1k_tokens, created_at, updated_at`

// Store provides database operations for the tool registry.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new registry store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanTool(row pgx.Row) (*Tool, error) {
	t := &Tool{}
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Description,
		&t.RatePer1kTokens, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Create inserts a new tool. Tool names are unique per owner; a conflicting
// name updates the existing row's rate and description instead.
func (s *Store) Create(ctx context.Context, in CreateToolInput) (*Tool, error) {
	t, err := scanTool(s.pool.QueryRow(ctx,
		`INSERT INTO tools (owner_id, name, description, rate_per_1k_tokens)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (owner_id, name)
		 DO UPDATE SET description = EXCLUDED.description,
		               rate_per_1k_tokens = EXCLUDED.rate_per_1k_tokens,
		               updated_at = now()
		 RETURNING `+toolColumns,
		in.OwnerID, in.Name, in.Description, in.RatePer1kTokens,
	))
	if err != nil {
		return nil, fmt.Errorf("creating tool: %w", err)
	}
	return t, nil
}

// GetByID retrieves a tool by its primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Tool, error) {
	t, err := scanTool(s.pool.QueryRow(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting tool by id: %w", err)
	}
	return t, nil
}

// GetByOwnerAndName retrieves a tool by its owner and per-owner unique name.
func (s *Store) GetByOwnerAndName(ctx context.Context, ownerID, name string) (*Tool, error) {
	t, err := scanTool(s.pool.QueryRow(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE owner_id = $1 AND name = $2`,
		ownerID, name))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting tool by owner and name: %w", err)
	}
	return t, nil
}

// ListByOwner returns all tools owned by the given agent, ordered by name.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*Tool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+toolColumns+` FROM tools WHERE owner_id = $1 ORDER BY name`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	defer rows.Close()

	var tools []*Tool
	for rows.Next() {
		t, serr := scanTool(rows)
		if serr != nil {
			return nil, fmt.Errorf("scanning tool row: %w", serr)
		}
		tools = append(tools, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tool rows: %w", err)
	}
	return tools, nil
}

// Update performs a partial update on the tool with the given id and returns
// the updated record.
func (s *Store) Update(ctx context.Context, id string, in UpdateToolInput) (*Tool, error) {
	var setClauses []string
	var args []any
	argIdx := 1

	if in.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *in.Name)
		argIdx++
	}
	if in.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *in.Description)
		argIdx++
	}
	if in.RatePer1kTokens != nil {
		setClauses = append(setClauses, fmt.Sprintf("rate_per_1k_tokens = $%d", argIdx))
		args = append(args, *in.RatePer1kTokens)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetByID(ctx, id)
	}
	setClauses = append(setClauses, "updated_at = now()")

	args = append(args, id)
	query := fmt.Sprintf(
		`UPDATE tools SET %s WHERE id = $%d RETURNING `+toolColumns,
		strings.Join(setClauses, ", "), argIdx,
	)

	t, err := scanTool(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("updating tool: %w", err)
	}
	return t, nil
}

// Delete removes a tool by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tools WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting tool: %w", err)
	}
	return nil
}

// ResolveRate looks up the live rate for (calleeID, toolName): the tool's own
// rate when registered, otherwise the callee's default rate. Returns
// ErrOwnerNotFound when the callee does not exist.
func (s *Store) ResolveRate(ctx context.Context, calleeID, toolName string) (*ResolvedRate, error) {
	t, err := s.GetByOwnerAndName(ctx, calleeID, toolName)
	if err == nil {
		return &ResolvedRate{
			RatePer1kTokens: t.RatePer1kTokens,
			Source:          RateSourceTool,
			ToolID:          t.ID,
		}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var defaultRate int64
	err = s.pool.QueryRow(ctx,
		`SELECT default_rate_per_1k FROM agents WHERE id = $1`, calleeID,
	).Scan(&defaultRate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving default rate: %w", err)
	}

	return &ResolvedRate{RatePer1kTokens: defaultRate, Source: RateSourceDefault}, nil
}
