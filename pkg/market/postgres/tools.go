package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/agoramesh/agora/pkg/market"
	"github.com/agoramesh/agora/pkg/wei"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint errors.
const uniqueViolation = "23505"

// CreateTool implements [market.ToolStore].
func (s *Store) CreateTool(ctx context.Context, def market.ToolDefinition) error {
	headers, params, err := marshalToolJSON(&def)
	if err != nil {
		return fmt.Errorf("tools: create: %w", err)
	}

	const q = `
		INSERT INTO tools
		    (id, owner_id, name, description, category,
		     endpoint, method, headers, timeout_ms, max_retries,
		     parameters, cost_in_wei, eth_cost, tags, version,
		     is_active, is_public, rate_limit, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = s.pool.Exec(ctx, q,
		def.ID, def.OwnerID, def.Name, def.Description, def.Category,
		def.API.Endpoint, string(def.API.Method), headers,
		def.API.Timeout.Milliseconds(), def.API.MaxRetries,
		params, def.Pricing.CostInWei, def.Pricing.ETHCost,
		tagsOrEmpty(def.Metadata.Tags), def.Metadata.Version,
		def.Metadata.IsActive, def.Metadata.IsPublic, def.Metadata.RateLimitPerMinute,
		pgvector.NewVector(def.Embedding), def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return market.ErrDuplicateID
		}
		return fmt.Errorf("tools: create: %w", err)
	}
	return nil
}

// GetTool implements [market.ToolStore].
func (s *Store) GetTool(ctx context.Context, id string) (market.ToolDefinition, error) {
	q := `SELECT ` + toolColumns + ` FROM tools WHERE id = $1`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return market.ToolDefinition{}, fmt.Errorf("tools: get: %w", err)
	}
	def, err := pgx.CollectOneRow(rows, scanTool)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.ToolDefinition{}, market.ErrNotFound
	}
	if err != nil {
		return market.ToolDefinition{}, fmt.Errorf("tools: get: %w", err)
	}
	return def, nil
}

// UpdateTool implements [market.ToolStore].
func (s *Store) UpdateTool(ctx context.Context, def market.ToolDefinition) error {
	headers, params, err := marshalToolJSON(&def)
	if err != nil {
		return fmt.Errorf("tools: update: %w", err)
	}

	const q = `
		UPDATE tools SET
		    name = $2, description = $3, category = $4,
		    endpoint = $5, method = $6, headers = $7, timeout_ms = $8, max_retries = $9,
		    parameters = $10, cost_in_wei = $11, eth_cost = $12, tags = $13, version = $14,
		    is_active = $15, is_public = $16, rate_limit = $17,
		    embedding = $18, updated_at = $19
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		def.ID, def.Name, def.Description, def.Category,
		def.API.Endpoint, string(def.API.Method), headers,
		def.API.Timeout.Milliseconds(), def.API.MaxRetries,
		params, def.Pricing.CostInWei, def.Pricing.ETHCost,
		tagsOrEmpty(def.Metadata.Tags), def.Metadata.Version,
		def.Metadata.IsActive, def.Metadata.IsPublic, def.Metadata.RateLimitPerMinute,
		pgvector.NewVector(def.Embedding), def.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("tools: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return market.ErrNotFound
	}
	return nil
}

// DeactivateTool implements [market.ToolStore]. The WHERE clause only matches
// still-active rows, so RowsAffected distinguishes a flip from a no-op.
func (s *Store) DeactivateTool(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE tools SET is_active = FALSE, updated_at = now()
		WHERE id = $1 AND is_active`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("tools: deactivate: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// No row flipped: unknown id or already inactive?
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tools WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("tools: deactivate: %w", err)
	}
	if !exists {
		return false, market.ErrNotFound
	}
	return false, nil
}

// ListTools implements [market.ToolStore].
func (s *Store) ListTools(ctx context.Context, filter market.ToolFilter) ([]market.ToolDefinition, error) {
	if filter.MaxCostWei != "" && !wei.Valid(filter.MaxCostWei) {
		return nil, fmt.Errorf("tools: list: max cost %q: %w", filter.MaxCostWei, wei.ErrInvalidAmount)
	}

	var (
		args []any
		next = func(v any) string {
			args = append(args, v)
			return fmt.Sprintf("$%d", len(args))
		}
		conditions []string
	)
	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = "+next(filter.OwnerID))
	}
	if filter.Category != "" {
		conditions = append(conditions, "category ILIKE '%' || "+next(filter.Category)+" || '%'")
	}
	if filter.OnlyActive {
		conditions = append(conditions, "is_active")
	}
	if filter.OnlyPublic {
		conditions = append(conditions, "is_public")
	}
	if filter.MaxCostWei != "" {
		conditions = append(conditions, "cost_in_wei::numeric <= "+next(filter.MaxCostWei)+"::numeric")
	}
	if filter.Tag != "" {
		conditions = append(conditions, next(filter.Tag)+" = ANY(tags)")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	q := fmt.Sprintf(`
		SELECT %s
		FROM   tools
		%s
		ORDER  BY created_at DESC, id`, toolColumns, whereClause)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("tools: list: %w", err)
	}
	defs, err := pgx.CollectRows(rows, scanTool)
	if err != nil {
		return nil, fmt.Errorf("tools: list: %w", err)
	}
	return defs, nil
}

// toolColumns is the shared column list for all tool SELECTs, in scanTool's
// scan order.
const toolColumns = `id, owner_id, name, description, category,
       endpoint, method, headers, timeout_ms, max_retries,
       parameters, cost_in_wei, eth_cost, tags, version,
       is_active, is_public, rate_limit, embedding, created_at, updated_at`

// scanTool maps one tools row to a [market.ToolDefinition].
func scanTool(row pgx.CollectableRow) (market.ToolDefinition, error) {
	var (
		def       market.ToolDefinition
		method    string
		headers   []byte
		timeoutMs int64
		params    []byte
		vec       pgvector.Vector
	)
	if err := row.Scan(
		&def.ID, &def.OwnerID, &def.Name, &def.Description, &def.Category,
		&def.API.Endpoint, &method, &headers, &timeoutMs, &def.API.MaxRetries,
		&params, &def.Pricing.CostInWei, &def.Pricing.ETHCost,
		&def.Metadata.Tags, &def.Metadata.Version,
		&def.Metadata.IsActive, &def.Metadata.IsPublic, &def.Metadata.RateLimitPerMinute,
		&vec, &def.CreatedAt, &def.UpdatedAt,
	); err != nil {
		return market.ToolDefinition{}, err
	}

	def.API.Method = market.HTTPMethod(method)
	def.API.Timeout = time.Duration(timeoutMs) * time.Millisecond
	def.Embedding = vec.Slice()

	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &def.API.Headers); err != nil {
			return market.ToolDefinition{}, fmt.Errorf("decode headers: %w", err)
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &def.Parameters); err != nil {
			return market.ToolDefinition{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	return def, nil
}

// marshalToolJSON encodes the JSONB columns of def.
func marshalToolJSON(def *market.ToolDefinition) (headers, params []byte, err error) {
	h := def.API.Headers
	if h == nil {
		h = map[string]string{}
	}
	if headers, err = json.Marshal(h); err != nil {
		return nil, nil, fmt.Errorf("encode headers: %w", err)
	}
	p := def.Parameters
	if p == nil {
		p = []market.Parameter{}
	}
	if params, err = json.Marshal(p); err != nil {
		return nil, nil, fmt.Errorf("encode parameters: %w", err)
	}
	return headers, params, nil
}

// tagsOrEmpty keeps the tags column NOT NULL friendly.
func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
