// Package postgres provides the PostgreSQL-backed implementation of
// [market.Store]: the tools collection and the append-only usage ledger.
//
// Both collections share a single [pgxpool.Pool]. Tool embeddings are stored
// in a pgvector column so they round-trip losslessly with the rest of the
// definition; similarity ranking itself stays in the discovery service (a
// deliberate brute-force scan over the candidate set), so no vector index is
// created. The pgvector extension must be available in the target database;
// [Migrate] installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.CreateTool(ctx, def)
//	_ = store.AppendUsage(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlExtensions = `CREATE EXTENSION IF NOT EXISTS vector;`

// ddlTools is the marketplace inventory. cost_in_wei stays TEXT — prices are
// arbitrary-precision integers and comparisons cast to NUMERIC in SQL, never
// to a float.
const ddlTools = `
CREATE TABLE IF NOT EXISTS tools (
    id            TEXT         PRIMARY KEY,
    owner_id      TEXT         NOT NULL,
    name          TEXT         NOT NULL,
    description   TEXT         NOT NULL DEFAULT '',
    category      TEXT         NOT NULL DEFAULT '',
    endpoint      TEXT         NOT NULL,
    method        TEXT         NOT NULL,
    headers       JSONB        NOT NULL DEFAULT '{}',
    timeout_ms    BIGINT       NOT NULL DEFAULT 30000,
    max_retries   INT          NOT NULL DEFAULT 3,
    parameters    JSONB        NOT NULL DEFAULT '[]',
    cost_in_wei   TEXT         NOT NULL DEFAULT '0',
    eth_cost      TEXT         NOT NULL DEFAULT '',
    tags          TEXT[]       NOT NULL DEFAULT '{}',
    version       TEXT         NOT NULL DEFAULT '',
    is_active     BOOLEAN      NOT NULL DEFAULT TRUE,
    is_public     BOOLEAN      NOT NULL DEFAULT TRUE,
    rate_limit    INT          NOT NULL DEFAULT 0,
    embedding     VECTOR(%d),
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tools_owner_id
    ON tools (owner_id);

CREATE INDEX IF NOT EXISTS idx_tools_created_at
    ON tools (created_at DESC);
`

// ddlUsage is the append-only invocation ledger. Rows are immutable except
// for the settlement columns (paid, transaction_hash, payment_timestamp)
// written back by MarkPaid.
const ddlUsage = `
CREATE TABLE IF NOT EXISTS usage_records (
    id                 TEXT         PRIMARY KEY,
    tool_id            TEXT         NOT NULL,
    caller_id          TEXT         NOT NULL,
    session_id         TEXT         NOT NULL DEFAULT '',
    parameters         JSONB        NOT NULL DEFAULT '{}',
    success            BOOLEAN      NOT NULL,
    data               JSONB,
    error              TEXT         NOT NULL DEFAULT '',
    status_code        INT          NOT NULL DEFAULT 0,
    execution_time_ms  BIGINT       NOT NULL DEFAULT 0,
    cost_in_wei        TEXT         NOT NULL DEFAULT '0',
    paid               BOOLEAN      NOT NULL DEFAULT FALSE,
    transaction_hash   TEXT         NOT NULL DEFAULT '',
    payment_timestamp  TIMESTAMPTZ,
    timestamp          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_usage_tool_timestamp
    ON usage_records (tool_id, timestamp);

CREATE INDEX IF NOT EXISTS idx_usage_caller_id
    ON usage_records (caller_id);
`

// Migrate creates the extension, tables, and indexes if they do not exist.
// embeddingDimensions fixes the width of the tools.embedding column and must
// match the configured embeddings provider; changing it after the first
// migration requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlExtensions,
		fmt.Sprintf(ddlTools, embeddingDimensions),
		ddlUsage,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
