package market

import (
	"context"
	"time"
)

// ToolFilter narrows a [ToolStore.List] call. Zero-value fields are ignored.
type ToolFilter struct {
	// OwnerID restricts to tools registered by one caller.
	OwnerID string

	// Category is matched as a case-insensitive substring of the tool's
	// category.
	Category string

	// OnlyActive drops soft-deleted tools.
	OnlyActive bool

	// OnlyPublic drops owner-private tools.
	OnlyPublic bool

	// MaxCostWei keeps tools whose price is <= this decimal wei string.
	// Compared as arbitrary-precision integers, never floats.
	MaxCostWei string

	// Tag keeps tools carrying this exact tag.
	Tag string
}

// ToolStore is the durable collection of tool definitions, keyed by tool id.
//
// Implementations must be safe for concurrent use. Single-document writes are
// atomic; there are no multi-document transactions.
type ToolStore interface {
	// CreateTool inserts a new definition. Returns [ErrDuplicateID] if the
	// id is already taken.
	CreateTool(ctx context.Context, def ToolDefinition) error

	// GetTool returns the definition for id, active or not.
	// Returns [ErrNotFound] for unknown ids.
	GetTool(ctx context.Context, id string) (ToolDefinition, error)

	// UpdateTool replaces the stored definition for def.ID.
	// Returns [ErrNotFound] for unknown ids.
	UpdateTool(ctx context.Context, def ToolDefinition) error

	// DeactivateTool clears the IsActive flag. Idempotent; reports whether
	// the flag was actually flipped. Returns [ErrNotFound] for unknown ids.
	DeactivateTool(ctx context.Context, id string) (bool, error)

	// ListTools returns definitions matching filter, newest first.
	ListTools(ctx context.Context, filter ToolFilter) ([]ToolDefinition, error)
}

// UsageFilter narrows a [UsageStore.QueryUsage] call.
type UsageFilter struct {
	// ToolIDs restricts to records for these tools. Empty means no
	// restriction — callers normally pass the resolved inventory of one
	// owner here.
	ToolIDs []string

	// Since is the inclusive time lower bound. Zero means unbounded.
	Since time.Time

	// CallerID restricts to one caller's invocations.
	CallerID string
}

// UsageStore is the append-only invocation ledger.
//
// Records are never updated after insert except through [UsageStore.MarkPaid],
// the narrow write-back path of the external settlement process.
type UsageStore interface {
	// AppendUsage inserts a record. No dedup — the engine guarantees one
	// call per execution.
	AppendUsage(ctx context.Context, rec UsageRecord) error

	// QueryUsage returns records matching filter in ascending timestamp
	// order.
	QueryUsage(ctx context.Context, filter UsageFilter) ([]UsageRecord, error)

	// MarkPaid sets billing.paid and the settlement transaction hash on an
	// existing record. Called by the settlement collaborator, not by the
	// engine. Returns [ErrNotFound] for unknown record ids.
	MarkPaid(ctx context.Context, recordID, txHash string, paidAt time.Time) error
}

// Store combines both collections behind one connection, mirroring how the
// backing database holds them.
type Store interface {
	ToolStore
	UsageStore

	// Ping verifies connectivity for readiness checks.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
