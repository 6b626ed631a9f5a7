// Package memstore provides a thread-safe, in-memory implementation of
// [market.Store]. It backs the server when no database DSN is configured and
// is the store of choice in tests. Nothing survives a process restart.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agoramesh/agora/pkg/market"
	"github.com/agoramesh/agora/pkg/wei"
)

// Compile-time assertion that MemStore satisfies the full store contract.
var _ market.Store = (*MemStore)(nil)

// MemStore is an in-memory [market.Store]. The zero value is not ready to
// use; construct via [New].
type MemStore struct {
	mu    sync.RWMutex
	tools map[string]market.ToolDefinition
	usage []market.UsageRecord
}

// New returns an initialised [MemStore].
func New() *MemStore {
	return &MemStore{
		tools: make(map[string]market.ToolDefinition),
	}
}

// CreateTool implements [market.ToolStore].
func (s *MemStore) CreateTool(ctx context.Context, def market.ToolDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[def.ID]; exists {
		return market.ErrDuplicateID
	}
	s.tools[def.ID] = cloneTool(def)
	return nil
}

// GetTool implements [market.ToolStore].
func (s *MemStore) GetTool(ctx context.Context, id string) (market.ToolDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.tools[id]
	if !ok {
		return market.ToolDefinition{}, market.ErrNotFound
	}
	return cloneTool(def), nil
}

// UpdateTool implements [market.ToolStore].
func (s *MemStore) UpdateTool(ctx context.Context, def market.ToolDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tools[def.ID]; !ok {
		return market.ErrNotFound
	}
	s.tools[def.ID] = cloneTool(def)
	return nil
}

// DeactivateTool implements [market.ToolStore].
func (s *MemStore) DeactivateTool(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.tools[id]
	if !ok {
		return false, market.ErrNotFound
	}
	if !def.Metadata.IsActive {
		return false, nil
	}
	def.Metadata.IsActive = false
	def.UpdatedAt = time.Now().UTC()
	s.tools[id] = def
	return true, nil
}

// ListTools implements [market.ToolStore]. Results are sorted newest first by
// creation time, ties broken by id for a deterministic order.
func (s *MemStore) ListTools(ctx context.Context, filter market.ToolFilter) ([]market.ToolDefinition, error) {
	maxCost, err := wei.Parse(filter.MaxCostWei)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]market.ToolDefinition, 0, len(s.tools))
	for _, def := range s.tools {
		if !matches(&def, filter, maxCost) {
			continue
		}
		result = append(result, cloneTool(def))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// matches applies filter to def. maxCost is pre-parsed from the filter; the
// zero Amount with an empty MaxCostWei string means no cost bound.
func matches(def *market.ToolDefinition, filter market.ToolFilter, maxCost wei.Amount) bool {
	if filter.OwnerID != "" && def.OwnerID != filter.OwnerID {
		return false
	}
	if !def.MatchesCategory(filter.Category) {
		return false
	}
	if filter.OnlyActive && !def.Metadata.IsActive {
		return false
	}
	if filter.OnlyPublic && !def.Metadata.IsPublic {
		return false
	}
	if filter.Tag != "" && !def.HasTag(filter.Tag) {
		return false
	}
	if filter.MaxCostWei != "" {
		cost, err := wei.Parse(def.Pricing.CostInWei)
		if err != nil || cost.Cmp(maxCost) > 0 {
			return false
		}
	}
	return true
}

// AppendUsage implements [market.UsageStore]. Records without an id get a
// fresh UUID.
func (s *MemStore) AppendUsage(ctx context.Context, rec market.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, rec)
	return nil
}

// QueryUsage implements [market.UsageStore].
func (s *MemStore) QueryUsage(ctx context.Context, filter market.UsageFilter) ([]market.UsageRecord, error) {
	var idSet map[string]struct{}
	if len(filter.ToolIDs) > 0 {
		idSet = make(map[string]struct{}, len(filter.ToolIDs))
		for _, id := range filter.ToolIDs {
			idSet[id] = struct{}{}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []market.UsageRecord
	for _, rec := range s.usage {
		if idSet != nil {
			if _, ok := idSet[rec.ToolID]; !ok {
				continue
			}
		}
		if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
			continue
		}
		if filter.CallerID != "" && rec.CallerID != filter.CallerID {
			continue
		}
		result = append(result, rec)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// MarkPaid implements [market.UsageStore].
func (s *MemStore) MarkPaid(ctx context.Context, recordID, txHash string, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.usage {
		if s.usage[i].ID == recordID {
			s.usage[i].Billing.Paid = true
			s.usage[i].Billing.TransactionHash = txHash
			ts := paidAt
			s.usage[i].Billing.PaymentTimestamp = &ts
			return nil
		}
	}
	return market.ErrNotFound
}

// Ping implements [market.Store]. Always healthy.
func (s *MemStore) Ping(ctx context.Context) error { return nil }

// Close implements [market.Store]. No resources to release.
func (s *MemStore) Close() error { return nil }

// cloneTool deep-copies the slices and maps of def so callers cannot mutate
// stored state through a returned definition.
func cloneTool(def market.ToolDefinition) market.ToolDefinition {
	out := def
	if def.Embedding != nil {
		out.Embedding = make([]float32, len(def.Embedding))
		copy(out.Embedding, def.Embedding)
	}
	if def.Parameters != nil {
		out.Parameters = make([]market.Parameter, len(def.Parameters))
		copy(out.Parameters, def.Parameters)
	}
	if def.Metadata.Tags != nil {
		out.Metadata.Tags = make([]string, len(def.Metadata.Tags))
		copy(out.Metadata.Tags, def.Metadata.Tags)
	}
	if def.API.Headers != nil {
		out.API.Headers = make(map[string]string, len(def.API.Headers))
		for k, v := range def.API.Headers {
			out.API.Headers[k] = v
		}
	}
	return out
}
