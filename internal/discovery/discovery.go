// Package discovery ranks marketplace tools against free-text queries by
// embedding the query and comparing it to each candidate's stored vector.
//
// Ranking is a deliberate brute-force linear scan: the candidate set is
// whatever the store returns for the filter, and every candidate is scored
// with cosine similarity in-process. Marketplace inventories are expected to
// stay small to medium; this is a documented scaling limit, not a bug, and
// keeps the engine free of any vector-index machinery.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agoramesh/agora/internal/observe"
	"github.com/agoramesh/agora/pkg/market"
	"github.com/agoramesh/agora/pkg/provider/embeddings"
	"github.com/agoramesh/agora/pkg/vectormath"
	"github.com/agoramesh/agora/pkg/wei"
)

// DefaultLimit caps result counts when the caller passes no limit.
const DefaultLimit = 10

// suggestionThreshold is the minimum Jaro-Winkler score for a tool name to
// count as a "did you mean" suggestion on a zero-hit search.
const suggestionThreshold = 0.75

// Service answers discovery queries. Safe for concurrent use.
type Service struct {
	store    market.ToolStore
	usage    market.UsageStore
	embedder embeddings.Provider
	metrics  *observe.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics enables instrument recording. Nil metrics are a no-op.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a discovery Service.
func New(store market.ToolStore, usage market.UsageStore, embedder embeddings.Provider, opts ...Option) *Service {
	s := &Service{store: store, usage: usage, embedder: embedder}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Filter narrows a search to a slice of the inventory. Zero values are
// ignored.
type Filter struct {
	// OwnerID relaxes the public-only restriction to that owner's own
	// inventory, private tools included.
	OwnerID string

	Category   string
	MaxCostWei string
	Tag        string
}

// Result is one ranked tool.
type Result struct {
	Tool market.ToolDefinition `json:"tool"`

	// Similarity is the cosine similarity between the query embedding and
	// the tool's embedding, in [-1, 1].
	Similarity float64 `json:"similarity"`
}

// SearchGlobal ranks the public active inventory against query. Setting
// filter.OwnerID switches the candidate set to that owner's own tools,
// private ones included.
//
// Returns [market.ErrEmptyQuery] for a blank query and
// [market.ErrEmbeddingUnavailable] when the query cannot be embedded.
func (s *Service) SearchGlobal(ctx context.Context, query string, filter Filter, limit int) ([]Result, error) {
	toolFilter := market.ToolFilter{
		OwnerID:    filter.OwnerID,
		Category:   filter.Category,
		MaxCostWei: filter.MaxCostWei,
		Tag:        filter.Tag,
		OnlyActive: true,
		OnlyPublic: filter.OwnerID == "",
	}
	return s.search(ctx, query, toolFilter, limit)
}

// SearchOwner ranks ownerID's own active inventory against query, ignoring
// the public flag.
func (s *Service) SearchOwner(ctx context.Context, ownerID, query, category string, limit int) ([]Result, error) {
	return s.search(ctx, query, market.ToolFilter{
		OwnerID:    ownerID,
		Category:   category,
		OnlyActive: true,
	}, limit)
}

// search embeds query and brute-force-ranks the candidates for toolFilter.
func (s *Service) search(ctx context.Context, query string, toolFilter market.ToolFilter, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, market.ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if s.metrics != nil {
		start := time.Now()
		defer func() {
			s.metrics.SearchDuration.Record(ctx, time.Since(start).Seconds())
		}()
	}

	queryVec, err := s.embedder.Embed(ctx, strings.TrimSpace(query))
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.EmbeddingRequests.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", status)))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrEmbeddingUnavailable, err)
	}

	candidates, err := s.store.ListTools(ctx, toolFilter)
	if err != nil {
		return nil, fmt.Errorf("discovery: list candidates: %w", err)
	}

	// Registration guarantees every persisted tool has a vector; tolerate
	// violations by skipping rather than failing the whole search.
	kept := candidates[:0]
	vectors := make([][]float32, 0, len(candidates))
	for _, def := range candidates {
		if len(def.Embedding) == 0 {
			continue
		}
		kept = append(kept, def)
		vectors = append(vectors, def.Embedding)
	}

	matches, err := vectormath.FindMostSimilar(queryVec, vectors, limit)
	if err != nil {
		return nil, fmt.Errorf("discovery: rank candidates: %w", err)
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{Tool: kept[m.Index], Similarity: m.Similarity}
	}
	return results, nil
}

// Suggest returns active public tool names lexically close to query, for
// "did you mean" hints when a semantic search comes back empty. Results are
// ordered by descending Jaro-Winkler score, capped at limit.
func (s *Service) Suggest(ctx context.Context, query string, limit int) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, market.ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	defs, err := s.store.ListTools(ctx, market.ToolFilter{OnlyActive: true, OnlyPublic: true})
	if err != nil {
		return nil, fmt.Errorf("discovery: suggest: %w", err)
	}

	type scored struct {
		name  string
		score float64
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	var hits []scored
	for _, def := range defs {
		score := matchr.JaroWinkler(needle, strings.ToLower(def.Name), false)
		if score >= suggestionThreshold {
			hits = append(hits, scored{name: def.Name, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	names := make([]string, len(hits))
	for i, h := range hits {
		names[i] = h.name
	}
	return names, nil
}

// PopularTool is one entry of the usage-ranked listing.
type PopularTool struct {
	Tool        market.ToolDefinition `json:"tool"`
	UsageCount  int                   `json:"usageCount"`
	SuccessRate float64               `json:"successRate"`
}

// Popular joins the active inventory in scope against the usage ledger and
// orders it by (usage count desc, success rate desc). Tools with no usage
// rank last with a success rate of 0.
func (s *Service) Popular(ctx context.Context, scope Filter, limit int) ([]PopularTool, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	defs, err := s.store.ListTools(ctx, market.ToolFilter{
		OwnerID:    scope.OwnerID,
		Category:   scope.Category,
		Tag:        scope.Tag,
		OnlyActive: true,
		OnlyPublic: scope.OwnerID == "",
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: popular: %w", err)
	}
	if len(defs) == 0 {
		return []PopularTool{}, nil
	}

	ids := make([]string, len(defs))
	for i, def := range defs {
		ids[i] = def.ID
	}
	records, err := s.usage.QueryUsage(ctx, market.UsageFilter{ToolIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("discovery: popular: query usage: %w", err)
	}

	type counts struct{ total, success int }
	perTool := make(map[string]*counts, len(defs))
	for _, rec := range records {
		c := perTool[rec.ToolID]
		if c == nil {
			c = &counts{}
			perTool[rec.ToolID] = c
		}
		c.total++
		if rec.Response.Success {
			c.success++
		}
	}

	entries := make([]PopularTool, len(defs))
	for i, def := range defs {
		entry := PopularTool{Tool: def}
		if c := perTool[def.ID]; c != nil && c.total > 0 {
			entry.UsageCount = c.total
			entry.SuccessRate = float64(c.success) / float64(c.total)
		}
		entries[i] = entry
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].UsageCount != entries[j].UsageCount {
			return entries[i].UsageCount > entries[j].UsageCount
		}
		return entries[i].SuccessRate > entries[j].SuccessRate
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// CategorySummary describes one category of the public inventory.
type CategorySummary struct {
	Category string `json:"category"`
	Count    int    `json:"count"`

	// AvgCostInWei is the integer-truncated mean price, as a decimal wei
	// string.
	AvgCostInWei string `json:"avgCostInWei"`
}

// Categories groups the active public inventory by category
// (case-insensitively; the first-seen spelling is reported) with tool counts
// and average price. An empty inventory yields an empty slice, not an error.
func (s *Service) Categories(ctx context.Context) ([]CategorySummary, error) {
	defs, err := s.store.ListTools(ctx, market.ToolFilter{OnlyActive: true, OnlyPublic: true})
	if err != nil {
		return nil, fmt.Errorf("discovery: categories: %w", err)
	}

	type group struct {
		display string
		costs   []wei.Amount
	}
	groups := make(map[string]*group)
	var order []string
	for _, def := range defs {
		key := strings.ToLower(strings.TrimSpace(def.Category))
		g := groups[key]
		if g == nil {
			g = &group{display: strings.TrimSpace(def.Category)}
			groups[key] = g
			order = append(order, key)
		}
		cost, err := wei.Parse(def.Pricing.CostInWei)
		if err != nil {
			// A malformed stored price should not fail the whole listing.
			cost = wei.Amount{}
		}
		g.costs = append(g.costs, cost)
	}

	summaries := make([]CategorySummary, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		summaries = append(summaries, CategorySummary{
			Category:     g.display,
			Count:        len(g.costs),
			AvgCostInWei: wei.Avg(g.costs).String(),
		})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].Count != summaries[j].Count {
			return summaries[i].Count > summaries[j].Count
		}
		return summaries[i].Category < summaries[j].Category
	})
	return summaries, nil
}
