// Package registry owns the canonical lifecycle of tool definitions:
// registration, updates, soft deletion, and lookup.
//
// Registration computes the tool's semantic search vector synchronously via
// the embeddings collaborator and refuses to persist a definition without
// one — a tool lacking a vector would be permanently invisible to discovery.
// Updates that touch the embedded fields (name, description, category, or
// parameter descriptions) recompute the vector; all other updates leave it
// byte-for-byte untouched.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agoramesh/agora/internal/observe"
	"github.com/agoramesh/agora/pkg/market"
	"github.com/agoramesh/agora/pkg/provider/embeddings"
	"github.com/agoramesh/agora/pkg/wei"
)

// Registry is the tool definition service. Safe for concurrent use.
type Registry struct {
	store    market.ToolStore
	embedder embeddings.Provider
	metrics  *observe.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics enables instrument recording. Nil metrics are a no-op.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates a Registry over store, using embedder for search vectors.
func New(store market.ToolStore, embedder embeddings.Provider, opts ...Option) *Registry {
	r := &Registry{store: store, embedder: embedder}
	for _, o := range opts {
		o(r)
	}
	return r
}

// embed calls the collaborator, counting the request either way.
func (r *Registry) embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := r.embedder.Embed(ctx, text)
	if r.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		r.metrics.EmbeddingRequests.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", status)))
	}
	return vector, err
}

// Spec is the caller-supplied portion of a registration. Everything else
// (id, embedding, timestamps, active flag) is assigned by the registry.
type Spec struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	API         market.APIConfig   `json:"apiConfig"`
	Parameters  []market.Parameter `json:"parameters,omitempty"`
	CostInWei   string             `json:"costInWei"`
	Tags        []string           `json:"tags,omitempty"`
	Version     string             `json:"version,omitempty"`
	IsPublic    bool               `json:"isPublic"`

	RateLimitPerMinute int `json:"rateLimitPerMinute,omitempty"`
}

// Register validates spec, computes its embedding, and persists a new active
// tool owned by ownerID.
//
// Returns a [market.ValidationError] for malformed specs and
// [market.ErrEmbeddingUnavailable] (wrapped) when the embeddings collaborator
// fails — in that case nothing is persisted.
func (r *Registry) Register(ctx context.Context, ownerID string, spec Spec) (market.ToolDefinition, error) {
	if issues := validateSpec(&spec); len(issues) > 0 {
		return market.ToolDefinition{}, &market.ValidationError{Issues: issues}
	}

	vector, err := r.embed(ctx, EmbeddingText(spec.Name, spec.Description, spec.Category, spec.Parameters))
	if err != nil {
		return market.ToolDefinition{}, fmt.Errorf("%w: %v", market.ErrEmbeddingUnavailable, err)
	}

	now := time.Now().UTC()
	def := market.ToolDefinition{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        spec.Name,
		Description: spec.Description,
		Category:    spec.Category,
		API:         withAPIDefaults(spec.API),
		Parameters:  spec.Parameters,
		Pricing: market.Pricing{
			CostInWei: costOrZero(spec.CostInWei),
			ETHCost:   wei.DisplayString(costOrZero(spec.CostInWei)),
		},
		Metadata: market.Metadata{
			Tags:               spec.Tags,
			Version:            spec.Version,
			IsActive:           true,
			IsPublic:           spec.IsPublic,
			RateLimitPerMinute: spec.RateLimitPerMinute,
		},
		Embedding: vector,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.CreateTool(ctx, def); err != nil {
		return market.ToolDefinition{}, fmt.Errorf("registry: register %q: %w", spec.Name, err)
	}

	if r.metrics != nil {
		r.metrics.ToolsRegistered.Add(ctx, 1,
			metric.WithAttributes(attribute.String("category", def.Category)))
	}
	slog.Info("tool registered",
		"tool_id", def.ID,
		"owner_id", ownerID,
		"name", def.Name,
		"category", def.Category,
		"cost", def.Pricing.ETHCost,
	)
	return def, nil
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name        *string             `json:"name,omitempty"`
	Description *string             `json:"description,omitempty"`
	Category    *string             `json:"category,omitempty"`
	API         *market.APIConfig   `json:"apiConfig,omitempty"`
	Parameters  *[]market.Parameter `json:"parameters,omitempty"`
	CostInWei   *string             `json:"costInWei,omitempty"`
	Tags        *[]string           `json:"tags,omitempty"`
	Version     *string             `json:"version,omitempty"`
	IsPublic    *bool               `json:"isPublic,omitempty"`

	RateLimitPerMinute *int `json:"rateLimitPerMinute,omitempty"`
}

// touchesEmbedding reports whether applying p can change the embedded text.
func (p *Patch) touchesEmbedding() bool {
	return p.Name != nil || p.Description != nil || p.Category != nil || p.Parameters != nil
}

// Update applies patch to an existing tool. When the patch touches name,
// description, category, or parameters, the embedding is recomputed before
// persisting; otherwise the stored vector is reused unchanged.
//
// Returns [market.ErrNotFound] for unknown ids and
// [market.ErrEmbeddingUnavailable] when a required recomputation fails (the
// update is then aborted, nothing persisted).
func (r *Registry) Update(ctx context.Context, toolID string, patch Patch) (market.ToolDefinition, error) {
	def, err := r.store.GetTool(ctx, toolID)
	if err != nil {
		return market.ToolDefinition{}, fmt.Errorf("registry: update %s: %w", toolID, err)
	}

	applyPatch(&def, &patch)

	spec := Spec{
		Name: def.Name, Description: def.Description, Category: def.Category,
		API: def.API, Parameters: def.Parameters, CostInWei: def.Pricing.CostInWei,
	}
	if issues := validateSpec(&spec); len(issues) > 0 {
		return market.ToolDefinition{}, &market.ValidationError{Issues: issues}
	}

	if patch.touchesEmbedding() {
		vector, err := r.embed(ctx, EmbeddingText(def.Name, def.Description, def.Category, def.Parameters))
		if err != nil {
			return market.ToolDefinition{}, fmt.Errorf("%w: %v", market.ErrEmbeddingUnavailable, err)
		}
		def.Embedding = vector
	}

	def.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateTool(ctx, def); err != nil {
		return market.ToolDefinition{}, fmt.Errorf("registry: update %s: %w", toolID, err)
	}

	slog.Info("tool updated",
		"tool_id", def.ID,
		"reembedded", patch.touchesEmbedding(),
	)
	return def, nil
}

// Deactivate soft-deletes a tool. Idempotent; reports whether the flag was
// actually flipped. The definition stays in the store so usage records keep
// resolving.
func (r *Registry) Deactivate(ctx context.Context, toolID string) (bool, error) {
	flipped, err := r.store.DeactivateTool(ctx, toolID)
	if err != nil {
		return false, fmt.Errorf("registry: deactivate %s: %w", toolID, err)
	}
	if flipped {
		slog.Info("tool deactivated", "tool_id", toolID)
	}
	return flipped, nil
}

// GetByID returns a tool, active or not. Returns [market.ErrNotFound] for
// unknown ids.
func (r *Registry) GetByID(ctx context.Context, toolID string) (market.ToolDefinition, error) {
	def, err := r.store.GetTool(ctx, toolID)
	if err != nil {
		return market.ToolDefinition{}, fmt.Errorf("registry: get %s: %w", toolID, err)
	}
	return def, nil
}

// List returns tools matching filter, newest first.
func (r *Registry) List(ctx context.Context, filter market.ToolFilter) ([]market.ToolDefinition, error) {
	defs, err := r.store.ListTools(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	return defs, nil
}

// EmbeddingText builds the text whose vector represents a tool in semantic
// search: name, description, category, and every parameter description,
// newline-joined with empty pieces dropped.
func EmbeddingText(name, description, category string, params []market.Parameter) string {
	pieces := make([]string, 0, 3+len(params))
	for _, p := range []string{name, description, category} {
		if strings.TrimSpace(p) != "" {
			pieces = append(pieces, strings.TrimSpace(p))
		}
	}
	for _, param := range params {
		if strings.TrimSpace(param.Description) != "" {
			pieces = append(pieces, strings.TrimSpace(param.Description))
		}
	}
	return strings.Join(pieces, "\n")
}

// validateSpec returns all problems with spec, empty when it is acceptable.
func validateSpec(spec *Spec) []string {
	var issues []string

	if strings.TrimSpace(spec.Name) == "" {
		issues = append(issues, "name is required")
	}
	if strings.TrimSpace(spec.API.Endpoint) == "" {
		issues = append(issues, "apiConfig.endpoint is required")
	}
	if spec.API.Method != "" && !spec.API.Method.IsValid() {
		issues = append(issues, fmt.Sprintf("apiConfig.method %q is not one of GET, POST, PUT, DELETE, PATCH", spec.API.Method))
	}
	if spec.CostInWei != "" && !wei.Valid(spec.CostInWei) {
		issues = append(issues, fmt.Sprintf("costInWei %q is not a non-negative integer", spec.CostInWei))
	}

	seen := make(map[string]bool, len(spec.Parameters))
	for i, p := range spec.Parameters {
		prefix := fmt.Sprintf("parameters[%d]", i)
		if strings.TrimSpace(p.Name) == "" {
			issues = append(issues, prefix+".name is required")
		} else if seen[p.Name] {
			issues = append(issues, fmt.Sprintf("%s.name %q is a duplicate", prefix, p.Name))
		} else {
			seen[p.Name] = true
		}
		if !p.Type.IsValid() {
			issues = append(issues, fmt.Sprintf("%s.type %q is not one of string, number, boolean, object, array", prefix, p.Type))
		}
		if p.Validation != nil {
			if p.Validation.Pattern != "" {
				if _, err := regexp.Compile(p.Validation.Pattern); err != nil {
					issues = append(issues, fmt.Sprintf("%s.validation.pattern does not compile: %v", prefix, err))
				}
			}
			if p.Validation.Min != nil && p.Validation.Max != nil && *p.Validation.Min > *p.Validation.Max {
				issues = append(issues, prefix+".validation: min exceeds max")
			}
		}
	}
	return issues
}

// applyPatch copies every non-nil patch field onto def.
func applyPatch(def *market.ToolDefinition, p *Patch) {
	if p.Name != nil {
		def.Name = *p.Name
	}
	if p.Description != nil {
		def.Description = *p.Description
	}
	if p.Category != nil {
		def.Category = *p.Category
	}
	if p.API != nil {
		def.API = withAPIDefaults(*p.API)
	}
	if p.Parameters != nil {
		def.Parameters = *p.Parameters
	}
	if p.CostInWei != nil {
		def.Pricing.CostInWei = costOrZero(*p.CostInWei)
		def.Pricing.ETHCost = wei.DisplayString(def.Pricing.CostInWei)
	}
	if p.Tags != nil {
		def.Metadata.Tags = *p.Tags
	}
	if p.Version != nil {
		def.Metadata.Version = *p.Version
	}
	if p.IsPublic != nil {
		def.Metadata.IsPublic = *p.IsPublic
	}
	if p.RateLimitPerMinute != nil {
		def.Metadata.RateLimitPerMinute = *p.RateLimitPerMinute
	}
}

// withAPIDefaults fills unset call limits and method.
func withAPIDefaults(api market.APIConfig) market.APIConfig {
	if api.Method == "" {
		api.Method = market.MethodPost
	}
	if api.Timeout <= 0 {
		api.Timeout = market.DefaultCallTimeout
	}
	if api.MaxRetries <= 0 {
		api.MaxRetries = market.DefaultMaxRetries
	}
	return api
}

// costOrZero canonicalises an unset price to "0".
func costOrZero(cost string) string {
	if cost == "" {
		return "0"
	}
	return cost
}
