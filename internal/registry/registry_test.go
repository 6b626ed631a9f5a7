package registry

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/agoramesh/agora/internal/observe"
	"github.com/agoramesh/agora/pkg/market"
	"github.com/agoramesh/agora/pkg/market/memstore"
	"github.com/agoramesh/agora/pkg/provider/embeddings/mock"
)

func validSpec() Spec {
	return Spec{
		Name:        "Weather Lookup",
		Description: "Current conditions by city name",
		Category:    "weather",
		API: market.APIConfig{
			Endpoint: "https://api.example.com/weather",
			Method:   market.MethodGet,
		},
		Parameters: []market.Parameter{
			{Name: "city", Type: market.TypeString, Required: true, Description: "city name to look up"},
		},
		CostInWei: "1000000000000000",
		IsPublic:  true,
	}
}

func newRegistry() (*Registry, *memstore.MemStore, *mock.Provider) {
	store := memstore.New()
	embedder := &mock.Provider{
		EmbedResult:     []float32{0.1, 0.2, 0.3},
		DimensionsValue: 3,
		ModelIDValue:    "test-embed-v1",
	}
	return New(store, embedder), store, embedder
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	reg, _, embedder := newRegistry()

	def, err := reg.Register(ctx, "alice", validSpec())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if def.ID == "" {
		t.Error("no tool id assigned")
	}
	if def.OwnerID != "alice" {
		t.Errorf("owner = %q, want alice", def.OwnerID)
	}
	if len(def.Embedding) == 0 {
		t.Error("embedding is empty")
	}
	if !def.Metadata.IsActive {
		t.Error("new tool should be active")
	}
	if def.Pricing.ETHCost != "1.000 mETH" {
		t.Errorf("ethCost = %q, want \"1.000 mETH\"", def.Pricing.ETHCost)
	}

	// The embedded text covers name, description, category, and parameter
	// descriptions.
	calls := embedder.Calls()
	if len(calls) != 1 {
		t.Fatalf("embedder saw %d calls, want 1", len(calls))
	}
	for _, piece := range []string{"Weather Lookup", "Current conditions by city name", "weather", "city name to look up"} {
		if !containsLine(calls[0], piece) {
			t.Errorf("embedded text missing %q:\n%s", piece, calls[0])
		}
	}
}

func containsLine(text, line string) bool {
	for _, l := range splitLines(text) {
		if l == line {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return append(lines, s[start:])
}

func TestRegister_UniqueIDs(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		def, err := reg.Register(ctx, "alice", validSpec())
		if err != nil {
			t.Fatalf("Register %d: %v", i, err)
		}
		if seen[def.ID] {
			t.Fatalf("tool id %q issued twice", def.ID)
		}
		seen[def.ID] = true
	}
}

func TestRegister_AppliesAPIDefaults(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newRegistry()

	spec := validSpec()
	spec.API.Timeout = 0
	spec.API.MaxRetries = 0

	def, err := reg.Register(ctx, "alice", spec)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if def.API.Timeout != market.DefaultCallTimeout {
		t.Errorf("timeout = %v, want %v", def.API.Timeout, market.DefaultCallTimeout)
	}
	if def.API.MaxRetries != market.DefaultMaxRetries {
		t.Errorf("maxRetries = %d, want %d", def.API.MaxRetries, market.DefaultMaxRetries)
	}
}

func TestRegister_EmbeddingUnavailable(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	embedder := &mock.Provider{EmbedErr: errors.New("upstream 503")}
	reg := New(store, embedder)

	_, err := reg.Register(ctx, "alice", validSpec())
	if !errors.Is(err, market.ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}

	// Nothing may be persisted without a vector.
	defs, _ := store.ListTools(ctx, market.ToolFilter{})
	if len(defs) != 0 {
		t.Errorf("store holds %d tools after failed registration, want 0", len(defs))
	}
}

func TestRegister_InvalidSpec(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newRegistry()

	spec := validSpec()
	spec.Name = ""
	spec.API.Endpoint = ""
	spec.CostInWei = "-5"
	spec.Parameters = append(spec.Parameters, market.Parameter{
		Name: "bad", Type: "integer",
		Validation: &market.Validation{Pattern: "("},
	})

	_, err := reg.Register(ctx, "alice", spec)
	var ve *market.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(ve.Issues) != 4 {
		t.Errorf("got %d issues, want 4: %v", len(ve.Issues), ve.Issues)
	}
}

func TestUpdate_PricingOnlyKeepsEmbedding(t *testing.T) {
	ctx := context.Background()
	reg, _, embedder := newRegistry()

	def, err := reg.Register(ctx, "alice", validSpec())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	before := def.Embedding

	newCost := "2000000000000000000"
	updated, err := reg.Update(ctx, def.ID, Patch{CostInWei: &newCost})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(embedder.Calls()) != 1 {
		t.Errorf("embedder called %d times, want 1 (no recomputation for pricing)", len(embedder.Calls()))
	}
	if len(updated.Embedding) != len(before) {
		t.Fatal("embedding length changed")
	}
	for i := range before {
		if updated.Embedding[i] != before[i] {
			t.Fatalf("embedding[%d] changed on pricing-only update", i)
		}
	}
	if updated.Pricing.CostInWei != newCost {
		t.Errorf("cost = %q, want %q", updated.Pricing.CostInWei, newCost)
	}
	if updated.Pricing.ETHCost != "2.0 ETH" {
		t.Errorf("ethCost = %q, want \"2.0 ETH\"", updated.Pricing.ETHCost)
	}
}

func TestUpdate_DescriptionRecomputesEmbedding(t *testing.T) {
	ctx := context.Background()
	reg, _, embedder := newRegistry()

	def, err := reg.Register(ctx, "alice", validSpec())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	embedder.EmbedResult = []float32{0.9, 0.9, 0.9}
	newDesc := "Hourly forecasts with precipitation data"
	updated, err := reg.Update(ctx, def.ID, Patch{Description: &newDesc})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(embedder.Calls()) != 2 {
		t.Fatalf("embedder called %d times, want 2", len(embedder.Calls()))
	}
	if updated.Embedding[0] != 0.9 {
		t.Error("embedding was not recomputed")
	}
}

func TestUpdate_NotFound(t *testing.T) {
	reg, _, _ := newRegistry()
	_, err := reg.Update(context.Background(), "ghost", Patch{})
	if !errors.Is(err, market.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdate_EmbeddingFailureAbortsPersist(t *testing.T) {
	ctx := context.Background()
	reg, store, embedder := newRegistry()

	def, err := reg.Register(ctx, "alice", validSpec())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	embedder.EmbedErr = errors.New("outage")
	newName := "Renamed"
	if _, err := reg.Update(ctx, def.ID, Patch{Name: &newName}); !errors.Is(err, market.ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}

	stored, _ := store.GetTool(ctx, def.ID)
	if stored.Name != "Weather Lookup" {
		t.Errorf("name = %q — failed update must not persist", stored.Name)
	}
}

func TestDeactivate(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newRegistry()

	def, err := reg.Register(ctx, "alice", validSpec())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	flipped, err := reg.Deactivate(ctx, def.ID)
	if err != nil || !flipped {
		t.Fatalf("Deactivate: flipped=%v err=%v", flipped, err)
	}
	flipped, err = reg.Deactivate(ctx, def.ID)
	if err != nil || flipped {
		t.Fatalf("second Deactivate: flipped=%v err=%v, want false nil", flipped, err)
	}

	// Soft delete: the record is still resolvable.
	got, err := reg.GetByID(ctx, def.ID)
	if err != nil {
		t.Fatalf("GetByID after deactivate: %v", err)
	}
	if got.Metadata.IsActive {
		t.Error("tool still active after deactivate")
	}
}

func TestEmbeddingText_DropsEmptyPieces(t *testing.T) {
	got := EmbeddingText("Name", "", "  ", []market.Parameter{
		{Name: "a", Description: "first input"},
		{Name: "b"},
	})
	want := "Name\nfirst input"
	if got != want {
		t.Errorf("EmbeddingText = %q, want %q", got, want)
	}
}

func TestRegister_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	store := memstore.New()
	embedder := &mock.Provider{EmbedResult: []float32{1}, DimensionsValue: 1, ModelIDValue: "m"}
	reg := New(store, embedder, WithMetrics(m))

	if _, err := reg.Register(ctx, "alice", validSpec()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	embedder.EmbedErr = errors.New("collaborator down")
	if _, err := reg.Register(ctx, "alice", validSpec()); err == nil {
		t.Fatal("expected embedding failure")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := counterTotal(rm, "agora.tools.registered"); got != 1 {
		t.Errorf("tools.registered = %d, want 1 (failed registration must not count)", got)
	}
	if got := counterTotal(rm, "agora.embedding.requests"); got != 2 {
		t.Errorf("embedding.requests = %d, want 2 (one ok, one error)", got)
	}
}

// counterTotal sums every data point of the named int64 counter.
func counterTotal(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != name {
				continue
			}
			if sum, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
