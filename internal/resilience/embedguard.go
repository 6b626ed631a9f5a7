package resilience

import (
	"context"

	"github.com/agoramesh/agora/pkg/provider/embeddings"
)

// Ensure GuardedEmbedder satisfies the provider interface.
var _ embeddings.Provider = (*GuardedEmbedder)(nil)

// GuardedEmbedder wraps an [embeddings.Provider] with a [CircuitBreaker].
// During an embedding-service outage, registration and search requests fail
// fast with [ErrCircuitOpen] instead of each waiting out a full upstream
// timeout.
type GuardedEmbedder struct {
	inner   embeddings.Provider
	breaker *CircuitBreaker
}

// GuardEmbedder wraps provider with breaker. A nil breaker gets defaults
// named after the provider's model.
func GuardEmbedder(provider embeddings.Provider, breaker *CircuitBreaker) *GuardedEmbedder {
	if breaker == nil {
		breaker = NewCircuitBreaker(CircuitBreakerConfig{Name: "embeddings/" + provider.ModelID()})
	}
	return &GuardedEmbedder{inner: provider, breaker: breaker}
}

// Embed implements [embeddings.Provider] through the breaker.
func (g *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := g.breaker.Execute(func() error {
		var embedErr error
		vec, embedErr = g.inner.Embed(ctx, text)
		return embedErr
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// Dimensions implements [embeddings.Provider].
func (g *GuardedEmbedder) Dimensions() int { return g.inner.Dimensions() }

// ModelID implements [embeddings.Provider].
func (g *GuardedEmbedder) ModelID() string { return g.inner.ModelID() }

// BreakerState exposes the breaker state for readiness reporting.
func (g *GuardedEmbedder) BreakerState() State { return g.breaker.State() }
