// Package embeddings defines the Provider interface for the text-embedding
// collaborator of the marketplace.
//
// A provider maps arbitrary text — a tool's combined name, description,
// category, and parameter descriptions at registration time, or a free-text
// search query at discovery time — to a dense float32 vector of fixed length.
// Those vectors are the sole basis of semantic tool discovery.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// Every vector produced by one Provider instance has length Dimensions().
// Vectors from different providers (or different models of one provider) live
// in incompatible spaces and must never be compared against each other; the
// marketplace runs a single provider for this reason, with no fallback chain.
type Provider interface {
	// Embed computes the embedding vector for text. Returns a float32 slice
	// of length Dimensions(), or an error if the backend fails or ctx is
	// cancelled. The provider passes text through verbatim; callers own any
	// model-specific prefixing.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces. Constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the backend-specific model identifier, for logging
	// and for detecting accidental model changes across restarts.
	ModelID() string
}
