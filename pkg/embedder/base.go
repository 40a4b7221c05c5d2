// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must
// satisfy, plus a Fallback wrapper that keeps retrieval working (degraded)
// when the external provider is unreachable.
package embedder

import "context"

// Embedding provenance tags. Vectors produced by the primary provider and
// vectors produced by the deterministic fallback are not comparable to each
// other; callers store the tag alongside each vector and filter retrieval
// to a single provenance.
const (
	// TagPrimary marks vectors produced by the external provider.
	TagPrimary = "primary"

	// TagFallback marks vectors produced by the deterministic hash fallback.
	TagFallback = "fallback"
)

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI, the hash fallback, etc.) must
// implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// This method is more efficient than calling Embed multiple times,
	// as it can batch process requests.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by
	// this provider.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// TaggedProvider is a Provider that also reports which path produced each
// vector. The Fallback wrapper implements it; callers that care about
// provenance (the vector memory service) type-assert for it.
type TaggedProvider interface {
	Provider

	// EmbedTagged embeds text and returns the provenance tag of the path
	// that produced the vector (TagPrimary or TagFallback).
	EmbedTagged(ctx context.Context, text string) ([]float64, string, error)

	// EmbedBatchTagged embeds a batch and returns one provenance tag for
	// the whole batch. A batch never mixes provenances.
	EmbedBatchTagged(ctx context.Context, texts []string) ([][]float64, string, error)
}
