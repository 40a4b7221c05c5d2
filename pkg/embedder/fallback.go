package embedder

import (
	"context"
	"math"
	"strings"
)

// Fallback wraps a primary Provider with a deterministic bag-of-words hash
// embedding of the same dimensionality.
//
// Any failure of the primary provider (network, quota, malformed response)
// degrades to the hash embedding instead of failing the caller, so
// retrieval keeps working offline. The fallback is a pure function of the
// input text: the same text always produces the same vector.
//
// Hash vectors occupy a different similarity space than real embeddings;
// use EmbedTagged and store the returned tag so the two spaces are never
// compared against each other.
type Fallback struct {
	primary    Provider
	dimensions int
}

// NewFallback creates a Fallback around primary.
//
// When primary is nil the wrapper runs in permanent fallback mode, which is
// useful for offline development and tests.
func NewFallback(primary Provider, dimensions int) *Fallback {
	if dimensions <= 0 {
		if primary != nil {
			dimensions = primary.Dimensions()
		} else {
			dimensions = 1536
		}
	}
	return &Fallback{
		primary:    primary,
		dimensions: dimensions,
	}
}

// Embed converts text to a vector, degrading to the hash embedding when the
// primary provider fails.
func (f *Fallback) Embed(ctx context.Context, text string) ([]float64, error) {
	vector, _, err := f.EmbedTagged(ctx, text)
	return vector, err
}

// EmbedTagged embeds text and reports which path produced the vector.
func (f *Fallback) EmbedTagged(ctx context.Context, text string) ([]float64, string, error) {
	if f.primary != nil {
		vector, err := f.primary.Embed(ctx, text)
		if err == nil {
			return vector, TagPrimary, nil
		}
	}
	return f.hashEmbedding(text), TagFallback, nil
}

// EmbedBatch converts texts to vectors, degrading the whole batch to hash
// embeddings when the primary provider fails.
func (f *Fallback) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vectors, _, err := f.EmbedBatchTagged(ctx, texts)
	return vectors, err
}

// EmbedBatchTagged embeds a batch and reports a single provenance tag for
// it. A batch is never split across the two paths: mixing spaces inside one
// stored document set would make its similarity scores meaningless.
func (f *Fallback) EmbedBatchTagged(ctx context.Context, texts []string) ([][]float64, string, error) {
	if f.primary != nil {
		vectors, err := f.primary.EmbedBatch(ctx, texts)
		if err == nil {
			return vectors, TagPrimary, nil
		}
	}

	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		vectors[i] = f.hashEmbedding(text)
	}
	return vectors, TagFallback, nil
}

// Dimensions returns the vector dimensions.
func (f *Fallback) Dimensions() int {
	return f.dimensions
}

// Close closes the primary provider, if any.
func (f *Fallback) Close() error {
	if f.primary != nil {
		return f.primary.Close()
	}
	return nil
}

// hashEmbedding builds a bag-of-words vector: each lowercased token hashes
// to one dimension, and repeated hits on a dimension raise its weight. The
// result is normalized to a unit vector so cosine scores stay in range.
func (f *Fallback) hashEmbedding(text string) []float64 {
	vector := make([]float64, f.dimensions)

	for _, word := range strings.Fields(strings.ToLower(text)) {
		var hash int32
		for _, r := range word {
			hash = hash<<5 - hash + r
		}
		index := int(hash)
		if index < 0 {
			index = -index
		}
		index %= f.dimensions
		vector[index] = (vector[index] + 1) * 0.1
	}

	return normalize(vector)
}

// normalize scales a vector to unit length. Zero vectors are returned
// unchanged.
func normalize(vector []float64) []float64 {
	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return vector
	}

	norm = math.Sqrt(norm)
	for i, v := range vector {
		vector[i] = v / norm
	}
	return vector
}
