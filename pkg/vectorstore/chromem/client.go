// Package chromem provides an embedded, pure-Go implementation of the
// vector index on top of chromem-go. No external service or cgo is
// required, which makes it the default for local development.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/studysync/ragchat-go/pkg/vectorstore"
)

// Client implements vectorstore.Index using chromem-go collections, one per
// namespace.
type Client struct {
	db          *chromemgo.DB
	collections map[string]*chromemgo.Collection
	mu          sync.RWMutex
}

// NewClient creates a new in-memory chromem index client.
func NewClient() (*Client, error) {
	return &Client{
		db:          chromemgo.NewDB(),
		collections: make(map[string]*chromemgo.Collection),
	}, nil
}

// getOrCreateCollection returns the collection backing a namespace.
func (c *Client) getOrCreateCollection(namespace string) (*chromemgo.Collection, error) {
	c.mu.RLock()
	col, exists := c.collections[namespace]
	c.mu.RUnlock()
	if exists {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring the write lock
	if col, exists := c.collections[namespace]; exists {
		return col, nil
	}

	name := namespace
	if name == "" {
		name = "default"
	}

	// Embeddings are always provided by the caller, so no embedding func.
	col, err := c.db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	c.collections[namespace] = col
	return col, nil
}

// Upsert inserts or replaces vectors in the namespace.
func (c *Client) Upsert(ctx context.Context, vectors []vectorstore.Vector, namespace string) error {
	col, err := c.getOrCreateCollection(namespace)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	for _, vector := range vectors {
		metadata := make(map[string]string, len(vector.Metadata))
		for key, value := range vector.Metadata {
			metadata[key] = fmt.Sprintf("%v", value)
		}

		doc := chromemgo.Document{
			ID:        vector.ID,
			Metadata:  metadata,
			Embedding: toFloat32(vector.Values),
			// chromem requires non-empty content; mirror the text metadata.
			Content: metadata["text"],
		}
		if doc.Content == "" {
			doc.Content = vector.ID
		}

		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}
	}

	return nil
}

// Query returns the topK nearest records by cosine similarity.
func (c *Client) Query(ctx context.Context, vector []float64, topK int, filter vectorstore.Filter, namespace string) ([]vectorstore.Match, error) {
	col, err := c.getOrCreateCollection(namespace)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	// chromem rejects nResults greater than the collection size.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	where := make(map[string]string, len(filter))
	for key, value := range filter {
		where[key] = fmt.Sprintf("%v", value)
	}

	results, err := col.QueryEmbedding(ctx, toFloat32(vector), topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("Query: %w", err)
	}

	matches := make([]vectorstore.Match, 0, len(results))
	for _, result := range results {
		metadata := make(map[string]interface{}, len(result.Metadata))
		for key, value := range result.Metadata {
			metadata[key] = value
		}

		matches = append(matches, vectorstore.Match{
			ID:       result.ID,
			Score:    float64(result.Similarity),
			Metadata: metadata,
		})
	}

	return matches, nil
}

// DeleteMany removes every record in the namespace matching the filter.
func (c *Client) DeleteMany(ctx context.Context, filter vectorstore.Filter, namespace string) error {
	col, err := c.getOrCreateCollection(namespace)
	if err != nil {
		return fmt.Errorf("DeleteMany: %w", err)
	}

	if col.Count() == 0 {
		return nil
	}

	where := make(map[string]string, len(filter))
	for key, value := range filter {
		where[key] = fmt.Sprintf("%v", value)
	}

	if err := col.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("DeleteMany: %w", err)
	}

	return nil
}

// Close releases the in-memory collections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collections = make(map[string]*chromemgo.Collection)
	return nil
}

func toFloat32(vector []float64) []float32 {
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(v)
	}
	return out
}
