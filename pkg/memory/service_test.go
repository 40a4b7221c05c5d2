package memory_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studysync/ragchat-go/pkg/embedder"
	"github.com/studysync/ragchat-go/pkg/memory"
	"github.com/studysync/ragchat-go/pkg/vectorstore"
	sqliteIndex "github.com/studysync/ragchat-go/pkg/vectorstore/sqlite"
)

func setupService(t *testing.T) *memory.Service {
	t.Helper()

	index, err := sqliteIndex.NewClient(&sqliteIndex.Config{
		DBPath: filepath.Join(t.TempDir(), "memory.db"),
	})
	require.NoError(t, err)

	svc := memory.NewService(index, embedder.NewFallback(nil, 64))
	t.Cleanup(func() { _ = svc.Close() })

	return svc
}

func TestService_RoundTrip(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	text := "Neural networks are computing systems. They learn from examples. Backpropagation adjusts the weights."
	count, err := svc.StoreConversationChunks(ctx, "conv_1", text, memory.KindOriginalContent, nil)
	require.NoError(t, err)
	require.Greater(t, count, 0)

	results := svc.SearchConversation(ctx, "conv_1", "Neural networks are computing systems.", 1, 0)
	require.Len(t, results, 1)
	assert.True(t, strings.Contains(text, results[0].Text),
		"returned chunk %q should be a substring of the stored text", results[0].Text)
	assert.Equal(t, memory.KindOriginalContent, results[0].Metadata["kind"])
}

func TestService_EmptyTextStoresNothing(t *testing.T) {
	svc := setupService(t)

	count, err := svc.StoreConversationChunks(context.Background(), "conv_1", "   ", memory.KindOriginalContent, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestService_MinScoreFiltering(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.StoreConversationChunks(ctx, "conv_1", "alpha beta gamma delta.", memory.KindOriginalContent, nil)
	require.NoError(t, err)

	// The identical query scores 1.0 in the hash space
	results := svc.SearchConversation(ctx, "conv_1", "alpha beta gamma delta.", 5, 0.99)
	assert.NotEmpty(t, results)

	// A disjoint query hits orthogonal dimensions and is filtered out
	results = svc.SearchConversation(ctx, "conv_1", "unrelated words entirely.", 5, 0.99)
	assert.Empty(t, results)
}

func TestService_ConversationScoping(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.StoreConversationChunks(ctx, "conv_a", "content about topic alpha.", memory.KindOriginalContent, nil)
	require.NoError(t, err)

	results := svc.SearchConversation(ctx, "conv_b", "content about topic alpha.", 5, 0)
	assert.Empty(t, results)
}

func TestService_ExternalKnowledgeSeparation(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	id, err := svc.StoreExternalKnowledge(ctx, "neural networks", "Backpropagation tutorial covering gradients.", "example.org")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "external_"))

	// Found by external search
	results := svc.SearchExternal(ctx, "Backpropagation tutorial covering gradients.", 5, 0)
	require.NotEmpty(t, results)
	assert.Equal(t, "neural networks", results[0].Metadata["topic"])

	// Never mixed into per-conversation retrieval
	convResults := svc.SearchConversation(ctx, "conv_1", "Backpropagation tutorial covering gradients.", 5, 0)
	assert.Empty(t, convResults)
}

func TestService_DeleteConversation(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	_, err := svc.StoreConversationChunks(ctx, "conv_1", "some stored content here.", memory.KindOriginalContent, nil)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteConversation(ctx, "conv_1"))
	results := svc.SearchConversation(ctx, "conv_1", "some stored content here.", 5, 0)
	assert.Empty(t, results)

	// Idempotent
	assert.NoError(t, svc.DeleteConversation(ctx, "conv_1"))
}

// brokenIndex simulates an unreachable vector store.
type brokenIndex struct{}

func (brokenIndex) Upsert(ctx context.Context, vectors []vectorstore.Vector, namespace string) error {
	return errors.New("store unreachable")
}

func (brokenIndex) Query(ctx context.Context, vector []float64, topK int, filter vectorstore.Filter, namespace string) ([]vectorstore.Match, error) {
	return nil, errors.New("store unreachable")
}

func (brokenIndex) DeleteMany(ctx context.Context, filter vectorstore.Filter, namespace string) error {
	return errors.New("store unreachable")
}

func (brokenIndex) Close() error { return nil }

func TestService_SearchDegradesWhenUnreachable(t *testing.T) {
	svc := memory.NewService(brokenIndex{}, embedder.NewFallback(nil, 16))

	// Search returns empty, never an error
	results := svc.SearchConversation(context.Background(), "conv_1", "anything", 5, 0)
	assert.Empty(t, results)

	results = svc.SearchExternal(context.Background(), "anything", 5, 0)
	assert.Empty(t, results)
}

// flakyProvider succeeds until failNow is flipped, then always fails. Used
// to verify that fallback-embedded queries never score against
// primary-embedded vectors.
type flakyProvider struct {
	failNow    bool
	dimensions int
}

func (p *flakyProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if p.failNow {
		return nil, errors.New("quota exceeded")
	}
	vector := make([]float64, p.dimensions)
	vector[0] = 1
	return vector, nil
}

func (p *flakyProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vector, err := p.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (p *flakyProvider) Dimensions() int { return p.dimensions }
func (p *flakyProvider) Close() error    { return nil }

func TestService_ProvenanceNeverMixed(t *testing.T) {
	index, err := sqliteIndex.NewClient(&sqliteIndex.Config{
		DBPath: filepath.Join(t.TempDir(), "memory.db"),
	})
	require.NoError(t, err)

	provider := &flakyProvider{dimensions: 16}
	svc := memory.NewService(index, embedder.NewFallback(provider, 16))
	t.Cleanup(func() { _ = svc.Close() })

	ctx := context.Background()

	// Stored while the provider is healthy: tagged primary
	_, err = svc.StoreConversationChunks(ctx, "conv_1", "stored with the real provider.", memory.KindOriginalContent, nil)
	require.NoError(t, err)

	// Queried after the provider goes down: the fallback-tagged query must
	// not be scored against primary-tagged vectors
	provider.failNow = true
	results := svc.SearchConversation(ctx, "conv_1", "stored with the real provider.", 5, 0)
	assert.Empty(t, results)
}
