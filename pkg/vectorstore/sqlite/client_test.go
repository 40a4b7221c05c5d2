package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studysync/ragchat-go/pkg/vectorstore"
	sqliteIndex "github.com/studysync/ragchat-go/pkg/vectorstore/sqlite"
)

func setupSQLiteTest(t *testing.T) vectorstore.Index {
	t.Helper()

	client, err := sqliteIndex.NewClient(&sqliteIndex.Config{
		DBPath: filepath.Join(t.TempDir(), "vectors.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func seedVectors(t *testing.T, index vectorstore.Index, namespace string) {
	t.Helper()

	vectors := []vectorstore.Vector{
		{
			ID:     "a_chunk_0",
			Values: []float64{1, 0, 0},
			Metadata: map[string]interface{}{
				"conversationId": "conv_a",
				"text":           "alpha text",
			},
		},
		{
			ID:     "a_chunk_1",
			Values: []float64{0.9, 0.1, 0},
			Metadata: map[string]interface{}{
				"conversationId": "conv_a",
				"text":           "alpha follow-up",
			},
		},
		{
			ID:     "b_chunk_0",
			Values: []float64{0, 1, 0},
			Metadata: map[string]interface{}{
				"conversationId": "conv_b",
				"text":           "beta text",
			},
		},
	}
	require.NoError(t, index.Upsert(context.Background(), vectors, namespace))
}

func TestSQLiteIndex_UpsertAndQuery(t *testing.T) {
	index := setupSQLiteTest(t)
	ctx := context.Background()
	seedVectors(t, index, "conversations")

	matches, err := index.Query(ctx, []float64{1, 0, 0}, 10, nil, "conversations")
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// Ordered by descending similarity
	assert.Equal(t, "a_chunk_0", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, "alpha text", matches[0].Metadata["text"])
}

func TestSQLiteIndex_QueryFilter(t *testing.T) {
	index := setupSQLiteTest(t)
	ctx := context.Background()
	seedVectors(t, index, "conversations")

	matches, err := index.Query(ctx, []float64{1, 0, 0}, 10,
		vectorstore.Filter{"conversationId": "conv_b"}, "conversations")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b_chunk_0", matches[0].ID)
}

func TestSQLiteIndex_UpsertReplaces(t *testing.T) {
	index := setupSQLiteTest(t)
	ctx := context.Background()
	seedVectors(t, index, "conversations")

	replacement := []vectorstore.Vector{{
		ID:     "a_chunk_0",
		Values: []float64{0, 0, 1},
		Metadata: map[string]interface{}{
			"conversationId": "conv_a",
			"text":           "replaced",
		},
	}}
	require.NoError(t, index.Upsert(ctx, replacement, "conversations"))

	matches, err := index.Query(ctx, []float64{0, 0, 1}, 1, nil, "conversations")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a_chunk_0", matches[0].ID)
	assert.Equal(t, "replaced", matches[0].Metadata["text"])
}

func TestSQLiteIndex_NamespaceIsolation(t *testing.T) {
	index := setupSQLiteTest(t)
	ctx := context.Background()
	seedVectors(t, index, "conversations")

	matches, err := index.Query(ctx, []float64{1, 0, 0}, 10, nil, "other")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSQLiteIndex_DeleteMany(t *testing.T) {
	index := setupSQLiteTest(t)
	ctx := context.Background()
	seedVectors(t, index, "conversations")

	err := index.DeleteMany(ctx, vectorstore.Filter{"conversationId": "conv_a"}, "conversations")
	require.NoError(t, err)

	matches, err := index.Query(ctx, []float64{1, 0, 0}, 10, nil, "conversations")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b_chunk_0", matches[0].ID)

	// Deleting again is idempotent
	err = index.DeleteMany(ctx, vectorstore.Filter{"conversationId": "conv_a"}, "conversations")
	assert.NoError(t, err)
}
