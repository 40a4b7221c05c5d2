package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
}

func TestCosineSimilarity_Degenerate(t *testing.T) {
	// Mismatched lengths and zero vectors score 0
	assert.Equal(t, 0.0, CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3}))
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 2}))
}

func TestSortByScore(t *testing.T) {
	matches := []Match{
		{ID: "low", Score: 0.2},
		{ID: "high", Score: 0.9},
		{ID: "mid", Score: 0.5},
	}

	sorted := SortByScore(matches, 2)
	assert.Len(t, sorted, 2)
	assert.Equal(t, "high", sorted[0].ID)
	assert.Equal(t, "mid", sorted[1].ID)

	// Non-positive topK keeps everything
	all := SortByScore(matches, 0)
	assert.Len(t, all, 3)
}

func TestFilter_Matches(t *testing.T) {
	metadata := map[string]interface{}{
		"conversationId": "conv_1",
		"chunkIndex":     float64(2), // as it comes back from JSON
	}

	assert.True(t, Filter{"conversationId": "conv_1"}.Matches(metadata))
	assert.True(t, Filter{"chunkIndex": 2}.Matches(metadata))
	assert.False(t, Filter{"conversationId": "conv_2"}.Matches(metadata))
	assert.False(t, Filter{"missing": "x"}.Matches(metadata))
	assert.True(t, Filter{}.Matches(metadata))
}
