package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studysync/ragchat-go/pkg/chunker"
)

func TestChunk_Empty(t *testing.T) {
	assert.Empty(t, chunker.Chunk("", 500))
	assert.Empty(t, chunker.Chunk("   \n  ", 500))
}

func TestChunk_SingleSentence(t *testing.T) {
	chunks := chunker.Chunk("This is one sentence.", 500)
	require.Len(t, chunks, 1)
	assert.Equal(t, "This is one sentence.", chunks[0])
}

func TestChunk_GreedyAccumulation(t *testing.T) {
	text := "First sentence here. Second sentence here. Third sentence here."
	chunks := chunker.Chunk(text, 45)

	// The first two sentences fit together; the third starts a new chunk
	require.Len(t, chunks, 2)
	assert.Equal(t, "First sentence here. Second sentence here.", chunks[0])
	assert.Equal(t, "Third sentence here.", chunks[1])
}

func TestChunk_RespectsMaxSize(t *testing.T) {
	text := "One two three. Four five six! Seven eight nine? Ten eleven twelve."
	for _, size := range []int{20, 40, 80} {
		for _, chunk := range chunker.Chunk(text, size) {
			assert.LessOrEqual(t, len(chunk), size, "chunk %q exceeds %d", chunk, size)
		}
	}
}

func TestChunk_OversizeSentenceEmittedWhole(t *testing.T) {
	long := strings.Repeat("word ", 40) + "end."
	chunks := chunker.Chunk("Short one. "+long, 30)

	oversize := 0
	for _, chunk := range chunks {
		if len(chunk) > 30 {
			oversize++
			assert.Contains(t, chunk, "end.")
		}
	}
	assert.Equal(t, 1, oversize, "exactly one chunk may exceed the budget")
}

func TestChunk_PreservesSentenceOrder(t *testing.T) {
	text := "Alpha is first. Beta is second! Gamma is third? Delta is fourth."
	chunks := chunker.Chunk(text, 30)

	joined := strings.Join(chunks, " ")
	for _, word := range []string{"Alpha", "Beta", "Gamma", "Delta"} {
		assert.Contains(t, joined, word)
	}

	// Order survives reassembly
	assert.Less(t, strings.Index(joined, "Alpha"), strings.Index(joined, "Beta"))
	assert.Less(t, strings.Index(joined, "Beta"), strings.Index(joined, "Gamma"))
	assert.Less(t, strings.Index(joined, "Gamma"), strings.Index(joined, "Delta"))
}

func TestChunk_TerminatorRuns(t *testing.T) {
	chunks := chunker.Chunk("Wait... really?! Yes.", 500)
	require.NotEmpty(t, chunks)
	assert.Contains(t, strings.Join(chunks, " "), "Wait...")
}
