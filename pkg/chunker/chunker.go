// Package chunker splits free text into bounded segments suitable for
// embedding and similarity search.
//
// Splitting happens on sentence boundaries so that each stored chunk keeps
// enough local context to be retrievable on its own.
package chunker

import "strings"

// DefaultMaxChunkSize is the chunk size used when callers pass a
// non-positive maximum.
const DefaultMaxChunkSize = 500

// Chunk splits text into ordered segments of at most maxChunkSize characters.
//
// The text is first split into sentences (terminated by '.', '!' or '?').
// Sentences are then accumulated greedily: a new chunk starts whenever
// appending the next sentence would exceed maxChunkSize.
//
// Guarantees:
//   - every returned chunk is <= maxChunkSize characters, except when a
//     single sentence alone exceeds the limit (it is emitted whole, unsplit)
//   - empty or whitespace-only input yields an empty slice
//   - any other input yields at least one chunk
//   - concatenating the chunks reproduces the input sentences in order
func Chunk(text string, maxChunkSize int) []string {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current string

	for _, sentence := range sentences {
		if current == "" {
			current = sentence
			continue
		}
		if len(current)+1+len(sentence) > maxChunkSize {
			chunks = append(chunks, current)
			current = sentence
			continue
		}
		current = current + " " + sentence
	}

	if current != "" {
		chunks = append(chunks, current)
	}

	return chunks
}

// splitSentences splits text on sentence terminators, keeping the
// terminators attached to their sentence. Whitespace-only fragments are
// dropped.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		b.WriteRune(runes[i])
		if isTerminator(runes[i]) {
			// Consume a run of terminators ("..." or "?!") as one boundary.
			for i+1 < len(runes) && isTerminator(runes[i+1]) {
				i++
				b.WriteRune(runes[i])
			}
			flush()
		}
	}
	flush()

	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
