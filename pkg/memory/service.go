// Package memory implements the vector memory service: chunking, embedding
// and similarity search over conversation content and external knowledge.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/studysync/ragchat-go/pkg/chunker"
	"github.com/studysync/ragchat-go/pkg/embedder"
	"github.com/studysync/ragchat-go/pkg/vectorstore"
)

// Kinds of stored memory records.
const (
	// KindOriginalContent marks chunks of submitted study material.
	KindOriginalContent = "original_content"

	// KindAssistantResponse marks chunks of assistant answers.
	KindAssistantResponse = "assistant_response"

	// KindExternalKnowledge marks seeded reference entries that are not tied
	// to any conversation.
	KindExternalKnowledge = "external_knowledge"
)

// DefaultNamespace is the index namespace used when none is configured.
const DefaultNamespace = "conversations"

// SearchResult is one retrieval hit.
type SearchResult struct {
	// ID is the stored record's id.
	ID string

	// Text is the chunk text stored with the record.
	Text string

	// Score is the cosine similarity against the query.
	Score float64

	// Metadata is the full metadata stored with the record.
	Metadata map[string]interface{}
}

// Service stores and retrieves vector memory. Retrieval is best-effort: a
// failed search degrades to an empty result instead of failing the caller's
// request, so a broken index never blocks chat.
type Service struct {
	index        vectorstore.Index
	embedder     embedder.TaggedProvider
	namespace    string
	maxChunkSize int
	log          *logrus.Entry
}

// Option is a functional option for the memory service.
type Option func(*Service)

// WithNamespace overrides the index namespace.
func WithNamespace(namespace string) Option {
	return func(s *Service) {
		if namespace != "" {
			s.namespace = namespace
		}
	}
}

// WithMaxChunkSize overrides the chunk size budget.
func WithMaxChunkSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.maxChunkSize = size
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates a memory service over the given index and embedder.
//
// Args:
//   - index: Vector index backend
//   - emb: Tagged embedding provider (typically an embedder.Fallback)
//   - opts: Optional namespace, chunk size and logger overrides
//
// Returns:
//   - *Service: Memory service instance
func NewService(index vectorstore.Index, emb embedder.TaggedProvider, opts ...Option) *Service {
	s := &Service{
		index:        index,
		embedder:     emb,
		namespace:    DefaultNamespace,
		maxChunkSize: chunker.DefaultMaxChunkSize,
		log:          logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StoreConversationChunks chunks text, embeds each chunk and upserts the
// vectors under the conversation. Chunk ids are deterministic
// ("<conversationID>_chunk_<i>"), so re-storing the same content replaces
// the previous vectors instead of duplicating them.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - conversationID: Owning conversation id
//   - text: Content to chunk and embed
//   - kind: Record kind (KindOriginalContent or KindAssistantResponse)
//   - extra: Additional metadata merged into every chunk, may be nil
//
// Returns:
//   - int: Number of chunks stored
//   - error: Returns an error if embedding or upserting fails
func (s *Service) StoreConversationChunks(ctx context.Context, conversationID, text, kind string, extra map[string]interface{}) (int, error) {
	chunks := chunker.Chunk(text, s.maxChunkSize)
	if len(chunks) == 0 {
		return 0, nil
	}

	embeddings, tag, err := s.embedder.EmbedBatchTagged(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("StoreConversationChunks: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	vectors := make([]vectorstore.Vector, len(chunks))
	for i, chunk := range chunks {
		metadata := map[string]interface{}{
			"text":           chunk,
			"conversationId": conversationID,
			"kind":           kind,
			"chunkIndex":     i,
			"totalChunks":    len(chunks),
			"embeddingTag":   tag,
			"timestamp":      now,
		}
		for k, v := range extra {
			metadata[k] = v
		}
		vectors[i] = vectorstore.Vector{
			ID:       fmt.Sprintf("%s_chunk_%d", conversationID, i),
			Values:   embeddings[i],
			Metadata: metadata,
		}
	}

	if err := s.index.Upsert(ctx, vectors, s.namespace); err != nil {
		return 0, fmt.Errorf("StoreConversationChunks: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"kind":            kind,
		"chunks":          len(chunks),
	}).Debug("stored conversation chunks")

	return len(chunks), nil
}

// StoreExternalKnowledge embeds and stores one external knowledge entry.
// External entries carry no conversation id, so conversation-scoped search
// and deletion never touch them.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - topic: Short topic label for the entry
//   - content: Entry text
//   - source: Where the entry came from
//
// Returns:
//   - string: Id of the stored record
//   - error: Returns an error if embedding or upserting fails
func (s *Service) StoreExternalKnowledge(ctx context.Context, topic, content, source string) (string, error) {
	embedding, tag, err := s.embedder.EmbedTagged(ctx, content)
	if err != nil {
		return "", fmt.Errorf("StoreExternalKnowledge: %w", err)
	}

	id := "external_" + uuid.NewString()
	vector := vectorstore.Vector{
		ID:     id,
		Values: embedding,
		Metadata: map[string]interface{}{
			"text":         content,
			"topic":        topic,
			"source":       source,
			"kind":         KindExternalKnowledge,
			"embeddingTag": tag,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := s.index.Upsert(ctx, []vectorstore.Vector{vector}, s.namespace); err != nil {
		return "", fmt.Errorf("StoreExternalKnowledge: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"id":    id,
		"topic": topic,
	}).Debug("stored external knowledge")

	return id, nil
}

// SearchConversation retrieves chunks of one conversation relevant to the
// query. Results below minScore are dropped. Failures are logged and
// degrade to an empty result.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - conversationID: Conversation to search within
//   - query: Query text
//   - topK: Maximum number of results
//   - minScore: Minimum cosine similarity to keep a result
//
// Returns:
//   - []SearchResult: Relevant chunks ordered by descending score
func (s *Service) SearchConversation(ctx context.Context, conversationID, query string, topK int, minScore float64) []SearchResult {
	return s.search(ctx, query, topK, minScore, vectorstore.Filter{
		"conversationId": conversationID,
	})
}

// SearchExternal retrieves external knowledge entries relevant to the
// query. Results below minScore are dropped. Failures are logged and
// degrade to an empty result.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - query: Query text
//   - topK: Maximum number of results
//   - minScore: Minimum cosine similarity to keep a result
//
// Returns:
//   - []SearchResult: Relevant entries ordered by descending score
func (s *Service) SearchExternal(ctx context.Context, query string, topK int, minScore float64) []SearchResult {
	return s.search(ctx, query, topK, minScore, vectorstore.Filter{
		"kind": KindExternalKnowledge,
	})
}

// search embeds the query and runs a filtered index query. The query's
// embedding tag is added to the filter so fallback vectors are never scored
// against provider vectors.
func (s *Service) search(ctx context.Context, query string, topK int, minScore float64, filter vectorstore.Filter) []SearchResult {
	if topK <= 0 {
		return nil
	}

	embedding, tag, err := s.embedder.EmbedTagged(ctx, query)
	if err != nil {
		s.log.WithError(err).Warn("memory search: embedding failed")
		return nil
	}

	queryFilter := vectorstore.Filter{"embeddingTag": tag}
	for k, v := range filter {
		queryFilter[k] = v
	}

	matches, err := s.index.Query(ctx, embedding, topK, queryFilter, s.namespace)
	if err != nil {
		s.log.WithError(err).Warn("memory search: index query failed")
		return nil
	}

	results := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		if match.Score < minScore {
			continue
		}
		text, _ := match.Metadata["text"].(string)
		results = append(results, SearchResult{
			ID:       match.ID,
			Text:     text,
			Score:    match.Score,
			Metadata: match.Metadata,
		})
	}
	return results
}

// DeleteConversation removes every vector stored under the conversation.
// Deleting a conversation with no stored vectors is not an error.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	err := s.index.DeleteMany(ctx, vectorstore.Filter{"conversationId": conversationID}, s.namespace)
	if err != nil {
		return fmt.Errorf("DeleteConversation: %w", err)
	}
	return nil
}

// Close closes the underlying index and embedder.
func (s *Service) Close() error {
	var firstErr error
	if s.embedder != nil {
		if err := s.embedder.Close(); err != nil {
			firstErr = err
		}
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
