package core_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studysync/ragchat-go/pkg/conversation"
	"github.com/studysync/ragchat-go/pkg/core"
	"github.com/studysync/ragchat-go/pkg/embedder"
	"github.com/studysync/ragchat-go/pkg/llm"
	"github.com/studysync/ragchat-go/pkg/memory"
	sqliteIndex "github.com/studysync/ragchat-go/pkg/vectorstore/sqlite"
)

// fakeConvStore is an in-memory conversation.Store.
type fakeConvStore struct {
	mu            sync.Mutex
	conversations map[string]*conversation.Conversation
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{conversations: make(map[string]*conversation.Conversation)}
}

func (s *fakeConvStore) Create(ctx context.Context, conv *conversation.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	stored := *conv
	s.conversations[conv.ID] = &stored
	return nil
}

func (s *fakeConvStore) Get(ctx context.Context, ownerID, id string) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.conversations[id]
	if !ok || stored.OwnerID != ownerID {
		return nil, conversation.ErrNotFound
	}
	clone := *stored
	clone.Messages = append([]conversation.Message(nil), stored.Messages...)
	return &clone, nil
}

func (s *fakeConvStore) AppendMessages(ctx context.Context, id string, messages ...conversation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.conversations[id]
	if !ok {
		return conversation.ErrNotFound
	}
	stored.Messages = append(stored.Messages, messages...)
	stored.UpdatedAt = time.Now()
	return nil
}

func (s *fakeConvStore) SetOriginal(ctx context.Context, id, originalText, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.conversations[id]
	if !ok {
		return conversation.ErrNotFound
	}
	if stored.HasSummary {
		return nil
	}
	stored.OriginalText = originalText
	stored.Title = title
	stored.HasSummary = true
	return nil
}

func (s *fakeConvStore) List(ctx context.Context, ownerID string) ([]*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*conversation.Conversation
	for _, stored := range s.conversations {
		if stored.OwnerID == ownerID {
			clone := *stored
			clone.Messages = nil
			list = append(list, &clone)
		}
	}
	return list, nil
}

func (s *fakeConvStore) Delete(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.conversations[id]
	if !ok || stored.OwnerID != ownerID {
		return conversation.ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

func (s *fakeConvStore) Close() error { return nil }

// fakeLLM records prompts and serves canned replies.
type fakeLLM struct {
	mu         sync.Mutex
	lastPrompt string
	response   string
	err        error
	chunks     []string
	streamErr  error

	// streamHold, when set, gates delivery after the first fragment until
	// the channel is closed or the request context is cancelled.
	streamHold chan struct{}
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	f.mu.Lock()
	f.lastPrompt = prompt
	f.mu.Unlock()
	return f.response, f.err
}

func (f *fakeLLM) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	return f.Generate(ctx, messages[len(messages)-1].Content, opts...)
}

func (f *fakeLLM) GenerateStream(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (<-chan llm.StreamChunk, error) {
	f.mu.Lock()
	f.lastPrompt = messages[len(messages)-1].Content
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	if f.streamHold != nil {
		out := make(chan llm.StreamChunk)
		go func() {
			defer close(out)
			for i, chunk := range f.chunks {
				if i > 0 {
					select {
					case <-f.streamHold:
					case <-ctx.Done():
						return
					}
				}
				select {
				case out <- llm.StreamChunk{Delta: chunk}:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out, nil
	}

	out := make(chan llm.StreamChunk, len(f.chunks)+1)
	for _, chunk := range f.chunks {
		out <- llm.StreamChunk{Delta: chunk}
	}
	if f.streamErr != nil {
		out <- llm.StreamChunk{Err: f.streamErr}
	}
	close(out)
	return out, nil
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) prompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPrompt
}

type testEnv struct {
	client *core.Client
	store  *fakeConvStore
	llm    *fakeLLM
	memory *memory.Service
}

func setupClient(t *testing.T) *testEnv {
	t.Helper()

	index, err := sqliteIndex.NewClient(&sqliteIndex.Config{
		DBPath: filepath.Join(t.TempDir(), "memory.db"),
	})
	require.NoError(t, err)

	store := newFakeConvStore()
	provider := &fakeLLM{response: "canned reply"}
	mem := memory.NewService(index, embedder.NewFallback(nil, 32))

	cfg := &core.Config{
		Completion:        core.CompletionConfig{Provider: "deepseek", APIKey: "test"},
		VectorStore:       core.VectorStoreConfig{Provider: "chromem"},
		ConversationStore: core.ConversationStoreConfig{Provider: "sqlite"},
	}

	client, err := core.NewClient(cfg,
		core.WithConversationStore(store),
		core.WithMemoryService(mem),
		core.WithCompletionProvider(provider),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &testEnv{client: client, store: store, llm: provider, memory: mem}
}

func TestChat_Pleasantry(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()

	resp, err := env.client.Chat(ctx, &core.ChatRequest{
		OwnerID: "user_1",
		Message: "Hello there!",
	})
	require.NoError(t, err)

	assert.Equal(t, "canned reply", resp.Response)
	assert.True(t, resp.IsNewConversation)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "Hello there!", resp.Title)

	// Both turns persisted
	conv, err := env.client.History(ctx, "user_1", resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversation.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, conv.Messages[1].Role)

	// No memory write for pleasantries
	env.client.Wait()
	results := env.memory.SearchConversation(ctx, resp.ConversationID, "Hello there!", 5, 0)
	assert.Empty(t, results)
}

func TestChat_ContentSubmission(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()

	article := strings.Repeat("Neural networks process information in layers. ", 7)
	require.Greater(t, len(article), 200)

	resp, err := env.client.Chat(ctx, &core.ChatRequest{
		OwnerID: "user_1",
		Message: article,
	})
	require.NoError(t, err)

	conv, err := env.client.History(ctx, "user_1", resp.ConversationID)
	require.NoError(t, err)
	assert.True(t, conv.HasSummary)
	assert.Equal(t, article, conv.OriginalText)

	// Original content chunks land in memory in the background
	env.client.Wait()
	results := env.memory.SearchConversation(ctx, resp.ConversationID, article, 10, 0)
	require.NotEmpty(t, results)

	kinds := make(map[string]bool)
	for _, result := range results {
		kind, _ := result.Metadata["kind"].(string)
		kinds[kind] = true
	}
	assert.True(t, kinds[memory.KindOriginalContent])
}

func TestChat_OriginalTextSetOnce(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()

	first := strings.Repeat("The first submitted article text. ", 8)
	resp, err := env.client.Chat(ctx, &core.ChatRequest{OwnerID: "user_1", Message: first})
	require.NoError(t, err)

	second := strings.Repeat("A completely different long message. ", 8)
	_, err = env.client.Chat(ctx, &core.ChatRequest{
		OwnerID:        "user_1",
		ConversationID: resp.ConversationID,
		Message:        second,
	})
	require.NoError(t, err)

	conv, err := env.client.History(ctx, "user_1", resp.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, first, conv.OriginalText)
	assert.True(t, conv.HasSummary)
}

func TestChat_FollowupPrompt(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()

	article := strings.Repeat("Neural networks process information in layers. ", 7)
	resp, err := env.client.Chat(ctx, &core.ChatRequest{OwnerID: "user_1", Message: article})
	require.NoError(t, err)
	env.client.Wait()

	_, err = env.client.Chat(ctx, &core.ChatRequest{
		OwnerID:        "user_1",
		ConversationID: resp.ConversationID,
		Message:        "What does this mean?",
	})
	require.NoError(t, err)

	prompt := env.llm.prompt()
	assert.Contains(t, prompt, "ORIGINAL CONTEXT:")
	assert.Contains(t, prompt, "RETRIEVED CONTEXT:")
	assert.Contains(t, prompt, "USER'S CURRENT QUESTION: What does this mean?")
}

func TestChat_UpstreamFailure(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()

	resp, err := env.client.Chat(ctx, &core.ChatRequest{OwnerID: "user_1", Message: "Hello there!"})
	require.NoError(t, err)

	env.llm.err = errors.New("upstream exploded")
	_, err = env.client.Chat(ctx, &core.ChatRequest{
		OwnerID:        "user_1",
		ConversationID: resp.ConversationID,
		Message:        "are you still there",
	})
	require.Error(t, err)

	// The user turn is not lost, but no assistant turn is appended
	conv, herr := env.client.History(ctx, "user_1", resp.ConversationID)
	require.NoError(t, herr)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, conversation.RoleUser, conv.Messages[2].Role)
	assert.Equal(t, "are you still there", conv.Messages[2].Content)
}

func TestChat_Validation(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()

	_, err := env.client.Chat(ctx, &core.ChatRequest{OwnerID: "user_1"})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)

	_, err = env.client.Chat(ctx, &core.ChatRequest{Message: "hello"})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	_, err = env.client.Chat(ctx, &core.ChatRequest{
		OwnerID:        "user_1",
		ConversationID: "no_such_conversation",
		Message:        "hello",
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestChatStream_EventOrder(t *testing.T) {
	env := setupClient(t)
	env.llm.chunks = []string{"Hel", "lo ", "world"}
	ctx := context.Background()

	events, err := env.client.ChatStream(ctx, &core.ChatRequest{
		OwnerID: "user_1",
		Message: "Tell me about streams, what are they?",
	})
	require.NoError(t, err)

	var types []string
	var full strings.Builder
	var conversationID string
	for event := range events {
		types = append(types, event.Type)
		if event.Type == core.EventDelta {
			full.WriteString(event.Delta)
		}
		if event.Type == core.EventConversationCreated {
			conversationID = event.ConversationID
			assert.NotEmpty(t, event.Title)
		}
	}

	require.NotEmpty(t, types)
	assert.Equal(t, core.EventConversationCreated, types[0])
	assert.Equal(t, core.EventDone, types[len(types)-1])
	assert.Equal(t, "Hello world", full.String())

	// The accumulated reply is persisted after the sentinel
	env.client.Wait()
	conv, err := env.client.History(ctx, "user_1", conversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hello world", conv.Messages[1].Content)
}

func TestChatStream_ProviderError(t *testing.T) {
	env := setupClient(t)
	env.llm.chunks = []string{"partial"}
	env.llm.streamErr = errors.New("stream broke")
	ctx := context.Background()

	events, err := env.client.ChatStream(ctx, &core.ChatRequest{
		OwnerID: "user_1",
		Message: "Tell me about streams, what are they?",
	})
	require.NoError(t, err)

	var last core.StreamEvent
	for event := range events {
		last = event
	}
	assert.Equal(t, core.EventError, last.Type)
	assert.Error(t, last.Err)
}

func TestChatStream_DisconnectPersistsPartialReply(t *testing.T) {
	env := setupClient(t)
	env.llm.chunks = []string{"part one ", "part two"}
	env.llm.streamHold = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := env.client.ChatStream(ctx, &core.ChatRequest{
		OwnerID: "user_1",
		Message: "Tell me about streams, what are they?",
	})
	require.NoError(t, err)

	// Walk away after the first fragment
	var conversationID string
	for event := range events {
		if event.Type == core.EventConversationCreated {
			conversationID = event.ConversationID
		}
		if event.Type == core.EventDelta {
			cancel()
		}
	}
	require.NotEmpty(t, conversationID)

	// The accumulated text is still persisted via a detached context
	env.client.Wait()
	conv, err := env.client.History(context.Background(), "user_1", conversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversation.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "part one ", conv.Messages[1].Content)
}

func TestChatStream_ErrorsCarryStreamOp(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()

	_, err := env.client.ChatStream(ctx, &core.ChatRequest{
		OwnerID:        "user_1",
		ConversationID: "no_such_conversation",
		Message:        "hello",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Contains(t, err.Error(), "ChatStream")
}

func TestNewClient_NodeID(t *testing.T) {
	newClient := func(nodeID int64) (*core.Client, error) {
		index, err := sqliteIndex.NewClient(&sqliteIndex.Config{
			DBPath: filepath.Join(t.TempDir(), "memory.db"),
		})
		require.NoError(t, err)

		return core.NewClient(&core.Config{
			Completion:        core.CompletionConfig{Provider: "deepseek", APIKey: "test"},
			VectorStore:       core.VectorStoreConfig{Provider: "chromem"},
			ConversationStore: core.ConversationStoreConfig{Provider: "sqlite"},
			NodeID:            nodeID,
		},
			core.WithConversationStore(newFakeConvStore()),
			core.WithMemoryService(memory.NewService(index, embedder.NewFallback(nil, 32))),
			core.WithCompletionProvider(&fakeLLM{response: "canned reply"}),
		)
	}

	client, err := newClient(1023)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	resp, err := client.Chat(context.Background(), &core.ChatRequest{
		OwnerID: "user_1",
		Message: "Hello there!",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ConversationID)

	_, err = newClient(1024)
	assert.Error(t, err)
}

func TestDeleteConversation_Cascades(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()

	article := strings.Repeat("Content about cascading deletes in stores. ", 6)
	resp, err := env.client.Chat(ctx, &core.ChatRequest{OwnerID: "user_1", Message: article})
	require.NoError(t, err)
	env.client.Wait()

	results := env.memory.SearchConversation(ctx, resp.ConversationID, article, 5, 0)
	require.NotEmpty(t, results)

	require.NoError(t, env.client.DeleteConversation(ctx, "user_1", resp.ConversationID))

	_, err = env.client.History(ctx, "user_1", resp.ConversationID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	results = env.memory.SearchConversation(ctx, resp.ConversationID, article, 5, 0)
	assert.Empty(t, results)
}

func TestSeedKnowledge(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()

	id, err := env.client.SeedKnowledge(ctx, "go", "Effective Go covers idiomatic style.", "go.dev")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = env.client.SeedKnowledge(ctx, "", "content", "src")
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}

func TestConversations_OwnerScoped(t *testing.T) {
	env := setupClient(t)
	ctx := context.Background()

	_, err := env.client.Chat(ctx, &core.ChatRequest{OwnerID: "user_1", Message: "Hello there!"})
	require.NoError(t, err)
	_, err = env.client.Chat(ctx, &core.ChatRequest{OwnerID: "user_2", Message: "Hello there!"})
	require.NoError(t, err)

	list, err := env.client.Conversations(ctx, "user_1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = env.client.Conversations(ctx, "")
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}
