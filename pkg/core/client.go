package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"

	"github.com/studysync/ragchat-go/pkg/conversation"
	mysqlStore "github.com/studysync/ragchat-go/pkg/conversation/mysql"
	sqliteStore "github.com/studysync/ragchat-go/pkg/conversation/sqlite"
	"github.com/studysync/ragchat-go/pkg/embedder"
	openaiEmbedder "github.com/studysync/ragchat-go/pkg/embedder/openai"
	"github.com/studysync/ragchat-go/pkg/llm"
	deepseekLLM "github.com/studysync/ragchat-go/pkg/llm/deepseek"
	openaiLLM "github.com/studysync/ragchat-go/pkg/llm/openai"
	"github.com/studysync/ragchat-go/pkg/memory"
	"github.com/studysync/ragchat-go/pkg/vectorstore"
	chromemIndex "github.com/studysync/ragchat-go/pkg/vectorstore/chromem"
	postgresIndex "github.com/studysync/ragchat-go/pkg/vectorstore/postgres"
	sqliteIndex "github.com/studysync/ragchat-go/pkg/vectorstore/sqlite"
)

// Completion parameters used for every turn.
const (
	completionTemperature = 0.7
	completionMaxTokens   = 2000
)

// defaultBackgroundTimeout bounds fire-and-forget memory writes.
const defaultBackgroundTimeout = 30 * time.Second

// defaultTitle is used when a title cannot be derived from the message.
const defaultTitle = "New conversation"

// Client is the conversational orchestrator. Per inbound turn it resolves
// the conversation, classifies the message, synthesizes a prompt over
// retrieved memory, invokes the completion provider, and persists the
// exchange. Memory writes run as fire-and-forget background tasks.
//
// The client is safe for concurrent use across different conversations.
// Concurrent turns against the same conversation id are a caller error and
// are not serialized.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	resp, _ := client.Chat(ctx, &core.ChatRequest{
//	    OwnerID: "user_001",
//	    Message: "Hello there!",
//	})
type Client struct {
	// config contains the client configuration.
	config *Config

	// conversations persists conversation state.
	conversations conversation.Store

	// memory stores and retrieves vector memory.
	memory *memory.Service

	// llm is the completion provider.
	llm llm.Provider

	// synth builds per-intent prompts.
	synth *Synthesizer

	// node generates unique conversation ids.
	node *snowflake.Node

	// log is the error sink for background tasks.
	log *logrus.Entry

	// wg tracks in-flight background tasks.
	wg sync.WaitGroup

	// bgTimeout bounds each background memory write.
	bgTimeout time.Duration
}

// ClientOption overrides a client component. Used mainly by tests and by
// callers that construct components themselves.
type ClientOption func(*Client)

// WithConversationStore overrides the conversation store.
func WithConversationStore(store conversation.Store) ClientOption {
	return func(c *Client) {
		c.conversations = store
	}
}

// WithMemoryService overrides the memory service.
func WithMemoryService(svc *memory.Service) ClientOption {
	return func(c *Client) {
		c.memory = svc
	}
}

// WithCompletionProvider overrides the completion provider.
func WithCompletionProvider(provider llm.Provider) ClientOption {
	return func(c *Client) {
		c.llm = provider
	}
}

// WithClientLogger overrides the client logger.
func WithClientLogger(log *logrus.Entry) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithBackgroundTimeout overrides the timeout for background memory writes.
func WithBackgroundTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.bgTimeout = timeout
		}
	}
}

// NewClient creates a new orchestrator client.
//
// Components not overridden by options are initialized from the config:
//   - Conversation store (SQLite or MySQL)
//   - Vector store (SQLite, PostgreSQL/pgvector, or chromem)
//   - Embedding provider (OpenAI with deterministic hash fallback)
//   - Completion provider (OpenAI or DeepSeek)
//
// Parameters:
//   - cfg: Configuration containing store, embedding, and completion settings
//   - opts: Optional component overrides
//
// Returns a new Client instance, or an error if initialization fails.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	nodeID := cfg.NodeID
	if nodeID == 0 {
		nodeID = 1
	}
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, NewChatError("NewClient", err)
	}

	client := &Client{
		config:    cfg,
		node:      node,
		log:       logrus.NewEntry(logrus.StandardLogger()),
		bgTimeout: defaultBackgroundTimeout,
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.conversations == nil {
		store, err := initConversationStore(cfg.ConversationStore)
		if err != nil {
			return nil, err
		}
		client.conversations = store
	}

	if client.memory == nil {
		index, err := initVectorStore(cfg.VectorStore)
		if err != nil {
			return nil, err
		}
		client.memory = memory.NewService(index, initEmbedder(cfg.Embedder),
			memory.WithNamespace(cfg.Memory.Namespace),
			memory.WithMaxChunkSize(cfg.Memory.MaxChunkSize),
			memory.WithLogger(client.log),
		)
	}

	if client.llm == nil {
		provider, err := initCompletion(cfg.Completion)
		if err != nil {
			return nil, err
		}
		client.llm = provider
	}

	client.synth = NewSynthesizer(client.memory)

	return client, nil
}

// Chat processes one chat turn in batch mode.
//
// The method:
//  1. Resolves or creates the conversation
//  2. Classifies the message and, for a first content-bearing message,
//     records the original text and refines the title
//  3. Synthesizes a prompt over retrieved memory
//  4. Persists the user turn, invokes the completion provider, persists
//     the assistant turn
//  5. Issues fire-and-forget memory writes
//
// On a completion-provider failure the user turn stays persisted but no
// assistant turn is appended.
//
// Parameters:
//   - ctx: Context for controlling the request lifecycle
//   - req: The inbound chat turn
//
// Returns the turn result, or an error if the turn fails.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	conv, isNew, intent, prompt, err := c.prepareTurn(ctx, "Chat", req)
	if err != nil {
		return nil, err
	}

	if err := c.conversations.AppendMessages(ctx, conv.ID, conversation.Message{
		Role:    conversation.RoleUser,
		Content: req.Message,
	}); err != nil {
		return nil, NewChatError("Chat", err)
	}

	response, err := c.llm.Generate(ctx, prompt,
		llm.WithTemperature(completionTemperature),
		llm.WithMaxTokens(completionMaxTokens),
	)
	if err != nil {
		return nil, NewChatError("Chat", err)
	}

	if err := c.conversations.AppendMessages(ctx, conv.ID, conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: response,
	}); err != nil {
		return nil, NewChatError("Chat", err)
	}

	if intent != IntentPleasantry {
		c.storeMemoryAsync(conv.ID, response, memory.KindAssistantResponse)
	}

	return &ChatResponse{
		Response:          response,
		ConversationID:    conv.ID,
		Title:             conv.Title,
		IsNewConversation: isNew,
	}, nil
}

// ChatStream processes one chat turn in streaming mode.
//
// The returned channel delivers, in order: an optional
// EventConversationCreated frame (new conversations only), EventDelta
// frames as fragments arrive, and a terminal EventDone or EventError
// frame. The channel is closed after the terminal frame.
//
// If ctx is cancelled mid-stream, delivery stops but the accumulated text
// is still persisted on a best-effort basis.
//
// Parameters:
//   - ctx: Context for controlling delivery to the caller
//   - req: The inbound chat turn
//
// Returns the event channel, or an error if the turn fails before
// streaming starts.
func (c *Client) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	conv, isNew, intent, prompt, err := c.prepareTurn(ctx, "ChatStream", req)
	if err != nil {
		return nil, err
	}

	if err := c.conversations.AppendMessages(ctx, conv.ID, conversation.Message{
		Role:    conversation.RoleUser,
		Content: req.Message,
	}); err != nil {
		return nil, NewChatError("ChatStream", err)
	}

	chunks, err := c.llm.GenerateStream(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		llm.WithTemperature(completionTemperature),
		llm.WithMaxTokens(completionMaxTokens),
	)
	if err != nil {
		return nil, NewChatError("ChatStream", err)
	}

	events := make(chan StreamEvent, 16)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(events)

		// delivering flips off once the caller goes away; accumulation
		// continues so the reply can still be persisted.
		delivering := true
		send := func(event StreamEvent) {
			if !delivering {
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				delivering = false
			}
		}

		if isNew {
			send(StreamEvent{
				Type:           EventConversationCreated,
				ConversationID: conv.ID,
				Title:          conv.Title,
			})
		}

		var full strings.Builder
		for chunk := range chunks {
			if chunk.Err != nil {
				send(StreamEvent{Type: EventError, Err: chunk.Err})
				return
			}
			full.WriteString(chunk.Delta)
			send(StreamEvent{Type: EventDelta, Delta: chunk.Delta})
		}
		send(StreamEvent{Type: EventDone})

		if full.Len() == 0 {
			return
		}

		// Persist with a detached context: the caller may be gone.
		persistCtx, cancel := context.WithTimeout(context.Background(), c.bgTimeout)
		defer cancel()

		err := c.conversations.AppendMessages(persistCtx, conv.ID, conversation.Message{
			Role:    conversation.RoleAssistant,
			Content: full.String(),
		})
		if err != nil {
			c.log.WithError(err).WithField("conversation_id", conv.ID).
				Error("failed to persist streamed response")
		}

		if intent != IntentPleasantry {
			c.storeMemoryAsync(conv.ID, full.String(), memory.KindAssistantResponse)
		}
	}()

	return events, nil
}

// prepareTurn runs the shared front half of a chat turn: validation,
// conversation resolution, content-submission handling, classification and
// prompt synthesis.
func (c *Client) prepareTurn(ctx context.Context, op string, req *ChatRequest) (*conversation.Conversation, bool, Intent, string, error) {
	if req == nil || req.Message == "" {
		return nil, false, "", "", NewChatError(op, ErrInvalidRequest)
	}
	if req.OwnerID == "" {
		return nil, false, "", "", NewChatError(op, ErrUnauthorized)
	}

	conv, isNew, err := c.resolveConversation(ctx, op, req)
	if err != nil {
		return nil, false, "", "", err
	}

	// Classification reads the conversation state as it was at entry, so a
	// first content-bearing message still classifies as initial content.
	intent := Classify(req.Message, conv, req.Action)

	if !conv.HasSummary && IsContentSubmission(req.Message) {
		title := deriveTitle(req.Message)
		if err := c.conversations.SetOriginal(ctx, conv.ID, req.Message, title); err != nil {
			return nil, false, "", "", NewChatError(op, err)
		}
		conv.OriginalText = req.Message
		conv.HasSummary = true
		conv.Title = title

		c.storeMemoryAsync(conv.ID, req.Message, memory.KindOriginalContent)
	}

	prompt := c.synth.Synthesize(ctx, req.Message, conv, intent)

	return conv, isNew, intent, prompt, nil
}

// resolveConversation loads the requested conversation or creates a new
// one when no id was supplied.
func (c *Client) resolveConversation(ctx context.Context, op string, req *ChatRequest) (*conversation.Conversation, bool, error) {
	if req.ConversationID != "" {
		conv, err := c.conversations.Get(ctx, req.OwnerID, req.ConversationID)
		if errors.Is(err, conversation.ErrNotFound) {
			return nil, false, NewChatError(op, ErrNotFound)
		}
		if err != nil {
			return nil, false, NewChatError(op, err)
		}
		return conv, false, nil
	}

	conv := &conversation.Conversation{
		ID:      c.node.Generate().String(),
		OwnerID: req.OwnerID,
		Title:   deriveTitle(req.Message),
	}
	if err := c.conversations.Create(ctx, conv); err != nil {
		return nil, false, NewChatError(op, err)
	}
	return conv, true, nil
}

// Conversations lists the caller's conversations, most recently updated
// first, without message histories.
func (c *Client) Conversations(ctx context.Context, ownerID string) ([]*conversation.Conversation, error) {
	if ownerID == "" {
		return nil, NewChatError("Conversations", ErrUnauthorized)
	}
	list, err := c.conversations.List(ctx, ownerID)
	if err != nil {
		return nil, NewChatError("Conversations", err)
	}
	return list, nil
}

// History returns one conversation with its full message history, scoped
// to the caller.
func (c *Client) History(ctx context.Context, ownerID, conversationID string) (*conversation.Conversation, error) {
	if ownerID == "" {
		return nil, NewChatError("History", ErrUnauthorized)
	}
	conv, err := c.conversations.Get(ctx, ownerID, conversationID)
	if errors.Is(err, conversation.ErrNotFound) {
		return nil, NewChatError("History", ErrNotFound)
	}
	if err != nil {
		return nil, NewChatError("History", err)
	}
	return conv, nil
}

// DeleteConversation removes a conversation and cascades the deletion to
// its vector memory.
func (c *Client) DeleteConversation(ctx context.Context, ownerID, conversationID string) error {
	if ownerID == "" {
		return NewChatError("DeleteConversation", ErrUnauthorized)
	}
	err := c.conversations.Delete(ctx, ownerID, conversationID)
	if errors.Is(err, conversation.ErrNotFound) {
		return NewChatError("DeleteConversation", ErrNotFound)
	}
	if err != nil {
		return NewChatError("DeleteConversation", err)
	}
	if err := c.memory.DeleteConversation(ctx, conversationID); err != nil {
		return NewChatError("DeleteConversation", err)
	}
	return nil
}

// SeedKnowledge stores one external knowledge entry that retrieval can
// blend into prompts for every conversation.
func (c *Client) SeedKnowledge(ctx context.Context, topic, content, source string) (string, error) {
	if topic == "" || content == "" {
		return "", NewChatError("SeedKnowledge", ErrInvalidRequest)
	}
	id, err := c.memory.StoreExternalKnowledge(ctx, topic, content, source)
	if err != nil {
		return "", NewChatError("SeedKnowledge", err)
	}
	return id, nil
}

// Wait blocks until all in-flight background tasks finish. Useful in tests
// and before shutdown.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close waits for background tasks and releases all resources.
func (c *Client) Close() error {
	c.Wait()

	var firstErr error
	if c.memory != nil {
		if err := c.memory.Close(); err != nil {
			firstErr = err
		}
	}
	if c.conversations != nil {
		if err := c.conversations.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.llm != nil {
		if err := c.llm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// storeMemoryAsync issues a fire-and-forget memory write. Failures go to
// the log sink, never to the request path.
func (c *Client) storeMemoryAsync(conversationID, text, kind string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.bgTimeout)
		defer cancel()

		if _, err := c.memory.StoreConversationChunks(ctx, conversationID, text, kind, nil); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"conversation_id": conversationID,
				"kind":            kind,
			}).Error("background memory write failed")
		}
	}()
}

// deriveTitle builds a short label from the first words of a message.
func deriveTitle(message string) string {
	words := strings.Fields(message)
	if len(words) == 0 {
		return defaultTitle
	}
	if len(words) > 8 {
		return strings.Join(words[:8], " ") + "..."
	}
	return strings.Join(words, " ")
}

// initConversationStore builds a conversation store from config.
func initConversationStore(cfg ConversationStoreConfig) (conversation.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewStore(&sqliteStore.Config{
			DBPath: configString(cfg.Config, "db_path", "./conversations.db"),
		})
	case "mysql":
		return mysqlStore.NewStore(&mysqlStore.Config{
			Host:     configString(cfg.Config, "host", "127.0.0.1"),
			Port:     configInt(cfg.Config, "port", 3306),
			User:     configString(cfg.Config, "user", "root"),
			Password: configString(cfg.Config, "password", ""),
			DBName:   configString(cfg.Config, "db_name", "ragchat"),
		})
	default:
		return nil, NewChatError("NewClient",
			fmt.Errorf("%w: unknown conversation store provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// initVectorStore builds a vector index from config.
func initVectorStore(cfg VectorStoreConfig) (vectorstore.Index, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteIndex.NewClient(&sqliteIndex.Config{
			DBPath: configString(cfg.Config, "db_path", "./ragchat.db"),
		})
	case "postgres":
		return postgresIndex.NewClient(&postgresIndex.Config{
			Host:       configString(cfg.Config, "host", "localhost"),
			Port:       configInt(cfg.Config, "port", 5432),
			User:       configString(cfg.Config, "user", "postgres"),
			Password:   configString(cfg.Config, "password", ""),
			DBName:     configString(cfg.Config, "db_name", "ragchat"),
			Dimensions: configInt(cfg.Config, "embedding_model_dims", 1536),
			SSLMode:    configString(cfg.Config, "ssl_mode", "disable"),
		})
	case "chromem":
		return chromemIndex.NewClient()
	default:
		return nil, NewChatError("NewClient",
			fmt.Errorf("%w: unknown vector store provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// initEmbedder builds the embedding path: the OpenAI provider wrapped in
// the deterministic fallback, or permanent fallback mode when no API key
// is configured.
func initEmbedder(cfg EmbedderConfig) embedder.TaggedProvider {
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = 1536
	}

	if cfg.APIKey == "" {
		return embedder.NewFallback(nil, dimensions)
	}

	primary, err := openaiEmbedder.NewClient(&openaiEmbedder.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Dimensions: dimensions,
	})
	if err != nil {
		return embedder.NewFallback(nil, dimensions)
	}
	return embedder.NewFallback(primary, dimensions)
}

// initCompletion builds a completion provider from config.
func initCompletion(cfg CompletionConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiLLM.NewClient(&openaiLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "deepseek":
		return deepseekLLM.NewClient(&deepseekLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, NewChatError("NewClient",
			fmt.Errorf("%w: unknown completion provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// configString reads a string value from a provider config map.
func configString(cfg map[string]interface{}, key, defaultValue string) string {
	if value, ok := cfg[key].(string); ok && value != "" {
		return value
	}
	return defaultValue
}

// configInt reads an integer value from a provider config map. JSON
// unmarshals numbers as float64, so both forms are accepted.
func configInt(cfg map[string]interface{}, key string, defaultValue int) int {
	switch value := cfg[key].(type) {
	case int:
		return value
	case float64:
		return int(value)
	default:
		return defaultValue
	}
}
