// Package conversation provides the conversation entity and its
// persistence interface.
//
// A conversation belongs to exactly one owner and accumulates an
// append-only history of user/assistant turns. The first content-bearing
// message is captured once as the conversation's original text; from then
// on the conversation is considered summarized for its whole lifetime.
package conversation

import (
	"context"
	"errors"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound indicates that a conversation does not exist or does not
// belong to the requesting owner. Stores never reveal which of the two is
// the case.
var ErrNotFound = errors.New("conversation not found")

// Message is a single turn in a conversation.
type Message struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`
}

// Conversation is the persistent conversation entity.
type Conversation struct {
	// ID is the opaque unique identifier, assigned at creation.
	ID string `json:"id"`

	// OwnerID identifies the principal the conversation belongs to. All
	// store access is scoped to it.
	OwnerID string `json:"owner_id"`

	// Title is a short human-readable label. Derived at creation and
	// refined once when the first content-bearing message arrives.
	Title string `json:"title"`

	// OriginalText is the first message classified as a content
	// submission; empty until that happens.
	OriginalText string `json:"original_text"`

	// HasSummary becomes true when OriginalText is set and stays true for
	// the conversation's lifetime.
	HasSummary bool `json:"has_summary"`

	// Messages is the append-only turn history in insertion order.
	Messages []Message `json:"messages,omitempty"`

	// CreatedAt is when the conversation was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the conversation last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// RecentMessages returns the last n turns in order, or all of them when
// fewer exist.
func (c *Conversation) RecentMessages(n int) []Message {
	if n <= 0 || len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// Store defines the interface for conversation persistence backends.
//
// All backends (SQLite, MySQL) must implement this interface.
type Store interface {
	// Create persists a new conversation.
	Create(ctx context.Context, conv *Conversation) error

	// Get returns the conversation with the given id, including its full
	// message history. Returns ErrNotFound when the conversation does not
	// exist or belongs to a different owner.
	Get(ctx context.Context, ownerID, id string) (*Conversation, error)

	// AppendMessages appends turns to the conversation's history.
	AppendMessages(ctx context.Context, id string, messages ...Message) error

	// SetOriginal records the one-time original text, marks the
	// conversation summarized and refines its title. Calling it again
	// after the original text is set is a no-op: HasSummary is
	// irreversible.
	SetOriginal(ctx context.Context, id, originalText, title string) error

	// List returns the owner's conversations, most recently updated
	// first, without message histories.
	List(ctx context.Context, ownerID string) ([]*Conversation, error)

	// Delete removes a conversation and its messages. Returns ErrNotFound
	// when the conversation does not exist or belongs to a different
	// owner. Callers are responsible for cascading the deletion to vector
	// memory.
	Delete(ctx context.Context, ownerID, id string) error

	// Close closes the store and releases resources.
	Close() error
}
