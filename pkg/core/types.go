package core

// Explicit actions a caller may attach to a chat turn. The action is a hint
// for intent classification, not a command: classification still runs the
// full rule cascade.
const (
	// ActionAuto lets classification decide from the message alone.
	ActionAuto = "auto"

	// ActionFollowup asks for a follow-up answer grounded in the
	// conversation's original content.
	ActionFollowup = "followup"

	// ActionResources asks for learning resource suggestions.
	ActionResources = "resources"
)

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	// OwnerID identifies the requesting principal. Required.
	OwnerID string `json:"owner_id"`

	// ConversationID selects an existing conversation. Empty starts a new
	// one.
	ConversationID string `json:"conversation_id,omitempty"`

	// Message is the user's message text. Required.
	Message string `json:"message"`

	// Action is an optional explicit action hint (ActionAuto,
	// ActionFollowup, ActionResources). Empty means ActionAuto.
	Action string `json:"action,omitempty"`
}

// ChatResponse is the result of a batch chat turn.
type ChatResponse struct {
	// Response is the assistant's reply.
	Response string `json:"response"`

	// ConversationID is the id of the conversation the turn belongs to.
	ConversationID string `json:"conversation_id"`

	// Title is the conversation's current title.
	Title string `json:"title"`

	// IsNewConversation is true when this turn created the conversation.
	IsNewConversation bool `json:"is_new_conversation"`
}

// Stream event types emitted by ChatStream.
const (
	// EventConversationCreated carries the new conversation's id and title.
	// Emitted at most once, before any delta, and only for new
	// conversations.
	EventConversationCreated = "conversation_created"

	// EventDelta carries one text fragment of the streamed reply.
	EventDelta = "delta"

	// EventDone is the terminal sentinel of a successful stream.
	EventDone = "done"

	// EventError is the terminal event of a failed stream.
	EventError = "error"
)

// StreamEvent is one frame of a streamed chat turn.
type StreamEvent struct {
	// Type is one of the Event* constants.
	Type string `json:"type"`

	// Delta is the text fragment for EventDelta frames.
	Delta string `json:"delta,omitempty"`

	// ConversationID is set on EventConversationCreated frames.
	ConversationID string `json:"conversation_id,omitempty"`

	// Title is set on EventConversationCreated frames.
	Title string `json:"title,omitempty"`

	// Err is set on EventError frames.
	Err error `json:"-"`
}
