// Package core provides the conversational orchestrator client.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidRequest indicates that the inbound chat turn is missing or
	// malformed. User-correctable.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized indicates that the caller identity is missing. It is
	// surfaced, never silently defaulted.
	ErrUnauthorized = errors.New("missing caller identity")

	// ErrNotFound indicates that the conversation does not exist or does
	// not belong to the caller.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ChatError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &ChatError{
//	    Op:  "Chat",
//	    Err: ErrNotFound,
//	}
//	// Error() returns: "ragchat: Chat: conversation not found"
type ChatError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "ragchat: <Op>: <Err>"
func (e *ChatError) Error() string {
	return fmt.Sprintf("ragchat: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with ChatError.
func (e *ChatError) Unwrap() error {
	return e.Err
}

// NewChatError creates a new ChatError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewChatError("Chat", err)
//	}
//
// Parameters:
//   - op: Name of the operation (e.g., "Chat", "History")
//   - err: The underlying error to wrap
//
// Returns a ChatError, or nil if err is nil.
func NewChatError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ChatError{
		Op:  op,
		Err: err,
	}
}
