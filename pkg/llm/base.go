// Package llm defines the completion provider interface and shared types
// for generating conversational responses.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRequest indicates the completion request failed validation
	// before it reached the upstream provider.
	ErrInvalidRequest = errors.New("invalid completion request")

	// ErrUpstreamTimeout indicates the upstream provider did not respond
	// within the request deadline.
	ErrUpstreamTimeout = errors.New("completion provider timeout")
)

// Message roles accepted in a completion request.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamChunk is one increment of a streamed completion. Err is non-nil
// only for the final chunk of a failed stream.
type StreamChunk struct {
	Delta string
	Err   error
}

// GenerateOptions contains options for text generation.
type GenerateOptions struct {
	// Temperature controls randomness (0.0 to 2.0)
	Temperature float32

	// MaxTokens limits the response length
	MaxTokens int

	// TopP nucleus sampling parameter
	TopP float32

	// Stop sequences that halt generation
	Stop []string

	// Timeout bounds the upstream request
	Timeout time.Duration
}

// GenerateOption is a functional option for generation.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the generation temperature.
func WithTemperature(temp float32) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// WithMaxTokens sets the maximum response length.
func WithMaxTokens(maxTokens int) GenerateOption {
	return func(o *GenerateOptions) {
		o.MaxTokens = maxTokens
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(topP float32) GenerateOption {
	return func(o *GenerateOptions) {
		o.TopP = topP
	}
}

// WithStop sets the stop sequences.
func WithStop(stop []string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Stop = stop
	}
}

// WithTimeout bounds the upstream request duration.
func WithTimeout(timeout time.Duration) GenerateOption {
	return func(o *GenerateOptions) {
		o.Timeout = timeout
	}
}

// DefaultGenerateOptions returns the default generation options.
func DefaultGenerateOptions() *GenerateOptions {
	return &GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   1000,
		TopP:        1.0,
		Timeout:     30 * time.Second,
	}
}

// ApplyGenerateOptions applies the given options on top of the defaults.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := DefaultGenerateOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// ValidateMessages checks that a message sequence forms a valid completion
// request.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("%w: empty message list", ErrInvalidRequest)
	}
	for i, message := range messages {
		switch message.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidRequest, i, message.Role)
		}
		if message.Content == "" {
			return fmt.Errorf("%w: message %d has empty content", ErrInvalidRequest, i)
		}
	}
	return nil
}

// Provider defines the interface for completion providers.
type Provider interface {
	// Generate produces a response for a single prompt.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages produces a response for a message history.
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	// GenerateStream produces a response incrementally. The returned channel
	// is closed when the stream ends; a chunk with Err set terminates a
	// failed stream.
	GenerateStream(ctx context.Context, messages []Message, opts ...GenerateOption) (<-chan StreamChunk, error)

	// Close releases provider resources.
	Close() error
}
