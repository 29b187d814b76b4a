package provider

import (
	"context"
	"errors"
)

// ChatMessage is one turn of a conversation sent to the model
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest represents a normalized internal request to a provider.
type ChatRequest struct {
	Model     string        // provider-specific model name
	System    string        // system prompt
	Messages  []ChatMessage // conversation history, oldest first
	MaxTokens int           // generation cap
}

// Usage is the token usage reported by the provider for one generation
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the combined token count
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// StreamEvent is a single parsed event from a streaming response
type StreamEvent struct {
	Text  string // non-empty for content deltas
	Usage *Usage // non-nil when the provider reports usage
	Done  bool
	Error error
}

// Stream is implemented by streaming provider responses
type Stream interface {
	// Read returns the next event. After a Done event or an error the
	// stream is exhausted and must be closed.
	Read() (*StreamEvent, error)

	// Close releases the underlying connection
	Close() error
}

// Provider is implemented by each concrete LLM backend
type Provider interface {
	// Name returns the display name of this provider
	Name() string

	// StreamChat starts a streaming chat completion
	StreamChat(ctx context.Context, req ChatRequest) (Stream, error)

	// Close performs cleanup when the provider is no longer needed
	Close() error
}

// ErrProviderUnavailable is returned when the upstream provider rejects or
// fails the request before any content is produced
var ErrProviderUnavailable = errors.New("provider unavailable")
