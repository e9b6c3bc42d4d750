package llm

import "context"

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Client defines the interface for LLM providers.
type Client interface {
	// GenerateResponse generates a response based on the conversation.
	// Returns the response text streamed token-by-token through the
	// channel; the channel closes when the stream ends.
	GenerateResponse(ctx context.Context, messages []Message) (<-chan string, error)
}
