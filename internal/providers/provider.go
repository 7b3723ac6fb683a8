package providers

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	// SessionID groups requests into one conversation. Empty means stateless.
	SessionID   string
	History     []Message
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Text string
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, req ChatRequest) (ChatResponse, error)

func (f ProviderFunc) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return f(ctx, req)
}
