package llm

import "context"

// Client is the interface all completion providers implement.
type Client interface {
	// Chat sends a completion request with the full ordered message
	// history and the declared tool set. The returned message may carry
	// zero or more tool calls.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
