// Package llm provides completion provider clients.
package llm

// Message represents a chat message exchanged with a completion provider.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-result messages
}

// ToolCall is a tool invocation requested by the model inside an
// assistant message. ID correlates the eventual tool-result message.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from any provider. Wire format
// conversion happens at provider boundaries (anthropic.go, ollama.go).
type ChatResponse struct {
	Model   string
	Message Message
	Done    bool

	InputTokens  int
	OutputTokens int
}
