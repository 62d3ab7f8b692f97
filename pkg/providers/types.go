// Package providers wraps the LLM backends that back the general-purpose
// module's answering and intent-analysis capability.
package providers

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMResponse is the provider-agnostic result of a chat call.
type LLMResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
}

// LLMProvider is the backing capability contract. model may be empty to use
// the provider's default.
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, model string) (*LLMResponse, error)
	GetDefaultModel() string
}
