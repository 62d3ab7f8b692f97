package providers

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider backs the general module with the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider creates a provider with the default API endpoint.
func NewAnthropicProvider(apiKey, defaultModel string) *AnthropicProvider {
	return NewAnthropicProviderWithBase(apiKey, defaultModel, "")
}

// NewAnthropicProviderWithBase creates a provider with a custom API base.
func NewAnthropicProviderWithBase(apiKey, defaultModel, apiBase string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	if defaultModel == "" {
		defaultModel = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

// Chat sends the conversation to the Messages API. System-role messages are
// lifted into the request's system prompt.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, model string) (*LLMResponse, error) {
	if model == "" {
		model = p.defaultModel
	}

	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System:    system,
		Messages:  turns,
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &LLMResponse{
		Content:      content,
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// GetDefaultModel returns the configured default model.
func (p *AnthropicProvider) GetDefaultModel() string {
	return p.defaultModel
}

var _ LLMProvider = (*AnthropicProvider)(nil)
