package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider backs the general module with the OpenAI chat completions
// API (or any OpenAI-compatible endpoint via a custom base URL).
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
}

// NewOpenAIProvider creates a provider with the default API endpoint.
func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	return NewOpenAIProviderWithBase(apiKey, defaultModel, "")
}

// NewOpenAIProviderWithBase creates a provider with a custom API base.
func NewOpenAIProviderWithBase(apiKey, defaultModel, apiBase string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		client:       openai.NewClient(opts...),
		defaultModel: defaultModel,
	}
}

// Chat sends the conversation to the chat completions API.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, model string) (*LLMResponse, error) {
	if model == "" {
		model = p.defaultModel
	}

	turns := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			turns = append(turns, openai.SystemMessage(m.Content))
		case RoleAssistant:
			turns = append(turns, openai.AssistantMessage(m.Content))
		default:
			turns = append(turns, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: turns,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: empty choices")
	}

	return &LLMResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        string(resp.Model),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// GetDefaultModel returns the configured default model.
func (p *OpenAIProvider) GetDefaultModel() string {
	return p.defaultModel
}

var _ LLMProvider = (*OpenAIProvider)(nil)
