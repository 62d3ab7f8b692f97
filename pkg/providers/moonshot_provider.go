package providers

import "context"

// MoonshotProvider is a provider for the Moonshot AI API
// (https://www.moonshot.cn/). Moonshot exposes an OpenAI-compatible API, so
// it rides on the OpenAI client with a custom base URL.
type MoonshotProvider struct {
	inner *OpenAIProvider
}

// NewMoonshotProvider creates a new Moonshot provider.
func NewMoonshotProvider(apiKey string) *MoonshotProvider {
	return NewMoonshotProviderWithBase(apiKey, "https://api.moonshot.cn/v1")
}

// NewMoonshotProviderWithBase creates a new Moonshot provider with a custom
// API base.
func NewMoonshotProviderWithBase(apiKey, apiBase string) *MoonshotProvider {
	return &MoonshotProvider{
		inner: NewOpenAIProviderWithBase(apiKey, "moonshot-v1-32k", apiBase),
	}
}

// Chat sends a request to the Moonshot API.
func (p *MoonshotProvider) Chat(ctx context.Context, messages []Message, model string) (*LLMResponse, error) {
	if model == "" {
		model = p.GetDefaultModel()
	}
	return p.inner.Chat(ctx, messages, model)
}

// GetDefaultModel returns the default Moonshot model.
func (p *MoonshotProvider) GetDefaultModel() string {
	return "moonshot-v1-32k"
}

var _ LLMProvider = (*MoonshotProvider)(nil)
