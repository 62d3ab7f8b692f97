package providers

import (
	"fmt"

	"github.com/veslabs/maestro/pkg/config"
)

// New builds the configured LLM provider. A nil provider (with nil error)
// means none was configured; the general module handles that by scoring
// near zero.
func New(cfg config.ProviderConfig) (LLMProvider, error) {
	switch cfg.Kind {
	case "":
		return nil, nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider anthropic: api key required")
		}
		return NewAnthropicProviderWithBase(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider openai: api key required")
		}
		return NewOpenAIProviderWithBase(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case "moonshot":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider moonshot: api key required")
		}
		if cfg.BaseURL != "" {
			return NewMoonshotProviderWithBase(cfg.APIKey, cfg.BaseURL), nil
		}
		return NewMoonshotProvider(cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}
