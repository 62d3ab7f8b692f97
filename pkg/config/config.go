// Package config loads maestro configuration from a YAML file with
// environment-variable overrides applied on top.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the maestro process.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Provider ProviderConfig `yaml:"provider"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	History  HistoryConfig  `yaml:"history"`
	Settings SettingsConfig `yaml:"settings"`
	Notify   NotifyConfig   `yaml:"notify"`

	// Modules carries per-module key/value configuration handed to
	// Module.Initialize, keyed by module ID.
	Modules map[string]map[string]string `yaml:"modules"`
}

// LoggingConfig controls the global logger.
type LoggingConfig struct {
	Level string `yaml:"level" env:"MAESTRO_LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"MAESTRO_LOG_JSON"`
}

// GatewayConfig controls the HTTP/WS API server.
type GatewayConfig struct {
	Host   string `yaml:"host" env:"MAESTRO_HOST"`
	Port   int    `yaml:"port" env:"MAESTRO_PORT"`
	APIKey string `yaml:"api_key" env:"MAESTRO_API_KEY"`
}

// ProviderConfig selects and configures the LLM backing capability used by
// the general-purpose module.
type ProviderConfig struct {
	// Kind is "anthropic", "openai", or "moonshot". Empty leaves the
	// general module unconfigured (it scores near zero).
	Kind    string `yaml:"kind" env:"MAESTRO_PROVIDER"`
	APIKey  string `yaml:"api_key" env:"MAESTRO_PROVIDER_API_KEY"`
	Model   string `yaml:"model" env:"MAESTRO_PROVIDER_MODEL"`
	BaseURL string `yaml:"base_url" env:"MAESTRO_PROVIDER_BASE_URL"`
}

// DispatchConfig carries the selection thresholds and the "could not handle"
// taxonomy. The taxonomy ships as configuration rather than constants so
// module wording changes don't silently break fallback detection.
type DispatchConfig struct {
	// MinAutoConfidence is the floor for auto-selected modules.
	MinAutoConfidence float64 `yaml:"min_auto_confidence" env:"MAESTRO_MIN_AUTO_CONFIDENCE"`
	// MinPreferredConfidence is the viability bar for an explicitly
	// preferred module. Deliberately lower than the auto floor; both stay
	// configurable rather than unified.
	MinPreferredConfidence float64 `yaml:"min_preferred_confidence" env:"MAESTRO_MIN_PREFERRED_CONFIDENCE"`
	// IntentRerouteConfidence gates the fallback module's intent-based
	// re-routing into specific modules.
	IntentRerouteConfidence float64 `yaml:"intent_reroute_confidence" env:"MAESTRO_INTENT_REROUTE_CONFIDENCE"`

	// FallbackModuleID names the registered catch-all module.
	FallbackModuleID string `yaml:"fallback_module_id" env:"MAESTRO_FALLBACK_MODULE"`

	// CannotHandleCodes and CannotHandleMarkers define when a module's
	// failed response means "I could not understand this" and a fallback
	// attempt is worthwhile.
	CannotHandleCodes   []string `yaml:"cannot_handle_codes"`
	CannotHandleMarkers []string `yaml:"cannot_handle_markers"`
}

// HistoryConfig controls the conversation history store.
type HistoryConfig struct {
	Path string `yaml:"path" env:"MAESTRO_HISTORY_PATH"`
}

// SettingsConfig controls the module enablement/subscription store.
type SettingsConfig struct {
	Path string `yaml:"path" env:"MAESTRO_SETTINGS_PATH"`
}

// NotifyConfig controls outbound update sinks.
type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url" env:"MAESTRO_SLACK_WEBHOOK_URL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Gateway: GatewayConfig{Host: "127.0.0.1", Port: 8732},
		Dispatch: DispatchConfig{
			MinAutoConfidence:       0.3,
			MinPreferredConfidence:  0.1,
			IntentRerouteConfidence: 0.7,
			FallbackModuleID:        "general",
			CannotHandleCodes: []string{
				"NOT_SUPPORTED",
				"INVALID_COMMAND",
				"UNKNOWN_COMMAND",
				"CANNOT_HANDLE",
				"NOT_UNDERSTOOD",
				"UNSUPPORTED_OPERATION",
			},
			CannotHandleMarkers: []string{
				"don't understand",
				"can't help",
				"not supported",
				"cannot handle",
				"not sure how",
				"unable to process",
			},
		},
		History:  HistoryConfig{Path: "maestro-history.db"},
		Settings: SettingsConfig{Path: "maestro-settings"},
		Modules:  map[string]map[string]string{},
	}
}

// Load reads the YAML file at path (a missing file is not an error;
// defaults apply) and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, v := range map[string]float64{
		"min_auto_confidence":       c.Dispatch.MinAutoConfidence,
		"min_preferred_confidence":  c.Dispatch.MinPreferredConfidence,
		"intent_reroute_confidence": c.Dispatch.IntentRerouteConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("dispatch.%s must be in [0,1], got %v", name, v)
		}
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port out of range: %d", c.Gateway.Port)
	}
	return nil
}

// ModuleConfig returns the configuration map for one module (never nil).
func (c *Config) ModuleConfig(id string) map[string]string {
	if m, ok := c.Modules[id]; ok {
		return m
	}
	return map[string]string{}
}
