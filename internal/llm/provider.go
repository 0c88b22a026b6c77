package llm

import (
	"fmt"
	"strings"
)

// Provider names a supported chat backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ProviderConfig selects and authenticates a backend.
type ProviderConfig struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Model    string
}

// NewChat builds the Chat for cfg. It returns (nil, nil) when no API key is
// configured so callers can run without a provider.
func NewChat(cfg ProviderConfig) (Chat, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, nil
	}
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderAnthropic, "":
		return NewAnthropicClient(cfg.APIKey, cfg.Model), nil
	case ProviderOpenAI:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm.base_url is required for provider %q", cfg.Provider)
		}
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, nil), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want anthropic or openai)", cfg.Provider)
	}
}
