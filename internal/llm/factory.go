package llm

import (
	"context"
	"fmt"
	"os"

	"genebench/internal/config"
)

// DetectProvider resolves the active provider and API key.
// Priority: explicit config > env vars (GEMINI > OPENAI > ANTHROPIC).
func DetectProvider(cfg config.LLMConfig) (Provider, string, error) {
	if cfg.Provider != "" && cfg.APIKey != "" {
		return Provider(cfg.Provider), cfg.APIKey, nil
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return ProviderGemini, key, nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return ProviderOpenAI, key, nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return ProviderAnthropic, key, nil
	}

	return "", "", fmt.Errorf("no API key found in config or environment")
}

// NewClient builds a client for the configured provider.
// Gemini and OpenAI clients also satisfy StreamingClient; callers that need
// streaming should type-assert and fall back to whole-response delivery.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	provider, apiKey, err := DetectProvider(cfg)
	if err != nil {
		return nil, err
	}
	timeout := cfg.RequestTimeout()

	switch provider {
	case ProviderGemini:
		gc := DefaultGeminiConfig(apiKey)
		gc.Timeout = timeout
		if cfg.Model != "" {
			gc.Model = cfg.Model
		}
		if cfg.Temperature > 0 {
			gc.Temperature = cfg.Temperature
		}
		return NewGeminiClient(ctx, gc)

	case ProviderOpenAI:
		oc := DefaultOpenAIConfig(apiKey)
		oc.BaseURL = cfg.BaseURL
		oc.Timeout = timeout
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.Temperature > 0 {
			oc.Temperature = cfg.Temperature
		}
		return NewOpenAIClient(oc)

	case ProviderAnthropic:
		ac := DefaultAnthropicConfig(apiKey)
		ac.Timeout = timeout
		if cfg.BaseURL != "" {
			ac.BaseURL = cfg.BaseURL
		}
		if cfg.Model != "" {
			ac.Model = cfg.Model
		}
		return NewAnthropicClient(ac), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}
