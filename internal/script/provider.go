package script

import (
	"context"
	"fmt"
	"strings"

	"newscast/internal/config"
	"newscast/internal/services/llm"
)

// Provider names accepted in script.provider.
const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
)

// Provider generates text from a system and user prompt. Errors carry a
// services sentinel: moderation refusals are ErrValidation, rate limits and
// timeouts ErrTransient.
type Provider interface {
	Name() string
	Generate(ctx context.Context, system, prompt string) (string, error)
	HealthCheck(ctx context.Context) error
}

// NewProvider builds the provider selected by cfg.Script.Provider.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Script.Provider)) {
	case "", ProviderOpenRouter:
		return llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
			Temperature:    cfg.Script.Temperature,
			MaxTokens:      cfg.Script.MaxTokens,
		}), nil
	case ProviderAnthropic:
		return NewAnthropic(AnthropicConfig{
			APIKey:      cfg.Anthropic.APIKey,
			Model:       cfg.Anthropic.Model,
			Temperature: cfg.Script.Temperature,
			MaxTokens:   cfg.Script.MaxTokens,
			Timeout:     cfg.LLMTimeout(),
		}), nil
	case ProviderGemini:
		return NewGemini(ctx, GeminiConfig{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Script.Temperature,
			MaxTokens:   cfg.Script.MaxTokens,
			Timeout:     cfg.LLMTimeout(),
		})
	default:
		return nil, fmt.Errorf("script: unknown provider %q", cfg.Script.Provider)
	}
}
