package script

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"newscast/internal/services"
)

const (
	defaultAnthropicMaxTokens = 1024
	anthropicRefusal          = "refusal"
)

// AnthropicConfig configures the Claude provider.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Anthropic generates scripts with Claude through the Messages API.
type Anthropic struct {
	cfg    AnthropicConfig
	client anthropic.Client
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{cfg: cfg, client: anthropic.NewClient(opts...)}
}

func (a *Anthropic) Name() string { return ProviderAnthropic }

func (a *Anthropic) Generate(ctx context.Context, system, prompt string) (string, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return "", services.Wrap(services.ErrConfiguration, ProviderAnthropic, "generate", "api key is required", nil)
	}
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.cfg.Model),
		MaxTokens: int64(a.cfg.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if a.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(a.cfg.Temperature)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", classifyAnthropic(ctx, err)
	}
	if string(resp.StopReason) == anthropicRefusal {
		return "", services.Wrap(services.ErrValidation, ProviderAnthropic, "generate", "model refused the request", nil)
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", services.Wrap(services.ErrTransient, ProviderAnthropic, "generate", "empty response", nil)
	}
	return out.String(), nil
}

func (a *Anthropic) HealthCheck(context.Context) error {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return services.Wrap(services.ErrConfiguration, ProviderAnthropic, "health", "api key is required", nil)
	}
	if strings.TrimSpace(a.cfg.Model) == "" {
		return services.Wrap(services.ErrConfiguration, ProviderAnthropic, "health", "model is required", nil)
	}
	return nil
}

func classifyAnthropic(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTransient, ProviderAnthropic, "generate", "request timed out", err)
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		marker := services.ClassifyHTTP(apiErr.StatusCode, apiErr.RawJSON())
		// 529 overloaded falls under 5xx; billing problems come back as 400
		if strings.Contains(strings.ToLower(apiErr.RawJSON()), "credit balance") {
			marker = services.ErrQuotaExceeded
		}
		return services.Wrap(marker, ProviderAnthropic, "generate", apiErr.Error(), nil)
	}
	return services.Wrap(services.ErrTransient, ProviderAnthropic, "generate", "request failed", err)
}
