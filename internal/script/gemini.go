package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"newscast/internal/services"
)

// GeminiConfig configures the Gemini provider.
type GeminiConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Gemini generates scripts with Google's Gemini API.
type Gemini struct {
	cfg    GeminiConfig
	client *genai.Client
}

// NewGemini creates the SDK client. A missing key is reported when Generate
// or HealthCheck is called, not here, so a misconfigured provider still
// shows up in the preflight report.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	g := &Gemini{cfg: cfg}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return g, nil
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("script: create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *Gemini) Name() string { return ProviderGemini }

func (g *Gemini) Generate(ctx context.Context, system, prompt string) (string, error) {
	if g.client == nil {
		return "", services.Wrap(services.ErrConfiguration, ProviderGemini, "generate", "api key is required", nil)
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(g.cfg.Temperature)),
		ResponseMIMEType: "application/json",
	}
	if g.cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), genCfg)
	if err != nil {
		return "", classifyGemini(ctx, err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", services.Wrap(services.ErrValidation, ProviderGemini, "generate",
			"prompt blocked: "+string(resp.PromptFeedback.BlockReason), nil)
	}
	var out strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil {
			continue
		}
		if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonProhibitedContent {
			return "", services.Wrap(services.ErrValidation, ProviderGemini, "generate",
				"response blocked: "+string(candidate.FinishReason), nil)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" {
				out.WriteString(part.Text)
			}
		}
		if out.Len() > 0 {
			break
		}
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", services.Wrap(services.ErrTransient, ProviderGemini, "generate", "empty response", nil)
	}
	return out.String(), nil
}

func (g *Gemini) HealthCheck(context.Context) error {
	if g.client == nil {
		return services.Wrap(services.ErrConfiguration, ProviderGemini, "health", "api key is required", nil)
	}
	if strings.TrimSpace(g.cfg.Model) == "" {
		return services.Wrap(services.ErrConfiguration, ProviderGemini, "health", "model is required", nil)
	}
	return nil
}

func classifyGemini(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTransient, ProviderGemini, "generate", "request timed out", err)
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return geminiAPIError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return geminiAPIError(*apiErrPtr)
	}
	return services.Wrap(services.ErrTransient, ProviderGemini, "generate", "request failed", err)
}

func geminiAPIError(apiErr genai.APIError) error {
	marker := services.ClassifyHTTP(apiErr.Code, apiErr.Status+" "+apiErr.Message)
	if apiErr.Status == "RESOURCE_EXHAUSTED" && strings.Contains(strings.ToLower(apiErr.Message), "quota") {
		marker = services.ErrQuotaExceeded
	}
	return services.Wrap(marker, ProviderGemini, "generate", fmt.Sprintf("%d %s: %s", apiErr.Code, apiErr.Status, apiErr.Message), nil)
}
