// Package elevenlabs is a minimal client for the ElevenLabs text-to-speech API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"newscast/internal/services"
)

const (
	defaultBaseURL      = "https://api.elevenlabs.io/v1"
	defaultModelID      = "eleven_turbo_v2"
	defaultOutputFormat = "mp3_44100_128"
	defaultHTTPTimeout  = 60 * time.Second
	providerName        = "elevenlabs"
	maxErrorBody        = 4096
)

// Config captures the synthesis settings.
type Config struct {
	APIKey          string
	BaseURL         string
	ModelID         string
	OutputFormat    string
	Stability       float64
	SimilarityBoost float64
	TimeoutSeconds  int
}

// Client calls the text-to-speech endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client, filling unset fields with defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = defaultModelID
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = defaultOutputFormat
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type errorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// Synthesize renders text with voiceID and returns the encoded audio.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	text = strings.TrimSpace(text)
	voiceID = strings.TrimSpace(voiceID)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, providerName, "synthesize", "narration text is empty", nil)
	}
	if voiceID == "" {
		return nil, services.Wrap(services.ErrConfiguration, providerName, "synthesize", "voice id is required", nil)
	}
	if c.cfg.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, providerName, "synthesize", "api key is required", nil)
	}

	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: c.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       c.cfg.Stability,
			SimilarityBoost: c.cfg.SimilarityBoost,
		},
	})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, providerName, "synthesize", "encode request", err)
	}
	endpoint := fmt.Sprintf("%s/text-to-speech/%s?%s", c.cfg.BaseURL, url.PathEscape(voiceID),
		url.Values{"output_format": {c.cfg.OutputFormat}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, providerName, "synthesize", "build request", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrTransient, providerName, "synthesize", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError("synthesize", resp.StatusCode, raw)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, providerName, "synthesize", "read audio", err)
	}
	if len(audio) == 0 {
		return nil, services.Wrap(services.ErrTransient, providerName, "synthesize", "empty audio response", nil)
	}
	return audio, nil
}

// HealthCheck verifies the API key by reading the account profile.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, providerName, "health", "api key is required", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/user", nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, providerName, "health", "build request", err)
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, providerName, "health", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError("health", resp.StatusCode, raw)
	}
	return nil
}

// statusError classifies a non-200 response. An unknown voice is a
// configuration problem even though the API reports it as 400 or 404.
func statusError(op string, status int, raw []byte) error {
	var parsed errorResponse
	_ = json.Unmarshal(raw, &parsed)
	message := strings.TrimSpace(parsed.Detail.Message)
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	code := strings.ToLower(parsed.Detail.Status)

	marker := services.ClassifyHTTP(status, string(raw))
	switch {
	case code == "quota_exceeded":
		marker = services.ErrQuotaExceeded
	case strings.Contains(code, "voice_not_found"), code == "invalid_uid":
		marker = services.ErrConfiguration
	}
	return services.Wrap(marker, providerName, op, fmt.Sprintf("http %d: %s", status, message), nil)
}
