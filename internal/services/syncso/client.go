// Package syncso is a client for the sync.so v2 lip-sync generation API.
package syncso

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
	defaultBaseURL     = "https://api.sync.so/v2"
	defaultModel       = "lipsync-1.9.0-beta"
	defaultHTTPTimeout = 30 * time.Second
	providerName       = "syncso"
	maxErrorBody       = 4096
)

// Status is the provider's job status.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRejected   Status = "REJECTED"
	StatusCanceled   Status = "CANCELED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// Failed reports whether the provider gave up on the job.
func (s Status) Failed() bool {
	switch s {
	case StatusFailed, StatusRejected, StatusCanceled, StatusTimedOut:
		return true
	}
	return false
}

// Config captures the generation settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	OutputFormat   string
	SyncMode       string
	FPS            int
	Width          int
	Height         int
	ActiveSpeaker  bool
	TimeoutSeconds int
}

// Client talks to the generate endpoints.
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
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
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

type input struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type options struct {
	OutputFormat     string `json:"output_format,omitempty"`
	SyncMode         string `json:"sync_mode,omitempty"`
	FPS              int    `json:"fps,omitempty"`
	OutputResolution []int  `json:"output_resolution,omitempty"`
	ActiveSpeaker    bool   `json:"active_speaker"`
}

type generateRequest struct {
	Model   string  `json:"model"`
	Input   []input `json:"input"`
	Options options `json:"options"`
}

// Job is the provider's view of a generation.
type Job struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	OutputURL string `json:"outputUrl"`
	Error     string `json:"error"`
}

// Generate submits a lip-sync job pairing the template video with audio and
// returns the provider job id.
func (c *Client) Generate(ctx context.Context, videoURL, audioURL string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, providerName, "generate", "api key is required", nil)
	}
	if strings.TrimSpace(videoURL) == "" {
		return "", services.Wrap(services.ErrConfiguration, providerName, "generate", "template video url is required", nil)
	}
	payload := generateRequest{
		Model: c.cfg.Model,
		Input: []input{
			{Type: "video", URL: videoURL},
			{Type: "audio", URL: audioURL},
		},
		Options: options{
			OutputFormat:  c.cfg.OutputFormat,
			SyncMode:      c.cfg.SyncMode,
			FPS:           c.cfg.FPS,
			ActiveSpeaker: c.cfg.ActiveSpeaker,
		},
	}
	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		payload.Options.OutputResolution = []int{c.cfg.Width, c.cfg.Height}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, providerName, "generate", "encode request", err)
	}

	var job Job
	if err := c.do(ctx, "generate", http.MethodPost, c.cfg.BaseURL+"/generate", body, &job); err != nil {
		return "", err
	}
	if strings.TrimSpace(job.ID) == "" {
		return "", services.Wrap(services.ErrTransient, providerName, "generate", "response carried no job id", nil)
	}
	return job.ID, nil
}

// Job fetches the current status of jobID. An unknown job is ErrNotFound.
func (c *Client) Job(ctx context.Context, jobID string) (Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return Job{}, services.Wrap(services.ErrValidation, providerName, "status", "job id is required", nil)
	}
	var job Job
	if err := c.do(ctx, "status", http.MethodGet, c.cfg.BaseURL+"/generate/"+url.PathEscape(jobID), nil, &job); err != nil {
		return Job{}, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return job, nil
}

// HealthCheck verifies the API key is configured. The API exposes no cheap
// authenticated probe that does not create a job.
func (c *Client) HealthCheck(context.Context) error {
	if c.cfg.APIKey == "" {
		return services.Wrap(services.ErrConfiguration, providerName, "health", "api key is required", nil)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, providerName, op, "build request", err)
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrTransient, providerName, op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		message := strings.TrimSpace(string(raw))
		var parsed struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(raw, &parsed) == nil {
			if m := strings.TrimSpace(parsed.Message + " " + parsed.Error); m != "" {
				message = m
			}
		}
		return services.Wrap(services.ClassifyHTTP(resp.StatusCode, string(raw)), providerName, op,
			fmt.Sprintf("http %d: %s", resp.StatusCode, message), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, providerName, op, "decode response", err)
	}
	return nil
}
