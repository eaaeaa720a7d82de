// Package newsapi is a client for the NewsAPI everything endpoint.
package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"newscast/internal/services"
)

const (
	defaultBaseURL     = "https://newsapi.org/v2/everything"
	defaultHTTPTimeout = 20 * time.Second
	providerName       = "newsapi"
	maxErrorBody       = 4096
)

var truncationMarker = regexp.MustCompile(`\s*\[\+\d+ chars\]\s*$`)

// Config captures the endpoint and credentials.
type Config struct {
	APIKey         string
	BaseURL        string
	UserAgent      string
	TimeoutSeconds int
}

// Client queries NewsAPI.
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
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
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

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

// SearchParams narrows a search.
type SearchParams struct {
	Query    string
	Language string
	PageSize int
	From     time.Time
	To       time.Time
}

// Article is one search hit.
type Article struct {
	Title       string
	URL         string
	Description string
	Content     string
	Source      string
	Author      string
	ImageURL    string
	PublishedAt time.Time
}

// Text joins the description and the truncated content preview.
func (a Article) Text() string {
	parts := make([]string, 0, 2)
	if d := strings.TrimSpace(a.Description); d != "" {
		parts = append(parts, d)
	}
	if c := strings.TrimSpace(a.Content); c != "" && c != strings.TrimSpace(a.Description) {
		parts = append(parts, c)
	}
	return strings.Join(parts, "\n\n")
}

type searchResponse struct {
	Status       string `json:"status"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	TotalResults int    `json:"totalResults"`
	Articles     []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Author      string `json:"author"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		URLToImage  string `json:"urlToImage"`
		PublishedAt string `json:"publishedAt"`
		Content     string `json:"content"`
	} `json:"articles"`
}

// Search returns articles matching p, most relevant first.
func (c *Client) Search(ctx context.Context, p SearchParams) ([]Article, error) {
	if c.cfg.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, providerName, "search", "api key is required", nil)
	}
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return nil, services.Wrap(services.ErrValidation, providerName, "search", "query is required", nil)
	}
	values := url.Values{}
	values.Set("q", query)
	values.Set("sortBy", "relevancy")
	values.Set("searchIn", "title,description,content")
	if p.Language != "" {
		values.Set("language", p.Language)
	}
	if p.PageSize > 0 {
		values.Set("pageSize", strconv.Itoa(p.PageSize))
	}
	if !p.From.IsZero() {
		values.Set("from", p.From.UTC().Format("2006-01-02"))
	}
	if !p.To.IsZero() {
		values.Set("to", p.To.UTC().Format("2006-01-02"))
	}

	endpoint := c.cfg.BaseURL
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + values.Encode()
	} else {
		endpoint += "?" + values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, providerName, "search", "build request", err)
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrTransient, providerName, "search", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(resp.StatusCode, raw)
	}
	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, services.Wrap(services.ErrTransient, providerName, "search", "decode response", err)
	}
	if parsed.Status != "" && parsed.Status != "ok" {
		return nil, services.Wrap(services.ErrTransient, providerName, "search", parsed.Message, nil)
	}

	articles := make([]Article, 0, len(parsed.Articles))
	for _, raw := range parsed.Articles {
		if strings.TrimSpace(raw.URL) == "" || raw.Title == "[Removed]" {
			continue
		}
		published, _ := time.Parse(time.RFC3339, raw.PublishedAt)
		articles = append(articles, Article{
			Title:       strings.TrimSpace(raw.Title),
			URL:         strings.TrimSpace(raw.URL),
			Description: strings.TrimSpace(raw.Description),
			Content:     truncationMarker.ReplaceAllString(strings.TrimSpace(raw.Content), ""),
			Source:      strings.TrimSpace(raw.Source.Name),
			Author:      strings.TrimSpace(raw.Author),
			ImageURL:    strings.TrimSpace(raw.URLToImage),
			PublishedAt: published,
		})
	}
	return articles, nil
}

// statusError maps NewsAPI error codes. rateLimited and
// maximumResultsReached mean the plan allowance is spent.
func statusError(status int, raw []byte) error {
	var parsed searchResponse
	_ = json.Unmarshal(raw, &parsed)
	marker := services.ClassifyHTTP(status, string(raw))
	switch parsed.Code {
	case "rateLimited", "maximumResultsReached":
		marker = services.ErrQuotaExceeded
	case "apiKeyInvalid", "apiKeyDisabled", "apiKeyExhausted", "apiKeyMissing":
		marker = services.ErrConfiguration
	}
	message := strings.TrimSpace(parsed.Message)
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	return services.Wrap(marker, providerName, "search", fmt.Sprintf("http %d: %s", status, message), nil)
}
