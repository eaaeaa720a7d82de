package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

var (
	knownSources         = []string{"newsapi", "rss", "scrape"}
	knownScriptProviders = []string{"openrouter", "anthropic", "gemini"}
	knownBackends        = []string{"local", "s3", "mirror"}
	knownStages          = []string{"acquired", "scripted", "narrated", "video_submitted", "video_ready", "archived", "done"}
)

// Validate ensures the configuration is structurally usable. Vendor
// credentials are not required here; see MissingCredentials.
func (c *Config) Validate() error {
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validateScript(); err != nil {
		return err
	}
	if err := c.validateNarration(); err != nil {
		return err
	}
	if err := c.validatePoller(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateSources() error {
	for _, name := range c.Sources.Order {
		if !slices.Contains(knownSources, name) {
			return fmt.Errorf("sources.order: unknown source %q (expected one of %s)", name, strings.Join(knownSources, ", "))
		}
	}
	if !strings.Contains(c.Sources.RSSURLTemplate, "{query}") {
		return errors.New("sources.rss_url_template must contain {query}")
	}
	if c.Sources.ScrapeSearchURL != "" && !strings.Contains(c.Sources.ScrapeSearchURL, "{query}") {
		return errors.New("sources.scrape_search_url must contain {query}")
	}
	return nil
}

func (c *Config) validateScript() error {
	if !slices.Contains(knownScriptProviders, c.Script.Provider) {
		return fmt.Errorf("script.provider: unknown provider %q (expected one of %s)", c.Script.Provider, strings.Join(knownScriptProviders, ", "))
	}
	if c.Script.Temperature < 0 || c.Script.Temperature > 2 {
		return errors.New("script.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validateNarration() error {
	if c.Narration.Stability < 0 || c.Narration.Stability > 1 {
		return errors.New("narration.stability must be between 0 and 1")
	}
	if c.Narration.SimilarityBoost < 0 || c.Narration.SimilarityBoost > 1 {
		return errors.New("narration.similarity_boost must be between 0 and 1")
	}
	return nil
}

func (c *Config) validatePoller() error {
	if c.Poller.MaxIntervalSeconds < c.Poller.InitialIntervalSeconds {
		return errors.New("poller.max_interval_seconds must be >= poller.initial_interval_seconds")
	}
	if c.Poller.DeadlineMinutes*60 < c.Poller.InitialIntervalSeconds {
		return errors.New("poller.deadline_minutes must exceed the initial poll interval")
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	if !slices.Contains(knownBackends, c.Artifacts.PublicBackend) {
		return fmt.Errorf("artifacts.public_backend: unknown backend %q", c.Artifacts.PublicBackend)
	}
	if !slices.Contains(knownBackends, c.Artifacts.ArchiveBackend) {
		return fmt.Errorf("artifacts.archive_backend: unknown backend %q", c.Artifacts.ArchiveBackend)
	}
	if c.Artifacts.PublicBaseURL != "" {
		if _, err := url.ParseRequestURI(c.Artifacts.PublicBaseURL); err != nil {
			return fmt.Errorf("artifacts.public_base_url: %w", err)
		}
	}
	if c.usesS3() && c.Artifacts.S3.Bucket == "" {
		return errors.New("artifacts.s3.bucket must be set when an s3 or mirror backend is selected (or set S3_BUCKET_NAME)")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	for stage := range c.Pipeline.MaxRetries {
		if !slices.Contains(knownStages, stage) {
			return fmt.Errorf("pipeline.max_retries: unknown stage %q", stage)
		}
	}
	if c.Pipeline.BaseDelaySeconds > c.Pipeline.MaxDelaySeconds {
		return errors.New("pipeline.base_delay_seconds must be <= pipeline.max_delay_seconds")
	}
	if c.Batch.BatchTimeoutMinutes < c.Batch.ArticleTimeoutMinutes {
		return errors.New("batch.batch_timeout_minutes must be >= batch.article_timeout_minutes")
	}
	return nil
}

func (c *Config) validateDaemon() error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if c.Daemon.StaleSchedule != "" {
		if _, err := parser.Parse(c.Daemon.StaleSchedule); err != nil {
			return fmt.Errorf("daemon.stale_schedule: %w", err)
		}
	}
	if c.Daemon.BatchSchedule != "" {
		if _, err := parser.Parse(c.Daemon.BatchSchedule); err != nil {
			return fmt.Errorf("daemon.batch_schedule: %w", err)
		}
		if c.Daemon.QueriesFile == "" {
			return errors.New("daemon.queries_file must be set when daemon.batch_schedule is set")
		}
	}
	return nil
}

func (c *Config) usesS3() bool {
	for _, backend := range []string{c.Artifacts.PublicBackend, c.Artifacts.ArchiveBackend} {
		if backend == "s3" || backend == "mirror" {
			return true
		}
	}
	return false
}

// MissingCredentials lists the vendor credentials the configured pipeline
// needs but does not have. An empty result means a run can start.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if slices.Contains(c.Sources.Order, "newsapi") && c.Sources.NewsAPIKey == "" && len(c.Sources.Order) == 1 {
		missing = append(missing, "sources.newsapi_key (NEWSAPI_KEY)")
	}
	switch c.Script.Provider {
	case "openrouter":
		if c.LLM.APIKey == "" {
			missing = append(missing, "llm.api_key (OPENROUTER_API_KEY)")
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			missing = append(missing, "anthropic.api_key (ANTHROPIC_API_KEY)")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			missing = append(missing, "gemini.api_key (GEMINI_API_KEY)")
		}
	}
	if c.Narration.APIKey == "" {
		missing = append(missing, "narration.api_key (ELEVENLABS_API_KEY)")
	}
	if c.LipSync.APIKey == "" {
		missing = append(missing, "lipsync.api_key (SYNC_API_KEY)")
	}
	if c.LipSync.TemplateVideoURL == "" {
		missing = append(missing, "lipsync.template_video_url (AVATAR_TEMPLATE_URL)")
	}
	if c.usesS3() && (c.Artifacts.S3.AccessKeyID == "") != (c.Artifacts.S3.SecretAccessKey == "") {
		missing = append(missing, "artifacts.s3.access_key_id and secret_access_key must be set together")
	}
	return missing
}
