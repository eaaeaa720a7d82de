package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSources()
	c.normalizeScript()
	c.normalizeNarration()
	c.normalizeLipSync()
	c.normalizeArtifacts()
	c.normalizePipeline()
	if err := c.normalizeDaemon(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name     string
		value    *string
		fallback string
	}{
		{"paths.data_dir", &c.Paths.DataDir, defaultDataDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
		{"paths.artifact_dir", &c.Paths.ArtifactDir, defaultArtifactDir},
		{"paths.archive_dir", &c.Paths.ArchiveDir, defaultArchiveDir},
		{"paths.reports_dir", &c.Paths.ReportsDir, defaultReportsDir},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeSources() {
	order := make([]string, 0, len(c.Sources.Order))
	seen := make(map[string]struct{}, len(c.Sources.Order))
	for _, name := range c.Sources.Order {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		order = append(order, normalized)
	}
	if len(order) == 0 {
		order = []string{"newsapi", "rss", "scrape"}
	}
	c.Sources.Order = order
	c.Sources.NewsAPIKey = envFallback(c.Sources.NewsAPIKey, "NEWSAPI_KEY", "NEWS_API_KEY")
	c.Sources.NewsAPIBaseURL = stringDefault(c.Sources.NewsAPIBaseURL, defaultNewsAPIBaseURL)
	c.Sources.RSSURLTemplate = stringDefault(c.Sources.RSSURLTemplate, defaultRSSURLTemplate)
	c.Sources.Language = stringDefault(c.Sources.Language, defaultSourceLanguage)
	c.Sources.UserAgent = stringDefault(c.Sources.UserAgent, defaultUserAgent)
	c.Sources.ScrapeSearchURL = strings.TrimSpace(c.Sources.ScrapeSearchURL)
	if c.Sources.TimeoutSeconds <= 0 {
		c.Sources.TimeoutSeconds = defaultSourceTimeout
	}
	if c.Sources.MinBodyChars < 0 {
		c.Sources.MinBodyChars = 0
	}
}

func (c *Config) normalizeScript() {
	c.Script.Provider = strings.ToLower(stringDefault(c.Script.Provider, defaultScriptProvider))
	c.Script.Tone = stringDefault(c.Script.Tone, defaultScriptTone)
	if c.Script.TargetSeconds <= 0 {
		c.Script.TargetSeconds = defaultScriptTargetSeconds
	}
	if c.Script.TopicChars <= 0 {
		c.Script.TopicChars = defaultScriptTopicChars
	}
	if c.Script.MaxTokens <= 0 {
		c.Script.MaxTokens = defaultScriptMaxTokens
	}

	c.LLM.BaseURL = stringDefault(c.LLM.BaseURL, defaultLLMBaseURL)
	c.LLM.Model = stringDefault(c.LLM.Model, defaultLLMModel)
	c.LLM.Referer = stringDefault(c.LLM.Referer, defaultLLMReferer)
	c.LLM.Title = stringDefault(c.LLM.Title, defaultLLMTitle)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	c.LLM.APIKey = envFallback(c.LLM.APIKey, "OPENROUTER_API_KEY", "OPENAI_API_KEY")

	c.Anthropic.Model = stringDefault(c.Anthropic.Model, defaultAnthropicModel)
	c.Anthropic.APIKey = envFallback(c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	c.Gemini.Model = stringDefault(c.Gemini.Model, defaultGeminiModel)
	c.Gemini.APIKey = envFallback(c.Gemini.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
}

func (c *Config) normalizeNarration() {
	c.Narration.APIKey = envFallback(c.Narration.APIKey, "ELEVENLABS_API_KEY")
	c.Narration.BaseURL = stringDefault(c.Narration.BaseURL, defaultElevenLabsBaseURL)
	c.Narration.VoiceID = stringDefault(c.Narration.VoiceID, defaultVoiceID)
	c.Narration.ModelID = stringDefault(c.Narration.ModelID, defaultVoiceModel)
	c.Narration.OutputFormat = stringDefault(c.Narration.OutputFormat, defaultVoiceFormat)
	if c.Narration.TimeoutSeconds <= 0 {
		c.Narration.TimeoutSeconds = defaultNarrationTimeout
	}
	if c.Narration.WordsPerSegment <= 0 {
		c.Narration.WordsPerSegment = defaultWordsPerSegment
	}
	if c.Narration.SecondsPerWord <= 0 {
		c.Narration.SecondsPerWord = defaultSecondsPerWord
	}
	if c.Narration.MaxSegmentSeconds <= 0 {
		c.Narration.MaxSegmentSeconds = defaultMaxSegmentSeconds
	}
}

func (c *Config) normalizeLipSync() {
	c.LipSync.APIKey = envFallback(c.LipSync.APIKey, "SYNC_API_KEY", "SYNCLABS_API_KEY")
	c.LipSync.BaseURL = strings.TrimRight(stringDefault(c.LipSync.BaseURL, defaultSyncBaseURL), "/")
	c.LipSync.Model = stringDefault(c.LipSync.Model, defaultSyncModel)
	c.LipSync.TemplateVideoURL = envFallback(c.LipSync.TemplateVideoURL, "AVATAR_TEMPLATE_URL")
	c.LipSync.OutputFormat = stringDefault(c.LipSync.OutputFormat, defaultSyncOutputFormat)
	c.LipSync.SyncMode = stringDefault(c.LipSync.SyncMode, defaultSyncMode)
	if c.LipSync.FPS <= 0 {
		c.LipSync.FPS = defaultSyncFPS
	}
	if c.LipSync.Width <= 0 || c.LipSync.Height <= 0 {
		c.LipSync.Width = defaultSyncWidth
		c.LipSync.Height = defaultSyncHeight
	}
	if c.LipSync.TimeoutSeconds <= 0 {
		c.LipSync.TimeoutSeconds = defaultSyncTimeout
	}
	if c.LipSync.ClaimTimeout <= 0 {
		c.LipSync.ClaimTimeout = defaultClaimTimeout
	}

	if c.Poller.InitialIntervalSeconds <= 0 {
		c.Poller.InitialIntervalSeconds = defaultPollInitial
	}
	if c.Poller.StepSeconds < 0 {
		c.Poller.StepSeconds = 0
	}
	if c.Poller.MaxIntervalSeconds <= 0 {
		c.Poller.MaxIntervalSeconds = defaultPollMax
	}
	if c.Poller.DeadlineMinutes <= 0 {
		c.Poller.DeadlineMinutes = defaultPollDeadline
	}
	if c.Poller.RequestsPerSecond <= 0 {
		c.Poller.RequestsPerSecond = defaultPollRPS
	}
	if c.Poller.Burst <= 0 {
		c.Poller.Burst = defaultPollBurst
	}
	if c.Poller.MaxInFlight <= 0 {
		c.Poller.MaxInFlight = defaultPollInFlight
	}
	if c.Poller.RequestTimeoutSeconds <= 0 {
		c.Poller.RequestTimeoutSeconds = defaultPollRequestTimeout
	}
}

func (c *Config) normalizeArtifacts() {
	c.Artifacts.PublicBackend = strings.ToLower(stringDefault(c.Artifacts.PublicBackend, "local"))
	c.Artifacts.ArchiveBackend = strings.ToLower(stringDefault(c.Artifacts.ArchiveBackend, "local"))
	c.Artifacts.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Artifacts.PublicBaseURL), "/")

	s3 := &c.Artifacts.S3
	s3.Bucket = envFallback(s3.Bucket, "S3_BUCKET_NAME", "S3_BUCKET")
	s3.Region = envFallback(s3.Region, "AWS_REGION", "AWS_DEFAULT_REGION")
	s3.AccessKeyID = envFallback(s3.AccessKeyID, "AWS_ACCESS_KEY_ID")
	s3.SecretAccessKey = envFallback(s3.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	s3.Endpoint = strings.TrimRight(strings.TrimSpace(s3.Endpoint), "/")
	s3.Prefix = strings.Trim(strings.TrimSpace(s3.Prefix), "/")
	s3.PublicBaseURL = strings.TrimRight(strings.TrimSpace(s3.PublicBaseURL), "/")
	if s3.Region == "" {
		s3.Region = "us-east-1"
	}
}

func (c *Config) normalizePipeline() {
	merged := DefaultMaxRetries()
	for stage, budget := range c.Pipeline.MaxRetries {
		key := strings.ToLower(strings.TrimSpace(stage))
		if key == "" || budget <= 0 {
			continue
		}
		merged[key] = budget
	}
	c.Pipeline.MaxRetries = merged
	if c.Pipeline.BaseDelaySeconds < 0 {
		c.Pipeline.BaseDelaySeconds = 0
	}
	if c.Pipeline.MaxDelaySeconds <= 0 {
		c.Pipeline.MaxDelaySeconds = defaultMaxDelaySeconds
	}
	if c.Pipeline.QuotaPauseSeconds <= 0 {
		c.Pipeline.QuotaPauseSeconds = defaultQuotaPauseSeconds
	}

	if c.Batch.MaxConcurrency <= 0 {
		c.Batch.MaxConcurrency = defaultMaxConcurrency
	}
	if c.Batch.ArticleTimeoutMinutes <= 0 {
		c.Batch.ArticleTimeoutMinutes = defaultArticleTimeout
	}
	if c.Batch.BatchTimeoutMinutes <= 0 {
		c.Batch.BatchTimeoutMinutes = defaultBatchTimeout
	}
	if c.Batch.LaunchIntervalSeconds < 0 {
		c.Batch.LaunchIntervalSeconds = 0
	}
}

func (c *Config) normalizeDaemon() error {
	c.Daemon.StaleSchedule = strings.TrimSpace(c.Daemon.StaleSchedule)
	c.Daemon.BatchSchedule = strings.TrimSpace(c.Daemon.BatchSchedule)
	if c.Daemon.MaxStaleResumes < 0 {
		c.Daemon.MaxStaleResumes = 0
	}
	if strings.TrimSpace(c.Daemon.QueriesFile) == "" {
		return nil
	}
	expanded, err := expandPath(strings.TrimSpace(c.Daemon.QueriesFile))
	if err != nil {
		return fmt.Errorf("daemon.queries_file: %w", err)
	}
	c.Daemon.QueriesFile = expanded
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = envFallback(c.Notifications.NtfyTopic, "NTFY_TOPIC")
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func stringDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func envFallback(value string, keys ...string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	for _, key := range keys {
		if env, ok := os.LookupEnv(key); ok && strings.TrimSpace(env) != "" {
			return strings.TrimSpace(env)
		}
	}
	return ""
}
