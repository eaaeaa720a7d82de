package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	ArchiveDir  string `toml:"archive_dir"`
	ReportsDir  string `toml:"reports_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Sources configures the article acquisition fallback chain.
type Sources struct {
	Order           []string `toml:"order"`
	NewsAPIKey      string   `toml:"newsapi_key"`
	NewsAPIBaseURL  string   `toml:"newsapi_base_url"`
	Language        string   `toml:"language"`
	RSSURLTemplate  string   `toml:"rss_url_template"`
	ScrapeSearchURL string   `toml:"scrape_search_url"`
	UserAgent       string   `toml:"user_agent"`
	TimeoutSeconds  int      `toml:"timeout_seconds"`
	MinBodyChars    int      `toml:"min_body_chars"`
}

// Script configures narration script generation.
type Script struct {
	Provider      string  `toml:"provider"`
	Tone          string  `toml:"tone"`
	TargetSeconds int     `toml:"target_seconds"`
	TopicChars    int     `toml:"topic_chars"`
	Temperature   float64 `toml:"temperature"`
	MaxTokens     int     `toml:"max_tokens"`
}

// LLM contains the OpenRouter connection settings.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Anthropic contains Claude connection settings.
type Anthropic struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// Gemini contains Google Gemini connection settings.
type Gemini struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// Narration configures ElevenLabs speech synthesis and subtitle output.
type Narration struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	VoiceID           string  `toml:"voice_id"`
	ModelID           string  `toml:"model_id"`
	OutputFormat      string  `toml:"output_format"`
	Stability         float64 `toml:"stability"`
	SimilarityBoost   float64 `toml:"similarity_boost"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	Subtitles         bool    `toml:"subtitles"`
	WordsPerSegment   int     `toml:"words_per_segment"`
	SecondsPerWord    float64 `toml:"seconds_per_word"`
	MaxSegmentSeconds float64 `toml:"max_segment_seconds"`
}

// LipSync configures the sync.so video provider.
type LipSync struct {
	APIKey           string `toml:"api_key"`
	BaseURL          string `toml:"base_url"`
	Model            string `toml:"model"`
	TemplateVideoURL string `toml:"template_video_url"`
	OutputFormat     string `toml:"output_format"`
	SyncMode         string `toml:"sync_mode"`
	FPS              int    `toml:"fps"`
	Width            int    `toml:"width"`
	Height           int    `toml:"height"`
	ActiveSpeaker    bool   `toml:"active_speaker"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	ClaimTimeout     int    `toml:"claim_timeout_seconds"`
}

// Poller configures the asynchronous video job poller.
type Poller struct {
	InitialIntervalSeconds int     `toml:"initial_interval_seconds"`
	StepSeconds            int     `toml:"step_seconds"`
	MaxIntervalSeconds     int     `toml:"max_interval_seconds"`
	DeadlineMinutes        int     `toml:"deadline_minutes"`
	RequestsPerSecond      float64 `toml:"requests_per_second"`
	Burst                  int     `toml:"burst"`
	MaxInFlight            int     `toml:"max_in_flight"`
	RequestTimeoutSeconds  int     `toml:"request_timeout_seconds"`
}

// S3 configures the S3-compatible artifact backend.
type S3 struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Prefix          string `toml:"prefix"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	PublicBaseURL   string `toml:"public_base_url"`
	UsePathStyle    bool   `toml:"use_path_style"`
}

// Artifacts selects where audio is published and where outputs are archived.
type Artifacts struct {
	PublicBackend  string `toml:"public_backend"`
	ArchiveBackend string `toml:"archive_backend"`
	PublicBaseURL  string `toml:"public_base_url"`
	S3             S3     `toml:"s3"`
}

// Pipeline configures orchestrator retry policy.
type Pipeline struct {
	MaxRetries        map[string]int `toml:"max_retries"`
	BaseDelaySeconds  int            `toml:"base_delay_seconds"`
	MaxDelaySeconds   int            `toml:"max_delay_seconds"`
	QuotaPauseSeconds int            `toml:"quota_pause_seconds"`
}

// Batch configures the batch controller.
type Batch struct {
	MaxConcurrency        int `toml:"max_concurrency"`
	ArticleTimeoutMinutes int `toml:"article_timeout_minutes"`
	BatchTimeoutMinutes   int `toml:"batch_timeout_minutes"`
	LaunchIntervalSeconds int `toml:"launch_interval_seconds"`
}

// Daemon configures scheduled work.
type Daemon struct {
	StaleSchedule   string `toml:"stale_schedule"`
	MaxStaleResumes int    `toml:"max_stale_resumes"`
	BatchSchedule   string `toml:"batch_schedule"`
	QueriesFile     string `toml:"queries_file"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	BatchStarted   bool   `toml:"batch_started"`
	BatchCompleted bool   `toml:"batch_completed"`
	ArticleFailed  bool   `toml:"article_failed"`
	VideoStale     bool   `toml:"video_stale"`
	QuotaExceeded  bool   `toml:"quota_exceeded"`
}

// Config encapsulates all configuration values for newscast.
//
// Configuration sections by subsystem:
//   - Paths: ledger, logs, artifacts, archive and report directories
//   - Sources: acquisition fallback chain (NewsAPI, RSS, scrape)
//   - Script, LLM, Anthropic, Gemini: narration script generation
//   - Narration: ElevenLabs speech and subtitles
//   - LipSync, Poller: sync.so submission and status polling
//   - Artifacts: public and archive storage backends
//   - Pipeline, Batch: retry budgets, concurrency and deadlines
//   - Daemon: cron schedules for stale re-polling and batches
//   - Notifications: ntfy push notification settings
type Config struct {
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Sources       Sources       `toml:"sources"`
	Script        Script        `toml:"script"`
	LLM           LLM           `toml:"llm"`
	Anthropic     Anthropic     `toml:"anthropic"`
	Gemini        Gemini        `toml:"gemini"`
	Narration     Narration     `toml:"narration"`
	LipSync       LipSync       `toml:"lipsync"`
	Poller        Poller        `toml:"poller"`
	Artifacts     Artifacts     `toml:"artifacts"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Batch         Batch         `toml:"batch"`
	Daemon        Daemon        `toml:"daemon"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/newscast/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	loadDotenv(resolvedPath)

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadDotenv populates unset environment variables from .env files next to
// the config and in the working directory. Missing files are ignored.
func loadDotenv(configPath string) {
	candidates := []string{".env"}
	if dir := filepath.Dir(configPath); dir != "" && dir != "." {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err != nil || info.IsDir() {
			continue
		}
		_ = godotenv.Load(candidate)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("newscast.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ArtifactDir, c.Paths.ArchiveDir, c.Paths.ReportsDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns the SQLite ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.DataDir, "ledger.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
