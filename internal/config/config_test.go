package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"newscast/internal/config"
)

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENROUTER_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
		"ELEVENLABS_API_KEY", "SYNC_API_KEY", "SYNCLABS_API_KEY", "AVATAR_TEMPLATE_URL", "NEWSAPI_KEY", "NEWS_API_KEY",
		"S3_BUCKET_NAME", "S3_BUCKET", "AWS_REGION", "AWS_DEFAULT_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
		"NTFY_TOPIC",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultConfigExpandsPathsAndReadsEnv(t *testing.T) {
	clearCredentialEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("SYNC_API_KEY", "sync-key")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "newscast")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.LedgerPath() != filepath.Join(wantData, "ledger.db") {
		t.Fatalf("unexpected ledger path: %q", cfg.LedgerPath())
	}
	if cfg.LLM.APIKey != "or-key" {
		t.Fatalf("expected llm key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.LipSync.APIKey != "sync-key" {
		t.Fatalf("expected sync key from env, got %q", cfg.LipSync.APIKey)
	}
	if got := cfg.Pipeline.MaxRetries["video_ready"]; got != 1 {
		t.Fatalf("expected video_ready budget 1, got %d", got)
	}
	if cfg.PollDeadline().Minutes() != 20 {
		t.Fatalf("unexpected poll deadline: %s", cfg.PollDeadline())
	}
	if cfg.Logging.RetentionDays != 30 {
		t.Fatalf("unexpected log retention: %d", cfg.Logging.RetentionDays)
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	clearCredentialEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"data_dir": "~/nc-data",
		},
		"logging": map[string]any{
			"format":         "JSON",
			"level":          "DEBUG",
			"retention_days": -4,
		},
		"script": map[string]any{
			"provider": "Anthropic",
		},
		"pipeline": map[string]any{
			"max_retries": map[string]any{"scripted": 7},
		},
		"batch": map[string]any{
			"max_concurrency": 5,
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config at %q to exist, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "nc-data") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging, got %q/%q", cfg.Logging.Format, cfg.Logging.Level)
	}
	if cfg.Logging.RetentionDays != 0 {
		t.Fatalf("expected negative retention to disable pruning, got %d", cfg.Logging.RetentionDays)
	}
	if cfg.Script.Provider != "anthropic" {
		t.Fatalf("expected provider anthropic, got %q", cfg.Script.Provider)
	}
	if cfg.Pipeline.MaxRetries["scripted"] != 7 {
		t.Fatalf("expected scripted override, got %d", cfg.Pipeline.MaxRetries["scripted"])
	}
	if cfg.Pipeline.MaxRetries["acquired"] != 5 {
		t.Fatalf("expected acquired default kept, got %d", cfg.Pipeline.MaxRetries["acquired"])
	}
	if cfg.Batch.MaxConcurrency != 5 {
		t.Fatalf("unexpected concurrency: %d", cfg.Batch.MaxConcurrency)
	}
}

func TestLoadReadsDotenvNextToConfig(t *testing.T) {
	clearCredentialEnv(t)
	os.Unsetenv("ELEVENLABS_API_KEY")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "config.toml")
	if err := os.WriteFile(configPath, []byte("[logging]\nlevel = \"info\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempHome, ".env"), []byte("ELEVENLABS_API_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("ELEVENLABS_API_KEY") })

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Narration.APIKey != "from-dotenv" {
		t.Fatalf("expected dotenv key, got %q", cfg.Narration.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown source", func(c *config.Config) { c.Sources.Order = []string{"twitter"} }, "sources.order"},
		{"unknown provider", func(c *config.Config) { c.Script.Provider = "llama" }, "script.provider"},
		{"unknown stage budget", func(c *config.Config) { c.Pipeline.MaxRetries["published"] = 2 }, "pipeline.max_retries"},
		{"s3 without bucket", func(c *config.Config) { c.Artifacts.ArchiveBackend = "s3" }, "artifacts.s3.bucket"},
		{"bad cron", func(c *config.Config) { c.Daemon.StaleSchedule = "every now and then" }, "daemon.stale_schedule"},
		{"batch shorter than article", func(c *config.Config) { c.Batch.BatchTimeoutMinutes = 10 }, "batch.batch_timeout_minutes"},
		{"poll max below initial", func(c *config.Config) { c.Poller.MaxIntervalSeconds = 5 }, "poller.max_interval_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestMissingCredentialsFollowsProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Script.Provider = "gemini"
	missing := strings.Join(cfg.MissingCredentials(), ",")
	for _, want := range []string{"gemini.api_key", "narration.api_key", "lipsync.api_key", "lipsync.template_video_url"} {
		if !strings.Contains(missing, want) {
			t.Fatalf("expected %q in %q", want, missing)
		}
	}
	if strings.Contains(missing, "llm.api_key") {
		t.Fatalf("openrouter key should not be required for gemini: %q", missing)
	}

	cfg.Gemini.APIKey = "g"
	cfg.Narration.APIKey = "n"
	cfg.LipSync.APIKey = "s"
	cfg.LipSync.TemplateVideoURL = "https://example.com/avatar.mp4"
	if got := cfg.MissingCredentials(); len(got) != 0 {
		t.Fatalf("expected no missing credentials, got %v", got)
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	clearCredentialEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	path := filepath.Join(tempHome, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.LipSync.FPS != 25 {
		t.Fatalf("unexpected fps: %d", cfg.LipSync.FPS)
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfg.Paths.ArchiveDir = filepath.Join(base, "archive")
	cfg.Paths.ReportsDir = filepath.Join(base, "reports")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.ArtifactDir, cfg.Paths.ArchiveDir, cfg.Paths.ReportsDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
