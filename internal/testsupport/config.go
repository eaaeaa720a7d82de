package testsupport

import (
	"path/filepath"
	"testing"

	"newscast/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Vendor credentials are filled with placeholders and retry delays are zeroed
// so orchestrator tests do not sleep.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.ArchiveDir = filepath.Join(base, "archive")
	cfgVal.Paths.ReportsDir = filepath.Join(base, "reports")
	cfgVal.LLM.APIKey = "test"
	cfgVal.Narration.APIKey = "test"
	cfgVal.LipSync.APIKey = "test"
	cfgVal.LipSync.TemplateVideoURL = "https://example.com/avatar.mp4"
	cfgVal.Artifacts.PublicBaseURL = "https://cdn.example.com/newscast"
	cfgVal.Pipeline.BaseDelaySeconds = 0
	cfgVal.Batch.LaunchIntervalSeconds = 0

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithMaxRetries overrides the attempt budget for one stage.
func WithMaxRetries(stage string, budget int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxRetries[stage] = budget
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
