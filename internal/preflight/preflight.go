package preflight

import (
	"context"
	"time"

	"newscast/internal/artifacts"
	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/stage"
)

const healthTimeout = 30 * time.Second

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Options selects the optional checks RunAll performs.
type Options struct {
	Ledger    *ledger.Store
	Executors stage.Set
}

// RunAll executes every applicable preflight check for cfg. Ledger and
// executor checks run only when opts provides them.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Reports directory", cfg.Paths.ReportsDir),
	}
	if cfg.Artifacts.PublicBackend != artifacts.BackendS3 {
		results = append(results, CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir))
	}
	if cfg.Artifacts.ArchiveBackend != artifacts.BackendS3 {
		results = append(results, CheckDirectoryAccess("Archive directory", cfg.Paths.ArchiveDir))
	}

	results = append(results, CheckCredentials(cfg))

	if opts.Ledger != nil {
		results = append(results, CheckLedger(ctx, opts.Ledger))
	}
	if len(opts.Executors) > 0 {
		results = append(results, CheckExecutors(ctx, opts.Executors)...)
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
