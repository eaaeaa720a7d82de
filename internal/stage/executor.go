package stage

import (
	"context"
	"log/slog"

	"newscast/internal/ledger"
)

// Executor performs the work that moves an article into one stage. It is
// stateless given its input: everything it needs comes from the article's
// recorded payloads. Failures are classified with services.Wrap so the
// orchestrator can decide between retry, halt and quota pause.
type Executor interface {
	Name() string
	Execute(ctx context.Context, st *ledger.ArticleState) (ledger.Payload, error)
	HealthCheck(ctx context.Context) Health
}

// LoggerAware executors receive a logger scoped to the article and stage
// before Execute is called.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Executor names, one per target stage.
const (
	NameAcquireArticle   = "acquire_article"
	NameGenerateScript   = "generate_script"
	NameSynthesizeAudio  = "synthesize_audio"
	NameSubmitVideoJob   = "submit_video_job"
	NameAwaitVideo       = "await_video"
	NameArchiveArtifacts = "archive_artifacts"
	NameFinalizeManifest = "finalize_manifest"
)

// Set maps each target stage to its executor.
type Set map[ledger.Stage]Executor

// Health reports the health of every executor in pipeline order.
func (s Set) Health(ctx context.Context) []Health {
	var out []Health
	for _, target := range ledger.Stages() {
		if exec, ok := s[target]; ok {
			out = append(out, exec.HealthCheck(ctx))
		}
	}
	return out
}
