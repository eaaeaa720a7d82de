package script

import (
	"context"
	"log/slog"

	"newscast/internal/acquire"
	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/logging"
	"newscast/internal/stage"
)

// Executor is the generate_script stage.
type Executor struct {
	provider Provider
	prompt   Prompt
	logger   *slog.Logger
}

func NewExecutor(cfg *config.Config, provider Provider, logger *slog.Logger) *Executor {
	return &Executor{
		provider: provider,
		prompt: Prompt{
			Tone:          cfg.Script.Tone,
			TargetSeconds: cfg.Script.TargetSeconds,
			TopicChars:    cfg.Script.TopicChars,
		},
		logger: logging.NewComponentLogger(logger, stage.NameGenerateScript),
	}
}

func (e *Executor) Name() string { return stage.NameGenerateScript }

func (e *Executor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, stage.NameGenerateScript)
}

func (e *Executor) Execute(ctx context.Context, st *ledger.ArticleState) (ledger.Payload, error) {
	article, err := acquire.Load(st, e.Name())
	if err != nil {
		return ledger.Payload{}, err
	}
	content, err := e.provider.Generate(ctx, e.prompt.System(), e.prompt.User(article))
	if err != nil {
		return ledger.Payload{}, err
	}
	s, err := Parse(e.provider.Name(), content)
	if err != nil {
		return ledger.Payload{}, err
	}
	detail, err := stage.EncodeDetail(e.Name(), s)
	if err != nil {
		return ledger.Payload{}, err
	}
	e.logger.Info("script generated",
		logging.String(logging.FieldEventType, "script_generated"),
		logging.String("provider", e.provider.Name()),
		logging.String("headline", s.Headline),
		logging.Int("words", s.Words()),
		logging.Int("target_words", e.prompt.targetWords()),
	)
	return ledger.Payload{Stage: ledger.StageScripted, Ref: s.Narration(), Detail: detail}, nil
}

func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	if err := e.provider.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(e.Name(), e.provider.Name()+": "+err.Error())
	}
	return stage.Health{Name: e.Name(), Ready: true, Detail: "provider: " + e.provider.Name()}
}

// Load decodes the script recorded at the scripted stage.
func Load(st *ledger.ArticleState, executor string) (Script, error) {
	var s Script
	err := stage.DecodeDetail(st, ledger.StageScripted, executor, &s)
	return s, err
}
