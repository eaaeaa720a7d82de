package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/logging"
	"newscast/internal/notifications"
	"newscast/internal/services"
	"newscast/internal/stage"
)

// ErrNotResumable is returned by Resume for articles that halted as failed.
var ErrNotResumable = errors.New("pipeline: article is not resumable")

// Ref identifies the article to drive.
type Ref struct {
	Fingerprint string
	Query       string
}

// Orchestrator owns ArticleState transitions.
type Orchestrator struct {
	store           *ledger.Store
	executors       stage.Set
	policy          RetryPolicy
	gate            *QuotaGate
	flights         flights
	notifier        notifications.Service
	logger          *slog.Logger
	maxStaleResumes int
	now             func() time.Time
	sleep           func(context.Context, time.Duration) error
}

// New builds an orchestrator. Every stage after StageNew needs an executor.
func New(cfg *config.Config, store *ledger.Store, executors stage.Set, notifier notifications.Service, logger *slog.Logger) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config is required")
	}
	if store == nil {
		return nil, errors.New("pipeline: ledger store is required")
	}
	var missing []string
	for _, target := range ledger.Stages()[1:] {
		if executors[target] == nil {
			missing = append(missing, string(target))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("pipeline: no executor for %s", strings.Join(missing, ", "))
	}
	if notifier == nil {
		notifier = notifications.NewService(&config.Config{})
	}
	return &Orchestrator{
		store:           store,
		executors:       executors,
		policy:          PolicyFromConfig(cfg),
		gate:            NewQuotaGate(cfg.QuotaPause()),
		notifier:        notifier,
		logger:          logging.NewComponentLogger(logger, "pipeline"),
		maxStaleResumes: cfg.Daemon.MaxStaleResumes,
		now:             time.Now,
		sleep:           sleepContext,
	}, nil
}

// Gate exposes the quota gate shared by every article this orchestrator drives.
func (o *Orchestrator) Gate() *QuotaGate { return o.gate }

// Start returns the recorded state for ref, registering a new article when
// the ledger has none.
func (o *Orchestrator) Start(ctx context.Context, ref Ref) (*ledger.ArticleState, error) {
	fp := strings.TrimSpace(ref.Fingerprint)
	if fp == "" {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "start", "fingerprint is required", nil)
	}
	st, err := o.lookup(ctx, fp)
	switch {
	case err == nil:
		return st, nil
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, err
	}
	return o.register(ctx, fp, ref.Query)
}

// Drive starts ref and advances it until the state is terminal. Transient
// failures back off between attempts; quota failures wait on the gate.
// Concurrent Drive or Resume calls for one fingerprint run one at a time;
// a later caller picks up the state the earlier one left.
func (o *Orchestrator) Drive(ctx context.Context, ref Ref) (*ledger.ArticleState, error) {
	if fp := strings.TrimSpace(ref.Fingerprint); fp != "" {
		release, err := o.flights.acquire(ctx, fp)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	st, err := o.Start(ctx, ref)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, st)
}

// Advance performs one step: consult the ledger, wait on the quota gate,
// execute the next stage and persist the outcome. The returned error is the
// executor's classified failure, or a ledger or context error.
func (o *Orchestrator) Advance(ctx context.Context, st *ledger.ArticleState) (*ledger.ArticleState, error) {
	if st == nil {
		return nil, errors.New("pipeline: nil article state")
	}
	current, err := o.refresh(ctx, st)
	if err != nil {
		return st, err
	}
	if current.Terminal() {
		return current, nil
	}
	next, _ := current.Stage.Next()
	exec := o.executors[next]

	if err := o.gate.Wait(ctx, next); err != nil {
		return current, err
	}

	stageCtx := services.WithStage(services.WithFingerprint(ctx, current.Fingerprint), string(next))
	logger := logging.WithContext(stageCtx, o.logger)
	if aware, ok := exec.(stage.LoggerAware); ok {
		aware.SetLogger(logger)
	}

	logger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("executor", exec.Name()),
		logging.Int("attempt", current.Attempts+1),
		logging.Int("budget", o.policy.Budget(next)),
	)

	started := o.now()
	payload, execErr := exec.Execute(stageCtx, current.Clone())
	if execErr == nil && strings.TrimSpace(payload.Ref) == "" {
		execErr = services.Wrap(services.ErrValidation, exec.Name(), "execute", "executor returned an empty reference", nil)
	}
	if execErr != nil {
		return o.handleFailure(stageCtx, logger, current, next, execErr)
	}

	updated := current.Clone()
	payload.Stage = next
	if payload.RecordedAt.IsZero() {
		payload.RecordedAt = o.now().UTC()
	}
	updated.Stage = next
	updated.Attempts = 0
	updated.LastError = nil
	updated.Payloads = append(updated.Payloads, payload)

	if err := o.store.Record(context.WithoutCancel(ctx), updated); err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			logger.Info(
				"concurrent transition recorded first; adopting stored state",
				logging.String(logging.FieldEventType, "transition_conflict"),
			)
			return o.reload(ctx, current)
		}
		return current, fmt.Errorf("persist %s transition: %w", next, err)
	}

	logger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("ref", payload.Ref),
		logging.Duration("elapsed", o.now().Sub(started)),
	)
	return updated, nil
}

// run advances st until it is terminal. An Advance error that persisted
// nothing (ledger failure, cancellation) ends the run.
func (o *Orchestrator) run(ctx context.Context, st *ledger.ArticleState) (*ledger.ArticleState, error) {
	for !st.Terminal() {
		before := st.Version
		next, err := o.Advance(ctx, st)
		if next != nil {
			st = next
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return st, context.Cause(ctx)
		}
		if st.Terminal() {
			break
		}
		if st.Version == before {
			return st, err
		}
		if services.Classify(err) == services.KindQuota {
			continue
		}

		delay := o.policy.Backoff(st.Attempts)
		logger := logging.WithContext(services.WithFingerprint(ctx, st.Fingerprint), o.logger)
		logger.Info(
			"retry scheduled",
			logging.String(logging.FieldEventType, "retry_scheduled"),
			logging.Int("attempts", st.Attempts),
			logging.Duration("delay", delay),
		)
		if err := o.sleep(ctx, delay); err != nil {
			return st, context.Cause(ctx)
		}
	}
	return st, nil
}

func (o *Orchestrator) handleFailure(ctx context.Context, logger *slog.Logger, current *ledger.ArticleState, next ledger.Stage, execErr error) (*ledger.ArticleState, error) {
	kind := services.Classify(execErr)
	if kind == services.KindCanceled && ctx.Err() != nil {
		logger.Info(
			"stage interrupted",
			logging.String(logging.FieldEventType, "stage_canceled"),
			logging.Error(execErr),
		)
		return current, execErr
	}
	switch {
	case kind == services.KindCanceled, kind == services.KindLedger:
		kind = services.KindTransient
	case kind == services.KindTimeout && current.Stage != ledger.StageVideoSubmitted:
		kind = services.KindTransient
	}

	details := services.Details(execErr)
	updated := current.Clone()
	updated.LastError = &ledger.StageError{
		Kind:    string(kind),
		Stage:   next,
		Message: details.Message,
		At:      o.now().UTC(),
	}

	var decision string
	var pausedUntil time.Time
	switch kind {
	case services.KindQuota:
		pausedUntil = o.gate.Trip(next)
		if rec := quotaRecorderFrom(ctx); rec != nil {
			rec.record(next)
		}
		decision = "quota_pause"
	case services.KindTimeout:
		updated.Attempts++
		updated.Halt = ledger.HaltStale
		decision = "stale"
	case services.KindValidation, services.KindConfiguration, services.KindNotFound:
		updated.Attempts++
		updated.Halt = ledger.HaltFailed
		decision = "halt"
	default:
		updated.Attempts++
		if updated.Attempts >= o.policy.Budget(next) {
			updated.Halt = ledger.HaltFailed
			decision = "exhausted"
		} else {
			decision = "retry"
		}
	}

	if err := o.store.Record(context.WithoutCancel(ctx), updated); err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			logger.Info(
				"concurrent transition recorded first; adopting stored state",
				logging.String(logging.FieldEventType, "transition_conflict"),
			)
			return o.reload(ctx, current)
		}
		logger.Error("failed to persist stage failure", logging.Error(err))
		return current, fmt.Errorf("persist %s failure: %w", next, err)
	}

	attrs := append(logging.DecisionAttrs("stage_failure", decision, string(kind)),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Int("attempts", updated.Attempts),
		logging.Int("budget", o.policy.Budget(next)),
		logging.String("error_message", details.Message),
		logging.Error(execErr),
	)
	switch decision {
	case "retry":
		logging.WarnWithContext(logger, "stage failed; will retry", "stage_retry",
			append(attrs,
				logging.String(logging.FieldErrorHint, "transient provider failure; no action needed unless it persists"),
				logging.String(logging.FieldImpact, "article is delayed by backoff"),
			)...)
	case "quota_pause":
		logging.WarnWithContext(logger, "provider quota exhausted; stage paused", "quota_exceeded",
			append(attrs,
				logging.Time("paused_until", pausedUntil),
				logging.String(logging.FieldErrorHint, "top up the provider account or raise its quota"),
				logging.String(logging.FieldImpact, "new work for this stage waits until the pause ends"),
			)...)
		o.publish(ctx, logger, notifications.EventQuotaExceeded, notifications.Payload{
			"stage": string(next),
			"until": pausedUntil.Format(time.RFC3339),
		})
	case "stale":
		jobID := ""
		if p, ok := updated.Payload(ledger.StageVideoSubmitted); ok {
			jobID = p.Ref
		}
		logging.WarnWithContext(logger, "video job exceeded its watch deadline", "video_stale",
			append(attrs,
				logging.String(logging.FieldJobID, jobID),
				logging.String(logging.FieldErrorHint, "run newscast resume --stale or let the daemon re-poll"),
				logging.String(logging.FieldImpact, "article is parked until the job is re-polled"),
			)...)
		o.publish(ctx, logger, notifications.EventVideoStale, notifications.Payload{
			"fingerprint": updated.Fingerprint,
			"jobID":       jobID,
		})
	default:
		logging.ErrorWithContext(logger, "stage failed; article halted", "stage_failure", attrs...)
		o.publish(ctx, logger, notifications.EventArticleFailed, notifications.Payload{
			"fingerprint": updated.Fingerprint,
			"stage":       string(next),
			"reason":      details.Message,
		})
	}
	return updated, execErr
}

func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := o.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

// lookup reads fp from the ledger. An unreadable row is discarded after a
// warning and reported as ErrNotFound so the article is re-executed.
func (o *Orchestrator) lookup(ctx context.Context, fp string) (*ledger.ArticleState, error) {
	st, err := o.store.Lookup(ctx, fp)
	if err == nil || !errors.Is(err, services.ErrLedgerInconsistency) {
		return st, err
	}
	logging.WarnWithContext(
		logging.WithContext(services.WithFingerprint(ctx, fp), o.logger),
		"discarding unreadable ledger row", "ledger_inconsistency",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "no action needed; inspect the database if this repeats"),
		logging.String(logging.FieldImpact, "article restarts from acquisition"),
	)
	if derr := o.store.Discard(ctx, fp); derr != nil {
		return nil, fmt.Errorf("discard inconsistent row: %w", derr)
	}
	return nil, ledger.ErrNotFound
}

func (o *Orchestrator) register(ctx context.Context, fp, query string) (*ledger.ArticleState, error) {
	st := ledger.NewArticleState(fp, query)
	if err := o.store.Record(ctx, st); err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			return o.lookup(ctx, fp)
		}
		return nil, fmt.Errorf("register article: %w", err)
	}
	logging.WithContext(services.WithFingerprint(ctx, fp), o.logger).Info(
		"article registered",
		logging.String(logging.FieldEventType, "article_registered"),
		logging.String("query", query),
	)
	return st, nil
}

// refresh returns the ledger's view of st, which always wins over the
// caller's copy.
func (o *Orchestrator) refresh(ctx context.Context, st *ledger.ArticleState) (*ledger.ArticleState, error) {
	stored, err := o.lookup(ctx, st.Fingerprint)
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, ledger.ErrNotFound):
		return o.register(ctx, st.Fingerprint, st.Query)
	default:
		return st, err
	}
}

func (o *Orchestrator) reload(ctx context.Context, fallback *ledger.ArticleState) (*ledger.ArticleState, error) {
	stored, err := o.lookup(context.WithoutCancel(ctx), fallback.Fingerprint)
	if err != nil {
		return fallback, fmt.Errorf("reload after conflict: %w", err)
	}
	return stored, nil
}
