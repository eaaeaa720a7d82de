package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"newscast/internal/acquire"
	"newscast/internal/config"
	"newscast/internal/fileutil"
	"newscast/internal/fingerprint"
	"newscast/internal/ledger"
	"newscast/internal/logging"
	"newscast/internal/notifications"
	"newscast/internal/pipeline"
	"newscast/internal/services"
)

var (
	errBatchTimeout   = errors.New(ledger.ReasonBatchTimeout)
	errArticleTimeout = errors.New(ledger.ReasonArticleTimeout)
)

// Driver advances one article to a terminal state. *pipeline.Orchestrator
// satisfies it.
type Driver interface {
	Drive(ctx context.Context, ref pipeline.Ref) (*ledger.ArticleState, error)
}

// Controller runs batches.
type Controller struct {
	store          *ledger.Store
	driver         Driver
	notifier       notifications.Service
	logger         *slog.Logger
	articleTimeout time.Duration
	batchTimeout   time.Duration
	launchInterval time.Duration
	reportsDir     string
	now            func() time.Time
	newRunID       func() string
}

// New builds a controller.
func New(cfg *config.Config, store *ledger.Store, driver Driver, notifier notifications.Service, logger *slog.Logger) *Controller {
	if notifier == nil {
		notifier = notifications.NewService(&config.Config{})
	}
	return &Controller{
		store:          store,
		driver:         driver,
		notifier:       notifier,
		logger:         logging.NewComponentLogger(logger, "batch"),
		articleTimeout: cfg.ArticleTimeout(),
		batchTimeout:   cfg.BatchTimeout(),
		launchInterval: cfg.LaunchInterval(),
		reportsDir:     cfg.Paths.ReportsDir,
		now:            time.Now,
		newRunID:       uuid.NewString,
	}
}

type item struct {
	ledger.BatchItem
	query acquire.Query
}

// RunBatch drives every query and returns the completed report. The error is
// non-nil only when the run could not be recorded at all.
func (c *Controller) RunBatch(ctx context.Context, queries []acquire.Query, maxConcurrency int) (*ledger.BatchRun, error) {
	if len(queries) == 0 {
		return nil, services.Wrap(services.ErrValidation, "batch", "run", "no queries supplied", nil)
	}
	maxConcurrency = max(maxConcurrency, 1)
	started := c.now().UTC()
	run := &ledger.BatchRun{RunID: c.newRunID(), StartedAt: started}
	ctx = services.WithRunID(ctx, run.RunID)
	logger := logging.WithContext(ctx, c.logger)

	outcomes := make([]*ledger.Outcome, len(queries))
	var pending []item
	seen := make(map[string]int, len(queries))
	for i, q := range queries {
		fp := fingerprint.Identify(q.Ref(started))
		run.Items = append(run.Items, ledger.BatchItem{Index: i, Query: q.String(), Fingerprint: fp})
		switch first, dup := seen[fp]; {
		case fp == "":
			outcomes[i] = &ledger.Outcome{Index: i, Query: q.String(), Kind: ledger.OutcomeFailed, Stage: ledger.StageNew, Reason: "empty query"}
		case dup:
			outcomes[i] = &ledger.Outcome{
				Index: i, Fingerprint: fp, Query: q.String(),
				Kind: ledger.OutcomeSkipped, Reason: ledger.ReasonDuplicateInBatch,
			}
			logger.Info("duplicate query skipped",
				logging.String(logging.FieldEventType, "duplicate_in_batch"),
				logging.String("fingerprint", fp),
				logging.Int("first_index", first),
			)
		default:
			seen[fp] = i
			pending = append(pending, item{BatchItem: run.Items[i], query: q})
		}
	}
	for _, o := range outcomes {
		if o != nil {
			run.Outcomes = append(run.Outcomes, *o)
		}
	}
	if err := c.store.CreateBatch(ctx, run); err != nil {
		return nil, fmt.Errorf("record batch: %w", err)
	}
	logger.Info("batch started",
		logging.String(logging.FieldEventType, "batch_started"),
		logging.Int("items", len(queries)),
		logging.Int("launching", len(pending)),
		logging.Int("max_concurrency", maxConcurrency),
	)
	c.notify(ctx, logger, notifications.EventBatchStarted, notifications.Payload{"runID": run.RunID, "count": len(queries)})

	batchCtx := ctx
	if c.batchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeoutCause(ctx, c.batchTimeout, errBatchTimeout)
		defer cancel()
	}
	recorder := pipeline.NewQuotaRecorder()
	batchCtx = pipeline.WithQuotaRecorder(batchCtx, recorder)

	var mu sync.Mutex
	settle := func(o ledger.Outcome) {
		mu.Lock()
		outcomes[o.Index] = &o
		mu.Unlock()
		if err := c.store.RecordOutcome(context.WithoutCancel(ctx), run.RunID, o); err != nil {
			logger.Warn("failed to record outcome", logging.Int("index", o.Index), logging.Error(err))
		}
	}

	sem := semaphore.NewWeighted(int64(maxConcurrency))
	var g errgroup.Group
	for n, it := range pending {
		if n > 0 && c.launchInterval > 0 {
			select {
			case <-batchCtx.Done():
			case <-time.After(c.launchInterval):
			}
		}
		if err := sem.Acquire(batchCtx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			settle(c.runItem(batchCtx, it))
			return nil
		})
	}
	_ = g.Wait()

	notLaunched := skipReason(batchCtx)
	for i, o := range outcomes {
		if o == nil {
			outcomes[i] = &ledger.Outcome{
				Index: i, Fingerprint: run.Items[i].Fingerprint, Query: run.Items[i].Query,
				Kind: ledger.OutcomeSkipped, Reason: notLaunched, Resumable: true,
			}
		}
	}
	run.Outcomes = run.Outcomes[:0]
	for _, o := range outcomes {
		run.Outcomes = append(run.Outcomes, *o)
	}
	run.QuotaPauses = recorder.Counts()
	run.Tally()
	completed := c.now().UTC()
	run.CompletedAt = &completed
	if err := c.store.CompleteBatch(context.WithoutCancel(ctx), run); err != nil {
		logging.ErrorWithContext(logger, "failed to close batch run", "batch_record_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the ledger copy of this report is incomplete"),
		)
	}
	if path, err := c.writeReport(run); err != nil {
		logger.Warn("failed to write batch report", logging.Error(err))
	} else {
		logger.Info("batch report written", logging.String("path", path))
	}

	logger.Info("batch complete",
		logging.String(logging.FieldEventType, "batch_completed"),
		logging.Int("succeeded", run.Counts.Succeeded),
		logging.Int("failed", run.Counts.Failed),
		logging.Int("skipped", run.Counts.Skipped),
		logging.Duration("duration", completed.Sub(started)),
	)
	c.notify(ctx, logger, notifications.EventBatchCompleted, notifications.Payload{
		"runID":     run.RunID,
		"succeeded": run.Counts.Succeeded,
		"failed":    run.Counts.Failed,
		"skipped":   run.Counts.Skipped,
		"duration":  completed.Sub(started),
	})
	return run, nil
}

func (c *Controller) runItem(batchCtx context.Context, it item) ledger.Outcome {
	itemCtx := batchCtx
	if c.articleTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeoutCause(batchCtx, c.articleTimeout, errArticleTimeout)
		defer cancel()
	}
	st, err := c.driver.Drive(itemCtx, pipeline.Ref{Fingerprint: it.Fingerprint, Query: it.Query})
	return Reconcile(it.BatchItem, st, err, context.Cause(itemCtx))
}

// Reconcile maps the final state of one item to its Outcome. cause is the
// item context's cancellation cause, nil when it was never cancelled.
// A halted article reports the stage it halted at, its last good stage, so
// a failed poll or exhausted stale resumes read failed(video_submitted).
// An interrupted article reports the stage it was working on.
func Reconcile(it ledger.BatchItem, st *ledger.ArticleState, err error, cause error) ledger.Outcome {
	o := ledger.Outcome{Index: it.Index, Fingerprint: it.Fingerprint, Query: it.Query}
	stage := ledger.StageNew
	if st != nil {
		stage = st.Stage
	}
	attempted := stage
	if next, ok := stage.Next(); ok {
		attempted = next
	}

	switch {
	case st != nil && st.Stage == ledger.StageDone:
		o.Kind = ledger.OutcomeSucceeded
		o.Stage = ledger.StageDone
		o.FinalRef = finalRef(st)
	case st != nil && st.Halt == ledger.HaltStale:
		o.Kind = ledger.OutcomeFailed
		o.Stage = ledger.StageVideoSubmitted
		o.Reason = ledger.ReasonStale
		o.Resumable = true
	case st != nil && st.Halt == ledger.HaltFailed:
		o.Kind = ledger.OutcomeFailed
		o.Stage = st.Stage
		o.Reason = "failed"
		if st.LastError != nil {
			o.Reason = st.LastError.Message
		}
	case errors.Is(cause, errBatchTimeout):
		o.Kind = ledger.OutcomeSkipped
		o.Stage = attempted
		o.Reason = ledger.ReasonBatchTimeout
		o.Resumable = true
	case errors.Is(cause, errArticleTimeout):
		o.Kind = ledger.OutcomeFailed
		o.Stage = attempted
		o.Reason = ledger.ReasonArticleTimeout
		o.Resumable = true
	case cause != nil:
		o.Kind = ledger.OutcomeSkipped
		o.Stage = attempted
		o.Reason = ledger.ReasonCanceled
		o.Resumable = true
	default:
		o.Kind = ledger.OutcomeFailed
		o.Stage = attempted
		o.Resumable = true
		o.Reason = "incomplete"
		if err != nil {
			o.Reason = services.Details(err).Message
			if o.Reason == "" {
				o.Reason = err.Error()
			}
		}
	}
	return o
}

func finalRef(st *ledger.ArticleState) string {
	if p, ok := st.Payload(ledger.StageArchived); ok {
		return p.Ref
	}
	if p, ok := st.Payload(ledger.StageDone); ok {
		return p.Ref
	}
	return ""
}

func skipReason(batchCtx context.Context) string {
	if cause := context.Cause(batchCtx); cause != nil && !errors.Is(cause, errBatchTimeout) {
		return ledger.ReasonCanceled
	}
	return ledger.ReasonBatchTimeout
}

// ReportPath is where the JSON copy of run is written.
func ReportPath(reportsDir, runID string) string {
	return filepath.Join(reportsDir, "batch_"+runID+".json")
}

func (c *Controller) writeReport(run *ledger.BatchRun) (string, error) {
	if c.reportsDir == "" {
		return "", errors.New("reports directory is not configured")
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	path := ReportPath(c.reportsDir, run.RunID)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (c *Controller) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := c.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logger.Warn("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
