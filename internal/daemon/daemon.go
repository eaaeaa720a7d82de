package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"newscast/internal/acquire"
	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/logging"
	"newscast/internal/services"
)

// ErrAlreadyRunning is returned by Start when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another newscast daemon instance is already running")

// Resumer re-drives halted or interrupted articles. *pipeline.Orchestrator
// satisfies it.
type Resumer interface {
	Resumable(ctx context.Context, staleOnly bool) ([]string, error)
	Resume(ctx context.Context, fp string) (*ledger.ArticleState, error)
}

// BatchRunner runs a batch of queries. *batch.Controller satisfies it.
type BatchRunner interface {
	RunBatch(ctx context.Context, queries []acquire.Query, maxConcurrency int) (*ledger.BatchRun, error)
}

// SweepResult summarizes one STALE sweep.
type SweepResult struct {
	StartedAt time.Time `json:"started_at"`
	Found     int       `json:"found"`
	Done      int       `json:"done"`
	Stale     int       `json:"stale"`
	Failed    int       `json:"failed"`
	Errors    int       `json:"errors"`
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	LockFilePath   string
	StaleSchedule  string
	BatchSchedule  string
	NextStaleSweep time.Time
	NextBatch      time.Time
	LastSweep      *SweepResult
	LastBatchRunID string
}

// Daemon schedules STALE sweeps and batches and enforces a single instance.
type Daemon struct {
	cfg         *config.Config
	resumer     Resumer
	batches     BatchRunner
	logger      *slog.Logger
	loadQueries func(path string) ([]acquire.Query, error)
	now         func() time.Time

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	cron    *cron.Cron
	staleID cron.EntryID
	batchID cron.EntryID
	wg      sync.WaitGroup

	sweeping     sync.Mutex
	lastSweep    *SweepResult
	lastBatchRun string
}

// New constructs a daemon. batches may be nil when no batch schedule is
// configured.
func New(cfg *config.Config, resumer Resumer, batches BatchRunner, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || resumer == nil {
		return nil, errors.New("daemon requires config and resumer")
	}
	if cfg.Daemon.BatchSchedule != "" && batches == nil {
		return nil, errors.New("daemon.batch_schedule is set but no batch runner was provided")
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "newscast.lock")
	return &Daemon{
		cfg:         cfg,
		resumer:     resumer,
		batches:     batches,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		loadQueries: acquire.LoadQueries,
		now:         time.Now,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, registers the cron jobs and kicks off an
// immediate STALE sweep.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	clog := cronLogger{logger: d.logger}
	scheduler := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	if d.cfg.Daemon.StaleSchedule != "" {
		id, err := scheduler.AddFunc(d.cfg.Daemon.StaleSchedule, func() { d.sweepJob(runCtx) })
		if err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("schedule stale sweep: %w", err)
		}
		d.staleID = id
	}
	if d.cfg.Daemon.BatchSchedule != "" {
		id, err := scheduler.AddFunc(d.cfg.Daemon.BatchSchedule, func() { d.batchJob(runCtx) })
		if err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("schedule batch: %w", err)
		}
		d.batchID = id
	}

	d.ctx, d.cancel, d.cron = runCtx, cancel, scheduler
	scheduler.Start()
	d.running.Store(true)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sweepJob(runCtx)
	}()

	d.logger.Info("newscast daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("stale_schedule", d.cfg.Daemon.StaleSchedule),
		logging.String("batch_schedule", d.cfg.Daemon.BatchSchedule),
	)
	return nil
}

// Stop cancels in-flight work, waits for running jobs and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	scheduler := d.cron
	d.cron = nil
	d.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	d.wg.Wait()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("newscast daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		Running:        d.running.Load(),
		LockFilePath:   d.lockPath,
		StaleSchedule:  d.cfg.Daemon.StaleSchedule,
		BatchSchedule:  d.cfg.Daemon.BatchSchedule,
		LastBatchRunID: d.lastBatchRun,
	}
	if d.lastSweep != nil {
		sweep := *d.lastSweep
		st.LastSweep = &sweep
	}
	if d.cron != nil {
		if d.staleID != 0 {
			st.NextStaleSweep = d.cron.Entry(d.staleID).Next
		}
		if d.batchID != 0 {
			st.NextBatch = d.cron.Entry(d.batchID).Next
		}
	}
	return st
}

func (d *Daemon) sweepJob(ctx context.Context) {
	if !d.sweeping.TryLock() {
		d.logger.Debug("stale sweep already running", logging.String(logging.FieldEventType, "stale_sweep_skipped"))
		return
	}
	defer d.sweeping.Unlock()
	if _, err := d.SweepStale(ctx); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(d.logger, "stale sweep failed", "stale_sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the ledger database"),
		)
	}
}

func (d *Daemon) batchJob(ctx context.Context) {
	if _, err := d.RunScheduledBatch(ctx); err != nil && ctx.Err() == nil {
		logging.WarnWithContext(d.logger, "scheduled batch failed", "scheduled_batch_failed",
			logging.Error(err),
			logging.String("queries_file", d.cfg.Daemon.QueriesFile),
			logging.String(logging.FieldErrorHint, "check the queries file"),
		)
	}
}

// SweepStale resumes every STALE article, bounded by batch.max_concurrency.
// Resume re-polls the recorded job id with a fresh deadline and fails the
// article for good once its resume budget is spent.
func (d *Daemon) SweepStale(ctx context.Context) (SweepResult, error) {
	result := SweepResult{StartedAt: d.now().UTC()}
	fps, err := d.resumer.Resumable(ctx, true)
	if err != nil {
		return result, fmt.Errorf("list stale articles: %w", err)
	}
	result.Found = len(fps)
	if len(fps) == 0 {
		d.logger.Debug("no stale articles", logging.String(logging.FieldEventType, "stale_sweep_empty"))
		d.recordSweep(result)
		return result, nil
	}

	d.logger.Info("resuming stale articles",
		logging.String(logging.FieldEventType, "stale_sweep_started"),
		logging.Int("count", len(fps)),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(d.cfg.Batch.MaxConcurrency, 1))
	for _, fp := range fps {
		g.Go(func() error {
			st, err := d.resumer.Resume(services.WithFingerprint(gctx, fp), fp)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Errors++
				if gctx.Err() == nil {
					d.logger.Warn("stale resume failed",
						logging.String(logging.FieldFingerprint, fp),
						logging.Error(err),
					)
				}
			case st.Stage == ledger.StageDone:
				result.Done++
			case st.Halt == ledger.HaltStale:
				result.Stale++
			case st.Halt == ledger.HaltFailed:
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("stale sweep finished",
		logging.String(logging.FieldEventType, "stale_sweep_finished"),
		logging.Int("found", result.Found),
		logging.Int("done", result.Done),
		logging.Int("stale", result.Stale),
		logging.Int("failed", result.Failed),
		logging.Int("errors", result.Errors),
	)
	d.recordSweep(result)
	return result, ctx.Err()
}

// RunScheduledBatch runs the queries listed in daemon.queries_file.
func (d *Daemon) RunScheduledBatch(ctx context.Context) (*ledger.BatchRun, error) {
	if d.batches == nil || d.cfg.Daemon.QueriesFile == "" {
		return nil, errors.New("no scheduled batch configured")
	}
	queries, err := d.loadQueries(d.cfg.Daemon.QueriesFile)
	if err != nil {
		return nil, err
	}
	d.logger.Info("scheduled batch starting",
		logging.String(logging.FieldEventType, "scheduled_batch_started"),
		logging.Int("queries", len(queries)),
	)
	run, err := d.batches.RunBatch(ctx, queries, d.cfg.Batch.MaxConcurrency)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.lastBatchRun = run.RunID
	d.mu.Unlock()
	return run, nil
}

func (d *Daemon) recordSweep(result SweepResult) {
	d.mu.Lock()
	d.lastSweep = &result
	d.mu.Unlock()
}
