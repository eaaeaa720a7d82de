package lipsync

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/logging"
	"newscast/internal/services"
)

// PollerConfig tunes the Poller.
type PollerConfig struct {
	Initial           time.Duration
	Step              time.Duration
	Max               time.Duration
	Deadline          time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxInFlight       int
}

// PollerConfigFrom reads the [poller] section.
func PollerConfigFrom(cfg *config.Config) PollerConfig {
	return PollerConfig{
		Initial:           cfg.PollInitialInterval(),
		Step:              cfg.PollStep(),
		Max:               cfg.PollMaxInterval(),
		Deadline:          cfg.PollDeadline(),
		RequestTimeout:    cfg.PollRequestTimeout(),
		RequestsPerSecond: cfg.Poller.RequestsPerSecond,
		Burst:             cfg.Poller.Burst,
		MaxInFlight:       cfg.Poller.MaxInFlight,
	}
}

// Interval is the wait before check n (zero based).
func (c PollerConfig) Interval(n int) time.Duration {
	d := c.Initial + time.Duration(n)*c.Step
	if c.Max > 0 && d > c.Max {
		d = c.Max
	}
	return d
}

// Result is a finished video.
type Result struct {
	JobID     string
	OutputURL string
	Polls     int
}

type outcome struct {
	res Result
	err error
}

type watch struct {
	ctx      context.Context
	job      *ledger.VideoJob
	deadline time.Time
	due      time.Time
	checks   int
	index    int
	done     chan outcome
}

type watchHeap []*watch

func (h watchHeap) Len() int { return len(h) }

func (h watchHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }

func (h watchHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *watchHeap) Push(x any) {
	w := x.(*watch)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *watchHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// Poller watches submitted video jobs until they finish or their deadline
// passes.
type Poller struct {
	cfg      PollerConfig
	provider Provider
	store    *ledger.Store
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending watchHeap
	wake    chan struct{}

	startOnce sync.Once
	runCtx    context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

// NewPoller builds a poller. The scheduler starts with the first Watch.
func NewPoller(cfg PollerConfig, provider Provider, store *ledger.Store, logger *slog.Logger) *Poller {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)
	inFlight := max(cfg.MaxInFlight, 1)
	runCtx, stop := context.WithCancel(context.Background())
	return &Poller{
		cfg:      cfg,
		provider: provider,
		store:    store,
		limiter:  rate.NewLimiter(limit, burst),
		sem:      semaphore.NewWeighted(int64(inFlight)),
		logger:   logging.NewComponentLogger(logger, "poller"),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		runCtx:   runCtx,
		stop:     stop,
	}
}

// Close stops the scheduler and waits for in-flight checks.
func (p *Poller) Close() {
	p.stop()
	p.wg.Wait()
}

// Watching reports how many watches are waiting for their next check.
func (p *Poller) Watching() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Watch blocks until job completes, fails, expires or ctx ends. Cancelling
// ctx removes the watch without touching the job row.
func (p *Poller) Watch(ctx context.Context, job *ledger.VideoJob) (Result, error) {
	if job == nil || job.JobID == "" {
		return Result{}, services.Wrap(services.ErrValidation, "poller", "watch", "video job has no provider id", nil)
	}
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.schedule()
	})

	start := job.WatchStartedAt
	if start.IsZero() {
		start = job.SubmittedAt
	}
	if start.IsZero() {
		start = p.now()
	}
	w := &watch{
		ctx:      ctx,
		job:      job,
		deadline: start.Add(p.cfg.Deadline),
		done:     make(chan outcome, 1),
	}
	w.due = p.clamp(w, p.now().Add(p.cfg.Interval(0)))

	p.mu.Lock()
	heap.Push(&p.pending, w)
	p.mu.Unlock()
	p.signal()

	select {
	case out := <-w.done:
		return out.res, out.err
	case <-ctx.Done():
		p.remove(w)
		return Result{}, context.Cause(ctx)
	case <-p.runCtx.Done():
		p.remove(w)
		return Result{}, services.Wrap(services.ErrTransient, "poller", "watch", "poller stopped", nil)
	}
}

func (p *Poller) clamp(w *watch, due time.Time) time.Time {
	if p.cfg.Deadline > 0 && due.After(w.deadline) {
		return w.deadline
	}
	return due
}

func (p *Poller) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) remove(w *watch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.index >= 0 && w.index < len(p.pending) && p.pending[w.index] == w {
		heap.Remove(&p.pending, w.index)
	}
}

func (p *Poller) schedule() {
	defer p.wg.Done()
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		p.mu.Lock()
		var next *watch
		wait := time.Hour
		if len(p.pending) > 0 {
			head := p.pending[0]
			if d := head.due.Sub(p.now()); d > 0 {
				wait = d
			} else {
				next = heap.Pop(&p.pending).(*watch)
			}
		}
		p.mu.Unlock()

		if next != nil {
			if next.ctx.Err() != nil {
				continue
			}
			if err := p.sem.Acquire(p.runCtx, 1); err != nil {
				return
			}
			p.wg.Add(1)
			go func(w *watch) {
				defer p.wg.Done()
				defer p.sem.Release(1)
				p.check(w)
			}(next)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-p.runCtx.Done():
			return
		case <-p.wake:
		case <-timer.C:
		}
	}
}

func (p *Poller) check(w *watch) {
	if err := p.limiter.Wait(w.ctx); err != nil {
		// A context deadline shorter than the token wait; try again later.
		p.requeue(w, p.now())
		return
	}
	logger := logging.WithContext(services.WithFingerprint(w.ctx, w.job.Fingerprint), p.logger).With(
		logging.String(logging.FieldJobID, w.job.JobID),
	)

	reqCtx := w.ctx
	cancel := context.CancelFunc(func() {})
	if p.cfg.RequestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(w.ctx, p.cfg.RequestTimeout)
	}
	res, err := p.provider.Poll(reqCtx, w.job.JobID)
	cancel()
	if w.ctx.Err() != nil {
		return
	}

	now := p.now()
	w.checks++
	persist := context.WithoutCancel(w.ctx)
	if recErr := p.store.RecordPoll(persist, w.job.ID, now.UTC()); recErr != nil {
		logger.Warn("failed to record poll", logging.Error(recErr))
	}

	switch {
	case err != nil && !retryable(err):
		reason := services.Details(err).Message
		if services.Classify(err) == services.KindNotFound {
			reason = "provider does not know the job"
		}
		p.settle(persist, logger, w, ledger.JobFailed, "", reason)
		logging.WarnWithContext(logger, "video status check failed", "poll_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lip-sync API key and job id"),
		)
		w.done <- outcome{err: err}
		return
	case err != nil:
		logger.Debug("transient poll failure; rescheduling",
			logging.String(logging.FieldEventType, "poll_retry"),
			logging.Error(err),
		)
	case res.State == StateCompleted && res.OutputURL != "":
		ref := p.settle(persist, logger, w, ledger.JobCompleted, res.OutputURL, "")
		logger.Info("video ready",
			logging.String(logging.FieldEventType, "video_ready"),
			logging.String("output_url", ref),
			logging.Int("checks", w.checks),
		)
		w.done <- outcome{res: Result{JobID: w.job.JobID, OutputURL: ref, Polls: w.checks}}
		return
	case res.State == StateFailed:
		p.settle(persist, logger, w, ledger.JobFailed, "", res.Error)
		w.done <- outcome{err: services.Wrap(services.ErrValidation, "poller", "poll",
			fmt.Sprintf("provider failed job %s: %s", w.job.JobID, res.Error), nil)}
		return
	}

	if p.cfg.Deadline > 0 && !now.Before(w.deadline) {
		p.settle(persist, logger, w, ledger.JobExpired, "", "watch deadline passed")
		logging.WarnWithContext(logger, "video job still rendering at deadline", "video_stale",
			logging.Int("checks", w.checks),
			logging.Duration("deadline", p.cfg.Deadline),
			logging.String(logging.FieldImpact, "article is STALE until resumed"),
		)
		w.done <- outcome{err: services.Wrap(services.ErrTimeout, "poller", "poll",
			fmt.Sprintf("job %s still processing after %s", w.job.JobID, p.cfg.Deadline), nil)}
		return
	}

	p.requeue(w, now)
}

func (p *Poller) requeue(w *watch, now time.Time) {
	w.due = p.clamp(w, now.Add(p.cfg.Interval(w.checks)))
	p.mu.Lock()
	if w.ctx.Err() == nil {
		heap.Push(&p.pending, w)
	}
	p.mu.Unlock()
	p.signal()
}

// settle finishes the job row and returns the result reference in effect.
// A concurrent watcher of the same job may have settled it first; its
// recorded result wins.
func (p *Poller) settle(ctx context.Context, logger *slog.Logger, w *watch, status ledger.JobStatus, ref, message string) string {
	var err error
	switch status {
	case ledger.JobCompleted:
		err = p.store.CompleteVideoJob(ctx, w.job.ID, ref)
	case ledger.JobFailed:
		err = p.store.FailVideoJob(ctx, w.job.ID, message)
	case ledger.JobExpired:
		err = p.store.ExpireVideoJob(ctx, w.job.ID, message)
	}
	if err == nil {
		return ref
	}
	if errors.Is(err, ledger.ErrNotFound) {
		if current, getErr := p.store.VideoJob(ctx, w.job.ID); getErr == nil && current.ResultRef != "" {
			return current.ResultRef
		}
		return ref
	}
	logger.Warn("failed to settle video job", logging.String("status", string(status)), logging.Error(err))
	return ref
}
