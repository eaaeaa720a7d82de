package pipeline

import (
	"context"
	"sync"
	"time"

	"newscast/internal/ledger"
)

// QuotaGate pauses new work for a stage after its provider reports an
// exhausted quota. Executions already past the gate keep running.
type QuotaGate struct {
	mu     sync.Mutex
	pause  time.Duration
	until  map[ledger.Stage]time.Time
	trips  map[ledger.Stage]int
	now    func() time.Time
	wakeup chan struct{}
}

// NewQuotaGate returns a gate that closes a stage for pause on each trip.
func NewQuotaGate(pause time.Duration) *QuotaGate {
	return &QuotaGate{
		pause:  pause,
		until:  make(map[ledger.Stage]time.Time),
		trips:  make(map[ledger.Stage]int),
		now:    time.Now,
		wakeup: make(chan struct{}),
	}
}

// Trip closes stage until now+pause and returns the reopening time. A trip
// while already closed extends the pause.
func (g *QuotaGate) Trip(stage ledger.Stage) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.now().Add(g.pause)
	if until.After(g.until[stage]) {
		g.until[stage] = until
	}
	g.trips[stage]++
	return g.until[stage]
}

// Reopen clears any pause on stage and wakes waiters.
func (g *QuotaGate) Reopen(stage ledger.Stage) {
	g.mu.Lock()
	delete(g.until, stage)
	close(g.wakeup)
	g.wakeup = make(chan struct{})
	g.mu.Unlock()
}

// PausedUntil reports when stage reopens. The zero time means open.
func (g *QuotaGate) PausedUntil(stage ledger.Stage) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.until[stage]
	if !until.After(g.now()) {
		return time.Time{}
	}
	return until
}

// Wait blocks until stage is open or ctx is done.
func (g *QuotaGate) Wait(ctx context.Context, stage ledger.Stage) error {
	for {
		g.mu.Lock()
		remaining := g.until[stage].Sub(g.now())
		wakeup := g.wakeup
		g.mu.Unlock()
		if remaining <= 0 {
			return ctx.Err()
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-wakeup:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Trips returns the number of trips per stage since the gate was created.
func (g *QuotaGate) Trips() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.trips))
	for stage, n := range g.trips {
		out[string(stage)] = n
	}
	return out
}

// QuotaRecorder counts quota pauses for one batch run.
type QuotaRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewQuotaRecorder returns an empty recorder.
func NewQuotaRecorder() *QuotaRecorder {
	return &QuotaRecorder{counts: make(map[string]int)}
}

func (r *QuotaRecorder) record(stage ledger.Stage) {
	r.mu.Lock()
	r.counts[string(stage)]++
	r.mu.Unlock()
}

// Counts returns a copy of the pauses recorded so far, or nil when none.
func (r *QuotaRecorder) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.counts) == 0 {
		return nil
	}
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

type quotaRecorderKey struct{}

// WithQuotaRecorder attaches rec so that quota trips caused by work under
// ctx are attributed to it.
func WithQuotaRecorder(ctx context.Context, rec *QuotaRecorder) context.Context {
	if rec == nil {
		return ctx
	}
	return context.WithValue(ctx, quotaRecorderKey{}, rec)
}

func quotaRecorderFrom(ctx context.Context) *QuotaRecorder {
	rec, _ := ctx.Value(quotaRecorderKey{}).(*QuotaRecorder)
	return rec
}
