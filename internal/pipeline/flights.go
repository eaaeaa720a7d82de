package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// flights serializes runs of the same fingerprint within one process. The
// ledger's version check still guards runs in other processes.
type flights struct {
	mu     sync.Mutex
	active map[string]*flight
}

type flight struct {
	sem  *semaphore.Weighted
	refs int
}

// acquire blocks until fp is free or ctx ends. The returned func must be
// called exactly once.
func (f *flights) acquire(ctx context.Context, fp string) (func(), error) {
	f.mu.Lock()
	if f.active == nil {
		f.active = make(map[string]*flight)
	}
	fl := f.active[fp]
	if fl == nil {
		fl = &flight{sem: semaphore.NewWeighted(1)}
		f.active[fp] = fl
	}
	fl.refs++
	f.mu.Unlock()

	if err := fl.sem.Acquire(ctx, 1); err != nil {
		f.drop(fp, fl)
		return nil, context.Cause(ctx)
	}
	return func() {
		fl.sem.Release(1)
		f.drop(fp, fl)
	}, nil
}

func (f *flights) drop(fp string, fl *flight) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl.refs--
	if fl.refs == 0 {
		delete(f.active, fp)
	}
}

// inFlight reports how many callers hold or wait on fp.
func (f *flights) inFlight(fp string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fl := f.active[fp]; fl != nil {
		return fl.refs
	}
	return 0
}
