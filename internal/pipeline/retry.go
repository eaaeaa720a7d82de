package pipeline

import (
	"context"
	"time"

	"newscast/internal/config"
	"newscast/internal/ledger"
)

// RetryPolicy holds per-stage attempt budgets and the backoff curve.
type RetryPolicy struct {
	MaxRetries map[ledger.Stage]int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// PolicyFromConfig builds the retry policy from [pipeline].
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	budgets := make(map[ledger.Stage]int, len(cfg.Pipeline.MaxRetries))
	for name, n := range cfg.Pipeline.MaxRetries {
		if stage, ok := ledger.ParseStage(name); ok {
			budgets[stage] = n
		}
	}
	return RetryPolicy{
		MaxRetries: budgets,
		BaseDelay:  cfg.RetryBaseDelay(),
		MaxDelay:   cfg.RetryMaxDelay(),
	}
}

// Budget is the number of attempts allowed for reaching stage. Unknown
// stages get a single attempt.
func (p RetryPolicy) Budget(stage ledger.Stage) int {
	if n, ok := p.MaxRetries[stage]; ok && n > 0 {
		return n
	}
	return 1
}

// Backoff returns min(base * 2^attempts, max).
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempts < 0 {
		attempts = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
