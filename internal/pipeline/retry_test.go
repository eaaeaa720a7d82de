package pipeline

import (
	"context"
	"testing"
	"time"

	"newscast/internal/ledger"
	"newscast/internal/testsupport"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second}
	want := map[int]time.Duration{
		0: 2 * time.Second,
		1: 4 * time.Second,
		2: 8 * time.Second,
		4: 32 * time.Second,
		5: 60 * time.Second,
		9: 60 * time.Second,
	}
	for attempts, expected := range want {
		if got := p.Backoff(attempts); got != expected {
			t.Fatalf("Backoff(%d) = %s, want %s", attempts, got, expected)
		}
	}
}

func TestPolicyFromConfigBudgets(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries("narrated", 7))
	p := PolicyFromConfig(cfg)
	if p.Budget(ledger.StageNarrated) != 7 {
		t.Fatalf("expected override, got %d", p.Budget(ledger.StageNarrated))
	}
	if p.Budget(ledger.StageAcquired) != 5 {
		t.Fatalf("expected default acquired budget 5, got %d", p.Budget(ledger.StageAcquired))
	}
	if p.Budget(ledger.StageNew) != 1 {
		t.Fatalf("expected fallback budget 1, got %d", p.Budget(ledger.StageNew))
	}
}

func TestQuotaGateBlocksUntilReopened(t *testing.T) {
	gate := NewQuotaGate(time.Hour)
	until := gate.Trip(ledger.StageNarrated)
	if until.IsZero() || gate.PausedUntil(ledger.StageNarrated).IsZero() {
		t.Fatal("expected stage to be paused")
	}
	if !gate.PausedUntil(ledger.StageScripted).IsZero() {
		t.Fatal("other stages must stay open")
	}
	if err := gate.Wait(context.Background(), ledger.StageScripted); err != nil {
		t.Fatalf("Wait on open stage: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- gate.Wait(context.Background(), ledger.StageNarrated) }()
	select {
	case <-done:
		t.Fatal("Wait returned while the stage was paused")
	case <-time.After(50 * time.Millisecond):
	}
	gate.Reopen(ledger.StageNarrated)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Reopen")
	}
}

func TestQuotaGateWaitHonorsContext(t *testing.T) {
	gate := NewQuotaGate(time.Hour)
	gate.Trip(ledger.StageVideoSubmitted)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gate.Wait(ctx, ledger.StageVideoSubmitted); err == nil {
		t.Fatal("expected context error")
	}
	if gate.Trips()["video_submitted"] != 1 {
		t.Fatalf("unexpected trips: %v", gate.Trips())
	}
}
