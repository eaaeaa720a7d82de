package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFlightsSerializeOneKey(t *testing.T) {
	var f flights
	ctx := context.Background()

	release, err := f.acquire(ctx, "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	other, err := f.acquire(ctx, "b")
	if err != nil {
		t.Fatalf("acquire other key: %v", err)
	}
	other()

	acquired := make(chan func(), 1)
	go func() {
		next, err := f.acquire(ctx, "a")
		if err != nil {
			t.Errorf("second acquire: %v", err)
			close(acquired)
			return
		}
		acquired <- next
	}()

	select {
	case <-acquired:
		t.Fatal("second caller acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	if n := f.inFlight("a"); n != 2 {
		t.Fatalf("expected holder and waiter, got %d", n)
	}

	release()
	next := <-acquired
	if next == nil {
		t.Fatal("second acquire failed")
	}
	next()
	if n := f.inFlight("a"); n != 0 {
		t.Fatalf("expected key to be dropped, got %d", n)
	}
}

func TestFlightsAcquireHonorsContext(t *testing.T) {
	var f flights
	release, err := f.acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.acquire(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if n := f.inFlight("a"); n != 1 {
		t.Fatalf("expected only the holder, got %d", n)
	}
}
