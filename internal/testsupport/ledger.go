package testsupport

import (
	"testing"

	"newscast/internal/config"
	"newscast/internal/ledger"
)

// MustOpenLedger opens the ledger described by cfg and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
