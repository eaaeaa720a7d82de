package ledger

import "errors"

var (
	// ErrNotFound indicates no row exists for the requested key.
	ErrNotFound = errors.New("ledger: not found")
	// ErrVersionConflict indicates a compare-and-swap lost to a concurrent writer.
	ErrVersionConflict = errors.New("ledger: version conflict")
	// ErrJobInFlight indicates another submission claim holds the fingerprint's slot.
	ErrJobInFlight = errors.New("ledger: video job in flight")
	// ErrBatchClosed indicates a write to a batch run that already completed.
	ErrBatchClosed = errors.New("ledger: batch run completed")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("ledger: schema version mismatch")
)
