// Package ledger persists article pipeline state, video jobs, and batch runs
// in SQLite and is the single source of truth for what has been done.
//
// ArticleState rows are written through Record, a compare-and-swap upsert
// keyed by fingerprint and version. Stage payloads are append-only: writing
// the same stage twice is a no-op, so a replayed transition cannot clobber an
// earlier artifact reference. Lookup verifies every row it returns; rows that
// cannot be decoded or that violate the payload invariant surface as
// services.ErrLedgerInconsistency so callers can discard and re-execute.
//
// VideoJob rows double as submission claims. A partial unique index allows at
// most one PENDING or PROCESSING job per fingerprint, which serializes
// submissions across goroutines and processes.
//
// Schema changes bump the version in schema.go; users delete the database to
// adopt the new schema.
package ledger
