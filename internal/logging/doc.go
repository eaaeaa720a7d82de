// Package logging assembles structured slog loggers and formatting helpers used
// across newscast.
//
// It owns the console and JSON handlers, level and output plumbing, and
// context-aware helpers that tag log lines with article fingerprints, stages,
// run IDs, and correlation IDs. A no-op logger is provided for tests and for
// wiring code that cannot fail.
package logging
