// Package daemon coordinates the long-running newscast process.
//
// It enforces single-instance execution with a flock-based lock file and
// owns two cron jobs: a sweep that resumes STALE articles so their video
// jobs are re-polled with a fresh deadline, and an optional scheduled batch
// read from a queries file. Pipeline semantics live in the pipeline and
// batch packages; the daemon only decides when they run.
package daemon
