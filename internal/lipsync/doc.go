// Package lipsync submits narrated audio for avatar lip-sync and waits for
// the rendered video.
//
// Two stages live here. submit_video_job claims the article's video job slot
// in the ledger before calling the provider, so concurrent runs of one
// article produce a single provider job; a run that finds an existing job
// reuses its id. await_video hands the job to the Poller.
//
// The Poller is one scheduler goroutine over a min-heap of due status checks.
// Checks run under a weighted semaphore and share a token bucket, each with
// its own request timeout. The interval grows from Initial by Step up to
// Max, and the last check is clamped to the job's watch deadline. A job still
// rendering at the deadline is marked EXPIRED and the watch returns
// services.ErrTimeout, which leaves the article STALE and resumable.
package lipsync
