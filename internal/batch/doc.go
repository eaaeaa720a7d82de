// Package batch runs a list of queries through the pipeline and reconciles
// the results into a report.
//
// RunBatch always produces exactly one Outcome per requested query, in
// request order. Items run concurrently under a weighted semaphore; each gets
// its own timeout and the batch as a whole has a deadline. Per-item failures
// never abort the batch. The report is persisted in the ledger and written as
// JSON under the reports directory.
package batch
