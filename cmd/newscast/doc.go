// Command newscast turns news queries into lip-synced avatar videos.
//
// Batches run in the foreground with "newscast run"; "newscast daemon"
// keeps a single long-lived process that re-polls STALE video jobs and runs
// scheduled batches. Every other command reads or repairs the ledger.
package main
