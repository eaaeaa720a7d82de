// Package pipeline drives articles through the stage chain.
//
// The Orchestrator owns every ArticleState transition. Each call to Advance
// consults the ledger first, runs exactly one executor and persists the
// result with compare-and-swap before returning, so a crash between steps
// resumes from the last recorded stage. Failures are classified through the
// services sentinels into retry, halt, stale or quota pause decisions.
package pipeline
