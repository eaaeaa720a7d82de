// Package services defines shared utilities consumed by the stage executors
// and the vendor integrations underneath them.
//
// Key responsibilities:
//   - Context helpers that stamp article fingerprints, stage names, batch run
//     ids and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let the orchestrator
//     decide between retry, halt, stale and quota pause.
//   - ClassifyHTTP, the shared mapping from vendor status codes onto those
//     markers.
//
// Vendor clients live in subpackages (llm, elevenlabs, syncso, newsapi).
package services
