// Package preflight provides readiness checks for the directories, vendor
// credentials and stage executors newscast depends on.
//
// These checks run in two contexts:
//   - "newscast check" prints every result and exits non-zero on failure.
//   - The daemon runs them once at startup and logs failures as warnings so
//     a missing credential is visible before the first scheduled batch.
package preflight
