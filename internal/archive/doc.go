// Package archive implements the last two stages. archive_artifacts copies
// the published narration into the archive store and downloads the rendered
// video from the lip-sync provider; finalize_manifest writes a JSON manifest
// describing everything recorded for the article.
//
// Both stages are idempotent: an artifact already present in the archive is
// not fetched again.
package archive
