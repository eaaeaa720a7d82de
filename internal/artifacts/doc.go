// Package artifacts stores pipeline outputs under stable keys.
//
// Two roles exist. The public store holds narration audio that the lip-sync
// provider must fetch over http(s), so its URLs have to be reachable from the
// internet. The archive store keeps the long-term copies: audio, the finished
// video and the per-article manifest. Each role is backed by the local
// filesystem, S3 (or an S3-compatible endpoint) or a mirror of both.
package artifacts
