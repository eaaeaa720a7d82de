package artifacts

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"newscast/internal/config"
	"newscast/internal/services"
)

// Store persists artifacts by key.
type Store interface {
	Name() string
	// Put writes data under key and returns the artifact's URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Get returns the artifact, or an error wrapping services.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
}

// Role selects which configured backend to open.
type Role string

const (
	RolePublic  Role = "public"
	RoleArchive Role = "archive"
)

// Backend names accepted in config.
const (
	BackendLocal  = "local"
	BackendS3     = "s3"
	BackendMirror = "mirror"
)

// Open builds the store configured for role.
func Open(ctx context.Context, cfg *config.Config, role Role) (Store, error) {
	backend := cfg.Artifacts.PublicBackend
	dir := cfg.Paths.ArtifactDir
	baseURL := cfg.Artifacts.PublicBaseURL
	prefix := "public"
	if role == RoleArchive {
		backend = cfg.Artifacts.ArchiveBackend
		dir = cfg.Paths.ArchiveDir
		baseURL = ""
		prefix = "archive"
	}

	local := func() (Store, error) { return NewLocal(dir, baseURL) }
	remote := func() (Store, error) {
		s3cfg := cfg.Artifacts.S3
		s3cfg.Prefix = path.Join(s3cfg.Prefix, prefix)
		return NewS3(ctx, s3cfg)
	}

	switch backend {
	case "", BackendLocal:
		return local()
	case BackendS3:
		return remote()
	case BackendMirror:
		primary, err := remote()
		if err != nil {
			return nil, err
		}
		secondary, err := local()
		if err != nil {
			return nil, err
		}
		return NewMirror(primary, secondary)
	default:
		return nil, fmt.Errorf("artifacts: unknown backend %q", backend)
	}
}

// cleanKey normalizes key into a relative slash path and rejects escapes.
func cleanKey(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	cleaned := path.Clean("/" + trimmed)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if trimmed == "" || cleaned == "" || slices.Contains(strings.Split(trimmed, "/"), "..") {
		return "", services.Wrap(services.ErrValidation, "artifacts", "key", fmt.Sprintf("invalid artifact key %q", key), nil)
	}
	return cleaned, nil
}

// Key helpers shared by the executors that write artifacts.

// AudioKey is the narration audio key for a fingerprint-safe name.
func AudioKey(safeFP string) string { return path.Join("audio", safeFP+".mp3") }

// SubtitleKey is the SRT key next to the audio.
func SubtitleKey(safeFP string) string { return path.Join("audio", safeFP+".srt") }

// VideoKey is the archived video key.
func VideoKey(safeFP string) string { return path.Join("videos", safeFP+".mp4") }

// ManifestKey is the per-article manifest key.
func ManifestKey(safeFP string) string { return path.Join("manifests", safeFP+".json") }

// ContentType guesses the MIME type from the key's extension.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3":
		return "audio/mpeg"
	case ".mp4":
		return "video/mp4"
	case ".srt":
		return "application/x-subrip"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
