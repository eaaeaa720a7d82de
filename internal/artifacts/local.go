package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"newscast/internal/fileutil"
	"newscast/internal/services"
)

// Local stores artifacts under a directory. When baseURL is set, URLs are
// baseURL/key (the directory is expected to be served there); otherwise
// they are file:// URLs.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates the directory if needed.
func NewLocal(dir, baseURL string) (*Local, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("artifacts: local directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create %s: %w", dir, err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}, nil
}

func (l *Local) Name() string { return BackendLocal }

// Dir is the backing directory.
func (l *Local) Dir() string { return l.dir }

func (l *Local) Put(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if err := fileutil.WriteFileVerified(l.path(clean), data, 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, "artifacts", "put", "write "+clean, err)
	}
	return l.URL(clean), nil
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(l.path(clean))
	switch {
	case err == nil:
		return !info.IsDir(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, services.Wrap(services.ErrTransient, "artifacts", "exists", "stat "+clean, err)
	}
}

func (l *Local) Get(_ context.Context, key string) ([]byte, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path(clean))
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, services.Wrap(services.ErrNotFound, "artifacts", "get", clean+" not found", err)
	default:
		return nil, services.Wrap(services.ErrTransient, "artifacts", "get", "read "+clean, err)
	}
}

func (l *Local) URL(key string) string {
	clean, err := cleanKey(key)
	if err != nil {
		return ""
	}
	if l.baseURL != "" {
		return l.baseURL + "/" + clean
	}
	abs, err := filepath.Abs(l.path(clean))
	if err != nil {
		abs = l.path(clean)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func (l *Local) path(clean string) string {
	return filepath.Join(l.dir, filepath.FromSlash(clean))
}
