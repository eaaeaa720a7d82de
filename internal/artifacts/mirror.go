package artifacts

import (
	"context"
	"errors"
	"strings"

	"newscast/internal/services"
)

// Mirror writes to every backend and reads from the first one that has the
// key. URLs come from the first backend.
type Mirror struct {
	stores []Store
}

// NewMirror requires at least one store.
func NewMirror(stores ...Store) (*Mirror, error) {
	if len(stores) == 0 {
		return nil, errors.New("artifacts: mirror needs at least one store")
	}
	return &Mirror{stores: stores}, nil
}

func (m *Mirror) Name() string {
	names := make([]string, 0, len(m.stores))
	for _, s := range m.stores {
		names = append(names, s.Name())
	}
	return BackendMirror + "(" + strings.Join(names, ",") + ")"
}

// Put fails if any backend fails; the first backend's URL is returned.
func (m *Mirror) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	var first string
	for i, s := range m.stores {
		u, err := s.Put(ctx, key, data, contentType)
		if err != nil {
			return "", err
		}
		if i == 0 {
			first = u
		}
	}
	return first, nil
}

func (m *Mirror) Exists(ctx context.Context, key string) (bool, error) {
	for _, s := range m.stores {
		ok, err := s.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *Mirror) Get(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for _, s := range m.stores {
		data, err := s.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, services.ErrNotFound) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (m *Mirror) URL(key string) string { return m.stores[0].URL(key) }
