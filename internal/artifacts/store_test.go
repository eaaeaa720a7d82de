package artifacts_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newscast/internal/artifacts"
	"newscast/internal/config"
	"newscast/internal/services"
	"newscast/internal/testsupport"
)

func TestLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := artifacts.NewLocal(dir, "https://cdn.example.com/media/")
	require.NoError(t, err)

	ctx := context.Background()
	url, err := store.Put(ctx, artifacts.AudioKey("abc"), []byte("ID3"), "audio/mpeg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/media/audio/abc.mp3", url)

	ok, err := store.Exists(ctx, "audio/abc.mp3")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := store.Get(ctx, "audio/abc.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), data)

	_, err = os.Stat(filepath.Join(dir, "audio", "abc.mp3"))
	require.NoError(t, err)
}

func TestLocalMissingKey(t *testing.T) {
	store, err := artifacts.NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	ok, err := store.Exists(context.Background(), "videos/none.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(context.Background(), "videos/none.mp4")
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.True(t, strings.HasPrefix(store.URL("videos/none.mp4"), "file:///"))
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	store, err := artifacts.NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	for _, key := range []string{"", "../secret", "audio/../../x", "  "} {
		_, err := store.Put(context.Background(), key, []byte("x"), "")
		assert.ErrorIs(t, err, services.ErrValidation, "key %q", key)
	}
	_, err = store.Put(context.Background(), "audio/a..b.mp3", []byte("x"), "")
	assert.NoError(t, err)
}

func TestMirrorFallsBackOnRead(t *testing.T) {
	primary, err := artifacts.NewLocal(t.TempDir(), "https://primary.example.com")
	require.NoError(t, err)
	secondary, err := artifacts.NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	mirror, err := artifacts.NewMirror(primary, secondary)
	require.NoError(t, err)

	ctx := context.Background()
	url, err := mirror.Put(ctx, "manifests/a.json", []byte(`{}`), "")
	require.NoError(t, err)
	assert.Equal(t, "https://primary.example.com/manifests/a.json", url)

	for _, s := range []artifacts.Store{primary, secondary} {
		ok, err := s.Exists(ctx, "manifests/a.json")
		require.NoError(t, err)
		assert.True(t, ok, s.Name())
	}

	_, err = secondary.Put(ctx, "manifests/only-local.json", []byte(`{"x":1}`), "")
	require.NoError(t, err)
	data, err := mirror.Get(ctx, "manifests/only-local.json")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(data))

	_, err = mirror.Get(ctx, "manifests/none.json")
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.Equal(t, "mirror(local,local)", mirror.Name())
}

func TestNewMirrorRequiresStores(t *testing.T) {
	_, err := artifacts.NewMirror()
	assert.Error(t, err)
}

// fakeS3 is a path-style bucket serving PUT, HEAD and GET.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	denied  bool
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
		return
	}
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3(t *testing.T) (*fakeS3, config.S3) {
	t.Helper()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return fake, config.S3{
		Bucket:          "news",
		Region:          "us-east-1",
		Endpoint:        server.URL,
		Prefix:          "public",
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	}
}

func TestS3RoundTrip(t *testing.T) {
	fake, cfg := newFakeS3(t)
	store, err := artifacts.NewS3(context.Background(), cfg)
	require.NoError(t, err)

	ctx := context.Background()
	url, err := store.Put(ctx, "audio/abc.mp3", []byte("ID3"), "")
	require.NoError(t, err)
	assert.Equal(t, cfg.Endpoint+"/news/public/audio/abc.mp3", url)

	fake.mu.Lock()
	assert.Equal(t, []byte("ID3"), fake.objects["/news/public/audio/abc.mp3"])
	assert.Equal(t, "audio/mpeg", fake.types["/news/public/audio/abc.mp3"])
	fake.mu.Unlock()

	ok, err := store.Exists(ctx, "audio/abc.mp3")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := store.Get(ctx, "audio/abc.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), data)
}

func TestS3MissingObject(t *testing.T) {
	_, cfg := newFakeS3(t)
	store, err := artifacts.NewS3(context.Background(), cfg)
	require.NoError(t, err)

	ok, err := store.Exists(context.Background(), "videos/none.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(context.Background(), "videos/none.mp4")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestS3AccessDeniedIsConfiguration(t *testing.T) {
	fake, cfg := newFakeS3(t)
	fake.mu.Lock()
	fake.denied = true
	fake.mu.Unlock()
	store, err := artifacts.NewS3(context.Background(), cfg)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "audio/abc.mp3", []byte("ID3"), "")
	assert.ErrorIs(t, err, services.ErrConfiguration)
}

func TestS3PublicBaseURL(t *testing.T) {
	_, cfg := newFakeS3(t)
	cfg.PublicBaseURL = "https://media.example.com/"
	store, err := artifacts.NewS3(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/public/audio/a%20b.mp3", store.URL("audio/a b.mp3"))
}

func TestOpenSelectsBackendPerRole(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Artifacts.PublicBackend = artifacts.BackendLocal
	cfg.Artifacts.ArchiveBackend = artifacts.BackendLocal

	public, err := artifacts.Open(context.Background(), cfg, artifacts.RolePublic)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/newscast/audio/x.mp3", public.URL(artifacts.AudioKey("x")))

	archive, err := artifacts.Open(context.Background(), cfg, artifacts.RoleArchive)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(archive.URL(artifacts.VideoKey("x")), "file:///"))
	assert.Equal(t, cfg.Paths.ArchiveDir, archive.(*artifacts.Local).Dir())

	cfg.Artifacts.ArchiveBackend = "ftp"
	_, err = artifacts.Open(context.Background(), cfg, artifacts.RoleArchive)
	assert.Error(t, err)
}
