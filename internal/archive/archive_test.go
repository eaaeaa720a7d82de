package archive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"newscast/internal/acquire"
	"newscast/internal/artifacts"
	"newscast/internal/ledger"
	"newscast/internal/lipsync"
	"newscast/internal/narration"
	"newscast/internal/script"
	"newscast/internal/services"
	"newscast/internal/stage"
)

type fixture struct {
	public  *artifacts.Local
	archive *artifacts.Local
	server  *httptest.Server
	status  atomic.Int32
	hits    atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	var err error
	if f.public, err = artifacts.NewLocal(t.TempDir(), "https://cdn.example.com"); err != nil {
		t.Fatalf("public store: %v", err)
	}
	if f.archive, err = artifacts.NewLocal(t.TempDir(), ""); err != nil {
		t.Fatalf("archive store: %v", err)
	}
	f.status.Store(http.StatusOK)
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if status := int(f.status.Load()); status != http.StatusOK {
			http.Error(w, "gone", status)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func payload(t *testing.T, st ledger.Stage, ref string, v any) ledger.Payload {
	t.Helper()
	detail, err := stage.EncodeDetail("test", v)
	if err != nil {
		t.Fatalf("encode %s: %v", st, err)
	}
	return ledger.Payload{Stage: st, Ref: ref, Detail: detail}
}

func (f *fixture) state(t *testing.T, withAudio bool) *ledger.ArticleState {
	t.Helper()
	ctx := context.Background()
	audioKey := "audio/t-storm.mp3"
	if withAudio {
		if _, err := f.public.Put(ctx, audioKey, []byte("ID3audio"), "audio/mpeg"); err != nil {
			t.Fatalf("seed audio: %v", err)
		}
		if _, err := f.public.Put(ctx, "audio/t-storm.srt", []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"), ""); err != nil {
			t.Fatalf("seed subtitles: %v", err)
		}
	}
	s := script.Script{Headline: "Storm", Intro: "Hello.", Body: "Satellites went dark.", Conclusion: "Bye.", Hashtags: []string{"#space"}}
	st := ledger.NewArticleState("t:storm", "storm")
	st.Stage = ledger.StageVideoReady
	st.Payloads = []ledger.Payload{
		payload(t, ledger.StageAcquired, "https://news.example.com/storm", acquire.Article{
			URL: "https://news.example.com/storm", Title: "Storm", BodyText: "Satellites went dark.", Source: "rss",
		}),
		payload(t, ledger.StageScripted, s.Narration(), s),
		payload(t, ledger.StageNarrated, "https://cdn.example.com/"+audioKey, narration.Result{
			AudioKey: audioKey, AudioURL: "https://cdn.example.com/" + audioKey, SubtitleKey: "audio/t-storm.srt",
		}),
		payload(t, ledger.StageVideoSubmitted, "job-9", lipsync.Submission{JobID: "job-9"}),
		payload(t, ledger.StageVideoReady, f.server.URL+"/out.mp4", lipsync.Video{JobID: "job-9", OutputURL: f.server.URL + "/out.mp4"}),
	}
	return st
}

func TestArchiveCopiesAudioAndDownloadsVideo(t *testing.T) {
	f := newFixture(t)
	exec := NewExecutor(f.public, f.archive, nil, nil)
	st := f.state(t, true)

	p, err := exec.Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if p.Stage != ledger.StageArchived {
		t.Fatalf("unexpected stage %s", p.Stage)
	}
	video, err := f.archive.Get(context.Background(), artifacts.VideoKey("t-storm"))
	if err != nil || string(video) != "mp4-bytes" {
		t.Fatalf("archived video %q err=%v", video, err)
	}
	audio, err := f.archive.Get(context.Background(), artifacts.AudioKey("t-storm"))
	if err != nil || string(audio) != "ID3audio" {
		t.Fatalf("archived audio %q err=%v", audio, err)
	}
	var out Archived
	if err := json.Unmarshal(p.Detail, &out); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if out.SubtitleKey == "" || out.VideoBytes != len("mp4-bytes") {
		t.Fatalf("unexpected detail %+v", out)
	}

	// A second run finds the video archived and does not download again.
	f.status.Store(http.StatusInternalServerError)
	if _, err := exec.Execute(context.Background(), st); err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if hits := f.hits.Load(); hits != 1 {
		t.Fatalf("expected a single download, got %d", hits)
	}
}

func TestArchiveClassifiesDownloadFailures(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, services.ErrNotFound},
		{http.StatusGone, services.ErrNotFound},
		{http.StatusBadGateway, services.ErrTransient},
	}
	for _, tc := range cases {
		f := newFixture(t)
		f.status.Store(int32(tc.status))
		_, err := NewExecutor(f.public, f.archive, nil, nil).Execute(context.Background(), f.state(t, true))
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestArchiveMissingAudioIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := NewExecutor(f.public, f.archive, nil, nil).Execute(context.Background(), f.state(t, false))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.hits.Load() != 0 {
		t.Fatalf("video should not be fetched without audio")
	}
}

func TestManifestListsEveryPayload(t *testing.T) {
	f := newFixture(t)
	st := f.state(t, true)
	p, err := NewExecutor(f.public, f.archive, nil, nil).Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	st.Stage = ledger.StageArchived
	st.Payloads = append(st.Payloads, p)

	done, err := NewManifestExecutor(f.archive, nil).Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if done.Stage != ledger.StageDone || done.Ref == "" {
		t.Fatalf("unexpected payload %+v", done)
	}
	raw, err := f.archive.Get(context.Background(), artifacts.ManifestKey("t-storm"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.Headline != "Storm" || m.JobID != "job-9" || len(m.Payloads) != 6 || m.Article.Source != "rss" {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if m.CompletedAt.IsZero() {
		t.Fatalf("manifest missing completion time")
	}
}

func TestManifestRequiresArchivedPayload(t *testing.T) {
	f := newFixture(t)
	_, err := NewManifestExecutor(f.archive, nil).Execute(context.Background(), f.state(t, true))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
