package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"newscast/internal/artifacts"
	"newscast/internal/ledger"
	"newscast/internal/lipsync"
	"newscast/internal/logging"
	"newscast/internal/narration"
	"newscast/internal/services"
	"newscast/internal/stage"
	"newscast/internal/textutil"
)

const (
	maxVideoBytes   = 512 << 20
	maxErrorBody    = 4096
	defaultDownload = 5 * time.Minute
)

// Archived is the archived payload detail.
type Archived struct {
	AudioKey    string `json:"audio_key"`
	AudioURL    string `json:"audio_url"`
	SubtitleKey string `json:"subtitle_key,omitempty"`
	VideoKey    string `json:"video_key"`
	VideoURL    string `json:"video_url"`
	VideoBytes  int    `json:"video_bytes"`
	SourceURL   string `json:"source_url"`
}

// Executor is the archive_artifacts stage.
type Executor struct {
	public  artifacts.Store
	archive artifacts.Store
	client  *http.Client
	logger  *slog.Logger
}

// NewExecutor wires the stage. A nil client gets a five minute timeout.
func NewExecutor(public, archive artifacts.Store, client *http.Client, logger *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{Timeout: defaultDownload}
	}
	return &Executor{
		public:  public,
		archive: archive,
		client:  client,
		logger:  logging.NewComponentLogger(logger, stage.NameArchiveArtifacts),
	}
}

func (e *Executor) Name() string { return stage.NameArchiveArtifacts }

func (e *Executor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, stage.NameArchiveArtifacts)
}

func (e *Executor) Execute(ctx context.Context, st *ledger.ArticleState) (ledger.Payload, error) {
	audio, err := narration.Load(st, e.Name())
	if err != nil {
		return ledger.Payload{}, err
	}
	video, err := lipsync.LoadVideo(st, e.Name())
	if err != nil {
		return ledger.Payload{}, err
	}

	safe := textutil.SafeName(st.Fingerprint)
	out := Archived{
		AudioKey:  artifacts.AudioKey(safe),
		VideoKey:  artifacts.VideoKey(safe),
		SourceURL: video.OutputURL,
	}

	out.AudioURL, err = e.copy(ctx, audio.AudioKey, out.AudioKey, "audio/mpeg")
	if err != nil {
		return ledger.Payload{}, err
	}
	if audio.SubtitleKey != "" {
		key := artifacts.SubtitleKey(safe)
		if _, err := e.copy(ctx, audio.SubtitleKey, key, "application/x-subrip"); err != nil {
			logging.WarnWithContext(e.logger, "subtitles not archived", "subtitle_archive_skipped",
				logging.String("key", audio.SubtitleKey),
				logging.Error(err),
				logging.String(logging.FieldImpact, "archive has no subtitle track"),
			)
		} else {
			out.SubtitleKey = key
		}
	}

	exists, err := e.archive.Exists(ctx, out.VideoKey)
	if err != nil {
		return ledger.Payload{}, err
	}
	if exists {
		out.VideoURL = e.archive.URL(out.VideoKey)
		e.logger.Info("video already archived", logging.String(logging.FieldEventType, "video_archive_reused"))
	} else {
		data, err := e.download(ctx, video.OutputURL)
		if err != nil {
			return ledger.Payload{}, err
		}
		out.VideoBytes = len(data)
		out.VideoURL, err = e.archive.Put(ctx, out.VideoKey, data, "video/mp4")
		if err != nil {
			return ledger.Payload{}, err
		}
	}

	detail, err := stage.EncodeDetail(e.Name(), out)
	if err != nil {
		return ledger.Payload{}, err
	}
	e.logger.Info("artifacts archived",
		logging.String(logging.FieldEventType, "artifacts_archived"),
		logging.String("video_url", out.VideoURL),
		logging.String("audio_url", out.AudioURL),
		logging.Int("video_bytes", out.VideoBytes),
		logging.String("store", e.archive.Name()),
	)
	return ledger.Payload{Stage: ledger.StageArchived, Ref: out.VideoURL, Detail: detail}, nil
}

// copy moves key from the public store into the archive under target.
func (e *Executor) copy(ctx context.Context, key, target, contentType string) (string, error) {
	if ok, err := e.archive.Exists(ctx, target); err == nil && ok {
		return e.archive.URL(target), nil
	}
	data, err := e.public.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return e.archive.Put(ctx, target, data, contentType)
}

func (e *Executor) download(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, services.Wrap(services.ErrValidation, e.Name(), "download", "video result has no url", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, e.Name(), "download", "invalid video url", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrTransient, e.Name(), "download", "video request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, services.Wrap(services.ClassifyHTTP(resp.StatusCode, string(raw)), e.Name(), "download",
			fmt.Sprintf("http %d fetching video", resp.StatusCode), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVideoBytes+1))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrTransient, e.Name(), "download", "video body interrupted", err)
	}
	if len(data) > maxVideoBytes {
		return nil, services.Wrap(services.ErrValidation, e.Name(), "download",
			fmt.Sprintf("video exceeds %d bytes", maxVideoBytes), nil)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrTransient, e.Name(), "download", "video body was empty", nil)
	}
	return data, nil
}

func (e *Executor) HealthCheck(context.Context) stage.Health {
	return stage.Health{Name: e.Name(), Ready: true, Detail: fmt.Sprintf("%s -> %s", e.public.Name(), e.archive.Name())}
}

// Load decodes the result recorded at the archived stage.
func Load(st *ledger.ArticleState, executor string) (Archived, error) {
	var a Archived
	err := stage.DecodeDetail(st, ledger.StageArchived, executor, &a)
	return a, err
}
