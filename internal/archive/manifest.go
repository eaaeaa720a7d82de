package archive

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"newscast/internal/acquire"
	"newscast/internal/artifacts"
	"newscast/internal/ledger"
	"newscast/internal/lipsync"
	"newscast/internal/logging"
	"newscast/internal/script"
	"newscast/internal/services"
	"newscast/internal/stage"
	"newscast/internal/textutil"
)

// Manifest describes a finished article.
type Manifest struct {
	Fingerprint string            `json:"fingerprint"`
	Query       string            `json:"query"`
	Headline    string            `json:"headline"`
	Hashtags    []string          `json:"hashtags,omitempty"`
	Article     ManifestArticle   `json:"article"`
	Narration   string            `json:"narration"`
	AudioURL    string            `json:"audio_url"`
	SubtitleKey string            `json:"subtitle_key,omitempty"`
	VideoURL    string            `json:"video_url"`
	JobID       string            `json:"job_id"`
	Payloads    []ManifestPayload `json:"payloads"`
	CompletedAt time.Time         `json:"completed_at"`
}

type ManifestArticle struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	Publisher   string    `json:"publisher,omitempty"`
	PublishedAt time.Time `json:"published_at,omitzero"`
}

type ManifestPayload struct {
	Stage      ledger.Stage `json:"stage"`
	Ref        string       `json:"ref"`
	RecordedAt time.Time    `json:"recorded_at,omitzero"`
}

// ManifestExecutor is the finalize_manifest stage.
type ManifestExecutor struct {
	archive artifacts.Store
	now     func() time.Time
	logger  *slog.Logger
}

func NewManifestExecutor(archive artifacts.Store, logger *slog.Logger) *ManifestExecutor {
	return &ManifestExecutor{
		archive: archive,
		now:     time.Now,
		logger:  logging.NewComponentLogger(logger, stage.NameFinalizeManifest),
	}
}

func (e *ManifestExecutor) Name() string { return stage.NameFinalizeManifest }

func (e *ManifestExecutor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, stage.NameFinalizeManifest)
}

func (e *ManifestExecutor) Execute(ctx context.Context, st *ledger.ArticleState) (ledger.Payload, error) {
	m, err := BuildManifest(st, e.Name())
	if err != nil {
		return ledger.Payload{}, err
	}
	m.CompletedAt = e.now().UTC()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return ledger.Payload{}, services.Wrap(services.ErrValidation, e.Name(), "encode manifest", "manifest is not serializable", err)
	}
	key := artifacts.ManifestKey(textutil.SafeName(st.Fingerprint))
	url, err := e.archive.Put(ctx, key, data, "application/json")
	if err != nil {
		return ledger.Payload{}, err
	}
	e.logger.Info("manifest written",
		logging.String(logging.FieldEventType, "manifest_written"),
		logging.String("manifest_url", url),
		logging.String("headline", m.Headline),
	)
	return ledger.Payload{Stage: ledger.StageDone, Ref: url}, nil
}

// BuildManifest assembles the manifest from st's recorded payloads.
func BuildManifest(st *ledger.ArticleState, executor string) (Manifest, error) {
	article, err := acquire.Load(st, executor)
	if err != nil {
		return Manifest{}, err
	}
	s, err := script.Load(st, executor)
	if err != nil {
		return Manifest{}, err
	}
	video, err := lipsync.LoadVideo(st, executor)
	if err != nil {
		return Manifest{}, err
	}
	archived, err := Load(st, executor)
	if err != nil {
		return Manifest{}, err
	}

	m := Manifest{
		Fingerprint: st.Fingerprint,
		Query:       st.Query,
		Headline:    s.Headline,
		Hashtags:    s.Hashtags,
		Article: ManifestArticle{
			URL:         article.URL,
			Title:       article.Title,
			Source:      article.Source,
			Publisher:   article.Publisher,
			PublishedAt: article.PublishedAt,
		},
		Narration:   s.Narration(),
		AudioURL:    archived.AudioURL,
		SubtitleKey: archived.SubtitleKey,
		VideoURL:    archived.VideoURL,
		JobID:       video.JobID,
	}
	for _, p := range st.Payloads {
		m.Payloads = append(m.Payloads, ManifestPayload{Stage: p.Stage, Ref: p.Ref, RecordedAt: p.RecordedAt})
	}
	return m, nil
}

func (e *ManifestExecutor) HealthCheck(context.Context) stage.Health {
	return stage.Health{Name: e.Name(), Ready: true, Detail: "store: " + e.archive.Name()}
}
