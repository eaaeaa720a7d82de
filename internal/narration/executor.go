package narration

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"newscast/internal/artifacts"
	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/logging"
	"newscast/internal/script"
	"newscast/internal/services"
	"newscast/internal/services/elevenlabs"
	"newscast/internal/stage"
	"newscast/internal/textutil"
)

// Synthesizer renders text as speech. Rate limits are ErrTransient, an
// unknown voice ErrConfiguration and exhausted credit ErrQuotaExceeded.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
	HealthCheck(ctx context.Context) error
}

// NewSynthesizer returns the ElevenLabs client described by cfg.
func NewSynthesizer(cfg *config.Config) *elevenlabs.Client {
	return elevenlabs.NewClient(elevenlabs.Config{
		APIKey:          cfg.Narration.APIKey,
		BaseURL:         cfg.Narration.BaseURL,
		ModelID:         cfg.Narration.ModelID,
		OutputFormat:    cfg.Narration.OutputFormat,
		Stability:       cfg.Narration.Stability,
		SimilarityBoost: cfg.Narration.SimilarityBoost,
		TimeoutSeconds:  cfg.Narration.TimeoutSeconds,
	})
}

// Result is the narrated stage's payload detail.
type Result struct {
	AudioKey        string  `json:"audio_key"`
	AudioURL        string  `json:"audio_url"`
	AudioBytes      int     `json:"audio_bytes"`
	SubtitleKey     string  `json:"subtitle_key,omitempty"`
	SubtitleURL     string  `json:"subtitle_url,omitempty"`
	VoiceID         string  `json:"voice_id"`
	Words           int     `json:"words"`
	EstimatedLength float64 `json:"estimated_seconds"`
}

// Executor is the synthesize_audio stage.
type Executor struct {
	synth     Synthesizer
	store     artifacts.Store
	voiceID   string
	subtitles bool
	timing    Timing
	logger    *slog.Logger
}

func NewExecutor(cfg *config.Config, synth Synthesizer, store artifacts.Store, logger *slog.Logger) *Executor {
	return &Executor{
		synth:     synth,
		store:     store,
		voiceID:   cfg.Narration.VoiceID,
		subtitles: cfg.Narration.Subtitles,
		timing: Timing{
			WordsPerSegment:   cfg.Narration.WordsPerSegment,
			SecondsPerWord:    cfg.Narration.SecondsPerWord,
			MaxSegmentSeconds: cfg.Narration.MaxSegmentSeconds,
		},
		logger: logging.NewComponentLogger(logger, stage.NameSynthesizeAudio),
	}
}

func (e *Executor) Name() string { return stage.NameSynthesizeAudio }

func (e *Executor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, stage.NameSynthesizeAudio)
}

func (e *Executor) Execute(ctx context.Context, st *ledger.ArticleState) (ledger.Payload, error) {
	s, err := script.Load(st, e.Name())
	if err != nil {
		return ledger.Payload{}, err
	}
	text := s.Narration()
	if strings.TrimSpace(text) == "" {
		return ledger.Payload{}, services.Wrap(services.ErrValidation, e.Name(), "synthesize", "script has no narration", nil)
	}

	audio, err := e.synth.Synthesize(ctx, text, e.voiceID)
	if err != nil {
		return ledger.Payload{}, err
	}
	if len(audio) == 0 || looksLikeText(audio) {
		return ledger.Payload{}, services.Wrap(services.ErrTransient, e.Name(), "synthesize", "provider returned no audio", nil)
	}

	safe := textutil.SafeName(st.Fingerprint)
	res := Result{AudioKey: artifacts.AudioKey(safe), AudioBytes: len(audio), VoiceID: e.voiceID, Words: len(textutil.Words(text))}
	res.AudioURL, err = e.store.Put(ctx, res.AudioKey, audio, "audio/mpeg")
	if err != nil {
		return ledger.Payload{}, err
	}

	cues := Segment(text, e.timing)
	res.EstimatedLength = EstimatedDuration(cues)
	if e.subtitles {
		res.SubtitleKey = artifacts.SubtitleKey(safe)
		res.SubtitleURL, err = e.store.Put(ctx, res.SubtitleKey, []byte(FormatSRT(cues)), "application/x-subrip")
		if err != nil {
			return ledger.Payload{}, err
		}
	}

	detail, err := stage.EncodeDetail(e.Name(), res)
	if err != nil {
		return ledger.Payload{}, err
	}
	e.logger.Info("narration published",
		logging.String(logging.FieldEventType, "audio_published"),
		logging.String("audio_url", res.AudioURL),
		logging.Int("audio_bytes", res.AudioBytes),
		logging.Float64("estimated_seconds", res.EstimatedLength),
		logging.Bool("subtitles", res.SubtitleURL != ""),
	)
	return ledger.Payload{Stage: ledger.StageNarrated, Ref: res.AudioURL, Detail: detail}, nil
}

func (e *Executor) HealthCheck(ctx context.Context) stage.Health {
	if strings.TrimSpace(e.voiceID) == "" {
		return stage.Unhealthy(e.Name(), "narration.voice_id is not set")
	}
	if err := e.synth.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(e.Name(), err.Error())
	}
	return stage.Health{Name: e.Name(), Ready: true, Detail: "store: " + e.store.Name()}
}

// Load decodes the result recorded at the narrated stage.
func Load(st *ledger.ArticleState, executor string) (Result, error) {
	var r Result
	err := stage.DecodeDetail(st, ledger.StageNarrated, executor, &r)
	return r, err
}

// looksLikeText catches JSON or HTML error bodies served with a 200.
func looksLikeText(data []byte) bool {
	head := bytes.TrimSpace(data[:min(len(data), 64)])
	return bytes.HasPrefix(head, []byte("{")) || bytes.HasPrefix(head, []byte("<"))
}
