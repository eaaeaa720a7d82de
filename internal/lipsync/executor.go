package lipsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/logging"
	"newscast/internal/narration"
	"newscast/internal/services"
	"newscast/internal/stage"
)

// Submission is the video_submitted payload detail.
type Submission struct {
	JobID       string    `json:"job_id"`
	JobRow      int64     `json:"job_row"`
	AudioURL    string    `json:"audio_url"`
	TemplateURL string    `json:"template_video_url"`
	Reused      bool      `json:"reused"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Video is the video_ready payload detail.
type Video struct {
	JobID     string `json:"job_id"`
	OutputURL string `json:"output_url"`
	Polls     int    `json:"polls"`
	Resumes   int    `json:"resumes"`
}

const defaultClaimWait = 500 * time.Millisecond

// SubmitExecutor is the submit_video_job stage.
type SubmitExecutor struct {
	provider     Provider
	store        *ledger.Store
	templateURL  string
	claimTimeout time.Duration
	claimWait    time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func NewSubmitExecutor(cfg *config.Config, provider Provider, store *ledger.Store, logger *slog.Logger) *SubmitExecutor {
	return &SubmitExecutor{
		provider:     provider,
		store:        store,
		templateURL:  strings.TrimSpace(cfg.LipSync.TemplateVideoURL),
		claimTimeout: cfg.ClaimTimeout(),
		claimWait:    defaultClaimWait,
		now:          time.Now,
		logger:       logging.NewComponentLogger(logger, stage.NameSubmitVideoJob),
	}
}

func (e *SubmitExecutor) Name() string { return stage.NameSubmitVideoJob }

func (e *SubmitExecutor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, stage.NameSubmitVideoJob)
}

func (e *SubmitExecutor) Execute(ctx context.Context, st *ledger.ArticleState) (ledger.Payload, error) {
	audio, err := narration.Load(st, e.Name())
	if err != nil {
		return ledger.Payload{}, err
	}
	if !isHTTPURL(audio.AudioURL) {
		return ledger.Payload{}, services.Wrap(services.ErrValidation, e.Name(), "submit",
			fmt.Sprintf("audio url %q is not reachable over http(s); configure artifacts.public_base_url or an s3 store", audio.AudioURL), nil)
	}

	job, claimed, err := e.claim(ctx, st.Fingerprint)
	if err != nil {
		return ledger.Payload{}, err
	}
	if !claimed {
		e.logger.Info("reusing existing video job",
			logging.String(logging.FieldEventType, "video_job_reused"),
			logging.String(logging.FieldJobID, job.JobID),
			logging.String("status", string(job.Status)),
		)
		return e.payload(Submission{
			JobID: job.JobID, JobRow: job.ID, AudioURL: audio.AudioURL,
			TemplateURL: e.templateURL, Reused: true, SubmittedAt: job.SubmittedAt,
		})
	}

	persist := context.WithoutCancel(ctx)
	jobID, err := e.provider.Submit(ctx, SubmitRequest{VideoURL: e.templateURL, AudioURL: audio.AudioURL})
	if err != nil {
		if !services.Terminal(err) {
			if relErr := e.store.ReleaseClaim(persist, job.ID); relErr != nil {
				e.logger.Warn("failed to release submission claim", logging.Error(relErr))
			}
		} else if failErr := e.store.FailVideoJob(persist, job.ID, services.Details(err).Message); failErr != nil {
			e.logger.Warn("failed to record rejected submission", logging.Error(failErr))
		}
		return ledger.Payload{}, err
	}

	submittedAt := e.now().UTC()
	if err := e.store.AttachJobID(persist, job.ID, jobID, submittedAt); err != nil {
		if relErr := e.store.ReleaseClaim(persist, job.ID); relErr != nil {
			e.logger.Warn("failed to release submission claim", logging.Error(relErr))
		}
		return ledger.Payload{}, services.Wrap(services.ErrLedgerInconsistency, e.Name(), "attach job id",
			fmt.Sprintf("provider accepted job %s but the ledger did not record it", jobID), err)
	}
	e.logger.Info("video job submitted",
		logging.String(logging.FieldEventType, "video_job_submitted"),
		logging.String(logging.FieldJobID, jobID),
		logging.String("provider", e.provider.Name()),
	)
	return e.payload(Submission{
		JobID: jobID, JobRow: job.ID, AudioURL: audio.AudioURL,
		TemplateURL: e.templateURL, SubmittedAt: submittedAt,
	})
}

// claim takes the fingerprint's job slot. When another run holds a claim
// that has no job id yet, it waits for that run to attach one or give up.
// A job id attached to the awaited claim is reused even if that job has
// already settled.
func (e *SubmitExecutor) claim(ctx context.Context, fp string) (*ledger.VideoJob, bool, error) {
	ticker := time.NewTicker(e.claimWait)
	defer ticker.Stop()
	var awaited int64
	for {
		if awaited != 0 {
			prev, err := e.store.VideoJob(ctx, awaited)
			switch {
			case errors.Is(err, ledger.ErrNotFound):
			case err != nil:
				return nil, false, services.Wrap(services.ErrTransient, e.Name(), "claim", "read awaited claim", err)
			case prev.JobID != "":
				return prev, false, nil
			case prev.Status == ledger.JobFailed && prev.Error != ledger.AbandonedClaimError:
				return nil, false, services.Wrap(services.ErrValidation, e.Name(), "claim",
					fmt.Sprintf("concurrent submission was rejected: %s", prev.Error), nil)
			}
		}
		job, claimed, err := e.store.ClaimVideoJob(ctx, fp, e.claimTimeout)
		switch {
		case errors.Is(err, ledger.ErrJobInFlight):
		case err != nil:
			return nil, false, services.Wrap(services.ErrTransient, e.Name(), "claim", "claim video job slot", err)
		case claimed || job.JobID != "":
			return job, claimed, nil
		default:
			awaited = job.ID
		}
		e.logger.Debug("waiting for concurrent submission",
			logging.String(logging.FieldEventType, "claim_wait"),
		)
		select {
		case <-ctx.Done():
			return nil, false, context.Cause(ctx)
		case <-ticker.C:
		}
	}
}

func (e *SubmitExecutor) payload(sub Submission) (ledger.Payload, error) {
	detail, err := stage.EncodeDetail(e.Name(), sub)
	if err != nil {
		return ledger.Payload{}, err
	}
	return ledger.Payload{Stage: ledger.StageVideoSubmitted, Ref: sub.JobID, Detail: detail}, nil
}

func (e *SubmitExecutor) HealthCheck(ctx context.Context) stage.Health {
	if !isHTTPURL(e.templateURL) {
		return stage.Unhealthy(e.Name(), "lipsync.template_video_url must be an http(s) url")
	}
	if err := e.provider.HealthCheck(ctx); err != nil {
		return stage.Unhealthy(e.Name(), err.Error())
	}
	return stage.Healthy(e.Name())
}

// AwaitExecutor is the await_video stage.
type AwaitExecutor struct {
	poller *Poller
	store  *ledger.Store
	logger *slog.Logger
}

func NewAwaitExecutor(poller *Poller, store *ledger.Store, logger *slog.Logger) *AwaitExecutor {
	return &AwaitExecutor{poller: poller, store: store, logger: logging.NewComponentLogger(logger, stage.NameAwaitVideo)}
}

func (e *AwaitExecutor) Name() string { return stage.NameAwaitVideo }

func (e *AwaitExecutor) SetLogger(logger *slog.Logger) {
	e.logger = logging.NewComponentLogger(logger, stage.NameAwaitVideo)
}

func (e *AwaitExecutor) Execute(ctx context.Context, st *ledger.ArticleState) (ledger.Payload, error) {
	job, err := e.store.ActiveVideoJob(ctx, st.Fingerprint)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return e.settled(ctx, st.Fingerprint)
	case err != nil:
		return ledger.Payload{}, services.Wrap(services.ErrTransient, e.Name(), "load job", "read active video job", err)
	}
	if job.JobID == "" {
		return ledger.Payload{}, services.Wrap(services.ErrTransient, e.Name(), "load job", "submission claim has no job id yet", nil)
	}

	e.logger.Info("watching video job",
		logging.String(logging.FieldEventType, "video_watch"),
		logging.String(logging.FieldJobID, job.JobID),
		logging.Int("resumes", job.Resumes),
	)
	res, err := e.poller.Watch(ctx, job)
	if err != nil {
		return ledger.Payload{}, err
	}
	return e.payload(Video{JobID: res.JobID, OutputURL: res.OutputURL, Polls: res.Polls, Resumes: job.Resumes})
}

// settled handles an article whose latest job already left the active set,
// for example when a concurrent run finished watching it.
func (e *AwaitExecutor) settled(ctx context.Context, fp string) (ledger.Payload, error) {
	job, err := e.store.LatestVideoJob(ctx, fp)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Payload{}, services.Wrap(services.ErrValidation, e.Name(), "load job", "no video job recorded for article", nil)
	}
	if err != nil {
		return ledger.Payload{}, services.Wrap(services.ErrTransient, e.Name(), "load job", "read latest video job", err)
	}
	switch job.Status {
	case ledger.JobCompleted:
		return e.payload(Video{JobID: job.JobID, OutputURL: job.ResultRef, Polls: job.PollCount, Resumes: job.Resumes})
	case ledger.JobExpired:
		return ledger.Payload{}, services.Wrap(services.ErrTimeout, e.Name(), "load job",
			fmt.Sprintf("job %s expired: %s", job.JobID, job.Error), nil)
	default:
		return ledger.Payload{}, services.Wrap(services.ErrValidation, e.Name(), "load job",
			fmt.Sprintf("job %s failed: %s", job.JobID, job.Error), nil)
	}
}

func (e *AwaitExecutor) payload(v Video) (ledger.Payload, error) {
	detail, err := stage.EncodeDetail(e.Name(), v)
	if err != nil {
		return ledger.Payload{}, err
	}
	return ledger.Payload{Stage: ledger.StageVideoReady, Ref: v.OutputURL, Detail: detail}, nil
}

func (e *AwaitExecutor) HealthCheck(ctx context.Context) stage.Health {
	if err := e.store.Ping(ctx); err != nil {
		return stage.Unhealthy(e.Name(), err.Error())
	}
	return stage.Healthy(e.Name())
}

// LoadVideo decodes the result recorded at the video_ready stage.
func LoadVideo(st *ledger.ArticleState, executor string) (Video, error) {
	var v Video
	err := stage.DecodeDetail(st, ledger.StageVideoReady, executor, &v)
	return v, err
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
