package lipsync

import (
	"context"
	"errors"
	"strings"

	"newscast/internal/config"
	"newscast/internal/services"
	"newscast/internal/services/syncso"
)

// State is a provider job state reduced to what the poller acts on.
type State string

const (
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// SubmitRequest pairs the avatar template with narration audio.
type SubmitRequest struct {
	VideoURL string
	AudioURL string
}

// PollResult is one status check.
type PollResult struct {
	State     State
	OutputURL string
	Error     string
	Raw       string
}

// Provider renders lip-synced video. Poll returns an error wrapping
// services.ErrNotFound for job ids the provider does not know.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, jobID string) (PollResult, error)
	HealthCheck(ctx context.Context) error
}

// SyncSo adapts the sync.so client to Provider.
type SyncSo struct {
	client *syncso.Client
}

// NewSyncSo builds the sync.so provider from cfg.
func NewSyncSo(cfg config.LipSync, opts ...syncso.Option) *SyncSo {
	return &SyncSo{client: syncso.NewClient(syncso.Config{
		APIKey:         cfg.APIKey,
		BaseURL:        cfg.BaseURL,
		Model:          cfg.Model,
		OutputFormat:   cfg.OutputFormat,
		SyncMode:       cfg.SyncMode,
		FPS:            cfg.FPS,
		Width:          cfg.Width,
		Height:         cfg.Height,
		ActiveSpeaker:  cfg.ActiveSpeaker,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}, opts...)}
}

func (s *SyncSo) Name() string { return "syncso" }

func (s *SyncSo) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	return s.client.Generate(ctx, req.VideoURL, req.AudioURL)
}

func (s *SyncSo) Poll(ctx context.Context, jobID string) (PollResult, error) {
	job, err := s.client.Job(ctx, jobID)
	if err != nil {
		return PollResult{}, err
	}
	res := PollResult{OutputURL: strings.TrimSpace(job.OutputURL), Error: job.Error, Raw: string(job.Status)}
	switch {
	case job.Status == syncso.StatusCompleted:
		res.State = StateCompleted
	case job.Status.Failed():
		res.State = StateFailed
		if res.Error == "" {
			res.Error = "job " + strings.ToLower(string(job.Status))
		}
	default:
		res.State = StateProcessing
	}
	return res, nil
}

func (s *SyncSo) HealthCheck(ctx context.Context) error { return s.client.HealthCheck(ctx) }

// retryable reports whether a poll error should be rescheduled rather than
// ending the watch. Request timeouts count as transient here.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch services.Classify(err) {
	case services.KindTransient, services.KindQuota, services.KindTimeout:
		return true
	}
	return false
}
