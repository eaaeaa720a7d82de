package pipeline

import (
	"context"
	"errors"
	"fmt"

	"newscast/internal/ledger"
	"newscast/internal/logging"
	"newscast/internal/notifications"
	"newscast/internal/services"
)

// Resume re-drives fp. A STALE article has its expired video job
// reactivated under the same job id with a fresh watch window; an active
// article interrupted mid-run simply continues. Failed articles return
// ErrNotResumable.
func (o *Orchestrator) Resume(ctx context.Context, fp string) (*ledger.ArticleState, error) {
	release, err := o.flights.acquire(ctx, fp)
	if err != nil {
		return nil, err
	}
	defer release()
	st, err := o.lookup(ctx, fp)
	if err != nil {
		return nil, err
	}
	switch st.Halt {
	case ledger.HaltFailed:
		return st, fmt.Errorf("%w: %s halted at %s", ErrNotResumable, fp, st.Stage)
	case ledger.HaltStale:
		st, err = o.reviveStale(ctx, st)
		if err != nil || st.Terminal() {
			return st, err
		}
	}
	return o.run(ctx, st)
}

// Resumable lists fingerprints Resume would act on: STALE articles and,
// unless staleOnly, active articles that stopped short of done.
func (o *Orchestrator) Resumable(ctx context.Context, staleOnly bool) ([]string, error) {
	filters := []ledger.Filter{{Halt: ledger.HaltStale}}
	if !staleOnly {
		filters = append(filters, ledger.Filter{ActiveOnly: true})
	}
	var out []string
	for _, f := range filters {
		states, _, err := o.store.List(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, st := range states {
			out = append(out, st.Fingerprint)
		}
	}
	return out, nil
}

func (o *Orchestrator) reviveStale(ctx context.Context, st *ledger.ArticleState) (*ledger.ArticleState, error) {
	logger := logging.WithContext(services.WithFingerprint(ctx, st.Fingerprint), o.logger)

	job, err := o.store.LatestVideoJob(ctx, st.Fingerprint)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		job = nil
	case err != nil:
		return st, err
	}

	if job != nil && job.Status == ledger.JobExpired {
		if job.Resumes >= o.maxStaleResumes {
			return o.exhaustStale(ctx, st, job)
		}
		if _, err := o.store.ReactivateVideoJob(ctx, job.ID, o.now().UTC()); err != nil {
			return st, err
		}
		logger.Info(
			"video job reactivated",
			logging.String(logging.FieldEventType, "stale_resumed"),
			logging.String(logging.FieldJobID, job.JobID),
			logging.Int("resumes", job.Resumes+1),
			logging.Int("max_resumes", o.maxStaleResumes),
		)
	}

	revived := st.Clone()
	revived.Halt = ledger.HaltNone
	revived.Attempts = 0
	revived.LastError = nil
	if err := o.store.Record(ctx, revived); err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			return o.reload(ctx, st)
		}
		return st, fmt.Errorf("clear stale halt: %w", err)
	}
	return revived, nil
}

func (o *Orchestrator) exhaustStale(ctx context.Context, st *ledger.ArticleState, job *ledger.VideoJob) (*ledger.ArticleState, error) {
	halted := st.Clone()
	halted.Halt = ledger.HaltFailed
	halted.LastError = &ledger.StageError{
		Kind:    string(services.KindTimeout),
		Stage:   ledger.StageVideoReady,
		Message: ledger.ReasonStaleExhausted,
		At:      o.now().UTC(),
	}
	if err := o.store.Record(ctx, halted); err != nil {
		if errors.Is(err, ledger.ErrVersionConflict) {
			return o.reload(ctx, st)
		}
		return st, fmt.Errorf("record stale exhaustion: %w", err)
	}

	logger := logging.WithContext(services.WithFingerprint(ctx, st.Fingerprint), o.logger)
	logging.ErrorWithContext(logger, "video job abandoned after repeated stale resumes", "stale_exhausted",
		logging.String(logging.FieldJobID, job.JobID),
		logging.Int("resumes", job.Resumes),
		logging.String(logging.FieldErrorHint, "check the job in the sync.so dashboard"),
	)
	o.publish(ctx, logger, notifications.EventArticleFailed, notifications.Payload{
		"fingerprint": st.Fingerprint,
		"stage":       string(ledger.StageVideoReady),
		"reason":      ledger.ReasonStaleExhausted,
	})
	return halted, nil
}
