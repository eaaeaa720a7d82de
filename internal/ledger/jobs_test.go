package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"newscast/internal/ledger"
	"newscast/internal/testsupport"
)

func TestClaimVideoJobIsExclusive(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job, claimed, err := store.ClaimVideoJob(ctx, "u:job", time.Minute)
	if err != nil || !claimed {
		t.Fatalf("expected first claim to succeed, claimed=%v err=%v", claimed, err)
	}

	again, claimed, err := store.ClaimVideoJob(ctx, "u:job", time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed || again.ID != job.ID {
		t.Fatalf("expected existing claim to be returned, got claimed=%v id=%d", claimed, again.ID)
	}

	submitted := time.Now().UTC()
	if err := store.AttachJobID(ctx, job.ID, "sync-123", submitted); err != nil {
		t.Fatalf("AttachJobID: %v", err)
	}
	active, err := store.ActiveVideoJob(ctx, "u:job")
	if err != nil {
		t.Fatalf("ActiveVideoJob: %v", err)
	}
	if active.JobID != "sync-123" || active.WatchStartedAt.IsZero() {
		t.Fatalf("unexpected active job: %+v", active)
	}
}

func TestClaimVideoJobReplacesAbandonedClaim(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first, _, err := store.ClaimVideoJob(ctx, "u:abandoned", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, claimed, err := store.ClaimVideoJob(ctx, "u:abandoned", time.Millisecond)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !claimed || second.ID == first.ID {
		t.Fatalf("expected a fresh claim, got claimed=%v id=%d", claimed, second.ID)
	}
	old, err := store.VideoJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("VideoJob: %v", err)
	}
	if old.Status != ledger.JobFailed || old.Error != ledger.AbandonedClaimError {
		t.Fatalf("expected abandoned claim to be failed, got %+v", old)
	}
}

func TestReleaseClaimFreesSlot(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job, _, err := store.ClaimVideoJob(ctx, "u:release", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.ReleaseClaim(ctx, job.ID); err != nil {
		t.Fatalf("ReleaseClaim: %v", err)
	}
	if _, err := store.ActiveVideoJob(ctx, "u:release"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected no active job, got %v", err)
	}
}

func TestVideoJobLifecycle(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job, _, _ := store.ClaimVideoJob(ctx, "u:life", time.Minute)
	if err := store.AttachJobID(ctx, job.ID, "sync-life", time.Now()); err != nil {
		t.Fatalf("AttachJobID: %v", err)
	}
	if err := store.RecordPoll(ctx, job.ID, time.Now()); err != nil {
		t.Fatalf("RecordPoll: %v", err)
	}
	polled, _ := store.VideoJob(ctx, job.ID)
	if polled.Status != ledger.JobProcessing || polled.PollCount != 1 {
		t.Fatalf("expected processing after first poll, got %+v", polled)
	}

	if err := store.ExpireVideoJob(ctx, job.ID, "deadline"); err != nil {
		t.Fatalf("ExpireVideoJob: %v", err)
	}
	if err := store.CompleteVideoJob(ctx, job.ID, "https://x"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected terminal job to reject completion, got %v", err)
	}

	reactivated, err := store.ReactivateVideoJob(ctx, job.ID, time.Now())
	if err != nil {
		t.Fatalf("ReactivateVideoJob: %v", err)
	}
	if reactivated.Status != ledger.JobProcessing || reactivated.JobID != "sync-life" || reactivated.Resumes != 1 {
		t.Fatalf("unexpected reactivated job: %+v", reactivated)
	}

	if err := store.CompleteVideoJob(ctx, job.ID, "https://cdn.example.com/v.mp4"); err != nil {
		t.Fatalf("CompleteVideoJob: %v", err)
	}
	done, _ := store.LatestVideoJob(ctx, "u:life")
	if done.Status != ledger.JobCompleted || done.ResultRef != "https://cdn.example.com/v.mp4" {
		t.Fatalf("unexpected completed job: %+v", done)
	}
}

func TestClaimVideoJobReusesCompletedJob(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job, _, err := store.ClaimVideoJob(ctx, "u:done", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.AttachJobID(ctx, job.ID, "sync-done", time.Now()); err != nil {
		t.Fatalf("AttachJobID: %v", err)
	}
	if err := store.CompleteVideoJob(ctx, job.ID, "https://cdn.example.com/done.mp4"); err != nil {
		t.Fatalf("CompleteVideoJob: %v", err)
	}

	again, claimed, err := store.ClaimVideoJob(ctx, "u:done", time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed || again.ID != job.ID || again.JobID != "sync-done" {
		t.Fatalf("expected completed job to be reused, got claimed=%v job=%+v", claimed, again)
	}
	jobs, err := store.VideoJobs(ctx, "u:done")
	if err != nil {
		t.Fatalf("VideoJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected no new job row, got %d", len(jobs))
	}
}

func TestDiscardKeepsCompletedJobReusable(t *testing.T) {
	store := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()
	fp := "u:discarded"

	if err := store.Record(ctx, ledger.NewArticleState(fp, "q")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	job, _, err := store.ClaimVideoJob(ctx, fp, time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.AttachJobID(ctx, job.ID, "sync-kept", time.Now()); err != nil {
		t.Fatalf("AttachJobID: %v", err)
	}
	if err := store.CompleteVideoJob(ctx, job.ID, "https://cdn.example.com/kept.mp4"); err != nil {
		t.Fatalf("CompleteVideoJob: %v", err)
	}
	if err := store.Discard(ctx, fp); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	again, claimed, err := store.ClaimVideoJob(ctx, fp, time.Minute)
	if err != nil {
		t.Fatalf("claim after discard: %v", err)
	}
	if claimed || again.JobID != "sync-kept" {
		t.Fatalf("expected discarded article's job to be reused, got claimed=%v job=%+v", claimed, again)
	}
}
