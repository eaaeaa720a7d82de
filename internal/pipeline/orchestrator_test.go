package pipeline_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/pipeline"
	"newscast/internal/services"
	"newscast/internal/stage"
	"newscast/internal/testsupport"
)

type fakeExecutor struct {
	name   string
	target ledger.Stage

	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, st *ledger.ArticleState) (ledger.Payload, error)
}

func (f *fakeExecutor) Name() string { return f.name }

func (f *fakeExecutor) Execute(ctx context.Context, st *ledger.ArticleState) (ledger.Payload, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, call, st)
	}
	return ledger.Payload{Ref: fmt.Sprintf("%s-ref", f.target)}, nil
}

func (f *fakeExecutor) HealthCheck(context.Context) stage.Health { return stage.Healthy(f.name) }

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	cfg       *config.Config
	store     *ledger.Store
	executors map[ledger.Stage]*fakeExecutor
	orch      *pipeline.Orchestrator
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenLedger(t, cfg)
	fakes := make(map[ledger.Stage]*fakeExecutor)
	set := stage.Set{}
	for _, target := range ledger.Stages()[1:] {
		f := &fakeExecutor{name: "fake_" + string(target), target: target}
		fakes[target] = f
		set[target] = f
	}
	orch, err := pipeline.New(cfg, store, set, nil, nil)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return &harness{cfg: cfg, store: store, executors: fakes, orch: orch}
}

func (h *harness) totalCalls() int {
	total := 0
	for _, f := range h.executors {
		total += f.Calls()
	}
	return total
}

func TestNewRequiresEveryExecutor(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	_, err := pipeline.New(cfg, store, stage.Set{}, nil, nil)
	if err == nil {
		t.Fatal("expected error for missing executors")
	}
}

func TestDriveCompletesEveryStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st, err := h.orch.Drive(ctx, pipeline.Ref{Fingerprint: "t:abc", Query: "solar storms"})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if st.Stage != ledger.StageDone || st.Halt != ledger.HaltNone {
		t.Fatalf("expected done, got stage=%s halt=%s", st.Stage, st.Halt)
	}
	if len(st.Payloads) != 7 {
		t.Fatalf("expected 7 payloads, got %d", len(st.Payloads))
	}
	for target, f := range h.executors {
		if f.Calls() != 1 {
			t.Fatalf("executor %s called %d times", target, f.Calls())
		}
	}

	stored, err := h.store.Lookup(ctx, "t:abc")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if stored.Stage != ledger.StageDone || stored.Query != "solar storms" {
		t.Fatalf("unexpected stored state: %+v", stored)
	}
	if p, ok := stored.Payload(ledger.StageNarrated); !ok || p.Ref != "narrated-ref" {
		t.Fatalf("unexpected narrated payload: %+v", p)
	}
}

func TestConcurrentDrivesOfOneArticleRunEachStageOnce(t *testing.T) {
	h := newHarness(t)
	h.executors[ledger.StageScripted].fn = func(ctx context.Context, _ int, _ *ledger.ArticleState) (ledger.Payload, error) {
		time.Sleep(50 * time.Millisecond)
		return ledger.Payload{Ref: "script-ref"}, nil
	}
	ref := pipeline.Ref{Fingerprint: "t:twice", Query: "heat wave"}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orch.Drive(context.Background(), ref)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Drive %d: %v", i, err)
		}
	}
	for _, target := range []ledger.Stage{ledger.StageScripted, ledger.StageNarrated} {
		if calls := h.executors[target].Calls(); calls != 1 {
			t.Fatalf("expected one %s call, got %d", target, calls)
		}
	}
}

func TestDriveWaitingOnBusyArticleHonorsCancel(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	unblock := make(chan struct{})
	h.executors[ledger.StageScripted].fn = func(ctx context.Context, _ int, _ *ledger.ArticleState) (ledger.Payload, error) {
		close(entered)
		<-unblock
		return ledger.Payload{Ref: "script-ref"}, nil
	}
	ref := pipeline.Ref{Fingerprint: "t:busy", Query: "q"}

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Drive(context.Background(), ref)
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.orch.Drive(ctx, ref); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected waiting Drive to give up, got %v", err)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first Drive: %v", err)
	}
	if calls := h.executors[ledger.StageScripted].Calls(); calls != 1 {
		t.Fatalf("expected one scripted call, got %d", calls)
	}
}

func TestDriveDoneArticleMakesNoExecutorCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ref := pipeline.Ref{Fingerprint: "u:done", Query: "https://example.com/a"}

	if _, err := h.orch.Drive(ctx, ref); err != nil {
		t.Fatalf("first Drive: %v", err)
	}
	before := h.totalCalls()

	st, err := h.orch.Drive(ctx, ref)
	if err != nil {
		t.Fatalf("second Drive: %v", err)
	}
	if st.Stage != ledger.StageDone {
		t.Fatalf("expected done, got %s", st.Stage)
	}
	if after := h.totalCalls(); after != before {
		t.Fatalf("expected no executor calls on re-drive, got %d", after-before)
	}
}

func TestRetryExhaustionUsesExactBudget(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxRetries("scripted", 4))
	h.executors[ledger.StageScripted].fn = func(context.Context, int, *ledger.ArticleState) (ledger.Payload, error) {
		return ledger.Payload{}, services.Wrap(services.ErrTransient, "generate_script", "request", "upstream 503", nil)
	}

	st, err := h.orch.Drive(context.Background(), pipeline.Ref{Fingerprint: "t:retry", Query: "q"})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if got := h.executors[ledger.StageScripted].Calls(); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
	if st.Halt != ledger.HaltFailed || st.Stage != ledger.StageAcquired {
		t.Fatalf("expected FAILED(acquired), got stage=%s halt=%s", st.Stage, st.Halt)
	}
	if st.Attempts != 4 {
		t.Fatalf("expected attempts 4, got %d", st.Attempts)
	}
	if st.LastError == nil || st.LastError.Stage != ledger.StageScripted || st.LastError.Kind != string(services.KindTransient) {
		t.Fatalf("unexpected last error: %+v", st.LastError)
	}
	if h.executors[ledger.StageNarrated].Calls() != 0 {
		t.Fatal("halted article must not reach later stages")
	}

	// A halted article receives no further automatic transitions.
	again, err := h.orch.Drive(context.Background(), pipeline.Ref{Fingerprint: "t:retry", Query: "q"})
	if err != nil {
		t.Fatalf("re-Drive: %v", err)
	}
	if again.Halt != ledger.HaltFailed || h.executors[ledger.StageScripted].Calls() != 4 {
		t.Fatal("halted article was re-executed")
	}
}

func TestTransientFailureRecoversAndResetsAttempts(t *testing.T) {
	h := newHarness(t)
	h.executors[ledger.StageAcquired].fn = func(_ context.Context, call int, _ *ledger.ArticleState) (ledger.Payload, error) {
		if call < 3 {
			return ledger.Payload{}, errors.New("connection reset")
		}
		return ledger.Payload{Ref: "https://example.com/story"}, nil
	}
	var seenAttempts int
	h.executors[ledger.StageScripted].fn = func(_ context.Context, _ int, st *ledger.ArticleState) (ledger.Payload, error) {
		seenAttempts = st.Attempts
		return ledger.Payload{Ref: "script"}, nil
	}

	st, err := h.orch.Drive(context.Background(), pipeline.Ref{Fingerprint: "t:flaky", Query: "q"})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if st.Stage != ledger.StageDone {
		t.Fatalf("expected done, got %s", st.Stage)
	}
	if h.executors[ledger.StageAcquired].Calls() != 3 {
		t.Fatalf("expected 3 acquisition attempts, got %d", h.executors[ledger.StageAcquired].Calls())
	}
	if seenAttempts != 0 {
		t.Fatalf("attempts should reset after success, got %d", seenAttempts)
	}
	if st.LastError != nil {
		t.Fatalf("last error should clear on success: %+v", st.LastError)
	}
}

func TestTerminalErrorsHaltWithoutRetry(t *testing.T) {
	cases := []struct {
		name   string
		marker error
	}{
		{"validation", services.ErrValidation},
		{"configuration", services.ErrConfiguration},
		{"not found", services.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.executors[ledger.StageNarrated].fn = func(context.Context, int, *ledger.ArticleState) (ledger.Payload, error) {
				return ledger.Payload{}, services.Wrap(tc.marker, "synthesize_audio", "request", "rejected", nil)
			}
			st, err := h.orch.Drive(context.Background(), pipeline.Ref{Fingerprint: "t:term", Query: "q"})
			if err != nil {
				t.Fatalf("Drive: %v", err)
			}
			if h.executors[ledger.StageNarrated].Calls() != 1 {
				t.Fatalf("expected a single attempt, got %d", h.executors[ledger.StageNarrated].Calls())
			}
			if st.Halt != ledger.HaltFailed || st.Stage != ledger.StageScripted {
				t.Fatalf("expected FAILED(scripted), got stage=%s halt=%s", st.Stage, st.Halt)
			}
			if st.LastError == nil || st.LastError.Message != "rejected" {
				t.Fatalf("unexpected last error: %+v", st.LastError)
			}
		})
	}
}

func TestTimeoutWhileAwaitingVideoMarksStale(t *testing.T) {
	h := newHarness(t)
	h.executors[ledger.StageVideoReady].fn = func(context.Context, int, *ledger.ArticleState) (ledger.Payload, error) {
		return ledger.Payload{}, services.Wrap(services.ErrTimeout, "await_video", "poll", "deadline exceeded", nil)
	}

	st, err := h.orch.Drive(context.Background(), pipeline.Ref{Fingerprint: "t:stale", Query: "q"})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if st.Halt != ledger.HaltStale || st.Stage != ledger.StageVideoSubmitted {
		t.Fatalf("expected STALE at video_submitted, got stage=%s halt=%s", st.Stage, st.Halt)
	}
	if h.executors[ledger.StageVideoReady].Calls() != 1 {
		t.Fatalf("stale must not retry, got %d calls", h.executors[ledger.StageVideoReady].Calls())
	}
}

func TestQuotaPausesStageWithoutConsumingAttempts(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxRetries("narrated", 1))
	h.executors[ledger.StageNarrated].fn = func(_ context.Context, call int, _ *ledger.ArticleState) (ledger.Payload, error) {
		if call == 1 {
			return ledger.Payload{}, services.Wrap(services.ErrQuotaExceeded, "synthesize_audio", "request", "quota exhausted", nil)
		}
		return ledger.Payload{Ref: "https://cdn.example.com/a.mp3"}, nil
	}
	h.cfg.Pipeline.QuotaPauseSeconds = 0

	orch, err := pipeline.New(h.cfg, h.store, setOf(h.executors), nil, nil)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	rec := pipeline.NewQuotaRecorder()
	ctx := pipeline.WithQuotaRecorder(context.Background(), rec)

	st, err := orch.Drive(ctx, pipeline.Ref{Fingerprint: "t:quota", Query: "q"})
	if err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if st.Stage != ledger.StageDone {
		t.Fatalf("quota pause must not consume the single attempt; got stage=%s halt=%s", st.Stage, st.Halt)
	}
	if got := rec.Counts()["narrated"]; got != 1 {
		t.Fatalf("expected one recorded pause, got %d", got)
	}
	if got := orch.Gate().Trips()["narrated"]; got != 1 {
		t.Fatalf("expected one gate trip, got %d", got)
	}
}

func TestCancellationPersistsNothing(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.executors[ledger.StageScripted].fn = func(ctx context.Context, _ int, _ *ledger.ArticleState) (ledger.Payload, error) {
		cancel()
		return ledger.Payload{}, ctx.Err()
	}

	st, err := h.orch.Drive(ctx, pipeline.Ref{Fingerprint: "t:cancel", Query: "q"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if st.Stage != ledger.StageAcquired {
		t.Fatalf("expected acquired, got %s", st.Stage)
	}
	stored, err := h.store.Lookup(context.Background(), "t:cancel")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if stored.Attempts != 0 || stored.LastError != nil || stored.Halt != ledger.HaltNone {
		t.Fatalf("cancellation must not be recorded: %+v", stored)
	}
}

func TestAdvanceAdoptsNewerLedgerState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stale, err := h.orch.Start(ctx, pipeline.Ref{Fingerprint: "t:adopt", Query: "q"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	newer := stale.Clone()
	newer.Stage = ledger.StageAcquired
	newer.Payloads = []ledger.Payload{{Stage: ledger.StageAcquired, Ref: "https://example.com/x"}}
	if err := h.store.Record(ctx, newer); err != nil {
		t.Fatalf("Record: %v", err)
	}

	st, err := h.orch.Advance(ctx, stale)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if h.executors[ledger.StageAcquired].Calls() != 0 {
		t.Fatal("acquisition re-ran despite a recorded payload")
	}
	if st.Stage != ledger.StageScripted {
		t.Fatalf("expected scripted, got %s", st.Stage)
	}
}

func TestCorruptRowIsDiscardedAndReexecuted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.orch.Drive(ctx, pipeline.Ref{Fingerprint: "t:corrupt", Query: "q"}); err != nil {
		t.Fatalf("Drive: %v", err)
	}

	db, err := sql.Open("sqlite", h.store.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`UPDATE articles SET last_error_json = '{not json' WHERE fingerprint = 't:corrupt'`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	st, err := h.orch.Drive(ctx, pipeline.Ref{Fingerprint: "t:corrupt", Query: "q"})
	if err != nil {
		t.Fatalf("Drive after corruption: %v", err)
	}
	if st.Stage != ledger.StageDone {
		t.Fatalf("expected done, got %s", st.Stage)
	}
	if h.executors[ledger.StageAcquired].Calls() != 2 {
		t.Fatalf("expected re-execution from acquisition, got %d calls", h.executors[ledger.StageAcquired].Calls())
	}
}

func TestResumeStaleReactivatesSameJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fp := "t:resume"
	h.executors[ledger.StageVideoSubmitted].fn = func(ctx context.Context, _ int, st *ledger.ArticleState) (ledger.Payload, error) {
		job, _, err := h.store.ClaimVideoJob(ctx, st.Fingerprint, time.Minute)
		if err != nil {
			return ledger.Payload{}, err
		}
		if err := h.store.AttachJobID(ctx, job.ID, "job-1", time.Now()); err != nil {
			return ledger.Payload{}, err
		}
		return ledger.Payload{Ref: "job-1"}, nil
	}
	h.executors[ledger.StageVideoReady].fn = func(ctx context.Context, call int, st *ledger.ArticleState) (ledger.Payload, error) {
		job, err := h.store.ActiveVideoJob(ctx, st.Fingerprint)
		if err != nil {
			return ledger.Payload{}, err
		}
		if call == 1 {
			_ = h.store.ExpireVideoJob(ctx, job.ID, "watch deadline exceeded")
			return ledger.Payload{}, services.Wrap(services.ErrTimeout, "await_video", "poll", "deadline exceeded", nil)
		}
		if err := h.store.CompleteVideoJob(ctx, job.ID, "https://cdn.sync.so/out.mp4"); err != nil {
			return ledger.Payload{}, err
		}
		return ledger.Payload{Ref: "https://cdn.sync.so/out.mp4"}, nil
	}

	st, err := h.orch.Drive(ctx, pipeline.Ref{Fingerprint: fp, Query: "q"})
	if err != nil || st.Halt != ledger.HaltStale {
		t.Fatalf("expected STALE, got %+v err=%v", st, err)
	}

	st, err = h.orch.Resume(ctx, fp)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if st.Stage != ledger.StageDone {
		t.Fatalf("expected done after resume, got stage=%s halt=%s", st.Stage, st.Halt)
	}
	if h.executors[ledger.StageVideoSubmitted].Calls() != 1 {
		t.Fatal("resume must not resubmit")
	}
	jobs, err := h.store.VideoJobs(ctx, fp)
	if err != nil {
		t.Fatalf("VideoJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != "job-1" || jobs[0].Resumes != 1 || jobs[0].Status != ledger.JobCompleted {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestResumeStaleExhaustedFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fp := "t:exhausted"

	st := ledger.NewArticleState(fp, "q")
	for _, target := range ledger.Stages()[1:5] {
		st.Stage = target
		st.Payloads = append(st.Payloads, ledger.Payload{Stage: target, Ref: string(target)})
	}
	st.Halt = ledger.HaltStale
	if err := h.store.Record(ctx, st); err != nil {
		t.Fatalf("Record: %v", err)
	}
	job, _, err := h.store.ClaimVideoJob(ctx, fp, time.Minute)
	if err != nil {
		t.Fatalf("ClaimVideoJob: %v", err)
	}
	if err := h.store.AttachJobID(ctx, job.ID, "job-x", time.Now()); err != nil {
		t.Fatalf("AttachJobID: %v", err)
	}
	for i := 0; i < h.cfg.Daemon.MaxStaleResumes; i++ {
		if err := h.store.ExpireVideoJob(ctx, job.ID, "expired"); err != nil {
			t.Fatalf("ExpireVideoJob: %v", err)
		}
		if _, err := h.store.ReactivateVideoJob(ctx, job.ID, time.Now()); err != nil {
			t.Fatalf("ReactivateVideoJob: %v", err)
		}
	}
	if err := h.store.ExpireVideoJob(ctx, job.ID, "expired"); err != nil {
		t.Fatalf("ExpireVideoJob: %v", err)
	}

	got, err := h.orch.Resume(ctx, fp)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.Halt != ledger.HaltFailed || got.Stage != ledger.StageVideoSubmitted {
		t.Fatalf("expected FAILED(video_submitted), got stage=%s halt=%s", got.Stage, got.Halt)
	}
	if got.LastError == nil || got.LastError.Message != ledger.ReasonStaleExhausted {
		t.Fatalf("unexpected last error: %+v", got.LastError)
	}
	if h.executors[ledger.StageVideoReady].Calls() != 0 {
		t.Fatal("exhausted job must not be polled")
	}
}

func TestResumeFailedIsRejected(t *testing.T) {
	h := newHarness(t)
	h.executors[ledger.StageAcquired].fn = func(context.Context, int, *ledger.ArticleState) (ledger.Payload, error) {
		return ledger.Payload{}, services.Wrap(services.ErrNotFound, "acquire_article", "fetch", "no source", nil)
	}
	ctx := context.Background()
	if _, err := h.orch.Drive(ctx, pipeline.Ref{Fingerprint: "t:failed", Query: "q"}); err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if _, err := h.orch.Resume(ctx, "t:failed"); !errors.Is(err, pipeline.ErrNotResumable) {
		t.Fatalf("expected ErrNotResumable, got %v", err)
	}
}

func TestResumableListsStaleAndInterrupted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.orch.Start(ctx, pipeline.Ref{Fingerprint: "t:interrupted", Query: "q"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.executors[ledger.StageVideoReady].fn = func(context.Context, int, *ledger.ArticleState) (ledger.Payload, error) {
		return ledger.Payload{}, services.ErrTimeout
	}
	if _, err := h.orch.Drive(ctx, pipeline.Ref{Fingerprint: "t:parked", Query: "q"}); err != nil {
		t.Fatalf("Drive: %v", err)
	}

	stale, err := h.orch.Resumable(ctx, true)
	if err != nil {
		t.Fatalf("Resumable: %v", err)
	}
	if len(stale) != 1 || stale[0] != "t:parked" {
		t.Fatalf("unexpected stale list: %v", stale)
	}
	all, err := h.orch.Resumable(ctx, false)
	if err != nil {
		t.Fatalf("Resumable: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected stale and interrupted articles, got %v", all)
	}
}

func setOf(fakes map[ledger.Stage]*fakeExecutor) stage.Set {
	set := stage.Set{}
	for target, f := range fakes {
		set[target] = f
	}
	return set
}
