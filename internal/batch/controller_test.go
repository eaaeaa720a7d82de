package batch

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newscast/internal/acquire"
	"newscast/internal/ledger"
	"newscast/internal/pipeline"
	"newscast/internal/services"
	"newscast/internal/stage"
	"newscast/internal/testsupport"
)

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type driverFunc func(ctx context.Context, ref pipeline.Ref) (*ledger.ArticleState, error)

func (f driverFunc) Drive(ctx context.Context, ref pipeline.Ref) (*ledger.ArticleState, error) {
	return f(ctx, ref)
}

func topics(names ...string) []acquire.Query {
	out := make([]acquire.Query, len(names))
	for i, n := range names {
		out[i] = acquire.Query{Topic: n}
	}
	return out
}

func newController(t *testing.T, driver Driver) (*Controller, *ledger.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	c := New(cfg, store, driver, nil, nil)
	c.now = func() time.Time { return fixedNow }
	return c, store
}

func terminal(ref pipeline.Ref, stageName ledger.Stage, halt ledger.Halt) *ledger.ArticleState {
	st := ledger.NewArticleState(ref.Fingerprint, ref.Query)
	st.Stage = stageName
	st.Halt = halt
	return st
}

func TestRunBatchReportsEveryQueryInOrder(t *testing.T) {
	driver := driverFunc(func(_ context.Context, ref pipeline.Ref) (*ledger.ArticleState, error) {
		switch ref.Query {
		case "gamma":
			st := terminal(ref, ledger.StageScripted, ledger.HaltFailed)
			st.LastError = &ledger.StageError{Kind: "validation", Stage: ledger.StageNarrated, Message: "voice not found"}
			return st, nil
		case "delta":
			return terminal(ref, ledger.StageVideoSubmitted, ledger.HaltStale), nil
		default:
			st := terminal(ref, ledger.StageDone, ledger.HaltNone)
			st.Payloads = []ledger.Payload{{Stage: ledger.StageArchived, Ref: "file:///archive/videos/" + ref.Query + ".mp4"}}
			return st, nil
		}
	})
	c, store := newController(t, driver)

	run, err := c.RunBatch(context.Background(), topics("alpha", "beta", "Alpha ", "gamma", "delta"), 3)
	require.NoError(t, err)
	require.Len(t, run.Outcomes, 5)

	kinds := make([]ledger.OutcomeKind, len(run.Outcomes))
	for i, o := range run.Outcomes {
		assert.Equal(t, i, o.Index)
		kinds[i] = o.Kind
	}
	assert.Equal(t, []ledger.OutcomeKind{
		ledger.OutcomeSucceeded, ledger.OutcomeSucceeded, ledger.OutcomeSkipped, ledger.OutcomeFailed, ledger.OutcomeFailed,
	}, kinds)
	assert.Equal(t, ledger.ReasonDuplicateInBatch, run.Outcomes[2].Reason)
	assert.Equal(t, ledger.StageScripted, run.Outcomes[3].Stage)
	assert.Equal(t, "voice not found", run.Outcomes[3].Reason)
	assert.False(t, run.Outcomes[3].Resumable)
	assert.Equal(t, ledger.ReasonStale, run.Outcomes[4].Reason)
	assert.True(t, run.Outcomes[4].Resumable)
	assert.Equal(t, "file:///archive/videos/alpha.mp4", run.Outcomes[0].FinalRef)
	assert.Equal(t, ledger.Counts{Succeeded: 2, Failed: 2, Skipped: 1}, run.Counts)

	stored, err := store.Batch(context.Background(), run.RunID)
	require.NoError(t, err)
	require.NotNil(t, stored.CompletedAt)
	assert.Len(t, stored.Outcomes, 5)

	raw, err := os.ReadFile(ReportPath(c.reportsDir, run.RunID))
	require.NoError(t, err)
	var report ledger.BatchRun
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, run.Counts, report.Counts)
	assert.Len(t, report.Outcomes, 5)
}

func TestArticleTimeoutIsResumableFailure(t *testing.T) {
	driver := driverFunc(func(ctx context.Context, ref pipeline.Ref) (*ledger.ArticleState, error) {
		if ref.Query == "slow" {
			<-ctx.Done()
			return terminal(ref, ledger.StageNarrated, ledger.HaltNone), context.Cause(ctx)
		}
		return terminal(ref, ledger.StageDone, ledger.HaltNone), nil
	})
	c, _ := newController(t, driver)
	c.articleTimeout = 50 * time.Millisecond

	run, err := c.RunBatch(context.Background(), topics("slow", "fast"), 2)
	require.NoError(t, err)
	require.Len(t, run.Outcomes, 2)

	slow := run.Outcomes[0]
	assert.Equal(t, ledger.OutcomeFailed, slow.Kind)
	assert.Equal(t, ledger.ReasonArticleTimeout, slow.Reason)
	assert.Equal(t, ledger.StageVideoSubmitted, slow.Stage)
	assert.True(t, slow.Resumable)
	assert.Equal(t, ledger.OutcomeSucceeded, run.Outcomes[1].Kind)
}

func TestBatchDeadlineSkipsInFlightAndUnlaunched(t *testing.T) {
	var mu sync.Mutex
	launched := 0
	driver := driverFunc(func(ctx context.Context, ref pipeline.Ref) (*ledger.ArticleState, error) {
		mu.Lock()
		launched++
		mu.Unlock()
		<-ctx.Done()
		return terminal(ref, ledger.StageAcquired, ledger.HaltNone), context.Cause(ctx)
	})
	c, _ := newController(t, driver)
	c.batchTimeout = 80 * time.Millisecond

	run, err := c.RunBatch(context.Background(), topics("one", "two", "three"), 1)
	require.NoError(t, err)
	require.Len(t, run.Outcomes, 3)
	for _, o := range run.Outcomes {
		assert.Equal(t, ledger.OutcomeSkipped, o.Kind, "item %d", o.Index)
		assert.Equal(t, ledger.ReasonBatchTimeout, o.Reason, "item %d", o.Index)
		assert.True(t, o.Resumable)
	}
	mu.Lock()
	assert.Equal(t, 1, launched)
	mu.Unlock()
}

func TestCancelledBatchStillReportsEveryItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	driver := driverFunc(func(ctx context.Context, ref pipeline.Ref) (*ledger.ArticleState, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c, _ := newController(t, driver)

	run, err := c.RunBatch(ctx, topics("one", "two"), 1)
	require.NoError(t, err)
	require.Len(t, run.Outcomes, 2)
	for _, o := range run.Outcomes {
		assert.Equal(t, ledger.OutcomeSkipped, o.Kind)
		assert.Equal(t, ledger.ReasonCanceled, o.Reason)
	}
}

func TestRunBatchRejectsEmptyInput(t *testing.T) {
	c, _ := newController(t, driverFunc(nil))
	_, err := c.RunBatch(context.Background(), nil, 2)
	assert.ErrorIs(t, err, services.ErrValidation)
}

type countingExecutor struct {
	name string
	mu   sync.Mutex
	n    int
	fail func(call int) error
}

func (e *countingExecutor) Name() string { return e.name }

func (e *countingExecutor) Execute(context.Context, *ledger.ArticleState) (ledger.Payload, error) {
	e.mu.Lock()
	e.n++
	call := e.n
	e.mu.Unlock()
	if e.fail != nil {
		if err := e.fail(call); err != nil {
			return ledger.Payload{}, err
		}
	}
	return ledger.Payload{Ref: e.name + "-ref"}, nil
}

func (e *countingExecutor) HealthCheck(context.Context) stage.Health { return stage.Healthy(e.name) }

func (e *countingExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.n
}

func TestRerunOfDoneArticleMakesNoExecutorCalls(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Pipeline.QuotaPauseSeconds = 0
	store := testsupport.MustOpenLedger(t, cfg)

	set := stage.Set{}
	var all []*countingExecutor
	for _, target := range ledger.Stages()[1:] {
		e := &countingExecutor{name: string(target)}
		if target == ledger.StageScripted {
			e.fail = func(call int) error {
				if call == 1 {
					return services.Wrap(services.ErrQuotaExceeded, "script", "generate", "credit balance too low", nil)
				}
				return nil
			}
		}
		set[target] = e
		all = append(all, e)
	}
	orch, err := pipeline.New(cfg, store, set, nil, nil)
	require.NoError(t, err)
	c := New(cfg, store, orch, nil, nil)
	c.now = func() time.Time { return fixedNow }

	total := func() int {
		n := 0
		for _, e := range all {
			n += e.calls()
		}
		return n
	}

	first, err := c.RunBatch(context.Background(), topics("solar storms"), 1)
	require.NoError(t, err)
	require.Equal(t, ledger.OutcomeSucceeded, first.Outcomes[0].Kind)
	assert.Equal(t, map[string]int{string(ledger.StageScripted): 1}, first.QuotaPauses)
	before := total()

	second, err := c.RunBatch(context.Background(), topics("solar storms"), 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSucceeded, second.Outcomes[0].Kind)
	assert.Equal(t, before, total())
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestReconcileReportsHaltedVideoAtSubmittedStage(t *testing.T) {
	item := ledger.BatchItem{Index: 2, Query: "rail strike", Fingerprint: "t:video"}
	cases := []struct {
		name   string
		reason string
	}{
		{"provider failed the job", "face not detected"},
		{"stale resumes exhausted", ledger.ReasonStaleExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := terminal(pipeline.Ref{Fingerprint: item.Fingerprint, Query: item.Query}, ledger.StageVideoSubmitted, ledger.HaltFailed)
			st.LastError = &ledger.StageError{Kind: "validation", Stage: ledger.StageVideoReady, Message: tc.reason}

			o := Reconcile(item, st, nil, nil)
			assert.Equal(t, ledger.OutcomeFailed, o.Kind)
			assert.Equal(t, ledger.StageVideoSubmitted, o.Stage)
			assert.Equal(t, tc.reason, o.Reason)
			assert.False(t, o.Resumable)
		})
	}
}
