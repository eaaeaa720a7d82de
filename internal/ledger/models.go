package ledger

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage is an article's progress through the pipeline.
type Stage string

const (
	StageNew            Stage = "new"
	StageAcquired       Stage = "acquired"
	StageScripted       Stage = "scripted"
	StageNarrated       Stage = "narrated"
	StageVideoSubmitted Stage = "video_submitted"
	StageVideoReady     Stage = "video_ready"
	StageArchived       Stage = "archived"
	StageDone           Stage = "done"
)

var stageOrder = []Stage{
	StageNew,
	StageAcquired,
	StageScripted,
	StageNarrated,
	StageVideoSubmitted,
	StageVideoReady,
	StageArchived,
	StageDone,
}

var stageRank = func() map[Stage]int {
	ranks := make(map[Stage]int, len(stageOrder))
	for i, stage := range stageOrder {
		ranks[stage] = i
	}
	return ranks
}()

// Stages returns every stage in pipeline order, starting with StageNew.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Rank is the zero-based position of s in pipeline order, or -1.
func (s Stage) Rank() int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// Next returns the stage that follows s. The second return is false for
// StageDone and unknown stages.
func (s Stage) Next() (Stage, bool) {
	r := s.Rank()
	if r < 0 || r+1 >= len(stageOrder) {
		return "", false
	}
	return stageOrder[r+1], true
}

// Before reports whether s precedes other in pipeline order.
func (s Stage) Before(other Stage) bool {
	return s.Rank() < other.Rank()
}

var titleCaser = cases.Title(language.English)

// Label is a human-friendly rendering used by the CLI.
func (s Stage) Label() string {
	if s == "" {
		return ""
	}
	return titleCaser.String(strings.ReplaceAll(string(s), "_", " "))
}

// ParseStage validates a user-supplied stage name.
func ParseStage(value string) (Stage, bool) {
	stage := Stage(strings.ToLower(strings.TrimSpace(value)))
	return stage, stage.Valid()
}

// Halt marks an article that receives no automatic transitions.
type Halt string

const (
	HaltNone   Halt = ""
	HaltFailed Halt = "failed"
	HaltStale  Halt = "stale"
)

// Valid reports whether h is a known halt marker.
func (h Halt) Valid() bool {
	switch h {
	case HaltNone, HaltFailed, HaltStale:
		return true
	}
	return false
}

// Payload is the artifact reference produced when an article reaches Stage.
type Payload struct {
	Stage      Stage           `json:"stage"`
	Ref        string          `json:"ref"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// StageError records the most recent failure against an article.
type StageError struct {
	Kind    string    `json:"kind"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ArticleState is the persisted pipeline state for one fingerprint.
type ArticleState struct {
	Fingerprint string      `json:"fingerprint"`
	Query       string      `json:"query"`
	Stage       Stage       `json:"stage"`
	Halt        Halt        `json:"halt,omitempty"`
	Attempts    int         `json:"attempts"`
	Payloads    []Payload   `json:"payloads"`
	LastError   *StageError `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	Version     int64       `json:"version"`
}

// NewArticleState returns the entry state for a fingerprint that has never
// been recorded.
func NewArticleState(fingerprint, query string) *ArticleState {
	return &ArticleState{Fingerprint: fingerprint, Query: query, Stage: StageNew}
}

// Terminal reports whether no further automatic transition applies.
func (a *ArticleState) Terminal() bool {
	return a.Stage == StageDone || a.Halt != HaltNone
}

// Payload returns the payload recorded for stage.
func (a *ArticleState) Payload(stage Stage) (Payload, bool) {
	for _, p := range a.Payloads {
		if p.Stage == stage {
			return p, true
		}
	}
	return Payload{}, false
}

// LatestRef returns the reference of the most advanced payload.
func (a *ArticleState) LatestRef() string {
	if len(a.Payloads) == 0 {
		return ""
	}
	return a.Payloads[len(a.Payloads)-1].Ref
}

// Clone returns a deep copy so callers can mutate state without aliasing.
func (a *ArticleState) Clone() *ArticleState {
	if a == nil {
		return nil
	}
	out := *a
	out.Payloads = make([]Payload, len(a.Payloads))
	for i, p := range a.Payloads {
		out.Payloads[i] = p
		if p.Detail != nil {
			out.Payloads[i].Detail = append(json.RawMessage(nil), p.Detail...)
		}
	}
	if a.LastError != nil {
		le := *a.LastError
		out.LastError = &le
	}
	return &out
}

// JobStatus is the lifecycle of a provider video job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobExpired    JobStatus = "EXPIRED"
)

// VideoJob tracks one lip-sync submission. JobID is empty while a
// submission claim is held but the provider has not answered yet.
type VideoJob struct {
	ID             int64     `json:"id"`
	Fingerprint    string    `json:"fingerprint"`
	JobID          string    `json:"job_id"`
	Status         JobStatus `json:"status"`
	ClaimedAt      time.Time `json:"claimed_at"`
	SubmittedAt    time.Time `json:"submitted_at"`
	WatchStartedAt time.Time `json:"watch_started_at"`
	PollCount      int       `json:"poll_count"`
	LastPolledAt   time.Time `json:"last_polled_at"`
	Resumes        int       `json:"resumes"`
	ResultRef      string    `json:"result_ref,omitempty"`
	Error          string    `json:"error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OutcomeKind is the reconciled result of one batch item.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeSkipped   OutcomeKind = "skipped"
)

// Skip and failure reasons carried in batch outcomes.
const (
	ReasonDuplicateInBatch = "duplicate_in_batch"
	ReasonBatchTimeout     = "batch_timeout"
	ReasonArticleTimeout   = "article_timeout"
	ReasonStale            = "stale"
	ReasonStaleExhausted   = "stale_exhausted"
	ReasonCanceled         = "canceled"
)

// BatchItem is one requested query in launch order.
type BatchItem struct {
	Index       int    `json:"index"`
	Query       string `json:"query"`
	Fingerprint string `json:"fingerprint"`
}

// Outcome is the reconciled result for one BatchItem.
type Outcome struct {
	Index       int         `json:"index"`
	Fingerprint string      `json:"fingerprint"`
	Query       string      `json:"query"`
	Kind        OutcomeKind `json:"kind"`
	Stage       Stage       `json:"stage,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Resumable   bool        `json:"resumable"`
	FinalRef    string      `json:"final_ref,omitempty"`
}

// Counts summarizes outcomes by kind.
type Counts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// BatchRun is the report for one batch invocation.
type BatchRun struct {
	RunID       string         `json:"run_id"`
	Items       []BatchItem    `json:"items"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Counts      Counts         `json:"counts"`
	Outcomes    []Outcome      `json:"outcomes"`
	QuotaPauses map[string]int `json:"quota_pauses,omitempty"`
}

// Tally recomputes Counts from Outcomes.
func (b *BatchRun) Tally() {
	var counts Counts
	for _, o := range b.Outcomes {
		switch o.Kind {
		case OutcomeSucceeded:
			counts.Succeeded++
		case OutcomeFailed:
			counts.Failed++
		case OutcomeSkipped:
			counts.Skipped++
		}
	}
	b.Counts = counts
}
