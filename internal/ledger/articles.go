package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"newscast/internal/services"
)

var articleColumns = []string{
	"fingerprint", "query", "stage", "halt", "attempts", "last_error_json", "version", "created_at", "updated_at",
}

// Lookup returns the recorded state for fp. An absent row returns ErrNotFound;
// a row that cannot be decoded or violates the payload invariant returns an
// error wrapping services.ErrLedgerInconsistency.
func (s *Store) Lookup(ctx context.Context, fp string) (*ArticleState, error) {
	ctx = ensureContext(ctx)
	row, err := queryRow(ctx, s.db, sq.Select(articleColumns...).From("articles").Where(sq.Eq{"fingerprint": fp}))
	if err != nil {
		return nil, err
	}
	state, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	payloads, err := s.loadPayloads(ctx, s.db, fp)
	if err != nil {
		return nil, err
	}
	state.Payloads = payloads
	if err := checkInvariants(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Record persists st with compare-and-swap semantics. A state with Version 0
// is inserted and requires that no row exists; otherwise the stored version
// must equal st.Version. On success st.Version is advanced. Payloads are
// appended with ON CONFLICT DO NOTHING so repeated writes of a stage are no-ops.
func (s *Store) Record(ctx context.Context, st *ArticleState) error {
	if st == nil {
		return errors.New("ledger: nil article state")
	}
	ctx = ensureContext(ctx)
	if strings.TrimSpace(st.Fingerprint) == "" {
		return errors.New("ledger: fingerprint is required")
	}
	if err := checkInvariants(st); err != nil {
		return err
	}

	lastErr, err := encodeLastError(st.LastError)
	if err != nil {
		return err
	}
	now := s.now()
	nextVersion := st.Version + 1

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var current struct {
			version int64
			stage   string
		}
		row := tx.QueryRowContext(ctx, "SELECT version, stage FROM articles WHERE fingerprint = ?", st.Fingerprint)
		switch scanErr := row.Scan(&current.version, &current.stage); {
		case errors.Is(scanErr, sql.ErrNoRows):
			if st.Version != 0 {
				return ErrVersionConflict
			}
			created := st.CreatedAt
			if created.IsZero() {
				created = now
			}
			insert := sq.Insert("articles").Columns(articleColumns...).Values(
				st.Fingerprint, st.Query, string(st.Stage), string(st.Halt), st.Attempts,
				lastErr, nextVersion, formatTime(created), formatTime(now),
			)
			query, args, err := insert.ToSql()
			if err != nil {
				return fmt.Errorf("build insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert article: %w", err)
			}
		case scanErr != nil:
			return fmt.Errorf("read article version: %w", scanErr)
		default:
			if current.version != st.Version {
				return ErrVersionConflict
			}
			if st.Stage.Before(Stage(current.stage)) {
				return fmt.Errorf("%w: stage %s would regress to %s", services.ErrLedgerInconsistency, current.stage, st.Stage)
			}
			update := sq.Update("articles").
				Set("query", st.Query).
				Set("stage", string(st.Stage)).
				Set("halt", string(st.Halt)).
				Set("attempts", st.Attempts).
				Set("last_error_json", lastErr).
				Set("version", nextVersion).
				Set("updated_at", formatTime(now)).
				Where(sq.Eq{"fingerprint": st.Fingerprint, "version": st.Version})
			query, args, err := update.ToSql()
			if err != nil {
				return fmt.Errorf("build update: %w", err)
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("update article: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrVersionConflict
			}
		}

		for _, p := range st.Payloads {
			recorded := p.RecordedAt
			if recorded.IsZero() {
				recorded = now
			}
			var detail any
			if len(p.Detail) > 0 {
				detail = string(p.Detail)
			}
			insert := sq.Insert("payloads").
				Columns("fingerprint", "stage", "ref", "detail", "recorded_at").
				Values(st.Fingerprint, string(p.Stage), p.Ref, detail, formatTime(recorded)).
				Suffix("ON CONFLICT(fingerprint, stage) DO NOTHING")
			query, args, err := insert.ToSql()
			if err != nil {
				return fmt.Errorf("build payload insert: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert payload %s: %w", p.Stage, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	st.Version = nextVersion
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	return nil
}

// Discard removes fp and its payloads. Video jobs are kept: a later
// ClaimVideoJob for fp returns the active or COMPLETED job instead of a
// fresh claim.
func (s *Store) Discard(ctx context.Context, fp string) error {
	_, err := s.execBuilder(ctx, sq.Delete("articles").Where(sq.Eq{"fingerprint": fp}))
	if err != nil {
		return fmt.Errorf("discard article: %w", err)
	}
	return nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Stage      Stage
	Halt       Halt
	HaltedOnly bool
	ActiveOnly bool
	Limit      uint64
}

// List returns article states matching f, most recently updated first.
// Rows that fail verification are reported by fingerprint in corrupt rather
// than failing the whole listing.
func (s *Store) List(ctx context.Context, f Filter) (states []*ArticleState, corrupt []string, err error) {
	ctx = ensureContext(ctx)
	query := sq.Select(articleColumns...).From("articles").OrderBy("updated_at DESC")
	if f.Stage != "" {
		query = query.Where(sq.Eq{"stage": string(f.Stage)})
	}
	switch {
	case f.Halt != HaltNone:
		query = query.Where(sq.Eq{"halt": string(f.Halt)})
	case f.HaltedOnly:
		query = query.Where(sq.NotEq{"halt": ""})
	case f.ActiveOnly:
		query = query.Where(sq.Eq{"halt": ""}).Where(sq.NotEq{"stage": string(StageDone)})
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	rows, err := queryRows(ctx, s.db, query)
	if err != nil {
		return nil, nil, fmt.Errorf("list articles: %w", err)
	}
	var scanned []*ArticleState
	for rows.Next() {
		state, scanErr := scanArticle(rows)
		if scanErr != nil {
			var fp string
			if state != nil {
				fp = state.Fingerprint
			}
			if errors.Is(scanErr, services.ErrLedgerInconsistency) && fp != "" {
				corrupt = append(corrupt, fp)
				continue
			}
			rows.Close()
			return nil, nil, scanErr
		}
		scanned = append(scanned, state)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, nil, err
	}
	rows.Close()

	for _, state := range scanned {
		payloads, err := s.loadPayloads(ctx, s.db, state.Fingerprint)
		if err != nil {
			if errors.Is(err, services.ErrLedgerInconsistency) {
				corrupt = append(corrupt, state.Fingerprint)
				continue
			}
			return nil, nil, err
		}
		state.Payloads = payloads
		if checkInvariants(state) != nil {
			corrupt = append(corrupt, state.Fingerprint)
			continue
		}
		states = append(states, state)
	}
	return states, corrupt, nil
}

// StageCounts returns the number of articles per stage, with halted articles
// counted under their halt marker instead.
func (s *Store) StageCounts(ctx context.Context) (map[string]int, error) {
	ctx = ensureContext(ctx)
	query := sq.Select("CASE WHEN halt = '' THEN stage ELSE halt END AS bucket", "COUNT(1)").
		From("articles").GroupBy("bucket")
	rows, err := queryRows(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			bucket string
			n      int
		)
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		counts[bucket] = n
	}
	return counts, rows.Err()
}

func (s *Store) loadPayloads(ctx context.Context, q queryer, fp string) ([]Payload, error) {
	rows, err := queryRows(ctx, q, sq.Select("stage", "ref", "detail", "recorded_at").
		From("payloads").Where(sq.Eq{"fingerprint": fp}))
	if err != nil {
		return nil, fmt.Errorf("load payloads: %w", err)
	}
	defer rows.Close()

	var payloads []Payload
	for rows.Next() {
		var (
			stage    string
			ref      string
			detail   sql.NullString
			recorded sql.NullString
		)
		if err := rows.Scan(&stage, &ref, &detail, &recorded); err != nil {
			return nil, fmt.Errorf("scan payload: %w", err)
		}
		p := Payload{Stage: Stage(stage), Ref: ref, RecordedAt: parseNullTime(recorded)}
		if !p.Stage.Valid() {
			return nil, fmt.Errorf("%w: %s: unknown payload stage %q", services.ErrLedgerInconsistency, fp, stage)
		}
		if detail.Valid && detail.String != "" {
			if !json.Valid([]byte(detail.String)) {
				return nil, fmt.Errorf("%w: %s: payload %s detail is not valid JSON", services.ErrLedgerInconsistency, fp, stage)
			}
			p.Detail = json.RawMessage(detail.String)
		}
		payloads = append(payloads, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortPayloads(payloads)
	return payloads, nil
}

func sortPayloads(payloads []Payload) {
	for i := 1; i < len(payloads); i++ {
		for j := i; j > 0 && payloads[j].Stage.Rank() < payloads[j-1].Stage.Rank(); j-- {
			payloads[j], payloads[j-1] = payloads[j-1], payloads[j]
		}
	}
}

// scanArticle decodes one articles row. On a decoding problem it returns the
// partially populated state together with an inconsistency error so callers
// can still identify the row.
func scanArticle(scanner interface{ Scan(dest ...any) error }) (*ArticleState, error) {
	var (
		fp         string
		query      string
		stage      string
		halt       string
		attempts   int
		lastErrRaw sql.NullString
		version    int64
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&fp, &query, &stage, &halt, &attempts, &lastErrRaw, &version, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	state := &ArticleState{
		Fingerprint: fp,
		Query:       query,
		Stage:       Stage(stage),
		Halt:        Halt(halt),
		Attempts:    attempts,
		Version:     version,
		CreatedAt:   parseNullTime(createdRaw),
		UpdatedAt:   parseNullTime(updatedRaw),
	}
	if !state.Stage.Valid() {
		return state, fmt.Errorf("%w: %s: unknown stage %q", services.ErrLedgerInconsistency, fp, stage)
	}
	if !state.Halt.Valid() {
		return state, fmt.Errorf("%w: %s: unknown halt %q", services.ErrLedgerInconsistency, fp, halt)
	}
	if lastErrRaw.Valid && lastErrRaw.String != "" {
		var le StageError
		if err := json.Unmarshal([]byte(lastErrRaw.String), &le); err != nil {
			return state, fmt.Errorf("%w: %s: decode last error: %v", services.ErrLedgerInconsistency, fp, err)
		}
		state.LastError = &le
	}
	return state, nil
}

func encodeLastError(le *StageError) (any, error) {
	if le == nil {
		return nil, nil
	}
	data, err := json.Marshal(le)
	if err != nil {
		return nil, fmt.Errorf("encode last error: %w", err)
	}
	return string(data), nil
}

// checkInvariants verifies that a payload exists for every stage after
// StageNew up to and including st.Stage, and that the halt marker is
// consistent with the stage.
func checkInvariants(st *ArticleState) error {
	if !st.Stage.Valid() {
		return fmt.Errorf("%w: %s: unknown stage %q", services.ErrLedgerInconsistency, st.Fingerprint, st.Stage)
	}
	if !st.Halt.Valid() {
		return fmt.Errorf("%w: %s: unknown halt %q", services.ErrLedgerInconsistency, st.Fingerprint, st.Halt)
	}
	if st.Halt == HaltStale && st.Stage != StageVideoSubmitted {
		return fmt.Errorf("%w: %s: stale halt at stage %s", services.ErrLedgerInconsistency, st.Fingerprint, st.Stage)
	}
	have := make(map[Stage]struct{}, len(st.Payloads))
	for _, p := range st.Payloads {
		if p.Stage == StageNew || !p.Stage.Valid() {
			return fmt.Errorf("%w: %s: invalid payload stage %q", services.ErrLedgerInconsistency, st.Fingerprint, p.Stage)
		}
		if st.Stage.Before(p.Stage) {
			return fmt.Errorf("%w: %s: payload for %s beyond stage %s", services.ErrLedgerInconsistency, st.Fingerprint, p.Stage, st.Stage)
		}
		have[p.Stage] = struct{}{}
	}
	for _, stage := range stageOrder[1 : st.Stage.Rank()+1] {
		if _, ok := have[stage]; !ok {
			return fmt.Errorf("%w: %s: missing payload for %s", services.ErrLedgerInconsistency, st.Fingerprint, stage)
		}
	}
	return nil
}
