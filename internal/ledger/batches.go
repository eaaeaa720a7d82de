package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// CreateBatch persists a new run with its items and any outcomes that are
// already known at launch, such as in-batch duplicates.
func (s *Store) CreateBatch(ctx context.Context, run *BatchRun) error {
	if run == nil || run.RunID == "" {
		return errors.New("ledger: batch run id is required")
	}
	ctx = ensureContext(ctx)
	items, err := json.Marshal(run.Items)
	if err != nil {
		return fmt.Errorf("encode batch items: %w", err)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		query, args, err := sq.Insert("batch_runs").
			Columns("run_id", "items_json", "started_at").
			Values(run.RunID, string(items), formatTime(run.StartedAt)).ToSql()
		if err != nil {
			return fmt.Errorf("build batch insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert batch run: %w", err)
		}
		for _, outcome := range run.Outcomes {
			if err := upsertOutcome(ctx, tx, run.RunID, outcome); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordOutcome stores or replaces the outcome for one item of an open run.
func (s *Store) RecordOutcome(ctx context.Context, runID string, outcome Outcome) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireOpenBatch(ctx, tx, runID); err != nil {
			return err
		}
		return upsertOutcome(ctx, tx, runID, outcome)
	})
}

// CompleteBatch closes a run. After this the run is immutable.
func (s *Store) CompleteBatch(ctx context.Context, run *BatchRun) error {
	ctx = ensureContext(ctx)
	if run.CompletedAt == nil {
		now := s.now()
		run.CompletedAt = &now
	}
	var pauses any
	if len(run.QuotaPauses) > 0 {
		data, err := json.Marshal(run.QuotaPauses)
		if err != nil {
			return fmt.Errorf("encode quota pauses: %w", err)
		}
		pauses = string(data)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireOpenBatch(ctx, tx, run.RunID); err != nil {
			return err
		}
		for _, outcome := range run.Outcomes {
			if err := upsertOutcome(ctx, tx, run.RunID, outcome); err != nil {
				return err
			}
		}
		query, args, err := sq.Update("batch_runs").
			Set("completed_at", formatTime(*run.CompletedAt)).
			Set("quota_pauses_json", pauses).
			Where(sq.Eq{"run_id": run.RunID}).ToSql()
		if err != nil {
			return fmt.Errorf("build batch completion: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("complete batch run: %w", err)
		}
		return nil
	})
}

// Batch loads a run and its outcomes ordered by item index.
func (s *Store) Batch(ctx context.Context, runID string) (*BatchRun, error) {
	ctx = ensureContext(ctx)
	row, err := queryRow(ctx, s.db, sq.Select("run_id", "items_json", "started_at", "completed_at", "quota_pauses_json").
		From("batch_runs").Where(sq.Eq{"run_id": runID}))
	if err != nil {
		return nil, err
	}
	run, err := scanBatch(row)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.loadOutcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Outcomes = outcomes
	run.Tally()
	return run, nil
}

// LatestBatch loads the most recently started run.
func (s *Store) LatestBatch(ctx context.Context) (*BatchRun, error) {
	runs, err := s.BatchIDs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return s.Batch(ctx, runs[0])
}

// BatchIDs returns run ids, newest first.
func (s *Store) BatchIDs(ctx context.Context, limit uint64) ([]string, error) {
	ctx = ensureContext(ctx)
	query := sq.Select("run_id").From("batch_runs").OrderBy("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	rows, err := queryRows(ctx, s.db, query)
	if err != nil {
		return nil, fmt.Errorf("list batch runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) loadOutcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := queryRows(ctx, s.db, sq.Select("idx", "fingerprint", "query", "kind", "stage", "reason", "resumable", "final_ref").
		From("batch_outcomes").Where(sq.Eq{"run_id": runID}).OrderBy("idx"))
	if err != nil {
		return nil, fmt.Errorf("load outcomes: %w", err)
	}
	defer rows.Close()
	var outcomes []Outcome
	for rows.Next() {
		var (
			o         Outcome
			kind      string
			stage     string
			resumable int
		)
		if err := rows.Scan(&o.Index, &o.Fingerprint, &o.Query, &kind, &stage, &o.Reason, &resumable, &o.FinalRef); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Kind = OutcomeKind(kind)
		o.Stage = Stage(stage)
		o.Resumable = resumable != 0
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func requireOpenBatch(ctx context.Context, tx *sql.Tx, runID string) error {
	var completed sql.NullString
	err := tx.QueryRowContext(ctx, "SELECT completed_at FROM batch_runs WHERE run_id = ?", runID).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("batch %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read batch run: %w", err)
	}
	if completed.Valid && completed.String != "" {
		return fmt.Errorf("batch %s: %w", runID, ErrBatchClosed)
	}
	return nil
}

func upsertOutcome(ctx context.Context, tx *sql.Tx, runID string, o Outcome) error {
	query, args, err := sq.Insert("batch_outcomes").
		Columns("run_id", "idx", "fingerprint", "query", "kind", "stage", "reason", "resumable", "final_ref").
		Values(runID, o.Index, o.Fingerprint, o.Query, string(o.Kind), string(o.Stage), o.Reason, boolToInt(o.Resumable), o.FinalRef).
		Suffix(`ON CONFLICT(run_id, idx) DO UPDATE SET
            fingerprint = excluded.fingerprint, query = excluded.query, kind = excluded.kind,
            stage = excluded.stage, reason = excluded.reason, resumable = excluded.resumable,
            final_ref = excluded.final_ref`).ToSql()
	if err != nil {
		return fmt.Errorf("build outcome upsert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert outcome %d: %w", o.Index, err)
	}
	return nil
}

func scanBatch(row *sql.Row) (*BatchRun, error) {
	var (
		run        BatchRun
		itemsRaw   string
		startedRaw string
		completed  sql.NullString
		pausesRaw  sql.NullString
	)
	if err := row.Scan(&run.RunID, &itemsRaw, &startedRaw, &completed, &pausesRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan batch run: %w", err)
	}
	if err := json.Unmarshal([]byte(itemsRaw), &run.Items); err != nil {
		return nil, fmt.Errorf("decode batch items: %w", err)
	}
	if t, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = t
	}
	if completed.Valid {
		if t, err := parseTimeString(completed.String); err == nil {
			run.CompletedAt = &t
		}
	}
	if pausesRaw.Valid && pausesRaw.String != "" {
		if err := json.Unmarshal([]byte(pausesRaw.String), &run.QuotaPauses); err != nil {
			return nil, fmt.Errorf("decode quota pauses: %w", err)
		}
	}
	return &run, nil
}
