package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var jobColumns = []string{
	"id", "fingerprint", "job_id", "status", "claimed_at", "submitted_at", "watch_started_at",
	"poll_count", "last_polled_at", "resumes", "result_ref", "error", "updated_at",
}

// AbandonedClaimError is recorded on claims whose holder never attached a job id.
const AbandonedClaimError = "submission claim abandoned"

// ClaimVideoJob reserves fp's submission slot. When an active job already
// exists, or a job for fp has already COMPLETED, it is returned with
// claimed=false and the caller must reuse it rather than submit. A claim
// without a job id older than claimTimeout is treated as abandoned: it is
// marked FAILED and a fresh claim is taken.
func (s *Store) ClaimVideoJob(ctx context.Context, fp string, claimTimeout time.Duration) (job *VideoJob, claimed bool, err error) {
	ctx = ensureContext(ctx)
	now := s.now()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		job, claimed = nil, false
		existing, err := s.activeJob(ctx, tx, fp)
		switch {
		case errors.Is(err, ErrNotFound):
			done, err := s.completedJob(ctx, tx, fp)
			if err == nil {
				job = done
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		case err != nil:
			return err
		case existing.JobID == "" && claimTimeout > 0 && now.Sub(existing.ClaimedAt) > claimTimeout:
			query, args, err := sq.Update("video_jobs").
				Set("status", string(JobFailed)).
				Set("error", AbandonedClaimError).
				Set("updated_at", formatTime(now)).
				Where(sq.Eq{"id": existing.ID}).ToSql()
			if err != nil {
				return fmt.Errorf("build abandon: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("abandon claim: %w", err)
			}
		default:
			job = existing
			return nil
		}

		query, args, err := sq.Insert("video_jobs").
			Columns("fingerprint", "status", "claimed_at", "updated_at").
			Values(fp, string(JobPending), formatTime(now), formatTime(now)).ToSql()
		if err != nil {
			return fmt.Errorf("build claim: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrJobInFlight
			}
			return fmt.Errorf("insert claim: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		job = &VideoJob{ID: id, Fingerprint: fp, Status: JobPending, ClaimedAt: now, UpdatedAt: now}
		claimed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return job, claimed, nil
}

// AttachJobID records the provider job id on a claim and starts its watch window.
func (s *Store) AttachJobID(ctx context.Context, id int64, jobID string, submittedAt time.Time) error {
	if strings.TrimSpace(jobID) == "" {
		return errors.New("ledger: job id is required")
	}
	res, err := s.execBuilder(ctx, sq.Update("video_jobs").
		Set("job_id", jobID).
		Set("submitted_at", formatTime(submittedAt)).
		Set("watch_started_at", formatTime(submittedAt)).
		Set("updated_at", formatTime(s.now())).
		Where(sq.Eq{"id": id, "job_id": nil}))
	if err != nil {
		return fmt.Errorf("attach job id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attach job id: claim %d: %w", id, ErrNotFound)
	}
	return nil
}

// ReleaseClaim drops a claim that never received a job id so a later
// attempt can submit again.
func (s *Store) ReleaseClaim(ctx context.Context, id int64) error {
	_, err := s.execBuilder(ctx, sq.Delete("video_jobs").Where(sq.Eq{"id": id, "job_id": nil}))
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// ActiveVideoJob returns fp's PENDING or PROCESSING job, or ErrNotFound.
func (s *Store) ActiveVideoJob(ctx context.Context, fp string) (*VideoJob, error) {
	return s.activeJob(ensureContext(ctx), s.db, fp)
}

// LatestVideoJob returns fp's most recently claimed job of any status.
func (s *Store) LatestVideoJob(ctx context.Context, fp string) (*VideoJob, error) {
	ctx = ensureContext(ctx)
	row, err := queryRow(ctx, s.db, sq.Select(jobColumns...).From("video_jobs").
		Where(sq.Eq{"fingerprint": fp}).OrderBy("id DESC").Limit(1))
	if err != nil {
		return nil, err
	}
	return scanJobRow(row)
}

// VideoJob returns the job with row id.
func (s *Store) VideoJob(ctx context.Context, id int64) (*VideoJob, error) {
	ctx = ensureContext(ctx)
	row, err := queryRow(ctx, s.db, sq.Select(jobColumns...).From("video_jobs").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, err
	}
	return scanJobRow(row)
}

// VideoJobs lists every job recorded for fp, oldest first.
func (s *Store) VideoJobs(ctx context.Context, fp string) ([]*VideoJob, error) {
	return s.listJobs(ctx, sq.Eq{"fingerprint": fp})
}

// RecordPoll counts one status check and moves a PENDING job to PROCESSING.
func (s *Store) RecordPoll(ctx context.Context, id int64, polledAt time.Time) error {
	_, err := s.execBuilder(ctx, sq.Update("video_jobs").
		Set("poll_count", sq.Expr("poll_count + 1")).
		Set("last_polled_at", formatTime(polledAt)).
		Set("status", sq.Expr("CASE WHEN status = ? THEN ? ELSE status END", string(JobPending), string(JobProcessing))).
		Set("updated_at", formatTime(s.now())).
		Where(sq.Eq{"id": id}))
	if err != nil {
		return fmt.Errorf("record poll: %w", err)
	}
	return nil
}

// CompleteVideoJob marks an active job COMPLETED with its result reference.
func (s *Store) CompleteVideoJob(ctx context.Context, id int64, resultRef string) error {
	return s.finishJob(ctx, id, JobCompleted, resultRef, "")
}

// FailVideoJob marks an active job FAILED.
func (s *Store) FailVideoJob(ctx context.Context, id int64, message string) error {
	return s.finishJob(ctx, id, JobFailed, "", message)
}

// ExpireVideoJob marks an active job EXPIRED after its watch deadline passed.
func (s *Store) ExpireVideoJob(ctx context.Context, id int64, message string) error {
	return s.finishJob(ctx, id, JobExpired, "", message)
}

// ReactivateVideoJob returns an EXPIRED job to PROCESSING with a fresh watch
// window, keeping its provider job id. The resume counter is incremented.
func (s *Store) ReactivateVideoJob(ctx context.Context, id int64, watchStartedAt time.Time) (*VideoJob, error) {
	res, err := s.execBuilder(ctx, sq.Update("video_jobs").
		Set("status", string(JobProcessing)).
		Set("watch_started_at", formatTime(watchStartedAt)).
		Set("resumes", sq.Expr("resumes + 1")).
		Set("error", nil).
		Set("updated_at", formatTime(s.now())).
		Where(sq.Eq{"id": id, "status": string(JobExpired)}))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrJobInFlight
		}
		return nil, fmt.Errorf("reactivate job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("reactivate job %d: %w", id, ErrNotFound)
	}
	return s.VideoJob(ctx, id)
}

func (s *Store) finishJob(ctx context.Context, id int64, status JobStatus, resultRef, message string) error {
	res, err := s.execBuilder(ctx, sq.Update("video_jobs").
		Set("status", string(status)).
		Set("result_ref", nullableString(resultRef)).
		Set("error", nullableString(message)).
		Set("updated_at", formatTime(s.now())).
		Where(sq.Eq{"id": id, "status": []string{string(JobPending), string(JobProcessing)}}))
	if err != nil {
		return fmt.Errorf("mark job %s: %w", strings.ToLower(string(status)), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark job %d %s: %w", id, strings.ToLower(string(status)), ErrNotFound)
	}
	return nil
}

func (s *Store) activeJob(ctx context.Context, q queryer, fp string) (*VideoJob, error) {
	row, err := queryRow(ctx, q, sq.Select(jobColumns...).From("video_jobs").
		Where(sq.Eq{"fingerprint": fp, "status": []string{string(JobPending), string(JobProcessing)}}).
		Limit(1))
	if err != nil {
		return nil, err
	}
	return scanJobRow(row)
}

func (s *Store) completedJob(ctx context.Context, q queryer, fp string) (*VideoJob, error) {
	row, err := queryRow(ctx, q, sq.Select(jobColumns...).From("video_jobs").
		Where(sq.Eq{"fingerprint": fp, "status": string(JobCompleted)}).
		OrderBy("id DESC").Limit(1))
	if err != nil {
		return nil, err
	}
	return scanJobRow(row)
}

func (s *Store) listJobs(ctx context.Context, where sq.Sqlizer) ([]*VideoJob, error) {
	ctx = ensureContext(ctx)
	rows, err := queryRows(ctx, s.db, sq.Select(jobColumns...).From("video_jobs").Where(where).OrderBy("id"))
	if err != nil {
		return nil, fmt.Errorf("list video jobs: %w", err)
	}
	defer rows.Close()
	var jobs []*VideoJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJobRow(row *sql.Row) (*VideoJob, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*VideoJob, error) {
	var (
		job       VideoJob
		jobID     sql.NullString
		status    string
		claimed   sql.NullString
		submitted sql.NullString
		watch     sql.NullString
		polled    sql.NullString
		resultRef sql.NullString
		errText   sql.NullString
		updated   sql.NullString
	)
	if err := scanner.Scan(
		&job.ID, &job.Fingerprint, &jobID, &status, &claimed, &submitted, &watch,
		&job.PollCount, &polled, &job.Resumes, &resultRef, &errText, &updated,
	); err != nil {
		return nil, err
	}
	job.JobID = jobID.String
	job.Status = JobStatus(status)
	job.ClaimedAt = parseNullTime(claimed)
	job.SubmittedAt = parseNullTime(submitted)
	job.WatchStartedAt = parseNullTime(watch)
	job.LastPolledAt = parseNullTime(polled)
	job.ResultRef = resultRef.String
	job.Error = errText.String
	job.UpdatedAt = parseNullTime(updated)
	return &job, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}
