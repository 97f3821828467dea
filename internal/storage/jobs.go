package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, campaign_id, subscriber_id, to_email, payload, status, attempts, max_attempts,
	run_at, last_error, skip_reason, locked_at, locked_by, created_at, updated_at`

// JobStore is the durable queue of outbound email jobs.
type JobStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewJobStore creates a new JobStore instance
func NewJobStore(db *sqlx.DB, logger *slog.Logger) *JobStore {
	return &JobStore{
		db:     db,
		logger: logger,
	}
}

// Enqueue persists a new queued job and returns its id.
// Zero values are filled: id, run_at (now) and max_attempts.
func (s *JobStore) Enqueue(ctx context.Context, job *domain.EmailJob) (string, error) {
	prepareJob(job, time.Now().UTC())

	query := `
		INSERT INTO email_jobs (
			id, campaign_id, subscriber_id, to_email, payload,
			status, attempts, max_attempts, run_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, 0, $7, $8, $9, $9
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.CampaignID,
		job.SubscriberID,
		job.ToEmail,
		job.Payload,
		domain.JobStatusQueued,
		job.MaxAttempts,
		job.RunAt,
		job.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job.ID, nil
}

// EnqueueBatch persists all jobs in one transaction and returns their ids.
func (s *JobStore) EnqueueBatch(ctx context.Context, jobs []domain.EmailJob) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO email_jobs (
			id, campaign_id, subscriber_id, to_email, payload,
			status, attempts, max_attempts, run_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare enqueue: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	ids := make([]string, 0, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		prepareJob(job, now)

		if _, err := stmt.ExecContext(ctx,
			job.ID, job.CampaignID, job.SubscriberID, job.ToEmail, job.Payload,
			domain.JobStatusQueued, job.MaxAttempts, job.RunAt, job.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to enqueue job for %s: %w", job.ID, err)
		}
		ids = append(ids, job.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit enqueue: %w", err)
	}

	return ids, nil
}

func prepareJob(job *domain.EmailJob, now time.Time) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = domain.DefaultMaxAttempts
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	job.Status = domain.JobStatusQueued
	job.Attempts = 0
	job.CreatedAt = now
	job.UpdatedAt = now
}

// ClaimNext atomically moves up to limit ready jobs from queued to processing
// and locks them under token. Rows locked by a concurrent claimant are
// skipped, so each job has at most one claimant. The result is ordered by
// run_at then created_at.
func (s *JobStore) ClaimNext(ctx context.Context, limit int, now time.Time, token string) ([]domain.EmailJob, error) {
	query := `
		WITH ready AS (
			SELECT id
			FROM email_jobs
			WHERE status = $1
			  AND run_at <= $2
			ORDER BY run_at ASC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE email_jobs j
		SET status = $4,
		    locked_at = $2,
		    locked_by = $5,
		    updated_at = $2
		FROM ready
		WHERE j.id = ready.id
		RETURNING j.id, j.campaign_id, j.subscriber_id, j.to_email, j.payload, j.status,
		          j.attempts, j.max_attempts, j.run_at, j.last_error, j.skip_reason,
		          j.locked_at, j.locked_by, j.created_at, j.updated_at
	`

	var jobs []domain.EmailJob
	err := s.db.SelectContext(ctx, &jobs, query,
		domain.JobStatusQueued, now, limit, domain.JobStatusProcessing, token)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	// UPDATE ... RETURNING does not preserve the CTE order.
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].RunAt.Equal(jobs[j].RunAt) {
			return jobs[i].RunAt.Before(jobs[j].RunAt)
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	return jobs, nil
}

// Touch renews the lock of a claimed job when a dispatcher starts working on
// it. It returns ErrInvalidTransition when the claim was recovered and
// handed to another dispatcher in the meantime.
func (s *JobStore) Touch(ctx context.Context, c domain.Claim, now time.Time) error {
	query := `
		UPDATE email_jobs
		SET locked_at = $1,
		    updated_at = $1
		WHERE id = $2 AND status = $3 AND locked_by = $4
	`

	result, err := s.db.ExecContext(ctx, query, now, c.JobID, domain.JobStatusProcessing, c.Token)
	if err != nil {
		return fmt.Errorf("failed to renew job lock: %w", err)
	}

	return expectOneRow(result)
}

// MarkSent records a successful delivery attempt.
func (s *JobStore) MarkSent(ctx context.Context, c domain.Claim) error {
	query := `
		UPDATE email_jobs
		SET status = $1,
		    attempts = LEAST(attempts + 1, max_attempts),
		    last_error = NULL,
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3 AND locked_by = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusSent, c.JobID, domain.JobStatusProcessing, c.Token)
	if err != nil {
		return fmt.Errorf("failed to mark job sent: %w", err)
	}

	return expectOneRow(result)
}

// MarkFailedOrRetry records a failed delivery attempt. The job returns to
// queued at f.RetryAt while attempts remain, otherwise it becomes failed.
// A permanent failure is terminal regardless of attempts.
// It returns the status the job ended in.
func (s *JobStore) MarkFailedOrRetry(ctx context.Context, c domain.Claim, f domain.Failure) (domain.JobStatus, error) {
	query := `
		UPDATE email_jobs
		SET attempts = LEAST(attempts + 1, max_attempts),
		    status = CASE
		        WHEN $1::boolean OR attempts + 1 >= max_attempts THEN $2::text
		        ELSE $3::text
		    END,
		    run_at = CASE
		        WHEN $1::boolean OR attempts + 1 >= max_attempts THEN run_at
		        ELSE $4::timestamptz
		    END,
		    last_error = $5,
		    skip_reason = NULL,
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE id = $6 AND status = $7 AND locked_by = $8
		RETURNING status
	`

	var status domain.JobStatus
	err := s.db.QueryRowContext(ctx, query,
		f.Permanent,
		domain.JobStatusFailed,
		domain.JobStatusQueued,
		f.RetryAt,
		f.Message,
		c.JobID,
		domain.JobStatusProcessing,
		c.Token,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrInvalidTransition
		}
		return "", fmt.Errorf("failed to record job failure: %w", err)
	}

	return status, nil
}

// MarkSkipped makes the job terminal without a delivery attempt.
func (s *JobStore) MarkSkipped(ctx context.Context, c domain.Claim, reason domain.SkipReason) error {
	query := `
		UPDATE email_jobs
		SET status = $1,
		    skip_reason = $2,
		    last_error = NULL,
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE id = $3 AND status = $4 AND locked_by = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusSkipped, string(reason), c.JobID, domain.JobStatusProcessing, c.Token)
	if err != nil {
		return fmt.Errorf("failed to mark job skipped: %w", err)
	}

	return expectOneRow(result)
}

// Defer returns a claimed job to queued at runAt without counting an attempt.
func (s *JobStore) Defer(ctx context.Context, c domain.Claim, runAt time.Time) error {
	query := `
		UPDATE email_jobs
		SET status = $1,
		    run_at = $2,
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE id = $3 AND status = $4 AND locked_by = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusQueued, runAt, c.JobID, domain.JobStatusProcessing, c.Token)
	if err != nil {
		return fmt.Errorf("failed to defer job: %w", err)
	}

	return expectOneRow(result)
}

// RecoverStale returns processing jobs locked before cutoff to queued and
// revokes their claims. Attempts are unchanged since the outcome of the lost
// attempt is unknown.
func (s *JobStore) RecoverStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE email_jobs
		SET status = $1,
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE status = $2 AND locked_at < $3
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusQueued, domain.JobStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if n > 0 {
		s.logger.Warn("Recovered stale jobs", slog.Int64("count", n))
	}

	return n, nil
}

// GetByID retrieves a job by its id
func (s *JobStore) GetByID(ctx context.Context, jobID string) (*domain.EmailJob, error) {
	var job domain.EmailJob
	query := `SELECT ` + jobColumns + ` FROM email_jobs WHERE id = $1`

	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// Delete removes a job that is not currently being processed.
func (s *JobStore) Delete(ctx context.Context, jobID string) error {
	query := `
		WITH target AS (
			SELECT id, status FROM email_jobs WHERE id = $1
		), removed AS (
			DELETE FROM email_jobs
			WHERE id IN (SELECT id FROM target WHERE status <> $2)
			RETURNING id
		)
		SELECT (SELECT status FROM target), (SELECT COUNT(*) FROM removed)
	`

	var status sql.NullString
	var removed int
	if err := s.db.QueryRowContext(ctx, query, jobID, domain.JobStatusProcessing).Scan(&status, &removed); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	switch {
	case !status.Valid:
		return domain.ErrJobNotFound
	case removed == 0:
		return domain.ErrJobInFlight
	}

	return nil
}

// JobFilter narrows List results
type JobFilter struct {
	Status     string
	CampaignID string
	PageSize   int
	Cursor     *JobCursor
}

// JobCursor is the keyset position for newest-first pagination
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// List returns jobs newest first. It fetches PageSize+1 rows so the caller
// can tell whether another page exists.
func (s *JobStore) List(ctx context.Context, filter JobFilter) ([]domain.EmailJob, error) {
	query := `SELECT ` + jobColumns + ` FROM email_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.CampaignID != "" {
		query += fmt.Sprintf(" AND campaign_id = $%d", argIdx)
		args = append(args, filter.CampaignID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.EmailJob
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// DailyCount is the number of jobs created on Day with the given status.
type DailyCount struct {
	Day    time.Time        `db:"day"`
	Status domain.JobStatus `db:"status"`
	Count  int              `db:"count"`
}

// DailyStatusCounts groups jobs created at or after since by UTC day and status.
func (s *JobStore) DailyStatusCounts(ctx context.Context, since time.Time) ([]DailyCount, error) {
	query := `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day,
		       status,
		       COUNT(*) AS count
		FROM email_jobs
		WHERE created_at >= $1
		GROUP BY 1, 2
		ORDER BY 1
	`

	var counts []DailyCount
	if err := s.db.SelectContext(ctx, &counts, query, since); err != nil {
		return nil, fmt.Errorf("failed to count jobs by day: %w", err)
	}

	return counts, nil
}

// RecentFailures returns the newest failed jobs.
func (s *JobStore) RecentFailures(ctx context.Context, limit int) ([]domain.EmailJob, error) {
	query := `SELECT ` + jobColumns + `
		FROM email_jobs
		WHERE status = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2`

	var jobs []domain.EmailJob
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusFailed, limit); err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	return jobs, nil
}

// StatusCounts returns the current number of jobs per status.
func (s *JobStore) StatusCounts(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM email_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}
