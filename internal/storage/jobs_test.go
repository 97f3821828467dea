package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var jobRowColumns = []string{
	"id", "campaign_id", "subscriber_id", "to_email", "payload", "status", "attempts", "max_attempts",
	"run_at", "last_error", "skip_reason", "locked_at", "locked_by", "created_at", "updated_at",
}

func jobRow(rows *sqlmock.Rows, id string, status domain.JobStatus, runAt, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, nil, nil, id+"@example.com", []byte(`{"subject":"Hi"}`), string(status), 0, 3,
		runAt, nil, nil, nil, nil, createdAt, createdAt)
}

func TestJobStore_Enqueue(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewJobStore(db, discardLogger())

	mock.ExpectExec(`INSERT INTO email_jobs`).
		WithArgs(sqlmock.AnyArg(), nil, nil, "a@example.com", sqlmock.AnyArg(),
			"queued", 3, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job := &domain.EmailJob{ToEmail: "a@example.com", Payload: domain.JobPayload{Subject: "Hi"}}
	id, err := store.Enqueue(context.Background(), job)

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, domain.DefaultMaxAttempts, job.MaxAttempts)
	assert.False(t, job.RunAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_EnqueueBatch(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewJobStore(db, discardLogger())

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO email_jobs`)
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ids, err := store.EnqueueBatch(context.Background(), []domain.EmailJob{
		{ToEmail: "a@example.com"},
		{ToEmail: "b@example.com", MaxAttempts: 5},
	})

	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_ClaimNext(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewJobStore(db, discardLogger())

	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	older := now.Add(-time.Hour)

	rows := sqlmock.NewRows(jobRowColumns)
	jobRow(rows, "late", domain.JobStatusProcessing, now, now)
	jobRow(rows, "tie-new", domain.JobStatusProcessing, older, now)
	jobRow(rows, "tie-old", domain.JobStatusProcessing, older, older)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs("queued", now, 10, "processing", "tok-1").
		WillReturnRows(rows)

	jobs, err := store.ClaimNext(context.Background(), 10, now, "tok-1")

	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "tie-old", jobs[0].ID)
	assert.Equal(t, "tie-new", jobs[1].ID)
	assert.Equal(t, "late", jobs[2].ID)
	assert.Equal(t, "Hi", jobs[0].Payload.Subject)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var testClaim = domain.Claim{JobID: "j1", Token: "tok-1"}

func TestJobStore_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		run     func(s *JobStore) error
		query   string
		wantErr error
	}{
		{
			name:  "mark sent",
			rows:  1,
			query: `UPDATE email_jobs`,
			run:   func(s *JobStore) error { return s.MarkSent(context.Background(), testClaim) },
		},
		{
			name:    "mark sent after lost claim",
			rows:    0,
			query:   `UPDATE email_jobs`,
			run:     func(s *JobStore) error { return s.MarkSent(context.Background(), testClaim) },
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:  "mark skipped",
			rows:  1,
			query: `skip_reason = \$2`,
			run: func(s *JobStore) error {
				return s.MarkSkipped(context.Background(), testClaim, domain.SkipUnsubscribed)
			},
		},
		{
			name:  "defer",
			rows:  1,
			query: `run_at = \$2`,
			run: func(s *JobStore) error {
				return s.Defer(context.Background(), testClaim, time.Now().Add(time.Minute))
			},
		},
		{
			name:    "defer non-processing job",
			rows:    0,
			query:   `run_at = \$2`,
			run:     func(s *JobStore) error { return s.Defer(context.Background(), testClaim, time.Now()) },
			wantErr: domain.ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			store := NewJobStore(db, discardLogger())

			mock.ExpectExec(tt.query).WillReturnResult(sqlmock.NewResult(0, tt.rows))

			err := tt.run(store)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestJobStore_MarkSkipped_ClearsLastError(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewJobStore(db, discardLogger())

	mock.ExpectExec(`last_error = NULL`).
		WithArgs("skipped", "email_invalid", "j1", "processing", "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkSkipped(context.Background(), testClaim, domain.SkipEmailInvalid))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_MarkFailedOrRetry(t *testing.T) {
	retryAt := time.Now().Add(2 * time.Minute)

	tests := []struct {
		name       string
		failure    domain.Failure
		returned   string
		noRows     bool
		wantStatus domain.JobStatus
		wantErr    error
	}{
		{
			name:       "transient with attempts left",
			failure:    domain.Failure{Message: "timeout", RetryAt: retryAt},
			returned:   "queued",
			wantStatus: domain.JobStatusQueued,
		},
		{
			name:       "permanent",
			failure:    domain.Failure{Message: "550 no such user", Permanent: true, RetryAt: retryAt},
			returned:   "failed",
			wantStatus: domain.JobStatusFailed,
		},
		{
			name:    "job no longer processing",
			failure: domain.Failure{Message: "timeout", RetryAt: retryAt},
			noRows:  true,
			wantErr: domain.ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			store := NewJobStore(db, discardLogger())

			expect := mock.ExpectQuery(`RETURNING status`).
				WithArgs(tt.failure.Permanent, "failed", "queued", tt.failure.RetryAt, tt.failure.Message, "j1", "processing", "tok-1")
			if tt.noRows {
				expect.WillReturnRows(sqlmock.NewRows([]string{"status"}))
			} else {
				expect.WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(tt.returned))
			}

			status, err := store.MarkFailedOrRetry(context.Background(), testClaim, tt.failure)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, status)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestJobStore_ClaimTokenGuardsUpdates(t *testing.T) {
	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{name: "claim still held", rows: 1},
		{name: "claim recovered by another dispatcher", rows: 0, wantErr: domain.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			store := NewJobStore(db, discardLogger())

			mock.ExpectExec(`SET locked_at = \$1`).
				WithArgs(now, "j1", "processing", "tok-1").
				WillReturnResult(sqlmock.NewResult(0, tt.rows))
			mock.ExpectExec(`locked_by = \$4`).
				WithArgs("sent", "j1", "processing", "tok-1").
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			touchErr := store.Touch(context.Background(), testClaim, now)
			sentErr := store.MarkSent(context.Background(), testClaim)
			if tt.wantErr != nil {
				assert.ErrorIs(t, touchErr, tt.wantErr)
				assert.ErrorIs(t, sentErr, tt.wantErr)
			} else {
				assert.NoError(t, touchErr)
				assert.NoError(t, sentErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestJobStore_RecoverStale(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewJobStore(db, discardLogger())

	cutoff := time.Now().Add(-10 * time.Minute)
	mock.ExpectExec(`locked_by = NULL`).
		WithArgs("queued", "processing", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.RecoverStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestJobStore_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewJobStore(db, discardLogger())

	mock.ExpectQuery(`FROM email_jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(jobRowColumns))

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobStore_Delete(t *testing.T) {
	tests := []struct {
		name    string
		status  interface{}
		removed int
		wantErr error
	}{
		{name: "queued job removed", status: "queued", removed: 1},
		{name: "unknown job", status: nil, removed: 0, wantErr: domain.ErrJobNotFound},
		{name: "processing job kept", status: "processing", removed: 0, wantErr: domain.ErrJobInFlight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			store := NewJobStore(db, discardLogger())

			mock.ExpectQuery(`DELETE FROM email_jobs`).
				WithArgs("j1", "processing").
				WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).AddRow(tt.status, tt.removed))

			err := store.Delete(context.Background(), "j1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobStore_List(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewJobStore(db, discardLogger())

	cursor := &JobCursor{CreatedAt: time.Now(), JobID: "j9"}
	rows := sqlmock.NewRows(jobRowColumns)
	jobRow(rows, "j8", domain.JobStatusSent, time.Now(), time.Now())

	mock.ExpectQuery(`AND status = \$1 AND \(created_at, id\) < \(\$2, \$3\) ORDER BY created_at DESC, id DESC LIMIT \$4`).
		WithArgs("sent", cursor.CreatedAt, "j9", 21).
		WillReturnRows(rows)

	jobs, err := store.List(context.Background(), JobFilter{Status: "sent", PageSize: 20, Cursor: cursor})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_StatusCounts(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewJobStore(db, discardLogger())

	mock.ExpectQuery(`GROUP BY status`).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("queued", 4).
			AddRow("sent", 10))

	counts, err := store.StatusCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[domain.JobStatusQueued])
	assert.Equal(t, 10, counts[domain.JobStatusSent])
	assert.Equal(t, 0, counts[domain.JobStatusFailed])
}
