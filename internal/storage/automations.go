package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const enrollmentColumns = `id, automation_id, lead_id, current_step, status, next_run_at, locked_at,
	completed_at, created_at, updated_at`

// AutomationStore persists automations and lead enrollments.
type AutomationStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewAutomationStore creates a new AutomationStore instance
func NewAutomationStore(db *sqlx.DB, logger *slog.Logger) *AutomationStore {
	return &AutomationStore{
		db:     db,
		logger: logger,
	}
}

// Get retrieves an automation by id
func (s *AutomationStore) Get(ctx context.Context, id string) (*domain.Automation, error) {
	query := `SELECT id, name, status, from_email, from_name, max_attempts, steps, created_at, updated_at
		FROM automations WHERE id = $1`

	var a domain.Automation
	if err := s.db.GetContext(ctx, &a, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAutomationNotFound
		}
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}
	return &a, nil
}

// SetStatus pauses or resumes an automation. Already queued jobs are not
// affected.
func (s *AutomationStore) SetStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE automations SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update automation status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrAutomationNotFound
	}
	return nil
}

// Enroll starts leadID at the first step of the automation. Enrolling the
// same lead twice returns the existing enrollment.
func (s *AutomationStore) Enroll(ctx context.Context, automationID, leadID string, now time.Time) (*domain.Enrollment, error) {
	query := `
		INSERT INTO automation_enrollments (
			id, automation_id, lead_id, current_step, status, next_run_at, created_at, updated_at
		) VALUES ($1, $2, $3, 0, $4, $5, $5, $5)
		ON CONFLICT (automation_id, lead_id) DO UPDATE SET updated_at = automation_enrollments.updated_at
		RETURNING ` + enrollmentColumns

	var e domain.Enrollment
	if err := s.db.GetContext(ctx, &e, query,
		uuid.NewString(), automationID, leadID, domain.EnrollmentStatusActive, now); err != nil {
		return nil, fmt.Errorf("failed to enroll lead: %w", err)
	}
	return &e, nil
}

// ClaimDueEnrollments locks up to limit active enrollments of active
// automations whose next step is due. Claims older than lockTTL are
// considered abandoned and may be taken again.
func (s *AutomationStore) ClaimDueEnrollments(ctx context.Context, now time.Time, lockTTL time.Duration, limit int) ([]domain.Enrollment, error) {
	query := `
		WITH due AS (
			SELECT e.id
			FROM automation_enrollments e
			JOIN automations a ON a.id = e.automation_id
			WHERE e.status = $1
			  AND a.status = $2
			  AND e.next_run_at <= $3
			  AND (e.locked_at IS NULL OR e.locked_at < $4)
			ORDER BY e.next_run_at ASC
			LIMIT $5
			FOR UPDATE OF e SKIP LOCKED
		)
		UPDATE automation_enrollments e
		SET locked_at = $3, updated_at = $3
		FROM due
		WHERE e.id = due.id
		RETURNING e.id, e.automation_id, e.lead_id, e.current_step, e.status, e.next_run_at,
		          e.locked_at, e.completed_at, e.created_at, e.updated_at
	`

	var enrollments []domain.Enrollment
	err := s.db.SelectContext(ctx, &enrollments, query,
		domain.EnrollmentStatusActive, domain.AutomationStatusActive, now, now.Add(-lockTTL), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim enrollments: %w", err)
	}
	return enrollments, nil
}

// Advance moves an enrollment to nextStep at nextRunAt and releases its
// claim. When completed is set the enrollment finishes instead.
func (s *AutomationStore) Advance(ctx context.Context, id string, nextStep int, nextRunAt time.Time, completed bool) error {
	query := `
		UPDATE automation_enrollments
		SET current_step = $1,
		    next_run_at = $2,
		    status = CASE WHEN $3::boolean THEN $4 ELSE status END,
		    completed_at = CASE WHEN $3::boolean THEN NOW() ELSE completed_at END,
		    locked_at = NULL,
		    updated_at = NOW()
		WHERE id = $5
	`

	_, err := s.db.ExecContext(ctx, query, nextStep, nextRunAt, completed, domain.EnrollmentStatusCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to advance enrollment: %w", err)
	}
	return nil
}

// Release drops an enrollment's claim without advancing it.
func (s *AutomationStore) Release(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE automation_enrollments SET locked_at = NULL, updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to release enrollment: %w", err)
	}
	return nil
}
