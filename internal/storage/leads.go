package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const leadColumns = `id, email, is_unsubscribed, unsubscribed_at, unsubscribe_token, email_invalid,
	email_failure_count, is_test_subscriber, source, country, continent, interests, tags,
	created_at, updated_at`

// LeadStore reads recipients and writes their suppression flags.
type LeadStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewLeadStore creates a new LeadStore instance
func NewLeadStore(db *sqlx.DB, logger *slog.Logger) *LeadStore {
	return &LeadStore{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a lead by id
func (s *LeadStore) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	return s.getOne(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
}

// GetByEmail retrieves a lead by case-insensitive email
func (s *LeadStore) GetByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	return s.getOne(ctx, `SELECT `+leadColumns+` FROM leads WHERE lower(email) = lower($1) LIMIT 1`, email)
}

func (s *LeadStore) getOne(ctx context.Context, query string, arg interface{}) (*domain.Lead, error) {
	var lead domain.Lead
	if err := s.db.GetContext(ctx, &lead, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrLeadNotFound
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return &lead, nil
}

// FindAudience returns the non-suppressed leads matching filter.
// Test subscribers are included only when includeTest is set.
func (s *LeadStore) FindAudience(ctx context.Context, filter domain.AudienceFilter, includeTest bool) ([]domain.Lead, error) {
	query := `SELECT ` + leadColumns + `
		FROM leads
		WHERE is_unsubscribed = FALSE
		  AND email_invalid = FALSE
		  AND ($1::boolean OR is_test_subscriber = FALSE)
		  AND (cardinality($2::text[]) = 0 OR interests && $2::text[])
		  AND (cardinality($3::text[]) = 0 OR tags && $3::text[])
		  AND (cardinality($4::text[]) = 0 OR continent = ANY($4::text[]))
		  AND (cardinality($5::text[]) = 0 OR source = ANY($5::text[]))
		ORDER BY created_at ASC, id ASC`

	var leads []domain.Lead
	err := s.db.SelectContext(ctx, &leads, query,
		includeTest,
		pq.Array(nonNil(filter.Topics)),
		pq.Array(nonNil(filter.Tags)),
		pq.Array(nonNil(filter.Continents)),
		pq.Array(nonNil(filter.Sources)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find audience: %w", err)
	}

	return leads, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// RecordDeliveryFailure counts a permanent failure against the lead and
// sets email_invalid once the count reaches threshold. The flag is never
// cleared here. It returns the updated count and flag.
func (s *LeadStore) RecordDeliveryFailure(ctx context.Context, leadID string, threshold int) (int, bool, error) {
	query := `
		UPDATE leads
		SET email_failure_count = email_failure_count + 1,
		    email_invalid = email_invalid OR email_failure_count + 1 >= $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING email_failure_count, email_invalid
	`

	var count int
	var invalid bool
	if err := s.db.QueryRowContext(ctx, query, leadID, threshold).Scan(&count, &invalid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, domain.ErrLeadNotFound
		}
		return 0, false, fmt.Errorf("failed to record delivery failure: %w", err)
	}

	return count, invalid, nil
}

// MarkUnsubscribed flags the lead owning token. Repeated calls keep the
// first unsubscribed_at.
func (s *LeadStore) MarkUnsubscribed(ctx context.Context, token string) (*domain.Lead, error) {
	query := `
		UPDATE leads
		SET is_unsubscribed = TRUE,
		    unsubscribed_at = COALESCE(unsubscribed_at, NOW()),
		    updated_at = NOW()
		WHERE unsubscribe_token = $1
		RETURNING ` + leadColumns

	return s.getOne(ctx, query, token)
}

// Reinstate clears both suppression flags and the failure count.
// It is the only path that clears them.
func (s *LeadStore) Reinstate(ctx context.Context, leadID string) (*domain.Lead, error) {
	query := `
		UPDATE leads
		SET is_unsubscribed = FALSE,
		    unsubscribed_at = NULL,
		    email_invalid = FALSE,
		    email_failure_count = 0,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + leadColumns

	return s.getOne(ctx, query, leadID)
}

// SuppressedFilter narrows the suppressed-leads report
type SuppressedFilter struct {
	Reason  string
	Search  string
	Source  string
	Country string
	Start   *time.Time
	End     *time.Time
	Page    int
	Limit   int
}

// ListSuppressed returns one page of suppressed leads and the total match
// count. Rows are ordered by reason, then newest suppression first.
func (s *LeadStore) ListSuppressed(ctx context.Context, filter SuppressedFilter) ([]domain.SuppressedLead, int, error) {
	base := `
		WITH suppressed AS (
			SELECT id, email, source, country, is_unsubscribed, email_invalid, email_failure_count,
			       CASE WHEN is_unsubscribed THEN 'unsubscribed' ELSE 'email_invalid' END AS reason,
			       CASE WHEN is_unsubscribed THEN unsubscribed_at ELSE updated_at END AS suppressed_at
			FROM leads
			WHERE is_unsubscribed OR email_invalid
		)
	`

	var conds []string
	args := []interface{}{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Reason != "" {
		add("reason = $%d", filter.Reason)
	}
	if filter.Search != "" {
		add(`email ILIKE $%d ESCAPE '\'`, "%"+escapeLike(filter.Search)+"%")
	}
	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}
	if filter.Country != "" {
		add("country = $%d", filter.Country)
	}
	if filter.Start != nil {
		add("suppressed_at >= $%d", *filter.Start)
	}
	if filter.End != nil {
		add("suppressed_at <= $%d", *filter.End)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, base+`SELECT COUNT(*) FROM suppressed`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count suppressed leads: %w", err)
	}

	if total == 0 {
		return []domain.SuppressedLead{}, 0, nil
	}

	query := base + `SELECT * FROM suppressed` + where +
		fmt.Sprintf(" ORDER BY reason ASC, suppressed_at DESC NULLS LAST, id ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)

	items := []domain.SuppressedLead{}
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list suppressed leads: %w", err)
	}

	return items, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
