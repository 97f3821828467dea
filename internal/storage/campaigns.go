package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/jmoiron/sqlx"
)

const campaignColumns = `id, name, status, subject, template_id, html_body, text_body, from_email, from_name,
	audience, ab_test, max_attempts, scheduled_at, sent_at, created_at, updated_at`

// CampaignStore reads campaigns and templates owned by the CMS layer and
// moves campaigns through their sending statuses.
type CampaignStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewCampaignStore creates a new CampaignStore instance
func NewCampaignStore(db *sqlx.DB, logger *slog.Logger) *CampaignStore {
	return &CampaignStore{
		db:     db,
		logger: logger,
	}
}

// GetByID retrieves a campaign by id
func (s *CampaignStore) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var c domain.Campaign
	if err := s.db.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM email_campaigns WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &c, nil
}

// ListDue returns scheduled campaigns whose scheduled_at has passed.
func (s *CampaignStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM email_campaigns
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3`

	var campaigns []domain.Campaign
	if err := s.db.SelectContext(ctx, &campaigns, query, domain.CampaignStatusScheduled, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	return campaigns, nil
}

// ClaimForSending moves a draft or scheduled campaign to sending. Only one
// caller can win the transition, so a campaign is expanded at most once.
func (s *CampaignStore) ClaimForSending(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `
		UPDATE email_campaigns
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
		RETURNING ` + campaignColumns

	var c domain.Campaign
	err := s.db.GetContext(ctx, &c, query,
		domain.CampaignStatusSending, id, domain.CampaignStatusDraft, domain.CampaignStatusScheduled)
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim campaign: %w", err)
	}

	if _, err := s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, domain.ErrCampaignNotSendable
}

// MarkSent completes a campaign claimed by ClaimForSending.
func (s *CampaignStore) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE email_campaigns
		SET status = $1, sent_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.CampaignStatusSent, id, domain.CampaignStatusSending); err != nil {
		return fmt.Errorf("failed to mark campaign sent: %w", err)
	}
	return nil
}

// Release returns a sending campaign to status after a failed expansion.
func (s *CampaignStore) Release(ctx context.Context, id, status string) error {
	query := `
		UPDATE email_campaigns
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	if _, err := s.db.ExecContext(ctx, query, status, id, domain.CampaignStatusSending); err != nil {
		return fmt.Errorf("failed to release campaign: %w", err)
	}
	return nil
}

// GetTemplate retrieves a stored template by id
func (s *CampaignStore) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	var t domain.Template
	if err := s.db.GetContext(ctx, &t, `SELECT id, name, subject, html_body, text_body FROM email_templates WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("template %s not found", id)
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &t, nil
}
