package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/jmoiron/sqlx"
)

// ChecklistStore persists deliverability checklist acknowledgements.
// Rows are only ever inserted.
type ChecklistStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewChecklistStore creates a new ChecklistStore instance
func NewChecklistStore(db *sqlx.DB, logger *slog.Logger) *ChecklistStore {
	return &ChecklistStore{
		db:     db,
		logger: logger,
	}
}

// ListAcks returns every acknowledgement
func (s *ChecklistStore) ListAcks(ctx context.Context) ([]domain.ChecklistAck, error) {
	acks := []domain.ChecklistAck{}
	if err := s.db.SelectContext(ctx, &acks,
		`SELECT item_id, acknowledged_at, acknowledged_by FROM deliverability_checklist ORDER BY acknowledged_at ASC`); err != nil {
		return nil, fmt.Errorf("failed to list acknowledgements: %w", err)
	}
	return acks, nil
}

// Acknowledge records itemID as dismissed. A repeat acknowledgement keeps
// and returns the original record.
func (s *ChecklistStore) Acknowledge(ctx context.Context, itemID, by string) (*domain.ChecklistAck, error) {
	query := `
		WITH inserted AS (
			INSERT INTO deliverability_checklist (item_id, acknowledged_at, acknowledged_by)
			VALUES ($1, NOW(), $2)
			ON CONFLICT (item_id) DO NOTHING
			RETURNING item_id, acknowledged_at, acknowledged_by
		)
		SELECT item_id, acknowledged_at, acknowledged_by FROM inserted
		UNION ALL
		SELECT item_id, acknowledged_at, acknowledged_by FROM deliverability_checklist
		WHERE item_id = $1 AND NOT EXISTS (SELECT 1 FROM inserted)
	`

	var ack domain.ChecklistAck
	if err := s.db.GetContext(ctx, &ack, query, itemID, by); err != nil {
		return nil, fmt.Errorf("failed to acknowledge checklist item: %w", err)
	}
	return &ack, nil
}
