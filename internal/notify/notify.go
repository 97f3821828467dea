// Package notify publishes "jobs enqueued" wake-up events so dispatchers
// can run an early tick instead of waiting for their interval.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
)

// Publisher is the message broker the notifier writes to
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Notifier announces newly enqueued jobs. A Notifier without a publisher
// drops every event; dispatchers then rely on their tick interval alone.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
}

// New creates a new Notifier. publisher may be nil.
func New(publisher Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{publisher: publisher, logger: logger}
}

// JobsEnqueued publishes one wake-up event for jobIDs. Delivery is best
// effort: the job rows are already committed and will be picked up by the
// next regular tick if the event is lost.
func (n *Notifier) JobsEnqueued(ctx context.Context, jobIDs []string, runAt time.Time) error {
	if n == nil || n.publisher == nil || len(jobIDs) == 0 {
		return nil
	}

	body, err := json.Marshal(domain.JobMessage{JobIDs: jobIDs, RunAt: runAt})
	if err != nil {
		return fmt.Errorf("failed to marshal wake-up message: %w", err)
	}

	if err := n.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		n.logger.Warn("Failed to publish wake-up message",
			slog.Int("job_count", len(jobIDs)),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish wake-up message: %w", err)
	}

	return nil
}
