// Package suppression decides, before any send attempt, whether a recipient
// may be mailed, and owns the lead suppression flags.
package suppression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/shared/logger"
)

// LeadRepository is the lead persistence the guard needs
type LeadRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Lead, error)
	GetByEmail(ctx context.Context, email string) (*domain.Lead, error)
	RecordDeliveryFailure(ctx context.Context, leadID string, threshold int) (int, bool, error)
	MarkUnsubscribed(ctx context.Context, token string) (*domain.Lead, error)
	Reinstate(ctx context.Context, leadID string) (*domain.Lead, error)
}

// Policy is the send policy applied on top of the lead flags
type Policy struct {
	// SandboxMode restricts every send to the allowlist.
	SandboxMode      bool
	Allowlist        []string
	FailureThreshold int
}

// Guard blocks sends to suppressed recipients
type Guard struct {
	leads     LeadRepository
	sandbox   bool
	allowlist map[string]struct{}
	threshold int
	logger    *slog.Logger
}

// NewGuard creates a new Guard
func NewGuard(leads LeadRepository, policy Policy, log *slog.Logger) *Guard {
	allow := make(map[string]struct{}, len(policy.Allowlist))
	for _, addr := range policy.Allowlist {
		allow[normalize(addr)] = struct{}{}
	}

	threshold := policy.FailureThreshold
	if threshold <= 0 {
		threshold = domain.DefaultFailureThreshold
	}

	return &Guard{
		leads:     leads,
		sandbox:   policy.SandboxMode,
		allowlist: allow,
		threshold: threshold,
		logger:    log,
	}
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Check returns the reason job must be skipped, or "" when it may be sent.
// Checks run in order: unsubscribed, invalid email, allowlist, test subscriber.
func (g *Guard) Check(ctx context.Context, job *domain.EmailJob) (domain.SkipReason, error) {
	lead, err := g.lookup(ctx, job)
	if err != nil {
		return "", err
	}

	if lead != nil {
		switch lead.SuppressionState() {
		case domain.SuppressionUnsubscribed:
			return domain.SkipUnsubscribed, nil
		case domain.SuppressionInvalidEmail:
			return domain.SkipEmailInvalid, nil
		}
	}

	if _, err := mail.ParseAddress(job.ToEmail); err != nil {
		return domain.SkipEmailInvalid, nil
	}

	if g.sandbox || job.Payload.TestSend {
		if !g.Allowlisted(job.ToEmail) {
			return domain.SkipNotAllowlisted, nil
		}
		return "", nil
	}

	if lead != nil && lead.IsTestSubscriber {
		return domain.SkipTestSubscriber, nil
	}

	return "", nil
}

// Allowlisted reports whether email is on the test-send allowlist
func (g *Guard) Allowlisted(email string) bool {
	_, ok := g.allowlist[normalize(email)]
	return ok
}

// lookup finds the job's lead by subscriber id, falling back to the
// recipient address. Transactional jobs may have no lead at all.
func (g *Guard) lookup(ctx context.Context, job *domain.EmailJob) (*domain.Lead, error) {
	var (
		lead *domain.Lead
		err  error
	)
	if job.SubscriberID != nil && *job.SubscriberID != "" {
		lead, err = g.leads.GetByID(ctx, *job.SubscriberID)
	} else {
		lead, err = g.leads.GetByEmail(ctx, job.ToEmail)
	}

	if errors.Is(err, domain.ErrLeadNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recipient: %w", err)
	}
	return lead, nil
}

// RecordPermanentFailure counts a hard failure against the job's lead and
// flags the address invalid once the threshold is reached.
func (g *Guard) RecordPermanentFailure(ctx context.Context, job *domain.EmailJob) error {
	lead, err := g.lookup(ctx, job)
	if err != nil {
		return err
	}
	if lead == nil {
		return nil
	}

	count, invalid, err := g.leads.RecordDeliveryFailure(ctx, lead.ID, g.threshold)
	if err != nil {
		return fmt.Errorf("failed to record permanent failure: %w", err)
	}

	if invalid && !lead.EmailInvalid {
		g.logger.Warn("Lead suppressed after repeated permanent failures",
			slog.String("lead_id", lead.ID),
			logger.Email("email", lead.Email),
			slog.Int("failure_count", count),
		)
	}

	return nil
}

// Unsubscribe suppresses the lead that owns token
func (g *Guard) Unsubscribe(ctx context.Context, token string) (*domain.Lead, error) {
	lead, err := g.leads.MarkUnsubscribed(ctx, token)
	if err != nil {
		return nil, err
	}

	g.logger.Info("Lead unsubscribed", slog.String("lead_id", lead.ID))
	return lead, nil
}

// Reinstate clears a lead's suppression after an admin decision
func (g *Guard) Reinstate(ctx context.Context, leadID string) (*domain.Lead, error) {
	lead, err := g.leads.Reinstate(ctx, leadID)
	if err != nil {
		return nil, err
	}

	g.logger.Info("Lead reinstated", slog.String("lead_id", lead.ID))
	return lead, nil
}
