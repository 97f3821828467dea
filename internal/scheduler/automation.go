package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
)

// RunAutomations executes exactly one due step for each claimed enrollment.
// Enrollments of paused automations are never claimed.
func (s *Scheduler) RunAutomations(ctx context.Context) int {
	if s.automations == nil {
		return 0
	}

	now := s.now()
	enrollments, err := s.automations.ClaimDueEnrollments(ctx, now, s.lockTTL, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to claim enrollments", slog.Any("error", err))
		return 0
	}

	cache := make(map[string]*domain.Automation)
	var enqueued []string
	for i := range enrollments {
		e := &enrollments[i]
		jobID, err := s.runStep(ctx, cache, e, now)
		if err != nil {
			s.logger.Error("Automation step failed",
				slog.String("enrollment_id", e.ID),
				slog.String("automation_id", e.AutomationID),
				slog.Int("step", e.CurrentStep),
				slog.Any("error", err),
			)
			if relErr := s.automations.Release(ctx, e.ID); relErr != nil {
				s.logger.Error("Failed to release enrollment", slog.Any("error", relErr))
			}
			continue
		}
		if jobID != "" {
			enqueued = append(enqueued, jobID)
		}
	}

	s.metrics.AddEnqueued("automation", len(enqueued))
	s.notify(ctx, enqueued, now)
	return len(enrollments)
}

// runStep executes the enrollment's current step and advances it. It
// returns the id of the job created by an email step.
func (s *Scheduler) runStep(ctx context.Context, cache map[string]*domain.Automation, e *domain.Enrollment, now time.Time) (string, error) {
	automation, ok := cache[e.AutomationID]
	if !ok {
		a, err := s.automations.Get(ctx, e.AutomationID)
		if err != nil {
			return "", err
		}
		cache[e.AutomationID] = a
		automation = a
	}

	if e.CurrentStep >= len(automation.Steps) {
		return "", s.automations.Advance(ctx, e.ID, e.CurrentStep, now, true)
	}

	step := automation.Steps[e.CurrentStep]
	next := e.CurrentStep + 1

	switch step.Kind {
	case domain.StepKindDelay:
		delay := time.Duration(step.DelayMinutes) * time.Minute
		return "", s.automations.Advance(ctx, e.ID, next, now.Add(delay), false)

	case domain.StepKindEmail:
		lead, err := s.leads.GetByID(ctx, e.LeadID)
		if errors.Is(err, domain.ErrLeadNotFound) {
			s.logger.Warn("Enrolled lead no longer exists, completing enrollment",
				slog.String("enrollment_id", e.ID),
			)
			return "", s.automations.Advance(ctx, e.ID, e.CurrentStep, now, true)
		}
		if err != nil {
			return "", err
		}

		body, err := s.resolve(ctx, content{
			subject:    step.Subject,
			templateID: step.TemplateID,
			html:       step.HTML,
			text:       step.Text,
		})
		if err != nil {
			return "", err
		}

		leadID := lead.ID
		job := &domain.EmailJob{
			SubscriberID: &leadID,
			ToEmail:      lead.Email,
			MaxAttempts:  automation.MaxAttempts,
			RunAt:        now,
			Payload: domain.JobPayload{
				Subject:        body.subject,
				HTML:           body.html,
				Text:           body.text,
				TemplateID:     body.templateID,
				FromEmail:      automation.FromEmail,
				FromName:       automation.FromName,
				UnsubscribeURL: UnsubscribeURL(s.publicURL, lead.UnsubscribeToken),
			},
		}
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = s.maxAttempts
		}

		id, err := s.jobs.Enqueue(ctx, job)
		if err != nil {
			return "", err
		}
		return id, s.automations.Advance(ctx, e.ID, next, now, next >= len(automation.Steps))

	default:
		s.logger.Warn("Unknown automation step kind, skipping",
			slog.String("automation_id", automation.ID),
			slog.String("kind", step.Kind),
		)
		return "", s.automations.Advance(ctx, e.ID, next, now, next >= len(automation.Steps))
	}
}
