package scheduler

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/url"
	"strings"

	"github.com/cuongbtq/email-delivery/internal/domain"
)

// Variant labels stored in the job payload
const (
	VariantA = "A"
	VariantB = "B"
)

// content is one resolved subject/body pair
type content struct {
	subject    string
	templateID string
	html       string
	text       string
}

// SendDueCampaigns sends every scheduled campaign whose time has come
func (s *Scheduler) SendDueCampaigns(ctx context.Context) {
	due, err := s.campaigns.ListDue(ctx, s.now(), s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list due campaigns", slog.Any("error", err))
		return
	}

	for _, c := range due {
		if _, err := s.SendCampaign(ctx, c.ID); err != nil && !errors.Is(err, domain.ErrCampaignNotSendable) {
			s.logger.Error("Failed to send campaign",
				slog.String("campaign_id", c.ID),
				slog.Any("error", err),
			)
		}
	}
}

// SendCampaign expands a draft or scheduled campaign into one job per
// matching, non-suppressed lead. The audience is evaluated now, not when the
// campaign was scheduled. It returns the number of jobs created.
func (s *Scheduler) SendCampaign(ctx context.Context, campaignID string) (int, error) {
	campaign, err := s.campaigns.ClaimForSending(ctx, campaignID)
	if err != nil {
		return 0, err
	}

	n, err := s.expandCampaign(ctx, campaign)
	if err != nil {
		restore := domain.CampaignStatusDraft
		if campaign.ScheduledAt != nil {
			restore = domain.CampaignStatusScheduled
		}
		if relErr := s.campaigns.Release(ctx, campaign.ID, restore); relErr != nil {
			s.logger.Error("Failed to release campaign",
				slog.String("campaign_id", campaign.ID),
				slog.Any("error", relErr),
			)
		}
		return 0, err
	}

	if err := s.campaigns.MarkSent(ctx, campaign.ID); err != nil {
		return n, err
	}

	s.logger.Info("Campaign expanded",
		slog.String("campaign_id", campaign.ID),
		slog.String("name", campaign.Name),
		slog.Int("jobs", n),
	)
	return n, nil
}

func (s *Scheduler) expandCampaign(ctx context.Context, c *domain.Campaign) (int, error) {
	variantA, err := s.resolve(ctx, content{
		subject:    c.Subject,
		templateID: deref(c.TemplateID),
		html:       c.HTML,
		text:       c.Text,
	})
	if err != nil {
		return 0, err
	}

	split := 100
	variantB := variantA
	if c.ABTest != nil && c.ABTest.SplitPercent > 0 && c.ABTest.SplitPercent < 100 {
		split = c.ABTest.SplitPercent
		b := content{
			subject:    c.ABTest.SubjectB,
			templateID: c.ABTest.TemplateIDB,
			html:       c.ABTest.HTMLB,
			text:       c.ABTest.TextB,
		}
		// without its own template, B only overrides what it sets
		if b.templateID == "" {
			b.templateID = variantA.templateID
			b.html = firstNonEmpty(b.html, variantA.html)
			b.text = firstNonEmpty(b.text, variantA.text)
		}
		variantB, err = s.resolve(ctx, b)
		if err != nil {
			return 0, err
		}
		variantB.subject = firstNonEmpty(variantB.subject, variantA.subject)
	}

	leads, err := s.leads.FindAudience(ctx, domain.AudienceFilter(c.Audience), s.testSendMode)
	if err != nil {
		return 0, err
	}
	if len(leads) == 0 {
		return 0, nil
	}

	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}

	now := s.now()
	campaignID := c.ID
	jobs := make([]domain.EmailJob, 0, len(leads))
	for i := range leads {
		lead := &leads[i]
		body, variant := variantA, ""
		if split < 100 {
			variant = VariantA
			if !InVariantA(lead.ID, split) {
				body, variant = variantB, VariantB
			}
		}

		leadID := lead.ID
		jobs = append(jobs, domain.EmailJob{
			CampaignID:   &campaignID,
			SubscriberID: &leadID,
			ToEmail:      lead.Email,
			MaxAttempts:  maxAttempts,
			RunAt:        now,
			Payload: domain.JobPayload{
				Subject:        body.subject,
				HTML:           body.html,
				Text:           body.text,
				TemplateID:     body.templateID,
				Variant:        variant,
				FromEmail:      c.FromEmail,
				FromName:       c.FromName,
				UnsubscribeURL: UnsubscribeURL(s.publicURL, lead.UnsubscribeToken),
			},
		})
	}

	ids, err := s.jobs.EnqueueBatch(ctx, jobs)
	if err != nil {
		return 0, err
	}

	s.metrics.AddEnqueued("campaign", len(ids))
	s.notify(ctx, ids, now)
	return len(ids), nil
}

// resolve fills subject and bodies from the referenced template when the
// inline content is empty. The result is the snapshot stored on the job.
func (s *Scheduler) resolve(ctx context.Context, c content) (content, error) {
	if c.templateID == "" || (c.html != "" && c.subject != "") {
		return c, nil
	}

	tpl, err := s.campaigns.GetTemplate(ctx, c.templateID)
	if err != nil {
		return content{}, fmt.Errorf("failed to resolve template: %w", err)
	}

	c.subject = firstNonEmpty(c.subject, tpl.Subject)
	c.html = firstNonEmpty(c.html, tpl.HTML)
	c.text = firstNonEmpty(c.text, tpl.Text)
	return c, nil
}

// InVariantA assigns leadID to variant A when the FNV-1a hash of the id
// modulo 100 falls below splitPercent. The split is stable across runs.
func InVariantA(leadID string, splitPercent int) bool {
	h := fnv.New32a()
	h.Write([]byte(leadID))
	return int(h.Sum32()%100) < splitPercent
}

// UnsubscribeURL builds the one-click unsubscribe link for token
func UnsubscribeURL(publicURL, token string) string {
	if publicURL == "" || token == "" {
		return ""
	}
	return strings.TrimRight(publicURL, "/") + "/api/v1/unsubscribe/" + url.PathEscape(token)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
