// Package analytics computes delivery trends and the recent-errors view
// from job history. It only reads the queue.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/storage"
)

const (
	DefaultWindowDays = 7
	MaxWindowDays     = 90

	DefaultErrorLimit = 20
	MaxErrorLimit     = 100
)

// History is the read-only job history the aggregator needs
type History interface {
	DailyStatusCounts(ctx context.Context, since time.Time) ([]storage.DailyCount, error)
	RecentFailures(ctx context.Context, limit int) ([]domain.EmailJob, error)
}

// Aggregator builds dashboard views over job history
type Aggregator struct {
	history History
	now     func() time.Time
}

// NewAggregator creates a new Aggregator
func NewAggregator(history History) *Aggregator {
	return &Aggregator{history: history, now: time.Now}
}

// Series holds one count per day label
type Series struct {
	Sent    []int `json:"sent"`
	Failed  []int `json:"failed"`
	Skipped []int `json:"skipped"`
	Queued  []int `json:"queued"`
}

// Totals sums a window
type Totals struct {
	Queued  int `json:"queued"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Summary holds the window totals and derived rates
type Summary struct {
	Totals       Totals  `json:"totals"`
	DeliveryRate float64 `json:"deliveryRate"`
	FailureRate  float64 `json:"failureRate"`
	SkipRate     float64 `json:"skipRate"`
}

// Trends is the windowed day-by-day report
type Trends struct {
	WindowDays int      `json:"windowDays"`
	Labels     []string `json:"labels"`
	Series     Series   `json:"series"`
	Summary    Summary  `json:"summary"`
}

// ClampWindow maps a requested window onto [1, MaxWindowDays]. Zero or
// negative requests get the default.
func ClampWindow(days int) int {
	switch {
	case days <= 0:
		return DefaultWindowDays
	case days > MaxWindowDays:
		return MaxWindowDays
	default:
		return days
	}
}

// Trends buckets jobs created in the last windowDays UTC days, today
// included. Jobs still processing count as queued.
func (a *Aggregator) Trends(ctx context.Context, windowDays int) (*Trends, error) {
	windowDays = ClampWindow(windowDays)

	today := a.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(windowDays - 1))

	counts, err := a.history.DailyStatusCounts(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to load job history: %w", err)
	}

	t := &Trends{
		WindowDays: windowDays,
		Labels:     make([]string, windowDays),
		Series: Series{
			Sent:    make([]int, windowDays),
			Failed:  make([]int, windowDays),
			Skipped: make([]int, windowDays),
			Queued:  make([]int, windowDays),
		},
	}
	for i := range t.Labels {
		t.Labels[i] = start.AddDate(0, 0, i).Format("2006-01-02")
	}

	for _, c := range counts {
		day := c.Day.UTC().Truncate(24 * time.Hour)
		i := int(day.Sub(start) / (24 * time.Hour))
		if i < 0 || i >= windowDays {
			continue
		}

		switch c.Status {
		case domain.JobStatusSent:
			t.Series.Sent[i] += c.Count
			t.Summary.Totals.Sent += c.Count
		case domain.JobStatusFailed:
			t.Series.Failed[i] += c.Count
			t.Summary.Totals.Failed += c.Count
		case domain.JobStatusSkipped:
			t.Series.Skipped[i] += c.Count
			t.Summary.Totals.Skipped += c.Count
		case domain.JobStatusQueued, domain.JobStatusProcessing:
			t.Series.Queued[i] += c.Count
			t.Summary.Totals.Queued += c.Count
		}
	}

	totals := t.Summary.Totals
	attempted := totals.Sent + totals.Failed
	all := totals.Sent + totals.Failed + totals.Skipped + totals.Queued
	t.Summary.DeliveryRate = rate(totals.Sent, attempted)
	t.Summary.FailureRate = rate(totals.Failed, attempted)
	t.Summary.SkipRate = rate(totals.Skipped, all)

	return t, nil
}

// rate returns n/d rounded to four places, or 0 when d is 0
func rate(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*10000) / 10000
}

// ErrorEntry is one row of the recent-errors view
type ErrorEntry struct {
	ID           string    `json:"id"`
	CampaignID   *string   `json:"campaignId"`
	SubscriberID *string   `json:"subscriberId"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"createdAt"`
	FailedAt     time.Time `json:"failedAt"`
}

// RecentErrors returns the newest failed jobs with their last error
func (a *Aggregator) RecentErrors(ctx context.Context, limit int) ([]ErrorEntry, error) {
	if limit <= 0 {
		limit = DefaultErrorLimit
	}
	if limit > MaxErrorLimit {
		limit = MaxErrorLimit
	}

	jobs, err := a.history.RecentFailures(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load failed jobs: %w", err)
	}

	entries := make([]ErrorEntry, 0, len(jobs))
	for _, j := range jobs {
		entry := ErrorEntry{
			ID:           j.ID,
			CampaignID:   j.CampaignID,
			SubscriberID: j.SubscriberID,
			CreatedAt:    j.CreatedAt,
			FailedAt:     j.UpdatedAt,
		}
		if j.LastError != nil {
			entry.Message = *j.LastError
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
