package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

type fakeHistory struct {
	counts   []storage.DailyCount
	failures []domain.EmailJob
	since    time.Time
	limit    int
	err      error
}

func (f *fakeHistory) DailyStatusCounts(_ context.Context, since time.Time) ([]storage.DailyCount, error) {
	f.since = since
	return f.counts, f.err
}

func (f *fakeHistory) RecentFailures(_ context.Context, limit int) ([]domain.EmailJob, error) {
	f.limit = limit
	return f.failures, f.err
}

func newTestAggregator(h *fakeHistory) *Aggregator {
	a := NewAggregator(h)
	a.now = func() time.Time { return testNow }
	return a
}

func day(offset int) time.Time {
	return time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestClampWindow(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{in: 0, want: 7},
		{in: -3, want: 7},
		{in: 1, want: 1},
		{in: 30, want: 30},
		{in: 90, want: 90},
		{in: 365, want: 90},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampWindow(tt.in), tt.in)
	}
}

func TestAggregator_Trends_OneOfEach(t *testing.T) {
	h := &fakeHistory{counts: []storage.DailyCount{
		{Day: day(0), Status: domain.JobStatusQueued, Count: 1},
		{Day: day(0), Status: domain.JobStatusSent, Count: 1},
		{Day: day(0), Status: domain.JobStatusFailed, Count: 1},
		{Day: day(0), Status: domain.JobStatusSkipped, Count: 1},
	}}

	trends, err := newTestAggregator(h).Trends(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, Totals{Queued: 1, Sent: 1, Failed: 1, Skipped: 1}, trends.Summary.Totals)
	assert.Equal(t, 0.5, trends.Summary.DeliveryRate)
	assert.Equal(t, 0.5, trends.Summary.FailureRate)
	assert.Equal(t, 0.25, trends.Summary.SkipRate)
	assert.Equal(t, 7, trends.WindowDays)
	require.Len(t, trends.Labels, 7)
	assert.Equal(t, "2026-03-04", trends.Labels[0])
	assert.Equal(t, "2026-03-10", trends.Labels[6])
	assert.Equal(t, day(-6), h.since)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 0, 1}, trends.Series.Sent)
}

func TestAggregator_Trends_Buckets(t *testing.T) {
	h := &fakeHistory{counts: []storage.DailyCount{
		{Day: day(-2), Status: domain.JobStatusSent, Count: 8},
		{Day: day(-2), Status: domain.JobStatusProcessing, Count: 2},
		{Day: day(-1), Status: domain.JobStatusSent, Count: 3},
		{Day: day(-1), Status: domain.JobStatusFailed, Count: 1},
		// outside the window
		{Day: day(-5), Status: domain.JobStatusSent, Count: 100},
	}}

	trends, err := newTestAggregator(h).Trends(context.Background(), 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"2026-03-08", "2026-03-09", "2026-03-10"}, trends.Labels)
	assert.Equal(t, []int{8, 3, 0}, trends.Series.Sent)
	assert.Equal(t, []int{2, 0, 0}, trends.Series.Queued)
	assert.Equal(t, []int{0, 1, 0}, trends.Series.Failed)
	assert.Equal(t, 11, trends.Summary.Totals.Sent)
	assert.Equal(t, 0.9167, trends.Summary.DeliveryRate)
}

func TestAggregator_Trends_ZeroDenominators(t *testing.T) {
	trends, err := newTestAggregator(&fakeHistory{}).Trends(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, DefaultWindowDays, trends.WindowDays)
	assert.Equal(t, 0.0, trends.Summary.DeliveryRate)
	assert.Equal(t, 0.0, trends.Summary.FailureRate)
	assert.Equal(t, 0.0, trends.Summary.SkipRate)

	skippedOnly := &fakeHistory{counts: []storage.DailyCount{{Day: day(0), Status: domain.JobStatusSkipped, Count: 4}}}
	trends, err = newTestAggregator(skippedOnly).Trends(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0.0, trends.Summary.DeliveryRate)
	assert.Equal(t, 0.0, trends.Summary.FailureRate)
	assert.Equal(t, 1.0, trends.Summary.SkipRate)
}

func TestAggregator_Trends_Error(t *testing.T) {
	_, err := newTestAggregator(&fakeHistory{err: errors.New("db down")}).Trends(context.Background(), 7)
	assert.Error(t, err)
}

func TestAggregator_RecentErrors(t *testing.T) {
	campaign := "c1"
	msg1, msg2 := "550 mailbox unavailable", "421 try later"
	h := &fakeHistory{failures: []domain.EmailJob{
		{ID: "j2", CampaignID: &campaign, LastError: &msg1, UpdatedAt: testNow},
		{ID: "j1", LastError: &msg2, UpdatedAt: testNow.Add(-time.Hour)},
	}}
	a := newTestAggregator(h)

	entries, err := a.RecentErrors(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultErrorLimit, h.limit)
	require.Len(t, entries, 2)
	assert.Equal(t, "j2", entries[0].ID)
	assert.Equal(t, msg1, entries[0].Message)
	assert.Equal(t, &campaign, entries[0].CampaignID)
	assert.Nil(t, entries[1].CampaignID)

	_, err = a.RecentErrors(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, MaxErrorLimit, h.limit)
}
