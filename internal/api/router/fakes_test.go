package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/email-delivery/internal/analytics"
	"github.com/cuongbtq/email-delivery/internal/api/handler"
	"github.com/cuongbtq/email-delivery/internal/deliverability"
	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/storage"
)

var errBoom = errors.New("boom")

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]*domain.EmailJob
	list      []domain.EmailJob
	lastQuery storage.JobFilter
	deleteErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*domain.EmailJob{}}
}

func (f *fakeJobs) Enqueue(_ context.Context, job *domain.EmailJob) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = "6f1c1a52-5b0e-4a8e-9d38-000000000001"
	job.Status = domain.JobStatusQueued
	job.CreatedAt = job.RunAt
	job.UpdatedAt = job.RunAt
	f.jobs[job.ID] = job
	return job.ID, nil
}

func (f *fakeJobs) GetByID(_ context.Context, id string) (*domain.EmailJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) Delete(_ context.Context, id string) error {
	return f.deleteErr
}

func (f *fakeJobs) List(_ context.Context, filter storage.JobFilter) ([]domain.EmailJob, error) {
	f.lastQuery = filter
	n := min(len(f.list), filter.PageSize+1)
	return f.list[:n], nil
}

type fakeNotifier struct {
	ids []string
}

func (f *fakeNotifier) JobsEnqueued(_ context.Context, ids []string, _ time.Time) error {
	f.ids = append(f.ids, ids...)
	return nil
}

type fakeLeads struct {
	leads      map[string]*domain.Lead
	suppressed []domain.SuppressedLead
	lastFilter storage.SuppressedFilter
}

func (f *fakeLeads) GetByID(_ context.Context, id string) (*domain.Lead, error) {
	lead, ok := f.leads[id]
	if !ok {
		return nil, domain.ErrLeadNotFound
	}
	return lead, nil
}

func (f *fakeLeads) ListSuppressed(_ context.Context, filter storage.SuppressedFilter) ([]domain.SuppressedLead, int, error) {
	f.lastFilter = filter
	start := (filter.Page - 1) * filter.Limit
	if start >= len(f.suppressed) {
		return []domain.SuppressedLead{}, len(f.suppressed), nil
	}
	end := min(start+filter.Limit, len(f.suppressed))
	return f.suppressed[start:end], len(f.suppressed), nil
}

type fakeSuppression struct {
	tokens map[string]*domain.Lead
	leads  map[string]*domain.Lead
}

func (f *fakeSuppression) Unsubscribe(_ context.Context, token string) (*domain.Lead, error) {
	lead, ok := f.tokens[token]
	if !ok {
		return nil, domain.ErrLeadNotFound
	}
	lead.IsUnsubscribed = true
	return lead, nil
}

func (f *fakeSuppression) Reinstate(_ context.Context, id string) (*domain.Lead, error) {
	lead, ok := f.leads[id]
	if !ok {
		return nil, domain.ErrLeadNotFound
	}
	lead.IsUnsubscribed = false
	lead.EmailInvalid = false
	lead.EmailFailureCount = 0
	return lead, nil
}

type fakeCampaigns struct {
	created int
	err     error
}

func (f *fakeCampaigns) SendCampaign(context.Context, string) (int, error) {
	return f.created, f.err
}

type fakeAutomations struct {
	automations map[string]string
}

func (f *fakeAutomations) Get(_ context.Context, id string) (*domain.Automation, error) {
	status, ok := f.automations[id]
	if !ok {
		return nil, domain.ErrAutomationNotFound
	}
	return &domain.Automation{ID: id, Status: status}, nil
}

func (f *fakeAutomations) SetStatus(_ context.Context, id, status string) error {
	if _, ok := f.automations[id]; !ok {
		return domain.ErrAutomationNotFound
	}
	f.automations[id] = status
	return nil
}

func (f *fakeAutomations) Enroll(_ context.Context, automationID, leadID string, now time.Time) (*domain.Enrollment, error) {
	return &domain.Enrollment{
		ID:           "e1",
		AutomationID: automationID,
		LeadID:       leadID,
		Status:       domain.EnrollmentStatusActive,
		NextRunAt:    now,
	}, nil
}

type fakeMonitor struct {
	status deliverability.Status
	acks   map[string]domain.ChecklistAck
	ackErr error
}

func (f *fakeMonitor) Status(context.Context) deliverability.Status {
	return f.status
}

func (f *fakeMonitor) Checklist(context.Context) (*deliverability.Checklist, error) {
	return &deliverability.Checklist{
		DNS:              f.status,
		Config:           deliverability.ConfigReport{SMTPConfigured: false},
		RecordTemplates:  []deliverability.RecordTemplate{},
		Recommendations:  []deliverability.Recommendation{},
		Acknowledgements: f.acks,
	}, nil
}

func (f *fakeMonitor) Acknowledge(_ context.Context, itemID, by string) (*domain.ChecklistAck, error) {
	if f.ackErr != nil {
		return nil, f.ackErr
	}
	if !deliverability.KnownItem(itemID) {
		return nil, domain.ErrUnknownChecklistItem
	}
	ack := domain.ChecklistAck{
		ItemID:         itemID,
		AcknowledgedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		AcknowledgedBy: by,
	}
	f.acks[itemID] = ack
	return &ack, nil
}

type fakeAnalytics struct {
	window int
	limit  int
	errors []analytics.ErrorEntry
	err    error
}

func (f *fakeAnalytics) Trends(_ context.Context, window int) (*analytics.Trends, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.window = window
	days := analytics.ClampWindow(window)
	return &analytics.Trends{
		WindowDays: days,
		Labels:     make([]string, days),
		Summary: analytics.Summary{
			Totals: analytics.Totals{Queued: 1, Sent: 1, Failed: 1, Skipped: 1},
		},
	}, nil
}

func (f *fakeAnalytics) RecentErrors(_ context.Context, limit int) ([]analytics.ErrorEntry, error) {
	f.limit = limit
	return f.errors, f.err
}

type fakeDB struct {
	err error
}

func (f *fakeDB) HealthCheck(context.Context) error {
	return f.err
}

type fixture struct {
	jobs        *fakeJobs
	notifier    *fakeNotifier
	leads       *fakeLeads
	suppression *fakeSuppression
	campaigns   *fakeCampaigns
	automations *fakeAutomations
	monitor     *fakeMonitor
	analytics   *fakeAnalytics
	db          *fakeDB
	now         time.Time
}

func newFixture() *fixture {
	lead := &domain.Lead{ID: "l1", Email: "a@example.com", EmailInvalid: true, EmailFailureCount: 3}
	return &fixture{
		jobs:        newFakeJobs(),
		notifier:    &fakeNotifier{},
		leads:       &fakeLeads{leads: map[string]*domain.Lead{"l1": lead}},
		suppression: &fakeSuppression{tokens: map[string]*domain.Lead{"tok": lead}, leads: map[string]*domain.Lead{"l1": lead}},
		campaigns:   &fakeCampaigns{},
		automations: &fakeAutomations{automations: map[string]string{"a1": domain.AutomationStatusActive}},
		monitor:     &fakeMonitor{acks: map[string]domain.ChecklistAck{}},
		analytics:   &fakeAnalytics{},
		db:          &fakeDB{},
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) deps() *handler.Dependencies {
	return &handler.Dependencies{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		DB:             f.db,
		Jobs:           f.jobs,
		Leads:          f.leads,
		Suppressed:     f.leads,
		Suppression:    f.suppression,
		Campaigns:      f.campaigns,
		Automations:    f.automations,
		Deliverability: f.monitor,
		Analytics:      f.analytics,
		Notifier:       f.notifier,
		Version:        "test",
		Now:            func() time.Time { return f.now },
	}
}
