package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/email-delivery/internal/analytics"
	"github.com/cuongbtq/email-delivery/internal/deliverability"
	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/metrics"
	"github.com/cuongbtq/email-delivery/internal/storage"
)

// JobRepository is the slice of the job store the admin API needs
type JobRepository interface {
	Enqueue(ctx context.Context, job *domain.EmailJob) (string, error)
	GetByID(ctx context.Context, jobID string) (*domain.EmailJob, error)
	Delete(ctx context.Context, jobID string) error
	List(ctx context.Context, filter storage.JobFilter) ([]domain.EmailJob, error)
}

// SuppressedLister reports suppressed leads
type SuppressedLister interface {
	ListSuppressed(ctx context.Context, filter storage.SuppressedFilter) ([]domain.SuppressedLead, int, error)
}

// SuppressionService applies lead-level suppression changes
type SuppressionService interface {
	Unsubscribe(ctx context.Context, token string) (*domain.Lead, error)
	Reinstate(ctx context.Context, leadID string) (*domain.Lead, error)
}

// CampaignSender expands a campaign into jobs
type CampaignSender interface {
	SendCampaign(ctx context.Context, campaignID string) (int, error)
}

// AutomationRepository controls automations and their enrollments
type AutomationRepository interface {
	Get(ctx context.Context, id string) (*domain.Automation, error)
	SetStatus(ctx context.Context, id, status string) error
	Enroll(ctx context.Context, automationID, leadID string, now time.Time) (*domain.Enrollment, error)
}

// LeadFinder resolves a lead before enrollment
type LeadFinder interface {
	GetByID(ctx context.Context, id string) (*domain.Lead, error)
}

// DeliverabilityService answers the DNS and checklist endpoints
type DeliverabilityService interface {
	Status(ctx context.Context) deliverability.Status
	Checklist(ctx context.Context) (*deliverability.Checklist, error)
	Acknowledge(ctx context.Context, itemID, by string) (*domain.ChecklistAck, error)
}

// AnalyticsService answers the trends and errors endpoints
type AnalyticsService interface {
	Trends(ctx context.Context, windowDays int) (*analytics.Trends, error)
	RecentErrors(ctx context.Context, limit int) ([]analytics.ErrorEntry, error)
}

// Notifier wakes dispatcher workers after new jobs are stored
type Notifier interface {
	JobsEnqueued(ctx context.Context, jobIDs []string, runAt time.Time) error
}

// HealthChecker reports database reachability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	DB             HealthChecker
	Jobs           JobRepository
	Leads          LeadFinder
	Suppressed     SuppressedLister
	Suppression    SuppressionService
	Campaigns      CampaignSender
	Automations    AutomationRepository
	Deliverability DeliverabilityService
	Analytics      AnalyticsService
	Notifier       Notifier
	Metrics        *metrics.Metrics

	// DefaultMaxAttempts applies to transactional jobs that do not set one
	DefaultMaxAttempts int
	Version            string
	Now                func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger      *slog.Logger
	jobs        JobRepository
	notifier    Notifier
	metrics     *metrics.Metrics
	maxAttempts int
	now         func() time.Time
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxAttempts := deps.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	return &JobHandler{
		logger:      deps.Logger,
		jobs:        deps.Jobs,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		maxAttempts: maxAttempts,
		now:         deps.now,
	}
}

// LeadHandler handles unsubscribe and reinstate requests
type LeadHandler struct {
	logger      *slog.Logger
	suppression SuppressionService
}

// NewLeadHandler creates a new LeadHandler instance
func NewLeadHandler(deps *Dependencies) *LeadHandler {
	return &LeadHandler{
		logger:      deps.Logger,
		suppression: deps.Suppression,
	}
}

// CampaignHandler handles campaign send triggers
type CampaignHandler struct {
	logger    *slog.Logger
	campaigns CampaignSender
}

// NewCampaignHandler creates a new CampaignHandler instance
func NewCampaignHandler(deps *Dependencies) *CampaignHandler {
	return &CampaignHandler{
		logger:    deps.Logger,
		campaigns: deps.Campaigns,
	}
}

// AutomationHandler handles automation control requests
type AutomationHandler struct {
	logger      *slog.Logger
	automations AutomationRepository
	leads       LeadFinder
	now         func() time.Time
}

// NewAutomationHandler creates a new AutomationHandler instance
func NewAutomationHandler(deps *Dependencies) *AutomationHandler {
	return &AutomationHandler{
		logger:      deps.Logger,
		automations: deps.Automations,
		leads:       deps.Leads,
		now:         deps.now,
	}
}

// DeliverabilityHandler serves the deliverability dashboard endpoints
type DeliverabilityHandler struct {
	logger         *slog.Logger
	deliverability DeliverabilityService
	analytics      AnalyticsService
	suppressed     SuppressedLister
}

// NewDeliverabilityHandler creates a new DeliverabilityHandler instance
func NewDeliverabilityHandler(deps *Dependencies) *DeliverabilityHandler {
	return &DeliverabilityHandler{
		logger:         deps.Logger,
		deliverability: deps.Deliverability,
		analytics:      deps.Analytics,
		suppressed:     deps.Suppressed,
	}
}

// HealthHandler reports service health
type HealthHandler struct {
	db      HealthChecker
	version string
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		db:      deps.DB,
		version: deps.Version,
	}
}
