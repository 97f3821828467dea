// Package scheduler expands campaigns and automation steps into email jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/metrics"
)

// CampaignRepository is the campaign persistence the scheduler needs
type CampaignRepository interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	ClaimForSending(ctx context.Context, id string) (*domain.Campaign, error)
	MarkSent(ctx context.Context, id string) error
	Release(ctx context.Context, id, status string) error
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
}

// LeadSource resolves recipients
type LeadSource interface {
	GetByID(ctx context.Context, id string) (*domain.Lead, error)
	FindAudience(ctx context.Context, filter domain.AudienceFilter, includeTest bool) ([]domain.Lead, error)
}

// AutomationRepository is the automation persistence the scheduler needs
type AutomationRepository interface {
	Get(ctx context.Context, id string) (*domain.Automation, error)
	ClaimDueEnrollments(ctx context.Context, now time.Time, lockTTL time.Duration, limit int) ([]domain.Enrollment, error)
	Advance(ctx context.Context, id string, nextStep int, nextRunAt time.Time, completed bool) error
	Release(ctx context.Context, id string) error
}

// JobQueue persists new jobs
type JobQueue interface {
	Enqueue(ctx context.Context, job *domain.EmailJob) (string, error)
	EnqueueBatch(ctx context.Context, jobs []domain.EmailJob) ([]string, error)
}

// QueueStats reports job counts per status
type QueueStats interface {
	StatusCounts(ctx context.Context) (map[domain.JobStatus]int, error)
}

// Notifier announces enqueued jobs to dispatchers
type Notifier interface {
	JobsEnqueued(ctx context.Context, jobIDs []string, runAt time.Time) error
}

// Config holds scheduler configuration
type Config struct {
	Logger       *slog.Logger
	Campaigns    CampaignRepository
	Leads        LeadSource
	Automations  AutomationRepository
	Jobs         JobQueue
	Stats        QueueStats
	Notifier     Notifier
	Metrics      *metrics.Metrics
	PublicURL    string
	TestSendMode bool
	MaxAttempts  int
	TickInterval time.Duration
	BatchSize    int
	LockTTL      time.Duration
	Now          func() time.Time
}

// Scheduler runs the campaign and automation ticks
type Scheduler struct {
	logger       *slog.Logger
	campaigns    CampaignRepository
	leads        LeadSource
	automations  AutomationRepository
	jobs         JobQueue
	stats        QueueStats
	notifier     Notifier
	metrics      *metrics.Metrics
	publicURL    string
	testSendMode bool
	maxAttempts  int
	tickInterval time.Duration
	batchSize    int
	lockTTL      time.Duration
	now          func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Scheduler
func New(cfg *Config) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}

	return &Scheduler{
		logger:       cfg.Logger,
		campaigns:    cfg.Campaigns,
		leads:        cfg.Leads,
		automations:  cfg.Automations,
		jobs:         cfg.Jobs,
		stats:        cfg.Stats,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		publicURL:    cfg.PublicURL,
		testSendMode: cfg.TestSendMode,
		maxAttempts:  maxAttempts,
		tickInterval: cfg.TickInterval,
		batchSize:    batchSize,
		lockTTL:      cfg.LockTTL,
		now:          now,
		stopChan:     make(chan struct{}),
	}
}

// Start runs Tick on every interval until ctx is canceled or Stop is called
func (s *Scheduler) Start(ctx context.Context) error {
	if s.tickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}

	s.logger.Info("Starting scheduler",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("automation_batch_size", s.batchSize),
	)

	s.wg.Add(1)
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context canceled, stopping...")
			return nil
		case <-s.stopChan:
			return nil
		case <-ticker.C:
		}
	}
}

// Stop stops the tick loop and waits for the running tick
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// Tick sends due scheduled campaigns, executes due automation steps and
// refreshes the queue depth gauge.
func (s *Scheduler) Tick(ctx context.Context) {
	s.SendDueCampaigns(ctx)
	s.RunAutomations(ctx)

	if s.stats != nil {
		counts, err := s.stats.StatusCounts(ctx)
		if err != nil {
			s.logger.Warn("Failed to read queue depth", slog.Any("error", err))
			return
		}
		depth := make(map[string]int, len(counts))
		for _, status := range domain.JobStatuses {
			depth[string(status)] = counts[status]
		}
		s.metrics.SetQueueDepth(depth)
	}
}

func (s *Scheduler) notify(ctx context.Context, ids []string, runAt time.Time) {
	if s.notifier == nil || len(ids) == 0 {
		return
	}
	if err := s.notifier.JobsEnqueued(ctx, ids, runAt); err != nil {
		s.logger.Debug("Wake-up notification dropped", slog.Any("error", err))
	}
}
