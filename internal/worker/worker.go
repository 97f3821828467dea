// Package worker runs the dispatcher loop that turns queued email jobs into
// delivery attempts.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/metrics"
	"github.com/cuongbtq/email-delivery/internal/ratelimit"
	"github.com/cuongbtq/email-delivery/internal/transport"
	"github.com/google/uuid"
)

// JobStore is the part of the job store the dispatcher mutates
type JobStore interface {
	ClaimNext(ctx context.Context, limit int, now time.Time, token string) ([]domain.EmailJob, error)
	Touch(ctx context.Context, c domain.Claim, now time.Time) error
	MarkSent(ctx context.Context, c domain.Claim) error
	MarkFailedOrRetry(ctx context.Context, c domain.Claim, f domain.Failure) (domain.JobStatus, error)
	MarkSkipped(ctx context.Context, c domain.Claim, reason domain.SkipReason) error
	Defer(ctx context.Context, c domain.Claim, runAt time.Time) error
	RecoverStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Guard decides whether a claimed job may be sent
type Guard interface {
	Check(ctx context.Context, job *domain.EmailJob) (domain.SkipReason, error)
	RecordPermanentFailure(ctx context.Context, job *domain.EmailJob) error
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Jobs         JobStore
	Guard        Guard
	Limiter      ratelimit.Limiter
	Sender       transport.Sender
	Metrics      *metrics.Metrics
	Concurrency  int
	BatchSize    int
	TickInterval time.Duration
	SendTimeout  time.Duration
	ParkInterval time.Duration
	LockTTL      time.Duration
	Backoff      Backoff
	// DryRun bypasses the rate limiter. The sender is expected to be a
	// transport.DrySender in that mode.
	DryRun bool
	Now    func() time.Time
}

// Worker represents the dispatcher loop and its bounded pool
type Worker struct {
	logger       *slog.Logger
	jobs         JobStore
	guard        Guard
	limiter      ratelimit.Limiter
	sender       transport.Sender
	metrics      *metrics.Metrics
	workerID     string
	concurrency  int
	batchSize    int
	tickInterval time.Duration
	sendTimeout  time.Duration
	parkInterval time.Duration
	lockTTL      time.Duration
	backoff      Backoff
	dryRun       bool
	now          func() time.Time

	jobsChan chan *task
	wakeChan chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	// lifecycle orders wg.Add in Start against Stop
	lifecycle sync.Mutex

	// parked is set once per tick when the transport is unconfigured
	parked atomic.Bool
}

// task is one claimed job handed to the pool
type task struct {
	job  domain.EmailJob
	done func()
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = concurrency
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Worker{
		logger:       cfg.Logger,
		jobs:         cfg.Jobs,
		guard:        cfg.Guard,
		limiter:      cfg.Limiter,
		sender:       cfg.Sender,
		metrics:      cfg.Metrics,
		workerID:     "worker-" + uuid.NewString()[:8],
		concurrency:  concurrency,
		batchSize:    batchSize,
		tickInterval: cfg.TickInterval,
		sendTimeout:  cfg.SendTimeout,
		parkInterval: cfg.ParkInterval,
		lockTTL:      cfg.LockTTL,
		backoff:      cfg.Backoff,
		dryRun:       cfg.DryRun,
		now:          now,
		jobsChan:     make(chan *task),
		wakeChan:     make(chan struct{}, 1),
		stopChan:     make(chan struct{}),
	}
}

// Start runs the tick loop until ctx is canceled or Stop is called.
// Ticks never overlap: each one waits for its batch before returning.
func (w *Worker) Start(ctx context.Context) error {
	if w.tickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}

	if !w.enter() {
		w.logger.Info("Worker stopped before start", slog.String("worker_id", w.workerID))
		return nil
	}
	defer w.wg.Done()

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("batch_size", w.batchSize),
		slog.Duration("tick_interval", w.tickInterval),
		slog.String("transport", w.sender.Name()),
		slog.Bool("dry_run", w.dryRun),
	)

	// In-flight jobs finish their store updates even after ctx is canceled.
	jobCtx := context.WithoutCancel(ctx)
	w.spawnWorkerPool(jobCtx)
	defer close(w.jobsChan)

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	w.Tick(jobCtx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker context canceled, stopping...")
			return nil
		case <-w.stopChan:
			return nil
		case <-ticker.C:
			w.Tick(jobCtx)
		case <-w.wakeChan:
			w.logger.Debug("Wake-up received, running early tick")
			w.Tick(jobCtx)
		}
	}
}

// Wake requests an early tick. Extra requests collapse into one.
func (w *Worker) Wake() {
	select {
	case w.wakeChan <- struct{}{}:
	default:
	}
}

// Stop gracefully stops the worker, waiting for the in-flight batch
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.lifecycle.Lock()
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.lifecycle.Unlock()
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// enter registers a long-running goroutine with wg. It fails once Stop has
// been called, so Stop never returns while a Start is still spinning up.
func (w *Worker) enter() bool {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	select {
	case <-w.stopChan:
		return false
	default:
	}
	w.wg.Add(1)
	return true
}

// Tick recovers stale claims, claims one batch of ready jobs and processes
// it on the pool. It returns once every job of the batch is settled.
func (w *Worker) Tick(ctx context.Context) int {
	start := w.now()
	defer func() { w.metrics.RecordTick(time.Since(start)) }()
	w.parked.Store(false)

	if w.lockTTL > 0 {
		recovered, err := w.jobs.RecoverStale(ctx, start.Add(-w.lockTTL))
		if err != nil {
			w.logger.Error("Failed to recover stale jobs", slog.Any("error", err))
		} else if recovered > 0 {
			w.logger.Warn("Recovered stale processing jobs", slog.Int64("count", recovered))
		}
	}

	// each batch gets its own token so a recovered claim cannot be
	// settled by the dispatcher that lost it
	token := w.workerID + "/" + uuid.NewString()
	jobs, err := w.jobs.ClaimNext(ctx, w.batchSize, start, token)
	if err != nil {
		w.logger.Error("Failed to claim jobs", slog.Any("error", err))
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	w.logger.Debug("Claimed jobs",
		slog.String("worker_id", w.workerID),
		slog.Int("count", len(jobs)),
	)

	var batch sync.WaitGroup
	for i := range jobs {
		batch.Add(1)
		w.jobsChan <- &task{job: jobs[i], done: batch.Done}
	}
	batch.Wait()

	return len(jobs)
}
