package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/metrics"
	"github.com/cuongbtq/email-delivery/internal/transport"
	"github.com/cuongbtq/email-delivery/shared/logger"
)

// processJob drives one claimed job out of processing and returns the
// outcome label recorded in metrics.
func (w *Worker) processJob(ctx context.Context, job *domain.EmailJob) string {
	log := w.logger.With(
		slog.String("job_id", job.ID),
		logger.Email("to", job.ToEmail),
	)

	// Step 1: renew the claim now that a pool goroutine owns the job. The
	// lock was taken at claim time and the job may have waited behind the
	// rest of its batch.
	claim := job.Claim()
	if err := w.jobs.Touch(ctx, claim, w.now()); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Warn("Claim was recovered by another dispatcher, dropping job")
		} else {
			log.Error("Failed to renew claim, leaving job for stale recovery", slog.Any("error", err))
		}
		return metrics.OutcomeLost
	}

	// Step 2: suppression runs before the limiter so skips cost no budget
	reason, err := w.guard.Check(ctx, job)
	if err != nil {
		log.Error("Suppression check failed, deferring job", slog.Any("error", err))
		return w.deferJob(ctx, log, claim, w.now().Add(w.tickInterval), metrics.OutcomeDeferred)
	}
	if reason != "" {
		if err := w.jobs.MarkSkipped(ctx, claim, reason); err != nil {
			log.Error("Failed to mark job skipped", slog.Any("error", err))
		} else {
			log.Info("Job skipped", slog.String("reason", string(reason)))
		}
		return metrics.OutcomeSkipped
	}

	// Step 3: a missing transport parks the job without spending send budget
	if !transport.Configured(w.sender) {
		return w.park(ctx, log, claim)
	}

	// Step 4: rate limit, never counted as an attempt
	if !w.dryRun {
		decision, err := w.limiter.TryConsume(ctx)
		switch {
		case err != nil:
			w.metrics.RecordLimiter("error")
			log.Warn("Rate limiter unavailable, deferring job", slog.Any("error", err))
			return w.deferJob(ctx, log, claim, w.now().Add(w.tickInterval), metrics.OutcomeDeferred)
		case !decision.Allowed:
			w.metrics.RecordLimiter("denied")
			return w.deferJob(ctx, log, claim, w.now().Add(decision.RetryAfter), metrics.OutcomeDeferred)
		default:
			w.metrics.RecordLimiter("allowed")
		}
	}

	// Step 5: hand off to the transport with a bounded timeout
	err = w.send(ctx, job)
	if err == nil {
		if err := w.jobs.MarkSent(ctx, claim); err != nil {
			log.Error("Failed to mark job sent", slog.Any("error", err))
		} else {
			log.Info("Job sent", slog.String("transport", w.sender.Name()))
		}
		return metrics.OutcomeSent
	}

	if errors.Is(err, transport.ErrNotConfigured) {
		return w.park(ctx, log, claim)
	}

	return w.recordFailure(ctx, log, job, err)
}

func (w *Worker) send(ctx context.Context, job *domain.EmailJob) error {
	sendCtx := ctx
	if w.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, w.sendTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.sender.Send(sendCtx, messageFor(job))
	result := "ok"
	if err != nil {
		result = "error"
	}
	w.metrics.RecordSend(w.sender.Name(), result, time.Since(start))

	return err
}

// recordFailure applies the retry policy. Permanent failures end the job at
// once and count against the lead.
func (w *Worker) recordFailure(ctx context.Context, log *slog.Logger, job *domain.EmailJob, sendErr error) string {
	failure := domain.Failure{
		Message:   sendErr.Error(),
		Permanent: domain.IsPermanent(sendErr),
		RetryAt:   w.now().Add(w.backoff.Delay(job.Attempts + 1)),
	}

	status, err := w.jobs.MarkFailedOrRetry(ctx, job.Claim(), failure)
	if err != nil {
		log.Error("Failed to record send failure",
			slog.String("send_error", sendErr.Error()),
			slog.Any("error", err),
		)
		return metrics.OutcomeFailed
	}

	if failure.Permanent {
		if err := w.guard.RecordPermanentFailure(ctx, job); err != nil {
			log.Error("Failed to record permanent failure on lead", slog.Any("error", err))
		}
	}

	if status == domain.JobStatusQueued {
		log.Warn("Send failed, job will be retried",
			slog.Int("attempts", job.Attempts+1),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Time("retry_at", failure.RetryAt),
			slog.String("error", failure.Message),
		)
		return metrics.OutcomeRetry
	}

	log.Error("Send failed permanently",
		slog.Bool("permanent", failure.Permanent),
		slog.String("error", failure.Message),
	)
	return metrics.OutcomeFailed
}

// park defers the job by the park interval, warning once per tick
func (w *Worker) park(ctx context.Context, log *slog.Logger, claim domain.Claim) string {
	if !w.parked.Swap(true) {
		w.logger.Warn("Mail transport is not configured, parking jobs",
			slog.Duration("park_interval", w.parkInterval),
		)
	}
	return w.deferJob(ctx, log, claim, w.now().Add(w.parkInterval), metrics.OutcomeParked)
}

func (w *Worker) deferJob(ctx context.Context, log *slog.Logger, claim domain.Claim, runAt time.Time, outcome string) string {
	if err := w.jobs.Defer(ctx, claim, runAt); err != nil {
		log.Error("Failed to defer job", slog.Any("error", err))
		return outcome
	}
	log.Debug("Job deferred", slog.Time("run_at", runAt), slog.String("outcome", outcome))
	return outcome
}

func messageFor(job *domain.EmailJob) *transport.Message {
	msg := &transport.Message{
		JobID:          job.ID,
		To:             job.ToEmail,
		FromEmail:      job.Payload.FromEmail,
		FromName:       job.Payload.FromName,
		ReplyTo:        job.Payload.ReplyTo,
		Subject:        job.Payload.Subject,
		HTML:           job.Payload.HTML,
		Text:           job.Payload.Text,
		UnsubscribeURL: job.Payload.UnsubscribeURL,
	}
	if job.CampaignID != nil {
		msg.CampaignID = *job.CampaignID
	}
	return msg
}
