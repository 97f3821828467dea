package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/email-delivery/internal/domain"
	"github.com/cuongbtq/email-delivery/internal/ratelimit"
	"github.com/cuongbtq/email-delivery/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore mimics the conditional updates of the SQL job store
type fakeStore struct {
	mu          sync.Mutex
	jobs        map[string]*domain.EmailJob
	transitions map[string]int
	claimErr    error
}

func newFakeStore(jobs ...domain.EmailJob) *fakeStore {
	s := &fakeStore{
		jobs:        make(map[string]*domain.EmailJob),
		transitions: make(map[string]int),
	}
	for i := range jobs {
		job := jobs[i]
		if job.Status == "" {
			job.Status = domain.JobStatusQueued
		}
		if job.MaxAttempts == 0 {
			job.MaxAttempts = domain.DefaultMaxAttempts
		}
		s.jobs[job.ID] = &job
	}
	return s
}

func (s *fakeStore) get(id string) domain.EmailJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeStore) ClaimNext(_ context.Context, limit int, now time.Time, token string) ([]domain.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimErr != nil {
		return nil, s.claimErr
	}

	var ready []*domain.EmailJob
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusQueued && !job.RunAt.After(now) {
			ready = append(ready, job)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].RunAt.Equal(ready[j].RunAt) {
			return ready[i].RunAt.Before(ready[j].RunAt)
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}

	claimed := make([]domain.EmailJob, 0, len(ready))
	for _, job := range ready {
		lockedAt, lockedBy := now, token
		job.Status = domain.JobStatusProcessing
		job.LockedAt = &lockedAt
		job.LockedBy = &lockedBy
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

// held returns the job when c still holds its lock
func (s *fakeStore) held(c domain.Claim) (*domain.EmailJob, error) {
	job, ok := s.jobs[c.JobID]
	if !ok || job.Status != domain.JobStatusProcessing || job.LockedBy == nil || *job.LockedBy != c.Token {
		return nil, domain.ErrInvalidTransition
	}
	return job, nil
}

func release(job *domain.EmailJob) {
	job.LockedAt = nil
	job.LockedBy = nil
}

func (s *fakeStore) Touch(_ context.Context, c domain.Claim, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.held(c)
	if err != nil {
		return err
	}
	job.LockedAt = &now
	return nil
}

func (s *fakeStore) MarkSent(_ context.Context, c domain.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.held(c)
	if err != nil {
		return err
	}
	job.Status = domain.JobStatusSent
	job.Attempts = min(job.Attempts+1, job.MaxAttempts)
	release(job)
	s.transitions[c.JobID]++
	return nil
}

func (s *fakeStore) MarkFailedOrRetry(_ context.Context, c domain.Claim, f domain.Failure) (domain.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.held(c)
	if err != nil {
		return "", err
	}
	job.Attempts = min(job.Attempts+1, job.MaxAttempts)
	msg := f.Message
	job.LastError = &msg
	release(job)
	if f.Permanent || job.Attempts >= job.MaxAttempts {
		job.Status = domain.JobStatusFailed
		s.transitions[c.JobID]++
	} else {
		job.Status = domain.JobStatusQueued
		job.RunAt = f.RetryAt
	}
	return job.Status, nil
}

func (s *fakeStore) MarkSkipped(_ context.Context, c domain.Claim, reason domain.SkipReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.held(c)
	if err != nil {
		return err
	}
	r := string(reason)
	job.Status = domain.JobStatusSkipped
	job.SkipReason = &r
	job.LastError = nil
	release(job)
	return nil
}

func (s *fakeStore) Defer(_ context.Context, c domain.Claim, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.held(c)
	if err != nil {
		return err
	}
	job.Status = domain.JobStatusQueued
	job.RunAt = runAt
	release(job)
	return nil
}

func (s *fakeStore) RecoverStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusProcessing && job.LockedAt != nil && job.LockedAt.Before(cutoff) {
			job.Status = domain.JobStatusQueued
			release(job)
			n++
		}
	}
	return n, nil
}

type fakeGuard struct {
	mu        sync.Mutex
	skip      map[string]domain.SkipReason
	err       error
	permanent []string
}

func (g *fakeGuard) Check(_ context.Context, job *domain.EmailJob) (domain.SkipReason, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.skip[job.ToEmail], nil
}

func (g *fakeGuard) RecordPermanentFailure(_ context.Context, job *domain.EmailJob) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.permanent = append(g.permanent, job.ID)
	return nil
}

type fakeLimiter struct {
	mu       sync.Mutex
	decision ratelimit.Decision
	err      error
	calls    int
}

func allowAll() *fakeLimiter {
	return &fakeLimiter{decision: ratelimit.Decision{Allowed: true}}
}

func (l *fakeLimiter) TryConsume(context.Context) (ratelimit.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.decision, l.err
}

type fakeSender struct {
	mu    sync.Mutex
	sends map[string]int
	err   error
	delay time.Duration
}

func newFakeSender(err error) *fakeSender {
	return &fakeSender{sends: make(map[string]int), err: err}
}

func (s *fakeSender) Send(ctx context.Context, msg *transport.Message) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.NewTransientError(ctx.Err())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends[msg.JobID]++
	return s.err
}

func (s *fakeSender) Name() string { return "fake" }

func (s *fakeSender) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[id]
}

var errBoom = errors.New("boom")
