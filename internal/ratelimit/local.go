package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalLimiter is an in-process sliding-log limiter for single-worker
// deployments without Redis.
type LocalLimiter struct {
	mu     sync.Mutex
	limits Limits
	sent   []time.Time
	now    func() time.Time
}

// NewLocalLimiter creates an in-process limiter
func NewLocalLimiter(limits Limits) *LocalLimiter {
	return &LocalLimiter{
		limits: limits,
		now:    time.Now,
	}
}

// TryConsume takes one unit of budget if neither window is full
func (l *LocalLimiter) TryConsume(_ context.Context) (Decision, error) {
	if l.limits.Unlimited() {
		return Decision{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now.Add(-time.Hour))

	if l.limits.PerMinute > 0 {
		recent := l.since(now.Add(-time.Minute))
		if len(recent) >= l.limits.PerMinute {
			return Decision{RetryAfter: recent[len(recent)-l.limits.PerMinute].Add(time.Minute).Sub(now)}, nil
		}
	}

	if l.limits.PerHour > 0 && len(l.sent) >= l.limits.PerHour {
		return Decision{RetryAfter: l.sent[len(l.sent)-l.limits.PerHour].Add(time.Hour).Sub(now)}, nil
	}

	l.sent = append(l.sent, now)
	return Decision{Allowed: true}, nil
}

// prune drops entries at or before cutoff
func (l *LocalLimiter) prune(cutoff time.Time) {
	i := 0
	for i < len(l.sent) && !l.sent[i].After(cutoff) {
		i++
	}
	l.sent = l.sent[i:]
}

func (l *LocalLimiter) since(cutoff time.Time) []time.Time {
	i := len(l.sent)
	for i > 0 && l.sent[i-1].After(cutoff) {
		i--
	}
	return l.sent[i:]
}
