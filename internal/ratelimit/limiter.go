// Package ratelimit enforces the global per-minute and per-hour send ceilings.
package ratelimit

import (
	"context"
	"time"
)

// Limits holds the two ceilings. Zero disables a window.
type Limits struct {
	PerMinute int
	PerHour   int
}

// Unlimited reports whether neither window is enforced.
func (l Limits) Unlimited() bool {
	return l.PerMinute <= 0 && l.PerHour <= 0
}

// Decision is the outcome of one TryConsume call. RetryAfter is set when
// the request was denied and says how long until budget frees up.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter hands out send budget. A consumed unit is never returned.
type Limiter interface {
	TryConsume(ctx context.Context) (Decision, error)
}

// untilNext returns the time from now to the next multiple of window.
func untilNext(now time.Time, window time.Duration) time.Duration {
	return now.Truncate(window).Add(window).Sub(now)
}
