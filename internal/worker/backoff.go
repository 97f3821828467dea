package worker

import "time"

const (
	defaultBackoffBase = time.Minute
	defaultBackoffMax  = time.Hour
)

// Backoff is the capped exponential retry delay for transient failures
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns base * 2^attempts capped at Max, where attempts counts the
// failed attempt being retried.
func (b Backoff) Delay(attempts int) time.Duration {
	base, max := b.Base, b.Max
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	if attempts < 0 {
		attempts = 0
	}

	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
