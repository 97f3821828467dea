package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checks both windows before incrementing either, so a denied request
// consumes nothing. A limit <= 0 disables its window.
const consumeScript = `
local minuteKey = KEYS[1]
local hourKey = KEYS[2]
local minuteLimit = tonumber(ARGV[1])
local hourLimit = tonumber(ARGV[2])
local minuteTTL = tonumber(ARGV[3])
local hourTTL = tonumber(ARGV[4])

local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local hourCurrent = tonumber(redis.call("GET", hourKey) or "0")

if minuteLimit > 0 and minCurrent + 1 > minuteLimit then
    return {0, 1}
end
if hourLimit > 0 and hourCurrent + 1 > hourLimit then
    return {0, 2}
end

if redis.call("INCR", minuteKey) == 1 then
    redis.call("EXPIRE", minuteKey, minuteTTL)
end
if redis.call("INCR", hourKey) == 1 then
    redis.call("EXPIRE", hourKey, hourTTL)
end

return {1, 0}
`

// RedisLimiter is a fixed-window limiter shared by every worker process
// that points at the same Redis.
type RedisLimiter struct {
	client redis.Cmdable
	script *redis.Script
	prefix string
	limits Limits
	now    func() time.Time
}

// NewRedisLimiter creates a limiter whose keys are namespaced by prefix
func NewRedisLimiter(client redis.Cmdable, prefix string, limits Limits) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(consumeScript),
		prefix: prefix,
		limits: limits,
		now:    time.Now,
	}
}

// TryConsume takes one unit of budget from both windows
func (r *RedisLimiter) TryConsume(ctx context.Context) (Decision, error) {
	if r.limits.Unlimited() {
		return Decision{Allowed: true}, nil
	}

	now := r.now()
	minuteKey := fmt.Sprintf("%s:ratelimit:min:%d", r.prefix, now.Unix()/60)
	hourKey := fmt.Sprintf("%s:ratelimit:hour:%d", r.prefix, now.Unix()/3600)

	result, err := r.script.Run(ctx, r.client,
		[]string{minuteKey, hourKey},
		r.limits.PerMinute,
		r.limits.PerHour,
		120,  // minute TTL
		7200, // hour TTL
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0] == 1 {
		return Decision{Allowed: true}, nil
	}

	switch result[1] {
	case 1:
		return Decision{RetryAfter: untilNext(now, time.Minute)}, nil
	default:
		return Decision{RetryAfter: untilNext(now, time.Hour)}, nil
	}
}
