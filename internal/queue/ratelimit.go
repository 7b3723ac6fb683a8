package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// RateLimiter is a fixed-window request counter per user. The window is one
// minute, aligned to the wall clock.
type RateLimiter struct {
	redis  redis.UniversalClient
	limit  int64
	window time.Duration
}

func NewRateLimiter(rdb redis.UniversalClient, perMinute int64) *RateLimiter {
	return &RateLimiter{redis: rdb, limit: perMinute, window: time.Minute}
}

// Enabled reports whether the limiter enforces anything; a limit <= 0 disables it.
func (r *RateLimiter) Enabled() bool {
	return r != nil && r.limit > 0
}

func (r *RateLimiter) Allow(ctx context.Context, userID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	if !r.Enabled() {
		return true, 0, time.Time{}, nil
	}
	windowStart := now.UTC().Truncate(r.window)
	windowEnd := windowStart.Add(r.window)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("omnibot:ratelimit:%s:%s", userID, windowStart.Format("200601021504"))
	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// UpdateDeduplicator drops platform updates that were already accepted, so a
// redelivered webhook does not trigger a second auto-reply.
type UpdateDeduplicator struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func NewUpdateDeduplicator(rdb redis.UniversalClient, ttl time.Duration) *UpdateDeduplicator {
	return &UpdateDeduplicator{redis: rdb, ttl: ttl}
}

func (d *UpdateDeduplicator) MarkFirst(ctx context.Context, botID string, updateID int64) (bool, error) {
	key := fmt.Sprintf("omnibot:update:%s:%d", botID, updateID)
	ok, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}
