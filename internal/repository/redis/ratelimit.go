package redis

import (
	"context"
	"fmt"
	"time"
)

const rateLimitPrefix = "ratelimit:user:"

// RateLimiter caps how many updates a Telegram user may send per minute.
// Counters live in fixed one-minute windows.
type RateLimiter struct {
	client            *Client
	requestsPerMinute int
	burst             int
	now               func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		client:            client,
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		now:               time.Now,
	}
}

// Allow counts one update from userID.
// Returns (allowed, remaining, resetTime, error)
func (r *RateLimiter) Allow(ctx context.Context, userID int64) (bool, int, time.Time, error) {
	windowStart := r.now().Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)
	key := fmt.Sprintf("%s%d:%d", rateLimitPrefix, userID, windowStart.Unix())

	pipe := r.client.rdb.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, windowEnd.Add(time.Second))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	limit := int64(r.requestsPerMinute + r.burst)
	count := incrCmd.Val()
	remaining := int(limit - count)
	if remaining < 0 {
		remaining = 0
	}

	return count <= limit, remaining, windowEnd, nil
}

// Reset clears the current window for a user
func (r *RateLimiter) Reset(ctx context.Context, userID int64) error {
	windowStart := r.now().Truncate(time.Minute)
	key := fmt.Sprintf("%s%d:%d", rateLimitPrefix, userID, windowStart.Unix())
	return r.client.rdb.Del(ctx, key).Err()
}
