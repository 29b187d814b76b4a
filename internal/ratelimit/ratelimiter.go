package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is used to enforce per-user rate limits on generation requests.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (bool, error)
}

// NoopLimiter allows all requests (no rate limiting configured).
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string, limit int) (bool, error) {
	return true, nil
}

// RateLimiter implements distributed rate limiting using Redis
type RateLimiter struct {
	client *redis.Client
	window time.Duration
}

// NewRateLimiter creates a new rate limiter with a one-minute window
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{
		client: client,
		window: time.Minute,
	}
}

// Allow checks if a request should be allowed for the given key
// Uses sliding window algorithm with Redis sorted sets
func (rl *RateLimiter) Allow(ctx context.Context, userID string, limit int) (bool, error) {
	if limit <= 0 {
		// No limit configured
		return true, nil
	}

	key := fmt.Sprintf("ratelimit:%s", userID)
	now := time.Now()
	windowStart := now.Add(-rl.window)

	pipe := rl.client.Pipeline()

	// Remove old entries outside the window
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))

	// Count current requests in window
	countCmd := pipe.ZCard(ctx, key)

	// Add current request with timestamp as score
	timestamp := now.UnixMilli()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(timestamp),
		Member: fmt.Sprintf("%d:%d", timestamp, now.Nanosecond()),
	})

	// Expire idle keys
	pipe.Expire(ctx, key, 2*rl.window)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}

	return int(countCmd.Val()) < limit, nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, userID string) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s", userID)
	windowStart := time.Now().Add(-rl.window)

	if err := rl.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}

	return count, nil
}

// Reset resets the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, userID string) error {
	key := fmt.Sprintf("ratelimit:%s", userID)
	return rl.client.Del(ctx, key).Err()
}
