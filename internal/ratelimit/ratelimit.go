// Package ratelimit enforces the per-user send quota with a redis sliding
// window, so the quota holds across server instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited means the sender exceeded the quota; retryable after the
// window slides.
var ErrRateLimited = errors.New("rate limited")

type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

func NewLimiter(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{client: client, limit: limit, window: window}
}

// Allow records one send attempt and returns ErrRateLimited with a
// retry-after hint when the user is over quota. Other errors are transport
// failures the caller may treat as it sees fit.
func (l *Limiter) Allow(ctx context.Context, userID int64) (time.Duration, error) {
	key := fmt.Sprintf("quota:send:%d", userID)
	now := time.Now()
	windowStart := now.Add(-l.window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	if count.Val() > int64(l.limit) {
		// The oldest entry leaving the window frees a slot.
		oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
		retryAfter := l.window
		if err == nil && len(oldest) > 0 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = l.window - now.Sub(oldestAt)
			if retryAfter < 0 {
				retryAfter = 0
			}
		}
		return retryAfter, ErrRateLimited
	}
	return 0, nil
}
