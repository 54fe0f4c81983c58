package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/insider-one/notification-engine/internal/domain"
)

const (
	rateLimitKeyPrefix = "ratelimit:"
	rateLimitWindow    = time.Hour
)

// RateLimiter implements preference.RateLimiter using a Redis sorted set
// per (user, channel), pruning entries older than the rolling hour window
// on every check.
type RateLimiter struct {
	client *Client
}

func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

func rateLimitKey(userID string, channel domain.Channel) string {
	return rateLimitKeyPrefix + userID + ":" + string(channel)
}

// Allow reports whether one more send fits within limitPerHour and, if so,
// records it. A limitPerHour of 0 means unlimited.
func (r *RateLimiter) Allow(ctx context.Context, userID string, channel domain.Channel, limitPerHour int) (bool, error) {
	if limitPerHour <= 0 {
		return true, nil
	}

	key := rateLimitKey(userID, channel)
	now := time.Now()
	windowStart := now.Add(-rateLimitWindow)

	pipe := r.client.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("check rate limit: %w", err)
	}

	if countCmd.Val() >= int64(limitPerHour) {
		return false, nil
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	if err := r.client.client.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return false, fmt.Errorf("record send for rate limit: %w", err)
	}
	r.client.client.Expire(ctx, key, 2*rateLimitWindow)

	return true, nil
}

// CurrentCount returns the number of sends recorded for (user, channel)
// within the current rolling hour, without recording a send.
func (r *RateLimiter) CurrentCount(ctx context.Context, userID string, channel domain.Channel) (int64, error) {
	key := rateLimitKey(userID, channel)
	windowStart := time.Now().Add(-rateLimitWindow)

	pipe := r.client.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("get current rate: %w", err)
	}
	return countCmd.Val(), nil
}
