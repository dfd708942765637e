package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Allow records a hit in the sliding window stored at key and reports whether
// it stayed within limit. Rejected hits are not recorded.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	start := now.Add(-window)
	result, err := c.limitScript.Run(ctx, c.rdb, []string{key},
		start.UnixMilli(), now.UnixMilli(), limit, uuid.NewString(), window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("sliding window script failed: %w", err)
	}
	return result == 1, nil
}

// RecordInWindow records an event at key and returns how many events fall in
// the trailing window, the new one included.
func (c *Client) RecordInWindow(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	start := now.Add(-window)
	count, err := c.countScript.Run(ctx, c.rdb, []string{key},
		start.UnixMilli(), now.UnixMilli(), uuid.NewString(), window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("window count script failed: %w", err)
	}
	return count, nil
}

// MarkOnce sets key for ttl and reports whether this call created it.
func (c *Client) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return ok, nil
}
