package redis

import (
	"context"
	"fmt"
	"time"

	"audio-assistant/internal/infra/metrics"
)

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, window); err != nil {
			return false, err
		}
	}

	if count > int64(limit) {
		metrics.IncRateLimited(scopeOf(key))
		return false, nil
	}
	return true, nil
}

func ClientKey(scope, client string) string {
	return fmt.Sprintf("rate_limit:%s:%s", scope, client)
}

func ChatKey(chatID int64, scope string) string {
	return fmt.Sprintf("rate_limit:%s:chat:%d", scope, chatID)
}

func scopeOf(key string) string {
	const p = "rate_limit:"
	if len(key) <= len(p) {
		return "unknown"
	}
	rest := key[len(p):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i]
		}
	}
	return rest
}
