package moderation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed-window per-sender rate limiter (INCR + EXPIRE),
// shared across instances.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter allows up to limit messages per sender per window.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

// Allow counts this message and reports whether the sender is under the limit.
func (l *RedisLimiter) Allow(ctx context.Context, sessionID, senderID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("chat:rate:%s:%s", sessionID, senderID)
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("rate incr: %w", err)
	}
	if n == 1 {
		_ = l.client.Expire(ctx, key, l.window).Err()
	}
	return n <= int64(l.limit), nil
}

// RedisViolations tracks per-sender violations in a rolling window
// (sorted set of timestamps) for the policy signal, alongside the
// durable counter kept in Postgres.
type RedisViolations struct {
	client *redis.Client
	window time.Duration
}

// NewRedisViolations tracks violations over the given rolling window.
func NewRedisViolations(client *redis.Client, window time.Duration) *RedisViolations {
	return &RedisViolations{client: client, window: window}
}

func violationKey(sessionID, senderID uuid.UUID) string {
	return fmt.Sprintf("chat:violations:%s:%s", sessionID, senderID)
}

// Add records a violation at now.
func (v *RedisViolations) Add(ctx context.Context, sessionID, senderID uuid.UUID) error {
	now := time.Now()
	key := violationKey(sessionID, senderID)
	pipe := v.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", now.Add(-v.window).UnixNano()))
	pipe.Expire(ctx, key, v.window)
	_, err := pipe.Exec(ctx)
	return err
}

// CountInWindow returns the number of violations within the rolling window.
func (v *RedisViolations) CountInWindow(ctx context.Context, sessionID, senderID uuid.UUID) (int, error) {
	now := time.Now()
	key := violationKey(sessionID, senderID)
	n, err := v.client.ZCount(ctx, key,
		fmt.Sprintf("%d", now.Add(-v.window).UnixNano()),
		fmt.Sprintf("%d", now.UnixNano())).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
