package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a Limiter backed by a Redis sorted set per key, letting the
// window be shared across proxy replicas. Membership is scored by admission
// time in nanoseconds; ZREMRANGEBYSCORE prunes entries outside the trailing
// window on every attempt.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	poll   time.Duration
}

// NewRedis creates a RedisLimiter using client, namespacing its keys under
// prefix (e.g. "clproxy:ratelimit:").
func NewRedis(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, poll: 100 * time.Millisecond}
}

func (l *RedisLimiter) zkey(key string) string {
	return l.prefix + key
}

// Wait implements Limiter.
func (l *RedisLimiter) Wait(ctx context.Context, key string, rpmLimit int) error {
	limit := Admitted(rpmLimit)
	if limit <= 0 {
		return nil
	}
	zkey := l.zkey(key)

	for {
		admitted, wait, err := l.tryAdmit(ctx, zkey, limit)
		if err != nil {
			return fmt.Errorf("ratelimit: redis admit %q: %w", key, err)
		}
		if admitted {
			return nil
		}
		if wait <= 0 {
			wait = l.poll
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &ErrCanceled{Key: key, Err: ctx.Err()}
		}
	}
}

func (l *RedisLimiter) tryAdmit(ctx context.Context, zkey string, limit int) (admitted bool, wait time.Duration, err error) {
	now := time.Now()
	cutoff := now.Add(-WindowSeconds * time.Second)

	if err := l.client.ZRemRangeByScore(ctx, zkey, "-inf", fmt.Sprintf("%d", cutoff.UnixNano())).Err(); err != nil {
		return false, 0, err
	}

	count, err := l.client.ZCard(ctx, zkey).Result()
	if err != nil {
		return false, 0, err
	}

	if int(count) < limit {
		member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
		if err := l.client.ZAdd(ctx, zkey, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
			return false, 0, err
		}
		l.client.Expire(ctx, zkey, WindowSeconds*time.Second)
		return true, 0, nil
	}

	oldest, err := l.client.ZRangeWithScores(ctx, zkey, 0, 0).Result()
	if err != nil {
		return false, 0, err
	}
	if len(oldest) == 0 {
		return false, l.poll, nil
	}
	earliestAllowed := time.Unix(0, int64(oldest[0].Score)).Add(WindowSeconds * time.Second)
	wait = earliestAllowed.Sub(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return false, wait, nil
}

// Forget implements Limiter.
func (l *RedisLimiter) Forget(key string) {
	l.client.Del(context.Background(), l.zkey(key))
}
