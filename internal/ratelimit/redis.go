// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pdiddy/lesson-engine/internal/logger"
)

// minLeasePoll bounds how often a waiter re-checks a lease whose TTL is
// unknown or already expired.
const minLeasePoll = 10 * time.Millisecond

// leaseStore is the subset of Redis the distributed gate needs.
type leaseStore interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	PTTL(ctx context.Context, key string) (time.Duration, error)
}

type redisLeases struct {
	rdb *redis.Client
}

func (s redisLeases) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, 1, ttl).Result()
}

func (s redisLeases) PTTL(ctx context.Context, key string) (time.Duration, error) {
	return s.rdb.PTTL(ctx, key).Result()
}

// RedisLimiter shares the "last granted call" across processes. A grant
// is a Redis key set with NX and a TTL of one interval; while the key lives
// no other process is granted. In-process callers queue on a local Limiter
// first, so they stay first-come first-served.
//
// Redis errors fail open: the call is granted and the error logged, since
// the provider itself still enforces its quota.
type RedisLimiter struct {
	key      string
	interval time.Duration
	local    *Limiter
	leases   leaseStore
	log      *logger.Logger
}

// NewRedisLimiter returns a distributed gate for key.
func NewRedisLimiter(rdb *redis.Client, key string, interval time.Duration, log *logger.Logger) *RedisLimiter {
	return newRedisLimiter(redisLeases{rdb: rdb}, key, interval, log)
}

func newRedisLimiter(leases leaseStore, key string, interval time.Duration, log *logger.Logger) *RedisLimiter {
	return &RedisLimiter{
		key:      key,
		interval: interval,
		local:    New(interval),
		leases:   leases,
		log:      logger.OrNop(log).With("limiter", key),
	}
}

// Acquire waits for the local slot, then for the shared lease.
func (l *RedisLimiter) Acquire(ctx context.Context) error {
	if err := l.local.Acquire(ctx); err != nil {
		return err
	}
	if l.interval <= 0 {
		return nil
	}
	for {
		ok, err := l.leases.SetNX(ctx, l.key, l.interval)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			l.log.Warn("redis lease unavailable, granting locally", "error", err)
			return nil
		}
		if ok {
			return nil
		}

		wait, err := l.leases.PTTL(ctx, l.key)
		if err != nil {
			l.log.Warn("redis lease ttl unavailable", "error", err)
			wait = minLeasePoll
		}
		if wait < minLeasePoll {
			wait = minLeasePoll
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RedisFactory returns a Factory that builds RedisLimiters under prefix.
func RedisFactory(rdb *redis.Client, prefix string, log *logger.Logger) Factory {
	if prefix == "" {
		prefix = "lesson-engine:ratelimit"
	}
	return func(id string, interval time.Duration) Gate {
		return NewRedisLimiter(rdb, fmt.Sprintf("%s:%s", prefix, id), interval, log)
	}
}

// Connect parses a redis:// URL and verifies connectivity.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}
