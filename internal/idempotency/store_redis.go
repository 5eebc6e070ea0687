package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idem:"

// RedisGuard implements the guard with SETNX. Reservations carry a TTL so an
// operator never has to clean up keys orphaned by a crashed worker; the TTL
// is a backstop, Release remains the normal path.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) TryReserve(ctx context.Context, key string) (Outcome, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, 1, g.ttl).Result()
	if err != nil {
		return AlreadyExists, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !ok {
		return AlreadyExists, nil
	}
	return Reserved, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
