package api

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "idem"
	pendingMarker   = "pending"
)

// RedisDeduper stores idempotency keys of create requests in Redis so every
// instance sees them. A completed key holds the response body for replay.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(owner, key string) string {
	return owner + ":" + dedupeKeyPrefix + ":" + key
}

func (r *RedisDeduper) Claim(ctx context.Context, owner, key string) (bool, []byte, error) {
	k := r.key(owner, key)
	added, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil || added {
		return added, nil, err
	}
	stored, err := r.client.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between the two calls; treat as in flight.
		return false, nil, nil
	case err != nil:
		return false, nil, err
	case string(stored) == pendingMarker:
		return false, nil, nil
	}
	return false, stored, nil
}

func (r *RedisDeduper) Complete(ctx context.Context, owner, key string, result []byte) error {
	return r.client.Set(ctx, r.key(owner, key), result, r.ttl).Err()
}

func (r *RedisDeduper) Release(ctx context.Context, owner, key string) error {
	return r.client.Del(ctx, r.key(owner, key)).Err()
}
