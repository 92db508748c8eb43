package bussubscriber

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedup implements Dedup with a TTL'd key-per-opportunity-id set,
// grounded on the teacher's pervasive use of Redis for ephemeral caching
// (crypto-wallet's Redis-backed caches) generalized to this one purpose.
type RedisDedup struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDedup builds a dedup check over an existing Redis client.
func NewRedisDedup(client *redis.Client, ttl time.Duration) *RedisDedup {
	return &RedisDedup{client: client, ttl: ttl, prefix: "flashloan:seen:"}
}

// SeenBefore atomically marks id as seen and reports whether it was already
// present, using SETNX semantics via SetNX.
func (d *RedisDedup) SeenBefore(ctx context.Context, id string) (bool, error) {
	wasSet, err := d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !wasSet, nil
}
