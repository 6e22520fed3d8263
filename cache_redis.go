package dsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ============================================================================
// Redis Snapshot Cache
// ============================================================================

const redisKeyPrefix = "dsync:snapshot:"

// RedisCache persists conversation snapshots as JSON values in redis, one
// key per conversation. Useful for bot deployments where several processes
// share warm history.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// RedisCacheOption configures a RedisCache.
type RedisCacheOption func(*RedisCache)

// WithSnapshotTTL expires snapshots after d. Zero means no expiry.
func WithSnapshotTTL(d time.Duration) RedisCacheOption {
	return func(c *RedisCache) { c.ttl = d }
}

// NewRedisCache wraps an existing redis client.
func NewRedisCache(rdb *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{rdb: rdb}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Load(ctx context.Context, conversationID string) ([]Message, error) {
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+conversationID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis snapshot get")
	}
	var msgs []Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, errors.Wrap(err, "decode cached snapshot")
	}
	return msgs, nil
}

func (c *RedisCache) Store(ctx context.Context, conversationID string, msgs []Message) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+conversationID, raw, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis snapshot set")
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)
