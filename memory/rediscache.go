package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/agentgraphgo/log"
	"github.com/smallnest/agentgraphgo/storage"
)

// RedisEmbeddingCache memoises an inner embedder in Redis. Embedding the
// same text twice (the common case for recurring scheduled-event prompts)
// hits the cache instead of the model. Cache failures degrade to the inner
// embedder; they are logged and never surfaced.
type RedisEmbeddingCache struct {
	client *redis.Client
	inner  Embedder
	ttl    time.Duration
	logger log.Logger
}

var _ Embedder = (*RedisEmbeddingCache)(nil)

// RedisCacheOption configures a RedisEmbeddingCache.
type RedisCacheOption func(*RedisEmbeddingCache)

// WithCacheTTL sets the expiry for cached vectors. Zero means no expiry.
func WithCacheTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisEmbeddingCache) { c.ttl = ttl }
}

// NewRedisEmbeddingCache wraps inner with a Redis-backed cache.
func NewRedisEmbeddingCache(client *redis.Client, inner Embedder, opts ...RedisCacheOption) *RedisEmbeddingCache {
	c := &RedisEmbeddingCache{
		client: client,
		inner:  inner,
		ttl:    24 * time.Hour,
		logger: log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisEmbeddingCache) Dimension() int { return c.inner.Dimension() }

func (c *RedisEmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	blob, err := c.client.Get(ctx, key).Bytes()
	if err == nil && len(blob) == 4*c.inner.Dimension() {
		return storage.DecodeVector(blob), nil
	}
	if err != nil && err != redis.Nil {
		c.logger.Warn("embedding cache read failed: %v", err)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, storage.EncodeVector(vec), c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache write failed: %v", err)
	}
	return vec, nil
}

func (c *RedisEmbeddingCache) key(text string) string {
	sum := sha1.Sum([]byte(text))
	return "emb:" + hex.EncodeToString(sum[:])
}
