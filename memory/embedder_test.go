package memory

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/agentgraphgo/storage"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder()
	assert.Equal(t, storage.EmbeddingDim, e.Dimension())

	a, err := e.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, storage.EmbeddingDim)

	// Vectors are unit length.
	assert.InDelta(t, 1.0, storage.CosineSimilarity32(a, a), 1e-6)

	// Disjoint vocabularies produce orthogonal vectors (modulo hash
	// collisions, which these short inputs avoid).
	c, err := e.Embed(ctx, "zvlk qwrm")
	require.NoError(t, err)
	assert.Less(t, storage.CosineSimilarity32(a, c), 0.1)

	// Shared vocabulary produces positive similarity.
	d, err := e.Embed(ctx, "a quick fox jumps")
	require.NoError(t, err)
	assert.Greater(t, storage.CosineSimilarity32(a, d), 0.3)
}

func TestHashEmbedderEmptyText(t *testing.T) {
	e := NewHashEmbedder()
	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, vec, storage.EmbeddingDim)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

type countingEmbedder struct {
	inner Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimension() int { return c.inner.Dimension() }

func TestRedisEmbeddingCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	counting := &countingEmbedder{inner: NewHashEmbedder()}
	cache := NewRedisEmbeddingCache(client, counting)

	first, err := cache.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls)

	second, err := cache.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.calls, "second embed should hit the cache")
	assert.Equal(t, first, second)

	_, err = cache.Embed(ctx, "different text")
	require.NoError(t, err)
	assert.Equal(t, 2, counting.calls)
}

func TestRedisEmbeddingCacheFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	counting := &countingEmbedder{inner: NewHashEmbedder()}
	cache := NewRedisEmbeddingCache(client, counting)

	vec, err := cache.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, vec, storage.EmbeddingDim)
	assert.Equal(t, 1, counting.calls)
}
