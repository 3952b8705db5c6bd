package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
)

func TestKeyStable(t *testing.T) {
	k1 := Key("embedding", map[string]string{"model": "m1", "text": "hello"})
	k2 := Key("embedding", map[string]string{"text": "hello", "model": "m1"})
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, "embedding:")

	k3 := Key("embedding", map[string]string{"model": "m2", "text": "hello"})
	assert.NotEqual(t, k1, k3)

	k4 := Key("search", map[string]string{"model": "m1", "text": "hello"})
	assert.NotEqual(t, k1, k4)
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, zap.NewNop())

	c.Set(ctx, "k1", map[string]int{"a": 1}, time.Minute)

	var got map[string]int
	require.True(t, c.Get(ctx, "k1", &got))
	assert.Equal(t, 1, got["a"])

	var missing map[string]int
	assert.False(t, c.Get(ctx, "nope", &missing))

	c.Delete(ctx, "k1")
	assert.False(t, c.Get(ctx, "k1", &got))
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, zap.NewNop())

	c.Set(ctx, "k1", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	var got string
	assert.False(t, c.Get(ctx, "k1", &got))
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(2, zap.NewNop())

	c.Set(ctx, "first", 1, time.Minute)
	time.Sleep(time.Millisecond)
	c.Set(ctx, "second", 2, time.Minute)
	time.Sleep(time.Millisecond)
	c.Set(ctx, "third", 3, time.Minute)

	var got int
	assert.False(t, c.Get(ctx, "first", &got))
	assert.True(t, c.Get(ctx, "second", &got))
	assert.True(t, c.Get(ctx, "third", &got))
}

func TestMemoryCacheClearPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(10, zap.NewNop())

	c.Set(ctx, "search:a", 1, time.Minute)
	c.Set(ctx, "search:b", 2, time.Minute)
	c.Set(ctx, "embedding:a", 3, time.Minute)

	c.Clear(ctx, "search:")

	var got int
	assert.False(t, c.Get(ctx, "search:a", &got))
	assert.False(t, c.Get(ctx, "search:b", &got))
	assert.True(t, c.Get(ctx, "embedding:a", &got))
}

func newRedisCache(t *testing.T) (Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedis(client, zap.NewNop()), mr
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)

	c.Set(ctx, "k1", []string{"a", "b"}, time.Minute)

	var got []string
	require.True(t, c.Get(ctx, "k1", &got))
	assert.Equal(t, []string{"a", "b"}, got)

	c.Delete(ctx, "k1")
	assert.False(t, c.Get(ctx, "k1", &got))
}

func TestRedisCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	c.Set(ctx, "k1", "v", time.Minute)
	mr.FastForward(2 * time.Minute)

	var got string
	assert.False(t, c.Get(ctx, "k1", &got))
}

func TestRedisCacheClearPrefix(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t)

	c.Set(ctx, "search:a", 1, time.Minute)
	c.Set(ctx, "embedding:a", 2, time.Minute)

	c.Clear(ctx, "search:")

	var got int
	assert.False(t, c.Get(ctx, "search:a", &got))
	assert.True(t, c.Get(ctx, "embedding:a", &got))
}

func TestRedisCacheDegradesToMissOnBackendFailure(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t)

	c.Set(ctx, "k1", "v", time.Minute)
	mr.Close()

	var got string
	assert.False(t, c.Get(ctx, "k1", &got))
	// Set 和 Delete 在后端失联时同样不 panic、不返回错误
	c.Set(ctx, "k2", "v", time.Minute)
	c.Delete(ctx, "k1")
}

func TestNewFallsBackToMemory(t *testing.T) {
	c := New(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"}, config.CacheConfig{Enabled: true, MaxMemoryEntries: 10}, zap.NewNop())
	assert.Equal(t, "memory", c.Name())

	c = New(context.Background(), config.RedisConfig{}, config.CacheConfig{Enabled: true, MaxMemoryEntries: 10}, zap.NewNop())
	assert.Equal(t, "memory", c.Name())
}

func TestNewUsesRedisWhenReachable(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(context.Background(), config.RedisConfig{Addr: mr.Addr()}, config.CacheConfig{Enabled: true}, zap.NewNop())
	assert.Equal(t, "redis", c.Name())
}

func TestNewDisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, config.RedisConfig{}, config.CacheConfig{}, zap.NewNop())
	assert.Equal(t, "noop", c.Name())

	c.Set(ctx, "k", "v", time.Minute)
	var got string
	assert.False(t, c.Get(ctx, "k", &got))
}
