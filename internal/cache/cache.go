// Package cache provides a TTL cache with redis and in-process backends.
// Cache failures never fail the caller: every backend error degrades to a
// miss and is logged at warn level.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
)

// Cache stores JSON-serializable values under string keys with a TTL.
type Cache interface {
	// Get unmarshals the cached value into dest and reports whether a live
	// entry was found. Backend and decode errors count as misses.
	Get(ctx context.Context, key string, dest any) bool

	// Set stores value under key for ttl. Errors are logged, not returned.
	Set(ctx context.Context, key string, value any, ttl time.Duration)

	Delete(ctx context.Context, key string)

	// Clear removes all entries whose key starts with prefix.
	Clear(ctx context.Context, prefix string)

	Name() string
}

// New selects the backend from the config: redis when an address is
// configured and reachable, otherwise the in-process cache. An unreachable
// redis degrades to memory instead of failing startup.
func New(ctx context.Context, redisCfg config.RedisConfig, cacheCfg config.CacheConfig, logger *zap.Logger) Cache {
	if !cacheCfg.Enabled {
		return NewNoop()
	}
	if redisCfg.Addr == "" {
		return NewMemory(cacheCfg.MaxMemoryEntries, logger)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
		PoolSize: redisCfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, falling back to in-process cache",
			zap.String("addr", redisCfg.Addr),
			zap.Error(err),
		)
		_ = client.Close()
		return NewMemory(cacheCfg.MaxMemoryEntries, logger)
	}

	return NewRedis(client, logger)
}

// redisCache backs the cache with a shared redis instance.
type redisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis wraps an existing redis client.
func NewRedis(client *redis.Client, logger *zap.Logger) Cache {
	return &redisCache{
		client: client,
		logger: logger.With(zap.String("component", "redis_cache")),
	}
}

func (c *redisCache) Name() string { return "redis" }

func (c *redisCache) Get(ctx context.Context, key string, dest any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value not serializable", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *redisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *redisCache) Clear(ctx context.Context, prefix string) {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			c.logger.Warn("cache scan failed", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.Warn("cache clear failed", zap.String("prefix", prefix), zap.Error(err))
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// noopCache satisfies Cache when caching is disabled. Every read is a miss.
type noopCache struct{}

// NewNoop returns a cache that stores nothing.
func NewNoop() Cache { return noopCache{} }

func (noopCache) Name() string                                                   { return "noop" }
func (noopCache) Get(ctx context.Context, key string, dest any) bool             { return false }
func (noopCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {}
func (noopCache) Delete(ctx context.Context, key string)                         {}
func (noopCache) Clear(ctx context.Context, prefix string)                       {}

type memoryEntry struct {
	data      []byte
	createdAt time.Time
	expiresAt time.Time
}

// memoryCache is a bounded in-process cache. When full it evicts the entry
// with the oldest creation time. Expired entries are dropped lazily on read.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	max     int
	logger  *zap.Logger
}

// NewMemory creates an in-process cache holding at most max entries.
func NewMemory(max int, logger *zap.Logger) Cache {
	if max <= 0 {
		max = 1000
	}
	return &memoryCache{
		entries: make(map[string]memoryEntry),
		max:     max,
		logger:  logger.With(zap.String("component", "memory_cache")),
	}
}

func (c *memoryCache) Name() string { return "memory" }

func (c *memoryCache) Get(ctx context.Context, key string, dest any) bool {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		c.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value not serializable", zap.String("key", key), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	now := time.Now()
	c.entries[key] = memoryEntry{
		data:      data,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

func (c *memoryCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.createdAt.Before(oldest) {
			oldestKey = key
			oldest = entry.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *memoryCache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *memoryCache) Clear(ctx context.Context, prefix string) {
	c.mu.Lock()
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
