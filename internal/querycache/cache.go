// Package querycache caches rendered search responses in Redis, keyed by a
// digest of the collection name and request. Concurrent identical queries
// collapse into one execution via singleflight. Redis is an optional
// accelerator, never a dependency: after a run of consecutive errors the
// cache stops talking to it for a cool-down window and searches go straight
// to the shards.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/prismsearch/prism/internal/collection"
	"github.com/prismsearch/prism/pkg/config"
	"github.com/prismsearch/prism/pkg/logger"
	"github.com/prismsearch/prism/pkg/metrics"
)

const keyPrefix = "search:"

// bypassAfter is the number of consecutive Redis errors that trips the
// bypass; bypassFor is how long searches then skip Redis entirely.
const (
	bypassAfter = 5
	bypassFor   = 30 * time.Second
)

// Cache is a Redis-backed search-response cache.
type Cache struct {
	rdb     *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	failures int
	tripped  bool
	retryAt  time.Time
}

// Open dials Redis per the cache config and verifies the connection.
// metrics may be nil.
func Open(cfg config.RedisConfig, m *metrics.Metrics) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return &Cache{
		rdb:     rdb,
		ttl:     cfg.CacheTTL,
		metrics: m,
		log:     logger.Component("query-cache"),
	}, nil
}

// Ping probes the Redis connection, for health reporting.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// GetOrCompute returns the cached response for the request, or runs
// computeFn and caches its result. The bool reports a hit on the first
// lookup; a result found by the re-check inside the collapsed flight is
// returned with false.
func (c *Cache) GetOrCompute(ctx context.Context, collectionName string, req collection.SearchRequest,
	computeFn func() (*collection.SearchResult, error)) (*collection.SearchResult, bool, error) {

	key := cacheKey(collectionName, req)
	if result, ok := c.get(ctx, key); ok {
		return result, true, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another flight may have populated the key while this
		// one queued.
		if result, ok := c.get(ctx, key); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return value.(*collection.SearchResult), false, nil
}

func (c *Cache) get(ctx context.Context, key string) (*collection.SearchResult, bool) {
	if c.bypassed() {
		c.miss()
		return nil, false
	}
	data, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.recordFailure(err)
		} else {
			c.recordSuccess()
		}
		c.miss()
		return nil, false
	}
	c.recordSuccess()
	var result collection.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.log.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hit()
	return &result, true
}

func (c *Cache) set(ctx context.Context, key string, result *collection.SearchResult) {
	if c.bypassed() {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.log.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.recordFailure(err)
		return
	}
	c.recordSuccess()
}

// bypassed reports whether the cache is currently skipping Redis. Once the
// cool-down elapses, requests are let through again as probes: a success
// clears the trip, another failure re-arms it.
func (c *Cache) bypassed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripped && time.Now().Before(c.retryAt)
}

func (c *Cache) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.tripped {
		c.retryAt = time.Now().Add(bypassFor)
		return
	}
	if c.failures >= bypassAfter {
		c.tripped = true
		c.retryAt = time.Now().Add(bypassFor)
		c.log.Warn("redis unreachable, bypassing search cache",
			"error", err,
			"cooldown", bypassFor,
		)
	}
}

func (c *Cache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tripped {
		c.log.Info("redis recovered, search cache re-enabled")
	}
	c.tripped = false
	c.failures = 0
}

func cacheKey(collectionName string, req collection.SearchRequest) string {
	payload, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(collectionName+"\x00"), payload...))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

func (c *Cache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
