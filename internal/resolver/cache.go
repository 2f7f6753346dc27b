package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/Kocoro-lab/Shannon/go/coverage/internal/circuitbreaker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL is how long a wrapper resolution is remembered.
const DefaultCacheTTL = 24 * time.Hour

const cacheKeyPrefix = "coverage:resolve:"

// Cache memoizes successful wrapper resolutions. Implementations must treat
// backend failures as misses.
type Cache interface {
	Get(ctx context.Context, uri string) (Resolution, bool)
	Set(ctx context.Context, uri string, res Resolution)
}

// RedisCache stores resolutions in Redis behind a circuit breaker.
type RedisCache struct {
	rw     *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache wraps client. A non-positive ttl uses DefaultCacheTTL.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{
		rw:     circuitbreaker.NewRedisWrapper(client, "resolver-cache", circuitbreaker.RedisSettings(), logger),
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns a cached resolution.
func (c *RedisCache) Get(ctx context.Context, uri string) (Resolution, bool) {
	val, err := c.rw.Get(ctx, cacheKey(uri))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("Resolution cache read failed", zap.Error(err))
		}
		return Resolution{}, false
	}
	var res Resolution
	if err := json.Unmarshal([]byte(val), &res); err != nil || res.URI == "" {
		return Resolution{}, false
	}
	return res, true
}

// Set stores a resolution; failures are logged and dropped.
func (c *RedisCache) Set(ctx context.Context, uri string, res Resolution) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.rw.Set(ctx, cacheKey(uri), data, c.ttl); err != nil {
		c.logger.Debug("Resolution cache write failed", zap.Error(err))
	}
}

// Ping reports whether the backing store is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rw.Ping(ctx)
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.rw.Close()
}
