// Package cache is the optional redis-backed metadata cache. A hit skips
// the extraction provider entirely; misses and redis failures both fall
// through to a normal fetch.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mediagate/gateway/internal/common/configtypes"
	"github.com/mediagate/gateway/pkg/types"
)

const keyPrefix = "mg:meta:"

// writeTimeout bounds the detached redis write behind Set.
const writeTimeout = 2 * time.Second

// Key derives the redis key for a sanitized URL. Sanitization is
// deterministic, so equivalent client URLs share one entry.
func Key(sanitizedURL string) string {
	return fmt.Sprintf("%s%016x", keyPrefix, xxhash.Sum64String(sanitizedURL))
}

// MetadataCache stores clamped metadata documents in redis with a TTL.
type MetadataCache struct {
	rdb         *redis.Client
	ttl         time.Duration
	compression string
	logger      *zap.Logger
}

// New connects to redis and verifies the connection with a ping.
func New(cfg *configtypes.CacheConfig, logger *zap.Logger) (*MetadataCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cache config is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Debug("Metadata cache connected",
		zap.String("addr", cfg.Redis.Addr),
		zap.Int("db", cfg.Redis.DB),
		zap.Duration("ttl", time.Duration(cfg.TTL)),
		zap.String("compression", cfg.Compression))

	return &MetadataCache{
		rdb:         rdb,
		ttl:         time.Duration(cfg.TTL),
		compression: cfg.Compression,
		logger:      logger,
	}, nil
}

// Get returns the cached metadata for a sanitized URL, or (nil, nil) on a
// miss. Redis errors are logged and reported as misses so the provider
// path still works with a broken cache.
func (c *MetadataCache) Get(ctx context.Context, sanitizedURL string) (*types.Metadata, error) {
	entry, err := c.rdb.Get(ctx, Key(sanitizedURL)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		c.logger.Warn("Metadata cache read failed", zap.Error(err))
		return nil, nil
	}

	payload, err := decompress(entry)
	if err != nil {
		// A corrupt entry is useless; drop it so the next fetch rewrites it.
		c.logger.Warn("Dropping corrupt cache entry", zap.Error(err))
		c.rdb.Del(ctx, Key(sanitizedURL))
		return nil, nil
	}

	var metadata types.Metadata
	if err := json.Unmarshal(payload, &metadata); err != nil {
		c.logger.Warn("Dropping undecodable cache entry", zap.Error(err))
		c.rdb.Del(ctx, Key(sanitizedURL))
		return nil, nil
	}

	return &metadata, nil
}

// Set stores metadata under the sanitized URL's key. Serialization is
// synchronous; the redis write runs off the request path on its own
// timeout. Failures are logged, never surfaced.
func (c *MetadataCache) Set(_ context.Context, sanitizedURL string, metadata *types.Metadata) {
	payload, err := json.Marshal(metadata)
	if err != nil {
		c.logger.Error("Failed to marshal metadata for cache", zap.Error(err))
		return
	}

	entry, err := compress(payload, c.compression)
	if err != nil {
		c.logger.Error("Failed to compress cache entry", zap.Error(err))
		return
	}

	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := c.rdb.Set(writeCtx, Key(sanitizedURL), entry, c.ttl).Err(); err != nil {
			c.logger.Warn("Metadata cache write failed", zap.Error(err))
		}
	}()
}

// HealthCheck pings redis for the detailed health endpoint.
func (c *MetadataCache) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the redis connection pool.
func (c *MetadataCache) Close() error {
	return c.rdb.Close()
}
