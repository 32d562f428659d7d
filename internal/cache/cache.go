// Package cache provides the Redis-backed analysis report cache.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config configures the report cache.
type Config struct {
	// Addr is the Redis address.
	Addr string `yaml:"addr" json:"addr"`
	// Password is the Redis password, empty for none.
	Password string `yaml:"password" json:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db" json:"db"`
	// TTL is how long cached analyses stay valid.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// MaxRetries bounds Redis command retries.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// PoolSize is the connection pool size.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		DB:         0,
		TTL:        5 * time.Minute,
		MaxRetries: 3,
		PoolSize:   10,
	}
}

// ReportCache stores serialized per-trace analysis results in Redis.
// Every failure degrades to a miss: a broken cache never fails a request.
// It implements trace.Cache.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a ReportCache and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*ReportCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: cfg.MaxRetries,
		PoolSize:   cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultConfig().TTL
	}
	return &ReportCache{
		client: client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "report_cache")),
	}, nil
}

// Get returns the cached value for key, reporting misses for any failure.
func (c *ReportCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return data, true
}

// Set stores value under key with the configured TTL. Failures are logged
// and swallowed.
func (c *ReportCache) Set(ctx context.Context, key string, value []byte) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes one cached analysis, e.g. after new spans arrive for
// an already-analyzed trace.
func (c *ReportCache) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}

// Close releases the Redis client.
func (c *ReportCache) Close() error {
	return c.client.Close()
}
