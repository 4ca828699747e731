// Package cache stores executed query results keyed by SQL text and bound parameters.
// Cache failures are logged and never fail a request.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/finsql-engine/pkg/config"
	"github.com/ekaya-inc/finsql-engine/pkg/models"
)

const keyPrefix = "finsql:result:"

// ResultCache is the capability the query service needs from a cache.
type ResultCache interface {
	Get(ctx context.Context, key string) (*models.QueryResult, bool)
	Set(ctx context.Context, key string, result *models.QueryResult)
}

// Key derives the cache key for an executed statement and its bound values.
func Key(sqlQuery string, params []any) string {
	h := sha256.New()
	h.Write([]byte(sqlQuery))
	h.Write([]byte{0})
	encoded, err := json.Marshal(params)
	if err != nil {
		encoded = []byte(fmt.Sprint(params...))
	}
	h.Write(encoded)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// NewRedisClient creates a new Redis client with the given configuration.
// Returns nil if Redis is not configured (host is empty).
func NewRedisClient(ctx context.Context, cfg *config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(cfg.Host), cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisCache keeps results in Redis with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache wraps client. A non-positive ttl defaults to five minutes.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger.Named("result-cache")}
}

// Get returns a cached result marked Cached. Misses and errors both report false.
func (c *RedisCache) Get(ctx context.Context, key string) (*models.QueryResult, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	result, err := decodeResult(data)
	if err != nil {
		c.logger.Warn("Discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	result.Cached = true
	return result, true
}

// Set stores result under key.
func (c *RedisCache) Set(ctx context.Context, key string, result *models.QueryResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("Cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// decodeResult restores integers as int64 so formatting matches a store read.
func decodeResult(data []byte) (*models.QueryResult, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var result models.QueryResult
	if err := dec.Decode(&result); err != nil {
		return nil, err
	}
	for _, row := range result.Rows {
		for k, v := range row {
			n, ok := v.(json.Number)
			if !ok {
				continue
			}
			if i, err := n.Int64(); err == nil {
				row[k] = i
			} else if f, err := n.Float64(); err == nil {
				row[k] = f
			}
		}
	}
	return &result, nil
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (*models.QueryResult, bool) { return nil, false }
func (Noop) Set(context.Context, string, *models.QueryResult) {}

var (
	_ ResultCache = (*RedisCache)(nil)
	_ ResultCache = Noop{}
)
