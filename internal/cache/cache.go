// Package cache implements the short-lived result cache for consolidated
// profiles. It is a best-effort accelerator over Redis: losing it changes
// latency, never correctness, so cache failures degrade to misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"profile-gateway/internal/common/config"
	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/logger"
	"profile-gateway/internal/common/metrics"
	"profile-gateway/internal/models"
)

const keyPrefix = "profile:"

// ErrMiss is returned by Get when no entry exists for the key.
var ErrMiss = errors.New("cache miss")

// entry is the stored envelope. NoData marks a cached negative outcome,
// which is only written when the negative TTL policy is enabled.
type entry struct {
	NoData  bool                `json:"noData,omitempty"`
	Profile *models.UserProfile `json:"profile,omitempty"`
}

// ResultCache caches consolidated profiles keyed by (query type, normalized
// query). Set always replaces wholesale; there are no merge semantics.
type ResultCache struct {
	client      *redis.Client
	ttl         time.Duration
	negativeTTL time.Duration
	logger      logger.Logger
}

func New(client *redis.Client, cfg config.CacheConfig, log logger.Logger) *ResultCache {
	return &ResultCache{
		client:      client,
		ttl:         config.GetDuration(cfg.TTL),
		negativeTTL: config.GetDuration(cfg.NegativeTTL),
		logger:      log.WithFields(map[string]interface{}{"component": "cache"}),
	}
}

// Key builds the composite cache key from a lowercased query-type tag and the
// normalized query.
func Key(queryType models.QueryType, normalized string) string {
	return keyPrefix + strings.ToLower(string(queryType)) + ":" + normalized
}

// Get returns the cached profile, ErrMiss when nothing is stored, or a
// NO_DATA_FOUND error when a negative outcome was cached. Redis failures are
// logged and reported as misses.
func (c *ResultCache) Get(ctx context.Context, queryType models.QueryType, normalized string) (*models.UserProfile, error) {
	key := Key(queryType, normalized)

	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed, treating as miss", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, ErrMiss
	}

	var e entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		c.logger.Warn("cache entry corrupt, treating as miss", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, ErrMiss
	}

	if e.NoData {
		metrics.CacheRequestsTotal.WithLabelValues("negative_hit").Inc()
		return nil, gwerrors.NewNoDataFoundError(normalized)
	}
	if e.Profile == nil {
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, ErrMiss
	}

	metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
	return e.Profile, nil
}

// Set stores a complete consolidated profile. A non-positive ttl uses the
// configured default.
func (c *ResultCache) Set(ctx context.Context, queryType models.QueryType, normalized string, profile *models.UserProfile, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}

	data, err := json.Marshal(entry{Profile: profile})
	if err != nil {
		return err
	}

	key := Key(queryType, normalized)
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return gwerrors.NewCacheUnavailableError(err)
	}
	return nil
}

// SetNoData records a negative outcome under the key so repeat queries for a
// user known not to exist skip the fan-out. A no-op unless the negative TTL
// policy is enabled.
func (c *ResultCache) SetNoData(ctx context.Context, queryType models.QueryType, normalized string) error {
	if c.negativeTTL <= 0 {
		return nil
	}

	data, err := json.Marshal(entry{NoData: true})
	if err != nil {
		return err
	}

	key := Key(queryType, normalized)
	if err := c.client.Set(ctx, key, data, c.negativeTTL).Err(); err != nil {
		c.logger.Warn("cache set failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return gwerrors.NewCacheUnavailableError(err)
	}
	return nil
}

// Delete invalidates a single entry.
func (c *ResultCache) Delete(ctx context.Context, queryType models.QueryType, normalized string) error {
	return c.client.Del(ctx, Key(queryType, normalized)).Err()
}

// Clear removes every profile entry. Only gateway keys are touched so a
// shared Redis instance is safe.
func (c *ResultCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return gwerrors.NewCacheUnavailableError(err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return gwerrors.NewCacheUnavailableError(err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
