/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for catalog lookups.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hearthlabs/hearth/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultSearchTTL    = 5 * time.Minute
	DefaultMediaItemTTL = 1 * time.Hour
)

// Key prefixes for Redis cache
const (
	KeySearch    = "hearth:cache:search:" // + phrase hash
	KeyMediaItem = "hearth:cache:media:"  // + media_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	SearchTTL    time.Duration
	MediaItemTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		SearchTTL:      DefaultSearchTTL,
		MediaItemTTL:   DefaultMediaItemTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. A Redis that is down at startup yields a
// disabled cache, not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

func searchKey(phrase string) string {
	sum := sha256.Sum256([]byte(phrase))
	return KeySearch + hex.EncodeToString(sum[:8])
}

// GetSearch returns cached catalog search results for a phrase.
func (c *Cache) GetSearch(ctx context.Context, phrase string) ([]models.MediaItem, bool) {
	var items []models.MediaItem
	found, err := c.get(ctx, searchKey(phrase), &items)
	if err != nil || !found {
		return nil, false
	}
	return items, true
}

// SetSearch caches catalog search results for a phrase.
func (c *Cache) SetSearch(ctx context.Context, phrase string, items []models.MediaItem) {
	_ = c.set(ctx, searchKey(phrase), items, c.config.SearchTTL)
}

// GetMediaItem returns a cached media item by id.
func (c *Cache) GetMediaItem(ctx context.Context, id string) (*models.MediaItem, bool) {
	var item models.MediaItem
	found, err := c.get(ctx, KeyMediaItem+id, &item)
	if err != nil || !found {
		return nil, false
	}
	return &item, true
}

// SetMediaItem caches a media item.
func (c *Cache) SetMediaItem(ctx context.Context, item *models.MediaItem) {
	_ = c.set(ctx, KeyMediaItem+item.ID, item, c.config.MediaItemTTL)
}

// InvalidateMediaItem drops a cached media item, used after a mark-played
// call changes catalog-side state.
func (c *Cache) InvalidateMediaItem(ctx context.Context, id string) {
	_ = c.delete(ctx, KeyMediaItem+id)
}
