/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for maintenance periods and anomalies.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/anomalyops/internal/events"
	"github.com/friendsincode/anomalyops/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultPeriodListTTL = 5 * time.Minute
	DefaultAnomalyTTL    = 1 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyPrefix     = "anomalyops:cache:"
	KeyPeriodList = KeyPrefix + "periods"
	KeyAnomaly    = KeyPrefix + "anomaly:" // + anomaly_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PeriodListTTL time.Duration
	AnomalyTTL    time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		PeriodListTTL:  DefaultPeriodListTTL,
		AnomalyTTL:     DefaultAnomalyTTL,
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

// New creates a new cache instance. An unreachable Redis yields a disabled cache.
func New(cfg Config, logger zerolog.Logger) *Cache {
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return Disabled(logger)
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}
}

// Disabled returns a cache that always misses.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
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
	if err == nil || errors.Is(err, redis.Nil) {
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

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
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

func (c *Cache) delete(ctx context.Context, keys ...string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// SCAN, not KEYS
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// GetPeriods retrieves the cached maintenance period list.
func (c *Cache) GetPeriods(ctx context.Context) ([]models.MaintenancePeriod, bool) {
	var periods []models.MaintenancePeriod
	found, err := c.get(ctx, KeyPeriodList, &periods)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(periods)).Msg("period list cache hit")
	return periods, true
}

// SetPeriods caches the maintenance period list.
func (c *Cache) SetPeriods(ctx context.Context, periods []models.MaintenancePeriod) error {
	return c.set(ctx, KeyPeriodList, periods, c.config.PeriodListTTL)
}

// InvalidatePeriods removes the cached period list.
func (c *Cache) InvalidatePeriods(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating period list cache")
	return c.delete(ctx, KeyPeriodList)
}

// GetAnomaly retrieves a cached anomaly.
func (c *Cache) GetAnomaly(ctx context.Context, id string) (*models.Anomaly, bool) {
	var a models.Anomaly
	found, err := c.get(ctx, KeyAnomaly+id, &a)
	if err != nil || !found {
		return nil, false
	}
	return &a, true
}

// SetAnomaly caches an anomaly.
func (c *Cache) SetAnomaly(ctx context.Context, a *models.Anomaly) error {
	return c.set(ctx, KeyAnomaly+a.ID, a, c.config.AnomalyTTL)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, KeyPrefix+"*")
}

// Subscriber is the subscription side of an event bus.
type Subscriber interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// WatchInvalidations drops the period list whenever a period changes.
// It blocks until ctx is cancelled.
func (c *Cache) WatchInvalidations(ctx context.Context, bus Subscriber) {
	sub := bus.Subscribe(events.EventPeriodUpdated)
	defer bus.Unsubscribe(events.EventPeriodUpdated, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-sub:
			if !ok {
				return
			}
			if err := c.InvalidatePeriods(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("period cache invalidation failed")
			}
		}
	}
}
