package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// Every key lives in a namespace (one per cached data class).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, namespace string, key string) ([]byte, error)

	// Set stores a value in cache with expiration. Writes replace the whole value.
	Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, namespace string, key string) error

	// DeletePattern removes every key in the namespace matching a glob pattern.
	DeletePattern(ctx context.Context, namespace string, pattern string) (int, error)

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for cluster-wide SLA violation counts.
	IncrementCounter(ctx context.Context, namespace string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enable_two_phase"` // If true, check local first, then Redis

	// Per data class TTLs; zero means the package default.
	RateTTL      time.Duration `mapstructure:"rate_ttl"`
	TerritoryTTL time.Duration `mapstructure:"territory_ttl"`
	MinimumTTL   time.Duration `mapstructure:"minimum_ttl"`
	ResultTTL    time.Duration `mapstructure:"result_ttl"`
}
