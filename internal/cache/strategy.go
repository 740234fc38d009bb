package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Namespaces, one per cached data class.
const (
	NamespaceRate      = "rate"
	NamespaceTerritory = "territory"
	NamespaceMinimum   = "minimum"
	NamespaceResult    = "result"
	NamespaceSLA       = "sla"
)

// Default TTLs per data class.
const (
	DefaultRateTTL      = time.Hour
	DefaultTerritoryTTL = 24 * time.Hour
	DefaultMinimumTTL   = time.Hour
	DefaultResultTTL    = 10 * time.Minute
)

// Strategy stores typed values as JSON with a TTL chosen by data class and
// counts hits and misses. Safe for concurrent use.
type Strategy struct {
	cache domain.Cache
	ttls  map[string]time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewStrategy wraps a cache with the configured TTLs.
func NewStrategy(c domain.Cache, cfg domain.CacheConfig) *Strategy {
	return &Strategy{
		cache: c,
		ttls: map[string]time.Duration{
			NamespaceRate:      orTTL(cfg.RateTTL, DefaultRateTTL),
			NamespaceTerritory: orTTL(cfg.TerritoryTTL, DefaultTerritoryTTL),
			NamespaceMinimum:   orTTL(cfg.MinimumTTL, DefaultMinimumTTL),
			NamespaceResult:    orTTL(cfg.ResultTTL, DefaultResultTTL),
		},
	}
}

// GetJSON decodes a cached value into dst and reports whether it was found.
// A corrupt entry is deleted and reported as a miss.
func (s *Strategy) GetJSON(ctx context.Context, namespace, key string, dst any) (bool, error) {
	raw, err := s.cache.Get(ctx, namespace, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		s.misses.Add(1)
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.misses.Add(1)
		_ = s.cache.Delete(ctx, namespace, key)
		return false, nil
	}
	s.hits.Add(1)
	return true, nil
}

// SetJSON encodes v and stores it with the namespace TTL.
func (s *Strategy) SetJSON(ctx context.Context, namespace, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s cache entry: %w", namespace, err)
	}
	return s.cache.Set(ctx, namespace, key, raw, s.TTL(namespace))
}

// Invalidate deletes one key.
func (s *Strategy) Invalidate(ctx context.Context, namespace, key string) error {
	return s.cache.Delete(ctx, namespace, key)
}

// InvalidatePattern deletes every key matching the pattern in a namespace.
func (s *Strategy) InvalidatePattern(ctx context.Context, namespace, pattern string) (int, error) {
	return s.cache.DeletePattern(ctx, namespace, pattern)
}

// IncrementCounter bumps a windowed counter in the underlying cache.
func (s *Strategy) IncrementCounter(ctx context.Context, namespace, key string, window time.Duration) (int64, error) {
	return s.cache.IncrementCounter(ctx, namespace, key, window)
}

// TTL returns the TTL of a namespace, or the result TTL for unknown namespaces.
func (s *Strategy) TTL(namespace string) time.Duration {
	if ttl, ok := s.ttls[namespace]; ok {
		return ttl
	}
	return DefaultResultTTL
}

// Stats returns the hit and miss counts since start.
func (s *Strategy) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

// Ping checks the underlying cache.
func (s *Strategy) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// RateKey identifies a resolved rate for one day.
func RateKey(jurisdiction string, product domain.ProductType, coverage domain.CoverageType, asOf time.Time) string {
	return join(jurisdiction, string(product), string(coverage), asOf.UTC().Format("2006-01-02"))
}

// RatePattern matches every cached rate of a product and coverage.
func RatePattern(jurisdiction string, product domain.ProductType, coverage domain.CoverageType) string {
	return join(jurisdiction, string(product), string(coverage), "*")
}

// MinimumKey identifies a resolved minimum premium for one day.
func MinimumKey(jurisdiction string, product domain.ProductType, asOf time.Time) string {
	return join(jurisdiction, string(product), asOf.UTC().Format("2006-01-02"))
}

// MinimumPattern matches every cached minimum premium of a product.
func MinimumPattern(jurisdiction string, product domain.ProductType) string {
	return join(jurisdiction, string(product), "*")
}

// TerritoryKey identifies a resolved territory factor for a ZIP.
func TerritoryKey(jurisdiction, zip string) string {
	return join(jurisdiction, strings.TrimSpace(zip))
}

// ResultKey identifies a cached rating result.
func ResultKey(jurisdiction, requestHash string) string {
	return join(jurisdiction, requestHash)
}

// SLAKey identifies the hourly SLA violation counter of a jurisdiction.
func SLAKey(jurisdiction string, at time.Time) string {
	return join(jurisdiction, at.UTC().Format("2006010215"))
}

// JurisdictionPattern matches every key of a jurisdiction in any namespace.
func JurisdictionPattern(jurisdiction string) string {
	return join(jurisdiction, "*")
}

func join(jurisdiction string, parts ...string) string {
	return strings.ToUpper(strings.TrimSpace(jurisdiction)) + ":" + strings.Join(parts, ":")
}

func orTTL(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
