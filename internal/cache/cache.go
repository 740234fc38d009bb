package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis shared by every node
//
// Deletes go to L2 first so a concurrent L1 miss cannot re-read the stale value.
// Peers learn about deletes through the event bus once AttachBus is called.
type TwoPhaseCache struct {
	local  *LRUCache
	remote domain.Cache
	l1TTL  time.Duration

	bus    domain.EventBus
	nodeID string
}

// invalidation is the payload broadcast on TopicCacheInvalidated.
type invalidation struct {
	Origin    string `json:"origin"`
	Namespace string `json:"namespace"`
	Key       string `json:"key,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote domain.Cache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
		nodeID: uuid.New().String(),
	}
}

// AttachBus subscribes to peer invalidations and starts broadcasting this
// node's deletes. Without it, peers keep stale L1 entries until l1TTL passes.
func (c *TwoPhaseCache) AttachBus(ctx context.Context, bus domain.EventBus) error {
	_, err := bus.Subscribe(ctx, domain.GlobalScope, domain.TopicCacheInvalidated, func(ctx context.Context, msg *domain.Message) error {
		var inv invalidation
		if err := json.Unmarshal(msg.Payload, &inv); err != nil {
			return fmt.Errorf("invalid invalidation payload: %w", err)
		}
		if inv.Origin == c.nodeID {
			return nil
		}
		if inv.Pattern != "" {
			_, err := c.local.DeletePattern(ctx, inv.Namespace, inv.Pattern)
			return err
		}
		return c.local.Delete(ctx, inv.Namespace, inv.Key)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to cache invalidations: %w", err)
	}
	c.bus = bus
	return nil
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, namespace, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, namespace, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	// L1 never outlives L2
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, namespace, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, namespace, key, value, ttl)
}

// Delete removes from L2, then L1, then tells peers.
func (c *TwoPhaseCache) Delete(ctx context.Context, namespace string, key string) error {
	if err := c.remote.Delete(ctx, namespace, key); err != nil {
		return err
	}
	if err := c.local.Delete(ctx, namespace, key); err != nil {
		return err
	}
	c.broadcast(ctx, invalidation{Namespace: namespace, Key: key})
	return nil
}

// DeletePattern removes matches from L2, then L1, then tells peers.
// The count is the number of L2 keys removed.
func (c *TwoPhaseCache) DeletePattern(ctx context.Context, namespace string, pattern string) (int, error) {
	n, err := c.remote.DeletePattern(ctx, namespace, pattern)
	if err != nil {
		return n, err
	}
	if _, err := c.local.DeletePattern(ctx, namespace, pattern); err != nil {
		return n, err
	}
	c.broadcast(ctx, invalidation{Namespace: namespace, Pattern: pattern})
	return n, nil
}

// IncrementCounter uses Redis for distributed atomic counters.
// L1 is not used for counters to ensure accuracy across nodes.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, namespace string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, namespace, key, window)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// broadcast is best effort: the local and shared tiers are already consistent.
func (c *TwoPhaseCache) broadcast(ctx context.Context, inv invalidation) {
	if c.bus == nil {
		return
	}
	inv.Origin = c.nodeID
	payload, err := json.Marshal(inv)
	if err != nil {
		return
	}
	if err := c.bus.Publish(ctx, domain.GlobalScope, domain.TopicCacheInvalidated, payload); err != nil {
		slog.Warn("cache invalidation broadcast failed",
			"namespace", inv.Namespace,
			"error", err,
		)
	}
}
