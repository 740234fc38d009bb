package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix scopes every Kestrel key in a shared Redis.
const keyPrefix = "kestrel:"

// scanBatch is the SCAN COUNT hint and the DEL batch size for pattern deletes.
const scanBatch = 500

// incrementScript increments a counter and starts its window on first use.
var incrementScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache implements Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache and verifies connectivity.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client, e.g. one shared with other components.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get retrieves a value from Redis. A miss returns nil, nil.
func (c *RedisCache) Get(ctx context.Context, namespace string, key string) ([]byte, error) {
	if namespace == "" {
		return nil, ErrNamespaceRequired
	}

	val, err := c.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, namespace string, key string, value []byte, ttl time.Duration) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}
	return c.client.Set(ctx, redisKey(namespace, key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, namespace string, key string) error {
	if namespace == "" {
		return ErrNamespaceRequired
	}
	return c.client.Del(ctx, redisKey(namespace, key)).Err()
}

// DeletePattern walks the keyspace with SCAN and deletes matches in batches.
// SCAN never blocks the server the way KEYS does.
func (c *RedisCache) DeletePattern(ctx context.Context, namespace string, pattern string) (int, error) {
	if namespace == "" {
		return 0, ErrNamespaceRequired
	}

	iter := c.client.Scan(ctx, 0, redisKey(namespace, pattern), scanBatch).Iterator()

	removed := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

// IncrementCounter atomically increments a counter using INCR with PEXPIRE.
func (c *RedisCache) IncrementCounter(ctx context.Context, namespace string, key string, window time.Duration) (int64, error) {
	if namespace == "" {
		return 0, ErrNamespaceRequired
	}

	return incrementScript.Run(ctx, c.client, []string{redisKey(namespace, "counter:"+key)}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func redisKey(namespace, key string) string {
	return keyPrefix + namespace + ":" + key
}
