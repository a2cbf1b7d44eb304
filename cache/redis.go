package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/callgate/health"
)

// RedisCache stores entries in Redis so replicas share hits. Expiry is
// delegated to Redis TTLs.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps an existing client. The caller owns the client.
func NewRedisCache(client redis.UniversalClient) (*RedisCache, error) {
	if client == nil {
		return nil, ErrNilCache
	}
	return &RedisCache{client: client}, nil
}

// DialRedis connects to addr and verifies the connection with a ping.
func DialRedis(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Checker reports Redis reachability as the "cache.redis" health check.
func (c *RedisCache) Checker() health.Checker {
	return health.NewPingChecker("cache.redis", c.Ping)
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)
