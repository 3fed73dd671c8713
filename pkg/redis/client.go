// Package redis provides a thin wrapper around go-redis/v9 with connection
// pooling and the per-source run lock used to keep concurrent processes from
// crawling the same source at the same time.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/contentops/lifecycle-platform/pkg/config"
	apperrors "github.com/contentops/lifecycle-platform/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// AcquireLock takes the named lock with SETNX and a TTL. When another
// holder already owns the lock it returns an error wrapping ErrRunLocked.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) error {
	ok, err := c.rdb.SetNX(ctx, lockKey(name), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	if !ok {
		return apperrors.Newf(apperrors.ErrRunLocked, "lock %s held elsewhere", name)
	}
	return nil
}

// ReleaseLock drops the named lock. Releasing a lock that expired is not an
// error.
func (c *Client) ReleaseLock(ctx context.Context, name string) error {
	if err := c.rdb.Del(ctx, lockKey(name)).Err(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", name, err)
	}
	return nil
}

func lockKey(name string) string {
	return "lifecycle:run-lock:" + name
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
