package common

import (
	"context"
	"fmt"
	"time"

	"github.com/lgulliver/rvcstore/pkg/config"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lease only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Cache wraps Redis client for lease operations
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(cfg *config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// AcquireLease sets key to token if it is unset. The lease expires after ttl
// so a crashed holder cannot block the key forever.
func (c *Cache) AcquireLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLease deletes key if it still holds token
func (c *Cache) ReleaseLease(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, c.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}
