package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps redis for the two things this service uses it for: a read
// cache of per-product stock counts and a coarse lock that keeps the deposit
// sweep on a single instance at a time.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// CacheStock stores the current available count for a product. The database
// stays the ground truth; the cache only serves catalog reads.
func (c *Client) CacheStock(ctx context.Context, productID int64, stock int) error {
	return c.rdb.Set(ctx, stockKey(productID), stock, time.Hour).Err()
}

// GetCachedStock returns the cached count and whether it was present.
func (c *Client) GetCachedStock(ctx context.Context, productID int64) (int, bool, error) {
	val, err := c.rdb.Get(ctx, stockKey(productID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	stock, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock cache for product %d: %w", productID, err)
	}
	return stock, true, nil
}

// InvalidateStock drops the cached count for a product.
func (c *Client) InvalidateStock(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, stockKey(productID)).Err()
}

// AcquireLock takes a named lock with a TTL. Returns false when another
// holder has it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a named lock.
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
