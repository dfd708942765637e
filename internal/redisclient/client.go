package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

//go:embed scripts/commit_stock.lua
var commitStockScript string

//go:embed scripts/sliding_window.lua
var slidingWindowScript string

//go:embed scripts/window_count.lua
var windowCountScript string

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
	commitScript  *redis.Script
	limitScript   *redis.Script
	countScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return New(rdb), nil
}

// New wraps an existing connection.
func New(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
		commitScript:  redis.NewScript(commitStockScript),
		limitScript:   redis.NewScript(slidingWindowScript),
		countScript:   redis.NewScript(windowCountScript),
	}
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func inventoryKey(class, productKey string) string {
	return fmt.Sprintf("inventory:%s:%s", class, productKey)
}

// ReserveStock atomically moves quantity (thousandths) from available to reserved.
// Products without an inventory hash are not stock-managed and always succeed.
func (c *Client) ReserveStock(ctx context.Context, class, productKey string, quantity int64) (bool, error) {
	result, err := c.reserveScript.Run(ctx, c.rdb, []string{inventoryKey(class, productKey)}, quantity).Result()
	if err != nil {
		return false, fmt.Errorf("reserve stock script failed: %w", err)
	}

	success, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type %T", result)
	}

	return success == 1, nil
}

// ReleaseStock atomically releases reserved stock (compensation)
func (c *Client) ReleaseStock(ctx context.Context, class, productKey string, quantity int64) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{inventoryKey(class, productKey)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("release stock script failed: %w", err)
	}

	return nil
}

// CommitStock atomically commits reserved stock (final deduction)
func (c *Client) CommitStock(ctx context.Context, class, productKey string, quantity int64) error {
	_, err := c.commitScript.Run(ctx, c.rdb, []string{inventoryKey(class, productKey)}, quantity).Result()
	if err != nil {
		return fmt.Errorf("commit stock script failed: %w", err)
	}

	return nil
}

// SeedInventory creates the inventory hash if it does not exist yet.
// It reports whether the hash was created.
func (c *Client) SeedInventory(ctx context.Context, class, productKey string, available int64) (bool, error) {
	key := inventoryKey(class, productKey)

	pipe := c.rdb.TxPipeline()
	created := pipe.HSetNX(ctx, key, "available", available)
	pipe.HSetNX(ctx, key, "reserved", 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return created.Val(), nil
}

// GetInventory retrieves current inventory counts
func (c *Client) GetInventory(ctx context.Context, class, productKey string) (available, reserved int64, err error) {
	result, err := c.rdb.HGetAll(ctx, inventoryKey(class, productKey)).Result()
	if err != nil {
		return 0, 0, err
	}

	if len(result) == 0 {
		return 0, 0, fmt.Errorf("inventory not found for product %s", productKey)
	}

	available, _ = strconv.ParseInt(result["available"], 10, 64)
	reserved, _ = strconv.ParseInt(result["reserved"], 10, 64)

	return available, reserved, nil
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

