package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"techstore/internal/cart"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/fixed_window.lua
var fixedWindowScript string

// CartTTL is how long an untouched cart survives.
const CartTTL = 30 * 24 * time.Hour

type Client struct {
	rdb          *redis.Client
	windowScript *redis.Script
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:          rdb,
		windowScript: redis.NewScript(fixedWindowScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// IncrWindow atomically counts a hit in a window that starts with the first
// hit, returning the count and the time left in the window.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	result, err := c.windowScript.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("fixed window script failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected script result type")
	}
	count, ok1 := values[0].(int64)
	ttl, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("unexpected script result type")
	}

	return count, time.Duration(ttl) * time.Millisecond, nil
}

func cartKey(owner string) string {
	return fmt.Sprintf("cart:%s", owner)
}

// Load reads the owner's cart. A missing key is an empty cart.
func (c *Client) Load(ctx context.Context, owner string) (cart.State, error) {
	var state cart.State

	raw, err := c.rdb.Get(ctx, cartKey(owner)).Bytes()
	if errors.Is(err, redis.Nil) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("failed to read cart: %w", err)
	}

	if err := json.Unmarshal(raw, &state); err != nil {
		return cart.State{}, fmt.Errorf("failed to decode cart: %w", err)
	}
	return state, nil
}

// Save writes the owner's cart and refreshes its TTL. An empty cart is deleted.
func (c *Client) Save(ctx context.Context, owner string, state cart.State) error {
	if len(state.Items) == 0 && state.PromoCode == "" {
		return c.rdb.Del(ctx, cartKey(owner)).Err()
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}
	if err := c.rdb.Set(ctx, cartKey(owner), raw, CartTTL).Err(); err != nil {
		return fmt.Errorf("failed to write cart: %w", err)
	}
	return nil
}

// SetIdempotencyKey stores value under key unless the key already exists.
// It reports whether the key was claimed.
func (c *Client) SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Result()
}

// DeleteIdempotencyKey releases a claimed key so the request can be retried.
func (c *Client) DeleteIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}
