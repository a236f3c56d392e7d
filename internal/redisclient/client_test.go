package redisclient

import (
	"context"
	"testing"
	"time"

	"techstore/internal/cart"
	"techstore/internal/models"
	"techstore/internal/ratelimit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ cart.Store              = (*Client)(nil)
	_ ratelimit.WindowCounter = (*Client)(nil)
)

func TestCartKey(t *testing.T) {
	assert.Equal(t, "cart:user-1", cartKey("user-1"))
}

func TestFixedWindowIntegration(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c, err := NewClient("localhost:6379", "", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	key := "ratelimit:test:" + time.Now().String()
	count, ttl, err := c.IncrWindow(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.LessOrEqual(t, ttl, time.Minute)

	count, _, err = c.IncrWindow(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCartStoreIntegration(t *testing.T) {
	t.Skip("Integration test - requires redis")

	c, err := NewClient("localhost:6379", "", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	state := cart.State{
		Items:     []models.CartItem{{ProductID: "p1", Name: "Khamrah", Price: 450000, Quantity: 1}},
		PromoCode: "DESCUENTO10",
	}
	require.NoError(t, c.Save(ctx, "it-user", state))

	got, err := c.Load(ctx, "it-user")
	require.NoError(t, err)
	assert.Equal(t, state.PromoCode, got.PromoCode)
	assert.Len(t, got.Items, 1)

	require.NoError(t, c.Save(ctx, "it-user", cart.State{}))
	got, err = c.Load(ctx, "it-user")
	require.NoError(t, err)
	assert.Empty(t, got.Items)
}
