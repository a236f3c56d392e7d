package client

import (
	"context"
	"testing"

	"techstore/internal/cart"
	"techstore/internal/models"
	"techstore/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartStoreSurvivesReload(t *testing.T) {
	ctx := context.Background()
	session := NewMemorySession()
	cfg := pricing.DefaultConfig()
	promos := pricing.NewCatalog(pricing.DefaultPromos())

	first, err := cart.NewLedger(ctx, NewCartStore(session), "tab-1", cfg, promos)
	require.NoError(t, err)
	require.NoError(t, first.Add(ctx, models.CartItem{ProductID: "p3", Name: "Body Mist", Price: 25000, Quantity: 2}))
	_, err = first.ApplyPromo(ctx, "descuento10")
	require.NoError(t, err)

	second, err := cart.NewLedger(ctx, NewCartStore(session), "tab-2", cfg, promos)
	require.NoError(t, err)
	assert.Equal(t, 2, second.ItemCount())
	assert.Equal(t, "DESCUENTO10", second.PromoCode())
	assert.Equal(t, first.Totals(), second.Totals())

	require.NoError(t, second.Clear(ctx))
	_, ok := session.Get(CartKey)
	assert.False(t, ok)
}

func TestCartStoreRejectsCorruptData(t *testing.T) {
	session := NewMemorySession()
	require.NoError(t, session.Set(CartKey, "{not json"))

	_, err := NewCartStore(session).Load(context.Background(), "")
	assert.Error(t, err)
}
