package service

import (
	"context"
	"sync"
	"testing"

	"techstore/internal/apperr"
	"techstore/internal/cart"
	"techstore/internal/models"
	"techstore/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCartService(t *testing.T) (*CartService, *fixture, *cart.MemoryStore) {
	t.Helper()
	f := newFixture(t)
	carts := cart.NewMemoryStore()
	svc := NewCartService(carts, f.store, f.orders, pricing.DefaultConfig(), pricing.NewCatalog(pricing.DefaultPromos()))
	return svc, f, carts
}

func TestCartAddUsesCatalogPrice(t *testing.T) {
	svc, _, _ := newCartService(t)
	ctx := context.Background()

	snap, err := svc.AddItem(ctx, "u-1", "p3", 2)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, int64(25000), snap.Items[0].Price)
	assert.Equal(t, "Body Mist", snap.Items[0].Name)
	assert.Equal(t, 2, snap.ItemCount)
	assert.Equal(t, models.Totals{Subtotal: 50000, Tax: 9500, Shipping: 10000, Total: 69500}, snap.Totals)

	_, err = svc.AddItem(ctx, "u-1", "p4", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.AddItem(ctx, "u-1", "missing", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.AddItem(ctx, "", "p3", 1)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestCartIsolatedPerUser(t *testing.T) {
	svc, _, _ := newCartService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u-1", "p1", 1)
	require.NoError(t, err)

	other, err := svc.Get(ctx, "u-2")
	require.NoError(t, err)
	assert.Empty(t, other.Items)
}

func TestCartMutations(t *testing.T) {
	svc, _, _ := newCartService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u-1", "p1", 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "u-1", "p3", 1)
	require.NoError(t, err)

	snap, err := svc.SetQuantity(ctx, "u-1", "p3", 4)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.ItemCount)

	snap, err = svc.ApplyPromo(ctx, "u-1", "techpro20")
	require.NoError(t, err)
	assert.Equal(t, "TECHPRO20", snap.PromoCode)
	assert.Equal(t, int64(110000), snap.Totals.Discount)

	_, err = svc.ApplyPromo(ctx, "u-1", "BOGUS")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	snap, err = svc.RemovePromo(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, snap.PromoCode)

	snap, err = svc.RemoveItem(ctx, "u-1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.ItemCount)

	snap, err = svc.Clear(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
}

func TestCartCheckout(t *testing.T) {
	svc, f, _ := newCartService(t)
	ctx := context.Background()

	_, err := svc.Checkout(ctx, "u-1", &CheckoutRequest{ShippingAddress: address()}, "")
	assert.ErrorIs(t, err, apperr.ErrValidation, "empty cart")

	_, err = svc.AddItem(ctx, "u-1", "p1", 2)
	require.NoError(t, err)
	_, err = svc.ApplyPromo(ctx, "u-1", "DESCUENTO10")
	require.NoError(t, err)

	_, err = svc.Checkout(ctx, "u-1", &CheckoutRequest{}, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	snap, err := svc.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.ItemCount, "rejected checkout keeps the cart")

	order, err := svc.Checkout(ctx, "u-1", &CheckoutRequest{ShippingAddress: address(), PaymentMethod: "pse"}, "chk-1")
	require.NoError(t, err)
	assert.Equal(t, "DESCUENTO10", order.PromoCode)
	assert.Equal(t, int64(90000), order.Totals.Discount)
	assert.Equal(t, snap.Totals, order.Totals, "cart and order agree")
	assert.Equal(t, 13, f.stock(t, "p1"))

	snap, err = svc.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.PromoCode)
}

func TestCartConcurrentAdds(t *testing.T) {
	svc, _, _ := newCartService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(ctx, "u-1", "p3", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := svc.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 20, snap.ItemCount)
}
