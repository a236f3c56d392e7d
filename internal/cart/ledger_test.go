package cart

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"techstore/internal/apperr"
	"techstore/internal/models"
	"techstore/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	*MemoryStore
	fail bool
}

func (f *failingStore) Save(ctx context.Context, owner string, s State) error {
	if f.fail {
		return errors.New("quota exceeded")
	}
	return f.MemoryStore.Save(ctx, owner, s)
}

func newLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	if store == nil {
		store = NewMemoryStore()
	}
	l, err := NewLedger(context.Background(), store, "user-1", pricing.DefaultConfig(), pricing.NewCatalog(pricing.DefaultPromos()))
	require.NoError(t, err)
	return l
}

func item(id string, price int64, qty int) models.CartItem {
	return models.CartItem{ProductID: id, Name: "Product " + id, Price: price, Quantity: qty}
}

func TestLedgerAddMergesSameProduct(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil)

	require.NoError(t, l.Add(ctx, item("p1", 50000, 1)))
	require.NoError(t, l.Add(ctx, item("p1", 50000, 2)))
	require.NoError(t, l.Add(ctx, item("p2", 1000, 0)))

	items := l.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, 1, items[1].Quantity, "quantity below 1 is treated as 1")
	assert.Equal(t, 4, l.ItemCount())
	assert.False(t, items[0].AddedAt.IsZero())
}

func TestLedgerRejectsOversizedQuantities(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil)

	assert.ErrorIs(t, l.Add(ctx, item("p1", 50000, math.MaxInt)), apperr.ErrValidation)
	assert.Empty(t, l.Items())

	require.NoError(t, l.Add(ctx, item("p1", 50000, models.MaxLineQuantity)))
	assert.ErrorIs(t, l.Add(ctx, item("p1", 50000, 1)), apperr.ErrValidation)
	assert.ErrorIs(t, l.SetQuantity(ctx, "p1", math.MaxInt), apperr.ErrValidation)

	items := l.Items()
	require.Len(t, items, 1)
	assert.Equal(t, models.MaxLineQuantity, items[0].Quantity)
	assert.Equal(t, int64(50000)*int64(models.MaxLineQuantity), l.Totals().Subtotal)
}

func TestLedgerAddRejectsNonPositivePrice(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil)
	require.NoError(t, l.Add(ctx, item("p1", 1000, 1)))

	for _, price := range []int64{0, -5} {
		err := l.Add(ctx, item("p2", price, 1))
		assert.ErrorIs(t, err, ErrInvalidPrice)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
	assert.Len(t, l.Items(), 1)
}

func TestLedgerSetQuantity(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil)
	require.NoError(t, l.Add(ctx, item("p1", 1000, 1)))
	require.NoError(t, l.Add(ctx, item("p2", 2000, 1)))

	require.NoError(t, l.SetQuantity(ctx, "p1", 5))
	assert.Equal(t, 5, l.Items()[0].Quantity)

	require.NoError(t, l.SetQuantity(ctx, "p1", 0))
	items := l.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "p2", items[0].ProductID)

	require.NoError(t, l.SetQuantity(ctx, "p2", -3))
	assert.Empty(t, l.Items())
}

func TestLedgerTotalsScenario(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil)
	require.NoError(t, l.Add(ctx, item("p1", 50000, 2)))

	assert.Equal(t, models.Totals{Subtotal: 100000, Shipping: 0, Tax: 19000, Discount: 0, Total: 119000}, l.Totals())
}

func TestLedgerPromoLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil)
	require.NoError(t, l.Add(ctx, item("p1", 35000, 1)))

	_, err := l.ApplyPromo(ctx, "DESCUENTO10")
	assert.ErrorIs(t, err, apperr.ErrValidation, "below minimum")
	assert.Empty(t, l.PromoCode())

	p, err := l.ApplyPromo(ctx, "enviogratis")
	require.NoError(t, err)
	assert.Equal(t, "ENVIOGRATIS", p.Code)
	assert.Equal(t, int64(0), l.Totals().Shipping)

	require.NoError(t, l.Add(ctx, item("p2", 20000, 1)))
	_, err = l.ApplyPromo(ctx, "DESCUENTO10")
	require.NoError(t, err)
	assert.Equal(t, "DESCUENTO10", l.PromoCode(), "new promo replaces the old one")
	assert.Equal(t, int64(5500), l.Totals().Discount)

	// promo stays recorded but stops applying once the minimum is no longer met
	require.NoError(t, l.Remove(ctx, "p1"))
	assert.Equal(t, "DESCUENTO10", l.PromoCode())
	assert.Equal(t, int64(0), l.Totals().Discount)

	require.NoError(t, l.RemovePromo(ctx))
	assert.Empty(t, l.PromoCode())
}

func TestLedgerClearDropsPromo(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := newLedger(t, store)
	require.NoError(t, l.Add(ctx, item("p1", 60000, 1)))
	_, err := l.ApplyPromo(ctx, "DESCUENTO10")
	require.NoError(t, err)

	require.NoError(t, l.Clear(ctx))
	assert.Empty(t, l.Items())
	assert.Empty(t, l.PromoCode())

	st, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, st.Items)
}

func TestLedgerPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l := newLedger(t, store)
	require.NoError(t, l.Add(ctx, item("p1", 1000, 2)))

	reloaded := newLedger(t, store)
	assert.Equal(t, l.Items(), reloaded.Items())
}

func TestLedgerSaveFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: NewMemoryStore()}
	l := newLedger(t, store)
	require.NoError(t, l.Add(ctx, item("p1", 1000, 1)))

	store.fail = true
	notified := false
	l.Subscribe(func(Snapshot) { notified = true })

	assert.Error(t, l.Add(ctx, item("p2", 1000, 1)))
	assert.Len(t, l.Items(), 1)
	assert.False(t, notified)
}

func TestLedgerNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil)

	var got []Snapshot
	unsubscribe := l.Subscribe(func(s Snapshot) { got = append(got, s) })

	require.NoError(t, l.Add(ctx, item("p1", 50000, 2)))
	require.NoError(t, l.SetQuantity(ctx, "p1", 1))
	unsubscribe()
	require.NoError(t, l.Clear(ctx))

	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].ItemCount)
	assert.Equal(t, int64(119000), got[0].Totals.Total)
	assert.Equal(t, 1, got[1].ItemCount)
}

func TestLedgerConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Add(ctx, item("p1", 100, 1))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, l.ItemCount())
}
