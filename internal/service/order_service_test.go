package service

import (
	"context"
	"math"
	"regexp"
	"sync"
	"testing"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/models"
	"techstore/internal/pricing"
	"techstore/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	created []*models.OrderCreatedEvent
	changed []*models.OrderStatusChangedEvent
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return nil
}

type fakeClaims struct {
	mu   sync.Mutex
	keys map[string]string
}

func (f *fakeClaims) SetIdempotencyKey(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = value
	return true, nil
}

func (f *fakeClaims) DeleteIdempotencyKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

// flakyStock fails reservations for one product.
type flakyStock struct {
	*store.MemoryStore
	failOn string
}

func (f *flakyStock) ReserveStock(ctx context.Context, id string, qty int) error {
	if id == f.failOn {
		return apperr.InsufficientStock("insufficient stock")
	}
	return f.MemoryStore.ReserveStock(ctx, id, qty)
}

type fixture struct {
	store     *store.MemoryStore
	orders    *OrderService
	publisher *recordingPublisher
	claims    *fakeClaims
}

func seedCatalog(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	products := []models.Product{
		{ID: "p1", Name: "Khamrah", Brand: "Lattafa", Category: "perfumes arabes", Price: 450000, OriginalPrice: 600000,
			Discount: 25, Quantity: 15, Featured: true, Rating: models.Rating{Average: 4.8}, Status: models.ProductStatusActive},
		{ID: "p2", Name: "Acqua Di Gio", Brand: "Giorgio Armani", Category: "perfumes de diseñador", Price: 810000,
			OriginalPrice: 900000, Discount: 10, Quantity: 20, Featured: true, Rating: models.Rating{Average: 4.5}, Status: models.ProductStatusActive},
		{ID: "p3", Name: "Body Mist", Brand: "Lattafa", Category: "perfumes arabes", Price: 25000, Quantity: 50,
			Status: models.ProductStatusActive},
		{ID: "p4", Name: "Retired", Brand: "Lattafa", Category: "perfumes arabes", Price: 100000, Quantity: 5,
			Status: models.ProductStatusInactive},
	}
	for i := range products {
		products[i].CreatedAt = time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.CreateProduct(context.Background(), &products[i]))
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	seedCatalog(t, s)
	return newFixtureWith(t, s, s)
}

func newFixtureWith(t *testing.T, s *store.MemoryStore, os OrderStore) *fixture {
	t.Helper()
	pub := &recordingPublisher{}
	claims := &fakeClaims{keys: map[string]string{}}
	orders := NewOrderService(os, NewStockKeeper(os), pricing.DefaultConfig(),
		pricing.NewCatalog(pricing.DefaultPromos()), pub, claims)
	return &fixture{store: s, orders: orders, publisher: pub, claims: claims}
}

func address() *models.Address {
	return &models.Address{FirstName: "Ana", LastName: "Gómez", Street: "Calle 10 # 5-20", City: "Bogotá", Country: "Colombia"}
}

func orderRequest(lines ...OrderLineRequest) *CreateOrderRequest {
	return &CreateOrderRequest{Items: lines, ShippingAddress: address(), PaymentMethod: "credit_card"}
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}

func (f *fixture) place(t *testing.T, userID string, lines ...OrderLineRequest) *models.Order {
	t.Helper()
	o, err := f.orders.CreateOrder(context.Background(), userID, orderRequest(lines...), "")
	require.NoError(t, err)
	return o
}

func TestCreateOrderUsesCatalogPrices(t *testing.T) {
	f := newFixture(t)

	req := orderRequest(OrderLineRequest{ProductID: "p1", Quantity: 1, Price: 1, Name: "Tampered"})
	order, err := f.orders.CreateOrder(context.Background(), "u-1", req, "")
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(450000), order.Items[0].Price)
	assert.Equal(t, "Khamrah", order.Items[0].Name)
	assert.Equal(t, models.Totals{Subtotal: 450000, Tax: 85500, Shipping: 0, Total: 535500}, order.Totals)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	require.Len(t, order.StatusHistory, 1)
	assert.Equal(t, models.OrderStatusPending, order.StatusHistory[0].Status)
	assert.Regexp(t, regexp.MustCompile(`^ORD-\d{8}-[0-9A-F]{6}$`), order.OrderNumber)
	assert.Equal(t, "standard", order.ShippingMethod)
	assert.Equal(t, *req.ShippingAddress, order.BillingAddress, "billing defaults to shipping")

	assert.Equal(t, 14, f.stock(t, "p1"))
	require.Len(t, f.publisher.created, 1)
	assert.Equal(t, order.ID, f.publisher.created[0].OrderID)

	stored, err := f.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Totals, stored.Totals)
}

func TestCreateOrderChargesShippingBelowThreshold(t *testing.T) {
	f := newFixture(t)

	order := f.place(t, "u-1", OrderLineRequest{ProductID: "p3", Quantity: 2})
	assert.Equal(t, models.Totals{Subtotal: 50000, Tax: 9500, Shipping: 10000, Total: 69500}, order.Totals)
}

func TestCreateOrderValidation(t *testing.T) {
	tests := map[string]*CreateOrderRequest{
		"no items":        {ShippingAddress: address()},
		"no address":      {Items: []OrderLineRequest{{ProductID: "p1", Quantity: 1}}},
		"empty address":   {Items: []OrderLineRequest{{ProductID: "p1", Quantity: 1}}, ShippingAddress: &models.Address{}},
		"zero quantity":   orderRequest(OrderLineRequest{ProductID: "p1", Quantity: 0}),
		"missing product": orderRequest(OrderLineRequest{Quantity: 1}),
		"bad payment":     {Items: []OrderLineRequest{{ProductID: "p1", Quantity: 1}}, ShippingAddress: address(), PaymentMethod: "bitcoin"},
		"bad shipping":    {Items: []OrderLineRequest{{ProductID: "p1", Quantity: 1}}, ShippingAddress: address(), ShippingMethod: "drone"},
		"unknown promo":   {Items: []OrderLineRequest{{ProductID: "p1", Quantity: 1}}, ShippingAddress: address(), PromoCode: "NOPE"},
		"promo below min": {Items: []OrderLineRequest{{ProductID: "p3", Quantity: 1}}, ShippingAddress: address(), PromoCode: "TECHPRO20"},
		"street required": {Items: []OrderLineRequest{{ProductID: "p1", Quantity: 1}}, ShippingAddress: &models.Address{City: "Cali"}},
	}

	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.orders.CreateOrder(context.Background(), "u-1", req, "")
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, 15, f.stock(t, "p1"))
		})
	}
}

func TestCreateOrderRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.orders.CreateOrder(context.Background(), "", orderRequest(OrderLineRequest{ProductID: "p1", Quantity: 1}), "")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestCreateOrderUnknownOrInactiveProduct(t *testing.T) {
	for _, id := range []string{"missing", "p4"} {
		t.Run(id, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.orders.CreateOrder(context.Background(), "u-1", orderRequest(OrderLineRequest{ProductID: id, Quantity: 1}), "")
			assert.ErrorIs(t, err, apperr.ErrNotFound)
			assert.Empty(t, f.publisher.created)
		})
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.CreateOrder(context.Background(), "u-1", orderRequest(
		OrderLineRequest{ProductID: "p1", Quantity: 1},
		OrderLineRequest{ProductID: "p2", Quantity: 21},
	), "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 15, f.stock(t, "p1"))
	assert.Equal(t, 20, f.stock(t, "p2"))
}

func TestCreateOrderCompensatesFailedReservation(t *testing.T) {
	s := store.NewMemoryStore()
	seedCatalog(t, s)
	f := newFixtureWith(t, s, &flakyStock{MemoryStore: s, failOn: "p2"})

	_, err := f.orders.CreateOrder(context.Background(), "u-1", orderRequest(
		OrderLineRequest{ProductID: "p1", Quantity: 3},
		OrderLineRequest{ProductID: "p2", Quantity: 1},
	), "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Equal(t, 15, f.stock(t, "p1"), "p1 reservation rolled back")

	_, total, err := s.ListOrders(context.Background(), store.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCreateOrderMergesDuplicateLines(t *testing.T) {
	f := newFixture(t)

	order := f.place(t, "u-1",
		OrderLineRequest{ProductID: "p3", Quantity: 1},
		OrderLineRequest{ProductID: "p3", Quantity: 2},
	)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, 47, f.stock(t, "p3"))
}

func TestCreateOrderRejectsOversizedQuantities(t *testing.T) {
	f := newFixture(t)

	cases := [][]OrderLineRequest{
		{{ProductID: "p3", Quantity: math.MaxInt}, {ProductID: "p3", Quantity: 2}},
		{{ProductID: "p3", Quantity: models.MaxLineQuantity}, {ProductID: "p3", Quantity: 1}},
		{{ProductID: "p3", Quantity: models.MaxLineQuantity + 1}},
	}
	for _, lines := range cases {
		_, err := f.orders.CreateOrder(context.Background(), "u-1", orderRequest(lines...), "")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
	assert.Equal(t, 50, f.stock(t, "p3"))

	_, total, err := f.store.ListOrders(context.Background(), store.OrderFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestCreateOrderAppliesPromo(t *testing.T) {
	f := newFixture(t)

	req := orderRequest(OrderLineRequest{ProductID: "p1", Quantity: 1})
	req.PromoCode = " descuento10 "
	order, err := f.orders.CreateOrder(context.Background(), "u-1", req, "")
	require.NoError(t, err)

	assert.Equal(t, "DESCUENTO10", order.PromoCode)
	assert.Equal(t, models.Totals{Subtotal: 450000, Tax: 85500, Discount: 45000, Total: 490500}, order.Totals)
}

func TestCreateOrderIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := func() *CreateOrderRequest { return orderRequest(OrderLineRequest{ProductID: "p1", Quantity: 2}) }

	first, err := f.orders.CreateOrder(ctx, "u-1", req(), "key-1")
	require.NoError(t, err)
	second, err := f.orders.CreateOrder(ctx, "u-1", req(), "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 13, f.stock(t, "p1"))
	assert.Len(t, f.publisher.created, 1)
	assert.Empty(t, f.claims.keys, "claim freed once the order is stored")

	other, err := f.orders.CreateOrder(ctx, "u-2", req(), "key-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "keys are scoped per user")
}

func TestCreateOrderInFlightDuplicate(t *testing.T) {
	f := newFixture(t)
	f.claims.keys["order:u-1:key-1"] = pendingClaim

	_, err := f.orders.CreateOrder(context.Background(), "u-1", orderRequest(OrderLineRequest{ProductID: "p1", Quantity: 1}), "key-1")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 15, f.stock(t, "p1"))
}

func TestChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, "u-1", OrderLineRequest{ProductID: "p1", Quantity: 2})

	updated, err := f.orders.ChangeStatus(ctx, order.ID, models.OrderStatusConfirmed, "", "admin@techstore.com")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, updated.Status)
	require.Len(t, updated.StatusHistory, 2)
	assert.Equal(t, "admin@techstore.com", updated.StatusHistory[1].ChangedBy)
	assert.Equal(t, "Status changed to confirmed", updated.StatusHistory[1].Note)

	require.Len(t, f.publisher.changed, 1)
	assert.Equal(t, models.OrderStatusPending, f.publisher.changed[0].From)
	assert.Equal(t, models.OrderStatusConfirmed, f.publisher.changed[0].To)
	assert.Equal(t, 13, f.stock(t, "p1"))
}

func TestChangeStatusRejectsIllegalTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, "u-1", OrderLineRequest{ProductID: "p1", Quantity: 1})

	_, err := f.orders.ChangeStatus(ctx, order.ID, models.OrderStatusDelivered, "", "admin")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.orders.ChangeStatus(ctx, order.ID, "lost", "", "admin")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.orders.ChangeStatus(ctx, "missing", models.OrderStatusConfirmed, "", "admin")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Len(t, stored.StatusHistory, 1)
	assert.Empty(t, f.publisher.changed)
}

func TestChangeStatusReturnReleasesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, "u-1", OrderLineRequest{ProductID: "p2", Quantity: 4})
	assert.Equal(t, 16, f.stock(t, "p2"))

	for _, st := range []models.OrderStatus{
		models.OrderStatusConfirmed,
		models.OrderStatusProcessing,
		models.OrderStatusShipped,
		models.OrderStatusDelivered,
	} {
		_, err := f.orders.ChangeStatus(ctx, order.ID, st, "", "admin")
		require.NoError(t, err)
	}
	assert.Equal(t, 16, f.stock(t, "p2"))

	_, err := f.orders.ChangeStatus(ctx, order.ID, models.OrderStatusReturned, "damaged", "admin")
	require.NoError(t, err)
	assert.Equal(t, 20, f.stock(t, "p2"))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, "u-1", OrderLineRequest{ProductID: "p1", Quantity: 3})

	_, err := f.orders.Cancel(ctx, order.ID, "u-2")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.orders.Cancel(ctx, "missing", "u-1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	cancelled, err := f.orders.Cancel(ctx, order.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "Cancelled by customer", cancelled.StatusHistory[len(cancelled.StatusHistory)-1].Note)
	assert.Equal(t, 15, f.stock(t, "p1"))

	_, err = f.orders.Cancel(ctx, order.ID, "u-1")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
	assert.Equal(t, 15, f.stock(t, "p1"), "stock released once")
}

func TestCancelShippedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, "u-1", OrderLineRequest{ProductID: "p1", Quantity: 1})
	for _, st := range []models.OrderStatus{models.OrderStatusConfirmed, models.OrderStatusProcessing, models.OrderStatusShipped} {
		_, err := f.orders.ChangeStatus(ctx, order.ID, st, "", "admin")
		require.NoError(t, err)
	}

	_, err := f.orders.Cancel(ctx, order.ID, "u-1")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	stored, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, stored.Status)
	assert.Equal(t, 14, f.stock(t, "p1"))
}

func TestGetOrderOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.place(t, "u-1", OrderLineRequest{ProductID: "p1", Quantity: 1})

	tests := map[string]struct {
		viewer  Viewer
		wantErr error
	}{
		"owner":    {Viewer{UserID: "u-1", Role: models.RoleCustomer}, nil},
		"admin":    {Viewer{UserID: "a-1", Role: models.RoleAdmin}, nil},
		"stranger": {Viewer{UserID: "u-2", Role: models.RoleCustomer}, apperr.ErrForbidden},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := f.orders.GetOrder(ctx, order.ID, tt.viewer)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, order.ID, got.ID)
		})
	}

	_, err := f.orders.GetOrder(ctx, "missing", Viewer{UserID: "u-1"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		f.orders.now = func() time.Time { return at }
		user := "u-1"
		if i%2 == 1 {
			user = "u-2"
		}
		ids = append(ids, f.place(t, user, OrderLineRequest{ProductID: "p3", Quantity: 1}).ID)
	}
	_, err := f.orders.ChangeStatus(ctx, ids[0], models.OrderStatusConfirmed, "", "admin")
	require.NoError(t, err)

	mine, err := f.orders.ListMyOrders(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, ids[4], mine[0].ID)

	page, err := f.orders.ListOrders(ctx, OrderQuery{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 3, page.Pages)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, ids[2], page.Orders[0].ID)

	confirmed, err := f.orders.ListOrders(ctx, OrderQuery{Status: "CONFIRMED"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), confirmed.Total)

	_, err = f.orders.ListOrders(ctx, OrderQuery{Status: "lost"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	kept := f.place(t, "u-1", OrderLineRequest{ProductID: "p3", Quantity: 2})
	dropped := f.place(t, "u-1", OrderLineRequest{ProductID: "p1", Quantity: 1})
	_, err := f.orders.Cancel(ctx, dropped.ID, "u-1")
	require.NoError(t, err)

	stats, err := f.orders.Stats(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Sales.TotalOrders)
	assert.Equal(t, kept.Totals.Total, stats.Sales.TotalRevenue)
	assert.Equal(t, int64(2), stats.Sales.TotalItems)
	assert.Equal(t, int64(1), stats.StatusCounts[models.OrderStatusCancelled])
	assert.Equal(t, int64(1), stats.StatusCounts[models.OrderStatusPending])

	now := time.Now()
	_, err = f.orders.Stats(ctx, now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
