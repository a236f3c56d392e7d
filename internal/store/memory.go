package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/models"
)

// MemoryStore keeps everything in process memory. It backs tests and
// DB_DRIVER=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*models.Product
	orders   map[string]*models.Order
	users    map[string]*models.User
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*models.Product),
		orders:   make(map[string]*models.Order),
		users:    make(map[string]*models.User),
		now:      time.Now,
	}
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func copyProduct(p *models.Product) *models.Product {
	c := *p
	c.Tags = append([]string(nil), p.Tags...)
	c.Images = append([]string(nil), p.Images...)
	return &c
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	c.StatusHistory = append([]models.StatusChange(nil), o.StatusHistory...)
	return &c
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.Address != nil {
		a := *u.Address
		c.Address = &a
	}
	return &c
}

// CreateProduct stores a new product
func (s *MemoryStore) CreateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; ok {
		return apperr.Conflict("product %s already exists", p.ID)
	}
	s.products[p.ID] = copyProduct(p)
	return nil
}

// GetProduct retrieves a product by ID
func (s *MemoryStore) GetProduct(_ context.Context, id string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, apperr.NotFound("product not found: %s", id)
	}
	return copyProduct(p), nil
}

// GetProductByName retrieves a product by exact name
func (s *MemoryStore) GetProductByName(_ context.Context, name string) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.Name == name {
			return copyProduct(p), nil
		}
	}
	return nil, apperr.NotFound("product not found: %s", name)
}

// UpdateProduct replaces a product
func (s *MemoryStore) UpdateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; !ok {
		return apperr.NotFound("product not found: %s", p.ID)
	}
	s.products[p.ID] = copyProduct(p)
	return nil
}

// DeleteProduct removes a product
func (s *MemoryStore) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return apperr.NotFound("product not found: %s", id)
	}
	delete(s.products, id)
	return nil
}

func matchesProduct(p *models.Product, f ProductFilter) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
		return false
	}
	if f.Brand != "" && !strings.EqualFold(p.Brand, f.Brand) {
		return false
	}
	if f.MinPrice > 0 && p.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && p.Price > f.MaxPrice {
		return false
	}
	if f.Featured != nil && p.Featured != *f.Featured {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		fields := append([]string{p.Name, p.Description, p.Brand, p.Category}, p.Tags...)
		found := false
		for _, field := range fields {
			if strings.Contains(strings.ToLower(field), q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func productLess(sortBy string) func(a, b *models.Product) bool {
	switch sortBy {
	case SortPriceAsc:
		return func(a, b *models.Product) bool { return a.Price < b.Price }
	case SortPriceDesc:
		return func(a, b *models.Product) bool { return a.Price > b.Price }
	case SortRating:
		return func(a, b *models.Product) bool { return a.Rating.Average > b.Rating.Average }
	case SortPopular:
		return func(a, b *models.Product) bool { return a.SalesCount > b.SalesCount }
	case SortName:
		return func(a, b *models.Product) bool { return a.Name < b.Name }
	default:
		return func(a, b *models.Product) bool { return a.CreatedAt.After(b.CreatedAt) }
	}
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ListProducts returns matching products and the total match count
func (s *MemoryStore) ListProducts(_ context.Context, f ProductFilter) ([]models.Product, int64, error) {
	s.mu.RLock()
	matched := make([]*models.Product, 0)
	for _, p := range s.products {
		if matchesProduct(p, f) {
			matched = append(matched, copyProduct(p))
		}
	}
	s.mu.RUnlock()

	less := productLess(f.Sort)
	sort.SliceStable(matched, func(i, j int) bool {
		if less(matched[i], matched[j]) {
			return true
		}
		if less(matched[j], matched[i]) {
			return false
		}
		return matched[i].ID < matched[j].ID
	})

	out := make([]models.Product, 0, len(matched))
	for _, p := range page(matched, f.Offset, f.Limit) {
		out = append(out, *p)
	}
	return out, int64(len(matched)), nil
}

// ListCategories returns active categories with their product counts
func (s *MemoryStore) ListCategories(_ context.Context) ([]models.CategoryCount, error) {
	s.mu.RLock()
	counts := make(map[string]int64)
	for _, p := range s.products {
		if p.Status == models.ProductStatusActive && p.Category != "" {
			counts[p.Category]++
		}
	}
	s.mu.RUnlock()

	out := make([]models.CategoryCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, models.CategoryCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ReserveStock decrements stock if enough units are available
func (s *MemoryStore) ReserveStock(_ context.Context, id string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("stock quantity must be positive, got %d", qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return apperr.NotFound("product not found: %s", id)
	}
	if p.Quantity < qty {
		return apperr.InsufficientStock("insufficient stock for %s: available=%d, requested=%d", p.Name, p.Quantity, qty)
	}
	p.Quantity -= qty
	p.UpdatedAt = s.now()
	return nil
}

// ReleaseStock returns units to stock
func (s *MemoryStore) ReleaseStock(_ context.Context, id string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("stock quantity must be positive, got %d", qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return apperr.NotFound("product not found: %s", id)
	}
	p.Quantity += qty
	p.UpdatedAt = s.now()
	return nil
}

// IncrementSales adjusts the sales counter
func (s *MemoryStore) IncrementSales(_ context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return apperr.NotFound("product not found: %s", id)
	}
	p.SalesCount += int64(delta)
	if p.SalesCount < 0 {
		p.SalesCount = 0
	}
	return nil
}

// IncrementViews bumps the view counter
func (s *MemoryStore) IncrementViews(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return apperr.NotFound("product not found: %s", id)
	}
	p.ViewCount++
	return nil
}

// CreateOrder stores a new order
func (s *MemoryStore) CreateOrder(_ context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.IdempotencyKey != "" {
		for _, existing := range s.orders {
			if existing.IdempotencyKey == o.IdempotencyKey {
				return apperr.Conflict("duplicate idempotency key")
			}
		}
	}
	s.orders[o.ID] = copyOrder(o)
	return nil
}

// GetOrder retrieves an order by ID
func (s *MemoryStore) GetOrder(_ context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order not found: %s", id)
	}
	return copyOrder(o), nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *MemoryStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.IdempotencyKey == key {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

// ListOrders returns matching orders newest first
func (s *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]models.Order, int64, error) {
	s.mu.RLock()
	matched := make([]*models.Order, 0)
	for _, o := range s.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, copyOrder(o))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	out := make([]models.Order, 0, len(matched))
	for _, o := range page(matched, f.Offset, f.Limit) {
		out = append(out, *o)
	}
	return out, int64(len(matched)), nil
}

// UpdateOrderStatus transitions an order if it is still in the expected status
func (s *MemoryStore) UpdateOrderStatus(_ context.Context, id string, from, to models.OrderStatus, change models.StatusChange) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order not found: %s", id)
	}
	if o.Status != from {
		return nil, apperr.InvalidTransition("order %s is %s, not %s", o.OrderNumber, o.Status, from)
	}
	o.Status = to
	o.StatusHistory = append(o.StatusHistory, change)
	o.UpdatedAt = change.Timestamp
	return copyOrder(o), nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// SalesStats aggregates non-cancelled orders in the date range
func (s *MemoryStore) SalesStats(_ context.Context, from, to time.Time) (models.SalesStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st models.SalesStats
	for _, o := range s.orders {
		if o.Status == models.OrderStatusCancelled || !inRange(o.CreatedAt, from, to) {
			continue
		}
		st.TotalOrders++
		st.TotalRevenue += o.Totals.Total
		st.TotalItems += int64(o.ItemCount())
	}
	st.AverageOrderValue = averageOrderValue(st.TotalRevenue, st.TotalOrders)
	return st, nil
}

// StatusCounts counts orders per status
func (s *MemoryStore) StatusCounts(_ context.Context) (map[models.OrderStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.OrderStatus]int64)
	for _, o := range s.orders {
		counts[o.Status]++
	}
	return counts, nil
}

// CreateUser stores a new user
func (s *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return apperr.Conflict("email already registered")
		}
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

// GetUser retrieves a user by ID
func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found: %s", id)
	}
	return copyUser(u), nil
}

// GetUserByEmail retrieves a user by email
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, apperr.NotFound("user not found: %s", email)
}

// UpdateUser replaces a user
func (s *MemoryStore) UpdateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return apperr.NotFound("user not found: %s", u.ID)
	}
	for id, existing := range s.users {
		if id != u.ID && existing.Email == u.Email {
			return apperr.Conflict("email already registered")
		}
	}
	s.users[u.ID] = copyUser(u)
	return nil
}
