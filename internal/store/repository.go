package store

import (
	"context"
	"time"

	"techstore/internal/models"
)

// Product sort orders
const (
	SortNewest    = "newest"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortRating    = "rating"
	SortPopular   = "popular"
	SortName      = "name"
)

// ValidSort reports whether s is a known sort order. "" is the default.
func ValidSort(s string) bool {
	switch s {
	case "", SortNewest, SortPriceAsc, SortPriceDesc, SortRating, SortPopular, SortName:
		return true
	}
	return false
}

// ProductFilter selects catalog products. Zero fields do not filter.
type ProductFilter struct {
	Category string
	Brand    string
	MinPrice int64
	MaxPrice int64
	Search   string
	Featured *bool
	Status   string
	Sort     string
	Offset   int
	Limit    int
}

// OrderFilter selects orders. Zero fields do not filter.
type OrderFilter struct {
	UserID string
	Status models.OrderStatus
	Offset int
	Limit  int
}

// ProductRepository is the catalog store.
type ProductRepository interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	GetProductByName(ctx context.Context, name string) (*models.Product, error)
	UpdateProduct(ctx context.Context, p *models.Product) error
	DeleteProduct(ctx context.Context, id string) error
	ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int64, error)
	ListCategories(ctx context.Context) ([]models.CategoryCount, error)

	// ReserveStock decrements stock by qty only if at least qty units are
	// available. It fails with ErrInsufficientStock otherwise.
	ReserveStock(ctx context.Context, id string, qty int) error
	ReleaseStock(ctx context.Context, id string, qty int) error
	// IncrementSales adds delta (which may be negative) to the sales counter,
	// never going below zero.
	IncrementSales(ctx context.Context, id string, delta int) error
	IncrementViews(ctx context.Context, id string) error
}

// OrderRepository is the order store.
type OrderRepository interface {
	// CreateOrder fails with ErrConflict when the idempotency key is taken.
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	// GetOrderByIdempotencyKey returns nil, nil when no order carries key.
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	// ListOrders returns newest first, with the total matching count.
	ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, int64, error)
	// UpdateOrderStatus moves the order from one status to another only if it
	// is still in from, and appends change to its history.
	UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, change models.StatusChange) (*models.Order, error)
	// SalesStats aggregates non-cancelled orders created in [from, to).
	// Zero bounds are open.
	SalesStats(ctx context.Context, from, to time.Time) (models.SalesStats, error)
	StatusCounts(ctx context.Context) (map[models.OrderStatus]int64, error)
}

// UserRepository is the account store.
type UserRepository interface {
	// CreateUser fails with ErrConflict when the email is taken.
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
}

// Repository is everything the services persist.
type Repository interface {
	ProductRepository
	OrderRepository
	UserRepository
	Ping(ctx context.Context) error
	Close() error
}

// averageOrderValue rounds to two decimals.
func averageOrderValue(revenue, orders int64) float64 {
	if orders == 0 {
		return 0
	}
	v := float64(revenue) / float64(orders)
	return float64(int64(v*100+0.5)) / 100
}
