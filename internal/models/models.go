package models

import (
	"strings"
	"time"

	"techstore/internal/apperr"
)

// Product represents a catalog product. Prices are whole currency units.
type Product struct {
	ID            string    `bson:"_id" json:"id"`
	Name          string    `bson:"name" json:"name"`
	Description   string    `bson:"description" json:"description"`
	Price         int64     `bson:"price" json:"price"`
	OriginalPrice int64     `bson:"originalPrice" json:"originalPrice"`
	Discount      int       `bson:"discount" json:"discount"`
	Quantity      int       `bson:"quantity" json:"quantity"`
	Brand         string    `bson:"brand" json:"brand"`
	Category      string    `bson:"category" json:"category"`
	Subcategory   string    `bson:"subcategory,omitempty" json:"subcategory,omitempty"`
	Tags          []string  `bson:"tags" json:"tags"`
	MainImage     string    `bson:"mainImage" json:"mainImage"`
	Images        []string  `bson:"images" json:"images"`
	Rating        Rating    `bson:"rating" json:"rating"`
	SalesCount    int64     `bson:"salesCount" json:"salesCount"`
	ViewCount     int64     `bson:"viewCount" json:"viewCount"`
	Featured      bool      `bson:"featured" json:"featured"`
	Status        string    `bson:"status" json:"status"`
	CreatedAt     time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Rating is the aggregate of customer reviews.
type Rating struct {
	Average float64 `bson:"average" json:"average"`
	Count   int     `bson:"count" json:"count"`
}

// Product statuses
const (
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
)

// InStock reports whether at least one unit is available.
func (p *Product) InStock() bool {
	return p.Quantity > 0
}

// Image returns the image used in order and cart snapshots.
func (p *Product) Image() string {
	if p.MainImage != "" {
		return p.MainImage
	}
	if len(p.Images) > 0 {
		return p.Images[0]
	}
	return ""
}

// Validate checks the product invariants.
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperr.Validation("product name is required")
	}
	if p.Price <= 0 {
		return apperr.Validation("product price must be greater than 0")
	}
	if p.Quantity < 0 {
		return apperr.Validation("product quantity cannot be negative")
	}
	if p.Discount < 0 || p.Discount > 100 {
		return apperr.Validation("product discount must be between 0 and 100")
	}
	if (p.Discount > 0 || p.OriginalPrice > 0) && p.Price > p.OriginalPrice {
		return apperr.Validation("product price cannot exceed original price when a discount is set")
	}
	switch p.Status {
	case ProductStatusActive, ProductStatusInactive:
	default:
		return apperr.Validation("invalid product status: %s", p.Status)
	}
	return nil
}

// MaxLineQuantity caps the units of one product in a cart or order line.
const MaxLineQuantity = 1000

// CartItem is a line in a cart ledger. Price is a snapshot taken when the
// item was added.
type CartItem struct {
	ProductID string    `json:"id"`
	Name      string    `json:"name"`
	Image     string    `json:"image,omitempty"`
	Price     int64     `json:"price"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
}

// Address is a shipping or billing address.
type Address struct {
	FirstName string `bson:"firstName" json:"firstName"`
	LastName  string `bson:"lastName" json:"lastName"`
	Street    string `bson:"street" json:"street"`
	City      string `bson:"city" json:"city"`
	State     string `bson:"state" json:"state"`
	ZipCode   string `bson:"zipCode" json:"zipCode"`
	Country   string `bson:"country" json:"country"`
	Phone     string `bson:"phone" json:"phone"`
}

// IsZero reports whether no field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Order represents a customer order
type Order struct {
	ID              string         `bson:"_id" json:"id"`
	OrderNumber     string         `bson:"orderNumber" json:"orderNumber"`
	UserID          string         `bson:"userId" json:"userId"`
	Items           []OrderItem    `bson:"items" json:"items"`
	ShippingAddress Address        `bson:"shippingAddress" json:"shippingAddress"`
	BillingAddress  Address        `bson:"billingAddress" json:"billingAddress"`
	PaymentMethod   string         `bson:"paymentMethod" json:"paymentMethod"`
	ShippingMethod  string         `bson:"shippingMethod" json:"shippingMethod"`
	PromoCode       string         `bson:"promoCode,omitempty" json:"promoCode,omitempty"`
	Notes           string         `bson:"notes,omitempty" json:"notes,omitempty"`
	Status          OrderStatus    `bson:"status" json:"status"`
	Totals          Totals         `bson:"totals" json:"totals"`
	StatusHistory   []StatusChange `bson:"statusHistory" json:"statusHistory"`
	IdempotencyKey  string         `bson:"idempotencyKey,omitempty" json:"-"`
	CreatedAt       time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// OrderItem is the snapshot of a product at order time.
type OrderItem struct {
	ProductID string `bson:"productId" json:"productId"`
	Quantity  int    `bson:"quantity" json:"quantity"`
	Price     int64  `bson:"price" json:"price"`
	Name      string `bson:"name" json:"name"`
	Image     string `bson:"image,omitempty" json:"image,omitempty"`
}

// Totals holds the monetary breakdown of a cart or order.
type Totals struct {
	Subtotal int64 `bson:"subtotal" json:"subtotal"`
	Tax      int64 `bson:"tax" json:"tax"`
	Shipping int64 `bson:"shipping" json:"shipping"`
	Discount int64 `bson:"discount" json:"discount"`
	Total    int64 `bson:"total" json:"total"`
}

// StatusChange is one entry of an order's status history.
type StatusChange struct {
	Status    OrderStatus `bson:"status" json:"status"`
	Note      string      `bson:"note,omitempty" json:"note,omitempty"`
	ChangedBy string      `bson:"changedBy,omitempty" json:"changedBy,omitempty"`
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
}

// ItemCount returns the number of units in the order.
func (o *Order) ItemCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

// User roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User represents a registered account
type User struct {
	ID           string    `bson:"_id" json:"id"`
	FirstName    string    `bson:"firstName" json:"firstName"`
	LastName     string    `bson:"lastName" json:"lastName"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"passwordHash" json:"-"`
	Role         string    `bson:"role" json:"role"`
	Phone        string    `bson:"phone,omitempty" json:"phone,omitempty"`
	Address      *Address  `bson:"address,omitempty" json:"address,omitempty"`
	LastLogin    time.Time `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// PublicUser is the user representation returned to clients.
type PublicUser struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Phone     string    `json:"phone,omitempty"`
	Address   *Address  `json:"address,omitempty"`
	LastLogin time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public strips credentials from the user.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Role:      u.Role,
		Phone:     u.Phone,
		Address:   u.Address,
		LastLogin: u.LastLogin,
		CreatedAt: u.CreatedAt,
	}
}

// SalesStats aggregates non-cancelled orders over a date range.
type SalesStats struct {
	TotalOrders       int64   `json:"totalOrders"`
	TotalRevenue      int64   `json:"totalRevenue"`
	TotalItems        int64   `json:"totalItems"`
	AverageOrderValue float64 `json:"averageOrderValue"`
}

// CategoryCount is a catalog category with its number of active products.
type CategoryCount struct {
	Name  string `bson:"_id" json:"name" db:"name"`
	Count int64  `bson:"count" json:"count" db:"count"`
}
