package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// PostgresStore is the relational backend
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to databaseURL and applies the schema
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Ping checks the connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

type productRow struct {
	ID            string         `db:"id"`
	Name          string         `db:"name"`
	Description   string         `db:"description"`
	Price         int64          `db:"price"`
	OriginalPrice int64          `db:"original_price"`
	Discount      int            `db:"discount"`
	Quantity      int            `db:"quantity"`
	Brand         string         `db:"brand"`
	Category      string         `db:"category"`
	Subcategory   string         `db:"subcategory"`
	Tags          pq.StringArray `db:"tags"`
	MainImage     string         `db:"main_image"`
	Images        pq.StringArray `db:"images"`
	RatingAverage float64        `db:"rating_average"`
	RatingCount   int            `db:"rating_count"`
	SalesCount    int64          `db:"sales_count"`
	ViewCount     int64          `db:"view_count"`
	Featured      bool           `db:"featured"`
	Status        string         `db:"status"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func toProductRow(p *models.Product) productRow {
	return productRow{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		OriginalPrice: p.OriginalPrice,
		Discount:      p.Discount,
		Quantity:      p.Quantity,
		Brand:         p.Brand,
		Category:      p.Category,
		Subcategory:   p.Subcategory,
		Tags:          pq.StringArray(p.Tags),
		MainImage:     p.MainImage,
		Images:        pq.StringArray(p.Images),
		RatingAverage: p.Rating.Average,
		RatingCount:   p.Rating.Count,
		SalesCount:    p.SalesCount,
		ViewCount:     p.ViewCount,
		Featured:      p.Featured,
		Status:        p.Status,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (r productRow) model() models.Product {
	return models.Product{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		Price:         r.Price,
		OriginalPrice: r.OriginalPrice,
		Discount:      r.Discount,
		Quantity:      r.Quantity,
		Brand:         r.Brand,
		Category:      r.Category,
		Subcategory:   r.Subcategory,
		Tags:          []string(r.Tags),
		MainImage:     r.MainImage,
		Images:        []string(r.Images),
		Rating:        models.Rating{Average: r.RatingAverage, Count: r.RatingCount},
		SalesCount:    r.SalesCount,
		ViewCount:     r.ViewCount,
		Featured:      r.Featured,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

const productColumns = `id, name, description, price, original_price, discount, quantity, brand, category,
	subcategory, tags, main_image, images, rating_average, rating_count, sales_count, view_count, featured,
	status, created_at, updated_at`

// CreateProduct inserts a product
func (s *PostgresStore) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `INSERT INTO products (` + productColumns + `) VALUES (
		:id, :name, :description, :price, :original_price, :discount, :quantity, :brand, :category,
		:subcategory, :tags, :main_image, :images, :rating_average, :rating_count, :sales_count, :view_count,
		:featured, :status, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, toProductRow(p)); err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("product %s already exists", p.ID)
		}
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (s *PostgresStore) getProduct(ctx context.Context, where, ref string, arg interface{}) (*models.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, "SELECT "+productColumns+" FROM products WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("product not found: %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	p := row.model()
	return &p, nil
}

// GetProduct retrieves a product by ID
func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return s.getProduct(ctx, "id = $1", id, id)
}

// GetProductByName retrieves a product by exact name
func (s *PostgresStore) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	return s.getProduct(ctx, "name = $1 LIMIT 1", name, name)
}

// UpdateProduct replaces a product
func (s *PostgresStore) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `UPDATE products SET name = :name, description = :description, price = :price,
		original_price = :original_price, discount = :discount, quantity = :quantity, brand = :brand,
		category = :category, subcategory = :subcategory, tags = :tags, main_image = :main_image,
		images = :images, rating_average = :rating_average, rating_count = :rating_count,
		featured = :featured, status = :status, updated_at = :updated_at
		WHERE id = :id`

	res, err := s.db.NamedExecContext(ctx, query, toProductRow(p))
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return requireRow(res, "product", p.ID)
}

// DeleteProduct removes a product
func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return requireRow(res, "product", id)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("%s not found: %s", kind, id)
	}
	return nil
}

type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (w *whereBuilder) add(cond string, args ...interface{}) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

var productOrderBy = map[string]string{
	SortNewest:    "created_at DESC, id",
	SortPriceAsc:  "price ASC, id",
	SortPriceDesc: "price DESC, id",
	SortRating:    "rating_average DESC, id",
	SortPopular:   "sales_count DESC, id",
	SortName:      "name ASC, id",
}

// ListProducts returns matching products and the total match count
func (s *PostgresStore) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int64, error) {
	w := &whereBuilder{}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	if f.Category != "" {
		w.add("lower(category) = lower(?)", f.Category)
	}
	if f.Brand != "" {
		w.add("lower(brand) = lower(?)", f.Brand)
	}
	if f.MinPrice > 0 {
		w.add("price >= ?", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		w.add("price <= ?", f.MaxPrice)
	}
	if f.Featured != nil {
		w.add("featured = ?", *f.Featured)
	}
	if f.Search != "" {
		w.add(`(name ILIKE ? OR description ILIKE ? OR brand ILIKE ? OR category ILIKE ?
			OR EXISTS (SELECT 1 FROM unnest(tags) t WHERE t ILIKE ?))`,
			escapeLike(f.Search), escapeLike(f.Search), escapeLike(f.Search), escapeLike(f.Search), escapeLike(f.Search))
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM products"+w.String(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	orderBy, ok := productOrderBy[f.Sort]
	if !ok {
		orderBy = productOrderBy[SortNewest]
	}
	query := "SELECT " + productColumns + " FROM products" + w.String() + " ORDER BY " + orderBy
	args := w.args
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}

	products := make([]models.Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.model())
	}
	return products, total, nil
}

// ListCategories returns active categories with their product counts
func (s *PostgresStore) ListCategories(ctx context.Context) ([]models.CategoryCount, error) {
	out := []models.CategoryCount{}
	err := s.db.SelectContext(ctx, &out,
		`SELECT category AS name, COUNT(*) AS count FROM products
		WHERE status = $1 AND category <> '' GROUP BY category ORDER BY category`,
		models.ProductStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return out, nil
}

// ReserveStock decrements stock in a single conditional update
func (s *PostgresStore) ReserveStock(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("stock quantity must be positive, got %d", qty)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET quantity = quantity - $1, updated_at = NOW() WHERE id = $2 AND quantity >= $1",
		qty, id)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		p, err := s.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		return apperr.InsufficientStock("insufficient stock for %s: available=%d, requested=%d", p.Name, p.Quantity, qty)
	}
	return nil
}

// ReleaseStock returns units to stock
func (s *PostgresStore) ReleaseStock(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return apperr.Validation("stock quantity must be positive, got %d", qty)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET quantity = quantity + $1, updated_at = NOW() WHERE id = $2", qty, id)
	if err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	return requireRow(res, "product", id)
}

// IncrementSales adjusts the sales counter without going below zero
func (s *PostgresStore) IncrementSales(ctx context.Context, id string, delta int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET sales_count = GREATEST(0, sales_count + $1) WHERE id = $2", delta, id)
	if err != nil {
		return fmt.Errorf("failed to update sales count: %w", err)
	}
	return requireRow(res, "product", id)
}

// IncrementViews bumps the view counter
func (s *PostgresStore) IncrementViews(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE products SET view_count = view_count + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to update view count: %w", err)
	}
	return requireRow(res, "product", id)
}

type orderRow struct {
	ID              string         `db:"id"`
	OrderNumber     string         `db:"order_number"`
	UserID          string         `db:"user_id"`
	Items           types.JSONText `db:"items"`
	ShippingAddress types.JSONText `db:"shipping_address"`
	BillingAddress  types.JSONText `db:"billing_address"`
	PaymentMethod   string         `db:"payment_method"`
	ShippingMethod  string         `db:"shipping_method"`
	PromoCode       string         `db:"promo_code"`
	Notes           string         `db:"notes"`
	Status          string         `db:"status"`
	Totals          types.JSONText `db:"totals"`
	Total           int64          `db:"total"`
	ItemCount       int            `db:"item_count"`
	StatusHistory   types.JSONText `db:"status_history"`
	IdempotencyKey  sql.NullString `db:"idempotency_key"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

const orderColumns = `id, order_number, user_id, items, shipping_address, billing_address, payment_method,
	shipping_method, promo_code, notes, status, totals, total, item_count, status_history, idempotency_key,
	created_at, updated_at`

func toOrderRow(o *models.Order) (orderRow, error) {
	r := orderRow{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		PaymentMethod:  o.PaymentMethod,
		ShippingMethod: o.ShippingMethod,
		PromoCode:      o.PromoCode,
		Notes:          o.Notes,
		Status:         string(o.Status),
		Total:          o.Totals.Total,
		ItemCount:      o.ItemCount(),
		IdempotencyKey: sql.NullString{String: o.IdempotencyKey, Valid: o.IdempotencyKey != ""},
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, f := range []struct {
		dst *types.JSONText
		src interface{}
	}{
		{&r.Items, o.Items},
		{&r.ShippingAddress, o.ShippingAddress},
		{&r.BillingAddress, o.BillingAddress},
		{&r.Totals, o.Totals},
		{&r.StatusHistory, o.StatusHistory},
	} {
		raw, err := json.Marshal(f.src)
		if err != nil {
			return orderRow{}, fmt.Errorf("failed to encode order: %w", err)
		}
		*f.dst = raw
	}
	return r, nil
}

func (r orderRow) model() (*models.Order, error) {
	o := &models.Order{
		ID:             r.ID,
		OrderNumber:    r.OrderNumber,
		UserID:         r.UserID,
		PaymentMethod:  r.PaymentMethod,
		ShippingMethod: r.ShippingMethod,
		PromoCode:      r.PromoCode,
		Notes:          r.Notes,
		Status:         models.OrderStatus(r.Status),
		IdempotencyKey: r.IdempotencyKey.String,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	for _, f := range []struct {
		src types.JSONText
		dst interface{}
	}{
		{r.Items, &o.Items},
		{r.ShippingAddress, &o.ShippingAddress},
		{r.BillingAddress, &o.BillingAddress},
		{r.Totals, &o.Totals},
		{r.StatusHistory, &o.StatusHistory},
	} {
		if err := f.src.Unmarshal(f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode order %s: %w", r.ID, err)
		}
	}
	return o, nil
}

// CreateOrder inserts an order
func (s *PostgresStore) CreateOrder(ctx context.Context, o *models.Order) error {
	row, err := toOrderRow(o)
	if err != nil {
		return err
	}
	query := `INSERT INTO orders (` + orderColumns + `) VALUES (
		:id, :order_number, :user_id, :items, :shipping_address, :billing_address, :payment_method,
		:shipping_method, :promo_code, :notes, :status, :totals, :total, :item_count, :status_history,
		:idempotency_key, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("duplicate order")
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by ID
func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return row.model()
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *PostgresStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return row.model()
}

// ListOrders returns matching orders newest first
func (s *PostgresStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, int64, error) {
	w := &whereBuilder{}
	if f.UserID != "" {
		w.add("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM orders"+w.String(), w.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	query := "SELECT " + orderColumns + " FROM orders" + w.String() + " ORDER BY created_at DESC, id DESC"
	args := w.args
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.model()
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	return orders, total, nil
}

// UpdateOrderStatus transitions an order if it is still in the expected status
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, from, to models.OrderStatus, change models.StatusChange) (*models.Order, error) {
	entry, err := json.Marshal([]models.StatusChange{change})
	if err != nil {
		return nil, fmt.Errorf("failed to encode status change: %w", err)
	}

	var row orderRow
	err = s.db.GetContext(ctx, &row,
		`UPDATE orders SET status = $1, status_history = status_history || $2::jsonb, updated_at = $3
		WHERE id = $4 AND status = $5
		RETURNING `+orderColumns,
		string(to), string(entry), change.Timestamp, id, string(from))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetOrder(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.InvalidTransition("order %s is %s, not %s", current.OrderNumber, current.Status, from)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	return row.model()
}

// SalesStats aggregates non-cancelled orders in the date range
func (s *PostgresStore) SalesStats(ctx context.Context, from, to time.Time) (models.SalesStats, error) {
	w := &whereBuilder{}
	w.add("status <> ?", string(models.OrderStatusCancelled))
	if !from.IsZero() {
		w.add("created_at >= ?", from)
	}
	if !to.IsZero() {
		w.add("created_at < ?", to)
	}

	var row struct {
		TotalOrders  int64 `db:"total_orders"`
		TotalRevenue int64 `db:"total_revenue"`
		TotalItems   int64 `db:"total_items"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS total_orders, COALESCE(SUM(total), 0) AS total_revenue,
		COALESCE(SUM(item_count), 0) AS total_items FROM orders`+w.String(), w.args...)
	if err != nil {
		return models.SalesStats{}, fmt.Errorf("failed to aggregate sales: %w", err)
	}

	return models.SalesStats{
		TotalOrders:       row.TotalOrders,
		TotalRevenue:      row.TotalRevenue,
		TotalItems:        row.TotalItems,
		AverageOrderValue: averageOrderValue(row.TotalRevenue, row.TotalOrders),
	}, nil
}

// StatusCounts counts orders per status
func (s *PostgresStore) StatusCounts(ctx context.Context) (map[models.OrderStatus]int64, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT status, COUNT(*) AS count FROM orders GROUP BY status"); err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	counts := make(map[models.OrderStatus]int64, len(rows))
	for _, r := range rows {
		counts[models.OrderStatus(r.Status)] = r.Count
	}
	return counts, nil
}

type userRow struct {
	ID           string         `db:"id"`
	FirstName    string         `db:"first_name"`
	LastName     string         `db:"last_name"`
	Email        string         `db:"email"`
	PasswordHash string         `db:"password_hash"`
	Role         string         `db:"role"`
	Phone        string         `db:"phone"`
	Address      types.JSONText `db:"address"`
	LastLogin    sql.NullTime   `db:"last_login"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

const userColumns = `id, first_name, last_name, email, password_hash, role, phone, address, last_login,
	created_at, updated_at`

func toUserRow(u *models.User) (userRow, error) {
	addr, err := json.Marshal(u.Address)
	if err != nil {
		return userRow{}, fmt.Errorf("failed to encode address: %w", err)
	}
	return userRow{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		Phone:        u.Phone,
		Address:      addr,
		LastLogin:    sql.NullTime{Time: u.LastLogin, Valid: !u.LastLogin.IsZero()},
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}, nil
}

func (r userRow) model() (*models.User, error) {
	u := &models.User{
		ID:           r.ID,
		FirstName:    r.FirstName,
		LastName:     r.LastName,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		Phone:        r.Phone,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastLogin.Valid {
		u.LastLogin = r.LastLogin.Time
	}
	if err := r.Address.Unmarshal(&u.Address); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", r.ID, err)
	}
	if u.Address != nil && u.Address.IsZero() {
		u.Address = nil
	}
	return u, nil
}

// CreateUser inserts a user
func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	row, err := toUserRow(u)
	if err != nil {
		return err
	}
	query := `INSERT INTO users (` + userColumns + `) VALUES (
		:id, :first_name, :last_name, :email, :password_hash, :role, :phone, :address, :last_login,
		:created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("email already registered")
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) getUser(ctx context.Context, column, value string) (*models.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, "SELECT "+userColumns+" FROM users WHERE "+column+" = $1", value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found: %s", value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.model()
}

// GetUser retrieves a user by ID
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail retrieves a user by email
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email", email)
}

// UpdateUser replaces a user
func (s *PostgresStore) UpdateUser(ctx context.Context, u *models.User) error {
	row, err := toUserRow(u)
	if err != nil {
		return err
	}
	query := `UPDATE users SET first_name = :first_name, last_name = :last_name, email = :email,
		password_hash = :password_hash, role = :role, phone = :phone, address = :address,
		last_login = :last_login, updated_at = :updated_at
		WHERE id = :id`

	res, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("email already registered")
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(res, "user", u.ID)
}
