package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/broker"
	"techstore/internal/models"
	"techstore/internal/pricing"
	"techstore/internal/store"
	"techstore/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	pendingClaim   = "pending"
	claimTTL       = 5 * time.Minute
	defaultPayment = "pending"
	defaultShip    = "standard"
)

var (
	paymentMethods  = map[string]bool{"pending": true, "credit_card": true, "pse": true, "bank_transfer": true}
	shippingMethods = map[string]bool{"standard": true, "express": true}
)

// EventPublisher delivers order events. The Kafka publisher and the
// in-process catalog worker both satisfy it.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// IdempotencyStore claims submission keys while an order is being placed.
type IdempotencyStore interface {
	SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	DeleteIdempotencyKey(ctx context.Context, key string) error
}

// OrderStore is the persistence the order service needs.
type OrderStore interface {
	store.ProductRepository
	store.OrderRepository
}

// OrderService handles order business logic
type OrderService struct {
	store     OrderStore
	stock     *StockKeeper
	pricing   pricing.Config
	promos    *pricing.Catalog
	publisher EventPublisher
	claims    IdempotencyStore
	now       func() time.Time
	logger    *zap.Logger
}

// NewOrderService creates a new order service. publisher and claims may be nil.
func NewOrderService(
	store OrderStore,
	stock *StockKeeper,
	cfg pricing.Config,
	promos *pricing.Catalog,
	publisher EventPublisher,
	claims IdempotencyStore,
) *OrderService {
	return &OrderService{
		store:     store,
		stock:     stock,
		pricing:   cfg,
		promos:    promos,
		publisher: publisher,
		claims:    claims,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order. Line prices,
// names and images are informational; the catalog is the price authority.
type CreateOrderRequest struct {
	Items           []OrderLineRequest `json:"products"`
	ShippingAddress *models.Address    `json:"shippingAddress"`
	BillingAddress  *models.Address    `json:"billingAddress,omitempty"`
	PaymentMethod   string             `json:"paymentMethod,omitempty"`
	ShippingMethod  string             `json:"shippingMethod,omitempty"`
	PromoCode       string             `json:"promoCode,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}

// OrderLineRequest represents an item in an order
type OrderLineRequest struct {
	ProductID string `json:"product"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price,omitempty"`
	Name      string `json:"name,omitempty"`
	Image     string `json:"image,omitempty"`
}

// Viewer identifies who is reading or mutating an order.
type Viewer struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the viewer holds the admin role.
func (v Viewer) IsAdmin() bool {
	return v.Role == models.RoleAdmin
}

// OrderQuery filters the admin order listing.
type OrderQuery struct {
	Status string
	Page   int
	Limit  int
}

// OrderPage is one page of orders.
type OrderPage struct {
	Orders []models.Order `json:"orders"`
	Total  int64          `json:"total"`
	Page   int            `json:"page"`
	Pages  int            `json:"pages"`
}

// OrderStats is the admin dashboard summary.
type OrderStats struct {
	Sales        models.SalesStats            `json:"sales"`
	StatusCounts map[models.OrderStatus]int64 `json:"statusCounts"`
}

// validate normalizes req and returns its lines with duplicate products merged.
func (req *CreateOrderRequest) validate() ([]OrderLineRequest, error) {
	if len(req.Items) == 0 {
		return nil, apperr.Validation("order must contain at least one product")
	}
	if req.ShippingAddress == nil || req.ShippingAddress.IsZero() {
		return nil, apperr.Validation("shipping address is required")
	}
	if strings.TrimSpace(req.ShippingAddress.Street) == "" || strings.TrimSpace(req.ShippingAddress.City) == "" {
		return nil, apperr.Validation("shipping address needs a street and a city")
	}
	if req.BillingAddress == nil || req.BillingAddress.IsZero() {
		billing := *req.ShippingAddress
		req.BillingAddress = &billing
	}

	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = defaultPayment
	}
	if !paymentMethods[req.PaymentMethod] {
		return nil, apperr.Validation("invalid payment method: %s", req.PaymentMethod)
	}
	req.ShippingMethod = strings.ToLower(strings.TrimSpace(req.ShippingMethod))
	if req.ShippingMethod == "" {
		req.ShippingMethod = defaultShip
	}
	if !shippingMethods[req.ShippingMethod] {
		return nil, apperr.Validation("invalid shipping method: %s", req.ShippingMethod)
	}

	merged := make([]OrderLineRequest, 0, len(req.Items))
	index := make(map[string]int, len(req.Items))
	for _, line := range req.Items {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" {
			return nil, apperr.Validation("product id is required")
		}
		if line.Quantity < 1 {
			return nil, apperr.Validation("quantity for product %s must be at least 1", line.ProductID)
		}
		if line.Quantity > models.MaxLineQuantity {
			return nil, apperr.Validation("quantity for product %s cannot exceed %d", line.ProductID, models.MaxLineQuantity)
		}
		if i, ok := index[line.ProductID]; ok {
			if merged[i].Quantity > models.MaxLineQuantity-line.Quantity {
				return nil, apperr.Validation("quantity for product %s cannot exceed %d", line.ProductID, models.MaxLineQuantity)
			}
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

// CreateOrder validates the request against the catalog, reserves stock and
// persists a pending order. A repeated idempotency key returns the order
// created the first time.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, req *CreateOrderRequest, idempotencyKey string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if userID == "" {
		return nil, apperr.Unauthorized("access token required")
	}

	lines, err := req.validate()
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	scopedKey := ""
	if idempotencyKey = strings.TrimSpace(idempotencyKey); idempotencyKey != "" {
		scopedKey = fmt.Sprintf("order:%s:%s", userID, idempotencyKey)

		existing, err := s.store.GetOrderByIdempotencyKey(ctx, scopedKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", idempotencyKey),
				zap.String("order_id", existing.ID))
			return existing, nil
		}

		release, err := s.claim(ctx, scopedKey)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	items, err := s.buildItems(ctx, lines)
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	var promo *pricing.PromoCode
	if strings.TrimSpace(req.PromoCode) != "" {
		p, err := s.promos.Validate(req.PromoCode, pricing.Subtotal(priceLines(items)))
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues("invalid_promo").Inc()
			return nil, err
		}
		promo = &p
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:              uuid.New().String(),
		OrderNumber:     orderNumber(now),
		UserID:          userID,
		Items:           items,
		ShippingAddress: *req.ShippingAddress,
		BillingAddress:  *req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
		ShippingMethod:  req.ShippingMethod,
		Notes:           strings.TrimSpace(req.Notes),
		Status:          models.OrderStatusPending,
		Totals:          s.pricing.Compute(priceLines(items), promo),
		StatusHistory: []models.StatusChange{{
			Status:    models.OrderStatusPending,
			Note:      "Order created",
			ChangedBy: userID,
			Timestamp: now,
		}},
		IdempotencyKey: scopedKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if promo != nil {
		order.PromoCode = promo.Code
	}

	if err := s.stock.Reserve(ctx, order.OrderNumber, order.Items); err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues("reservation_failed").Inc()
		return nil, err
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		s.stock.Release(ctx, order.OrderNumber, order.Items)
		if scopedKey != "" && errors.Is(err, apperr.ErrConflict) {
			if existing, getErr := s.store.GetOrderByIdempotencyKey(ctx, scopedKey); getErr == nil && existing != nil {
				return existing, nil
			}
		}
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	util.OrderValueTotal.Add(float64(order.Totals.Total))
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", userID),
		zap.Int64("total", order.Totals.Total))

	if s.publisher != nil {
		event := &models.OrderCreatedEvent{
			BaseEvent:   broker.NewBaseEvent(models.EventTypeOrderCreated),
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			UserID:      order.UserID,
			Total:       order.Totals.Total,
			Items:       models.ItemData(order.Items),
		}
		if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
		}
	}

	return order, nil
}

// claim marks key as in flight. The returned func frees it; once the order
// is stored the database lookup answers repeats.
func (s *OrderService) claim(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if s.claims == nil {
		return noop, nil
	}

	claimed, err := s.claims.SetIdempotencyKey(ctx, key, pendingClaim, claimTTL)
	if err != nil {
		s.logger.Warn("Idempotency claim failed, relying on the order store", zap.Error(err))
		return noop, nil
	}
	if !claimed {
		util.OrdersFailedTotal.WithLabelValues("duplicate_in_flight").Inc()
		return nil, apperr.Conflict("order submission already in progress")
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.claims.DeleteIdempotencyKey(ctx, key); err != nil {
			s.logger.Warn("Failed to free idempotency key", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// buildItems snapshots each line from the catalog.
func (s *OrderService) buildItems(ctx context.Context, lines []OrderLineRequest) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, err := s.store.GetProduct(ctx, line.ProductID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("product %s not found", line.ProductID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get product: %w", err)
		}
		if product.Status != models.ProductStatusActive {
			return nil, apperr.NotFound("product %s not found", line.ProductID)
		}
		if product.Quantity < line.Quantity {
			return nil, apperr.InsufficientStock("insufficient stock for %s: %d available", product.Name, product.Quantity)
		}

		items = append(items, models.OrderItem{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			Price:     product.Price,
			Name:      product.Name,
			Image:     product.Image(),
		})
	}
	return items, nil
}

// ChangeStatus moves an order along the lifecycle graph. Entering cancelled
// or returned puts the order's units back in stock.
func (s *OrderService) ChangeStatus(ctx context.Context, orderID string, to models.OrderStatus, note, actor string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ChangeStatus")
	defer span.End()

	to, ok := models.ParseOrderStatus(string(to))
	if !ok {
		return nil, apperr.Validation("invalid order status: %s", to)
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := order.Status
	if !from.CanTransitionTo(to) {
		return nil, apperr.InvalidTransition("cannot change order status from %s to %s", from, to)
	}

	if note = strings.TrimSpace(note); note == "" {
		note = fmt.Sprintf("Status changed to %s", to)
	}
	change := models.StatusChange{
		Status:    to,
		Note:      note,
		ChangedBy: actor,
		Timestamp: s.now().UTC(),
	}

	updated, err := s.store.UpdateOrderStatus(ctx, orderID, from, to, change)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	if to.ReleasesStock() {
		s.stock.Release(ctx, updated.OrderNumber, updated.Items)
	}

	util.OrderStatusChangesTotal.WithLabelValues(string(to)).Inc()
	if to == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
	}
	s.logger.Info("Order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor", actor))

	if s.publisher != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent: broker.NewBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:   updated.ID,
			From:      from,
			To:        to,
			Note:      note,
			Items:     models.ItemData(updated.Items),
		}
		if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	return updated, nil
}

// Cancel cancels the caller's own order while it is still cancellable.
func (s *OrderService) Cancel(ctx context.Context, orderID, userID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.Forbidden("you are not allowed to cancel this order")
	}
	if !order.Status.IsCancellable() {
		return nil, apperr.InvalidTransition("cannot cancel an order in status %s; only pending, confirmed or processing orders can be cancelled", order.Status)
	}

	return s.ChangeStatus(ctx, orderID, models.OrderStatusCancelled, "Cancelled by customer", userID)
}

// GetOrder returns an order to its owner or to an admin.
func (s *OrderService) GetOrder(ctx context.Context, orderID string, viewer Viewer) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != viewer.UserID && !viewer.IsAdmin() {
		return nil, apperr.Forbidden("you are not allowed to view this order")
	}
	return order, nil
}

// ListMyOrders returns every order of userID, newest first.
func (s *OrderService) ListMyOrders(ctx context.Context, userID string) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListMyOrders")
	defer span.End()

	orders, _, err := s.store.ListOrders(ctx, store.OrderFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// ListOrders pages through all orders, optionally by status.
func (s *OrderService) ListOrders(ctx context.Context, q OrderQuery) (*OrderPage, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	filter := store.OrderFilter{}
	if q.Status != "" {
		status, ok := models.ParseOrderStatus(q.Status)
		if !ok {
			return nil, apperr.Validation("invalid order status: %s", q.Status)
		}
		filter.Status = status
	}

	p := newPaging(q.Page, q.Limit, defaultOrderLimit)
	filter.Offset, filter.Limit = p.offset(), p.limit

	orders, total, err := s.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return &OrderPage{
		Orders: orders,
		Total:  total,
		Page:   p.page,
		Pages:  p.pages(total),
	}, nil
}

// Stats summarizes sales in [from, to) and counts orders per status.
// Zero bounds are open.
func (s *OrderService) Stats(ctx context.Context, from, to time.Time) (*OrderStats, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Stats")
	defer span.End()

	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, apperr.Validation("dateTo must not be before dateFrom")
	}

	sales, err := s.store.SalesStats(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to compute sales stats: %w", err)
	}
	counts, err := s.store.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	return &OrderStats{Sales: sales, StatusCounts: counts}, nil
}

func priceLines(items []models.OrderItem) []pricing.Line {
	out := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		out = append(out, pricing.Line{Price: it.Price, Quantity: it.Quantity})
	}
	return out
}

// orderNumber formats ORD-YYYYMMDD-XXXXXX.
func orderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), suffix)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return "product_not_found"
	case errors.Is(err, apperr.ErrInsufficientStock):
		return "insufficient_stock"
	default:
		return "error"
	}
}
