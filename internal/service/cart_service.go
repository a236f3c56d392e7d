package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"techstore/internal/apperr"
	"techstore/internal/cart"
	"techstore/internal/models"
	"techstore/internal/pricing"
	"techstore/internal/store"
	"techstore/internal/util"

	"go.uber.org/zap"
)

const cartLockStripes = 64

// CartService keeps one server-side cart ledger per signed-in user.
type CartService struct {
	store    cart.Store
	products store.ProductRepository
	orders   *OrderService
	pricing  pricing.Config
	promos   *pricing.Catalog
	locks    [cartLockStripes]sync.Mutex
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(st cart.Store, products store.ProductRepository, orders *OrderService, cfg pricing.Config, promos *pricing.Catalog) *CartService {
	return &CartService{
		store:    st,
		products: products,
		orders:   orders,
		pricing:  cfg,
		promos:   promos,
		logger:   util.GetLogger(),
	}
}

// CheckoutRequest carries what the cart does not know about an order.
type CheckoutRequest struct {
	ShippingAddress *models.Address `json:"shippingAddress"`
	BillingAddress  *models.Address `json:"billingAddress,omitempty"`
	PaymentMethod   string          `json:"paymentMethod,omitempty"`
	ShippingMethod  string          `json:"shippingMethod,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// Get returns the user's cart.
func (s *CartService) Get(ctx context.Context, userID string) (cart.Snapshot, error) {
	return s.with(ctx, userID, func(*cart.Ledger) error { return nil })
}

// AddItem adds quantity units of a catalog product at its current price.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (cart.Snapshot, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return cart.Snapshot{}, err
	}
	if product.Status != models.ProductStatusActive {
		return cart.Snapshot{}, apperr.NotFound("product %s not found", productID)
	}
	if !product.InStock() {
		return cart.Snapshot{}, apperr.InsufficientStock("%s is out of stock", product.Name)
	}

	return s.with(ctx, userID, func(l *cart.Ledger) error {
		return l.Add(ctx, models.CartItem{
			ProductID: product.ID,
			Name:      product.Name,
			Image:     product.Image(),
			Price:     product.Price,
			Quantity:  quantity,
		})
	})
}

// SetQuantity sets a line's quantity. Zero or less removes the line.
func (s *CartService) SetQuantity(ctx context.Context, userID, productID string, quantity int) (cart.Snapshot, error) {
	return s.with(ctx, userID, func(l *cart.Ledger) error {
		return l.SetQuantity(ctx, productID, quantity)
	})
}

// RemoveItem drops a line.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (cart.Snapshot, error) {
	return s.with(ctx, userID, func(l *cart.Ledger) error {
		return l.Remove(ctx, productID)
	})
}

// Clear empties the cart and drops its promo.
func (s *CartService) Clear(ctx context.Context, userID string) (cart.Snapshot, error) {
	return s.with(ctx, userID, func(l *cart.Ledger) error {
		return l.Clear(ctx)
	})
}

// ApplyPromo applies code, replacing any previous promo.
func (s *CartService) ApplyPromo(ctx context.Context, userID, code string) (cart.Snapshot, error) {
	return s.with(ctx, userID, func(l *cart.Ledger) error {
		_, err := l.ApplyPromo(ctx, code)
		return err
	})
}

// RemovePromo drops the applied promo.
func (s *CartService) RemovePromo(ctx context.Context, userID string) (cart.Snapshot, error) {
	return s.with(ctx, userID, func(l *cart.Ledger) error {
		return l.RemovePromo(ctx)
	})
}

// Checkout places an order for the cart's contents and empties the cart.
// The cart is left untouched when the order is rejected.
func (s *CartService) Checkout(ctx context.Context, userID string, req *CheckoutRequest, idempotencyKey string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Checkout")
	defer span.End()

	var order *models.Order
	_, err := s.with(ctx, userID, func(l *cart.Ledger) error {
		items := l.Items()
		if len(items) == 0 {
			return apperr.Validation("cart is empty")
		}

		orderReq := &CreateOrderRequest{
			Items:           make([]OrderLineRequest, 0, len(items)),
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
			PaymentMethod:   req.PaymentMethod,
			ShippingMethod:  req.ShippingMethod,
			PromoCode:       l.PromoCode(),
			Notes:           req.Notes,
		}
		for _, it := range items {
			orderReq.Items = append(orderReq.Items, OrderLineRequest{
				ProductID: it.ProductID,
				Quantity:  it.Quantity,
				Price:     it.Price,
				Name:      it.Name,
			})
		}

		var err error
		if order, err = s.orders.CreateOrder(ctx, userID, orderReq, idempotencyKey); err != nil {
			return err
		}

		if err := l.Clear(ctx); err != nil {
			s.logger.Error("Order placed but cart not cleared",
				zap.String("user_id", userID),
				zap.String("order_id", order.ID),
				zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// with loads the user's ledger under the user's lock, runs fn and returns
// the resulting snapshot.
func (s *CartService) with(ctx context.Context, userID string, fn func(*cart.Ledger) error) (cart.Snapshot, error) {
	if userID == "" {
		return cart.Snapshot{}, apperr.Unauthorized("access token required")
	}

	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	ledger, err := cart.NewLedger(ctx, s.store, userID, s.pricing, s.promos)
	if err != nil {
		return cart.Snapshot{}, err
	}
	if err := fn(ledger); err != nil {
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			s.logger.Error("Cart operation failed", zap.String("user_id", userID), zap.Error(err))
		}
		return cart.Snapshot{}, err
	}
	return ledger.Snapshot(), nil
}

func (s *CartService) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.locks[h.Sum32()%cartLockStripes]
}
