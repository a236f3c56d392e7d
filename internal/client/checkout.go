package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/cart"
	"techstore/internal/models"
	"techstore/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutDetails is what the checkout form collects.
type CheckoutDetails struct {
	ShippingAddress models.Address  `json:"shippingAddress"`
	BillingAddress  *models.Address `json:"billingAddress,omitempty"`
	PaymentMethod   string          `json:"paymentMethod,omitempty"`
	ShippingMethod  string          `json:"shippingMethod,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

// PendingOrder is the checkout snapshot kept under PendingOrderKey until the
// order is accepted. Its key makes a retried submission idempotent.
type PendingOrder struct {
	IdempotencyKey string            `json:"idempotencyKey"`
	Items          []models.CartItem `json:"items"`
	PromoCode      string            `json:"promoCode,omitempty"`
	Totals         models.Totals     `json:"totals"`
	Details        CheckoutDetails   `json:"details"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// matches reports whether the snapshot holds the same lines and promo.
func (p *PendingOrder) matches(items []models.CartItem, promo string) bool {
	if p.PromoCode != promo || len(p.Items) != len(items) {
		return false
	}
	want := make(map[string]int, len(items))
	for _, it := range items {
		want[it.ProductID] += it.Quantity
	}
	for _, it := range p.Items {
		if want[it.ProductID] != it.Quantity {
			return false
		}
		delete(want, it.ProductID)
	}
	return len(want) == 0
}

// PendingOrder returns the saved checkout snapshot, if any.
func (c *Client) PendingOrder() (*PendingOrder, bool) {
	raw, ok := c.session.Get(PendingOrderKey)
	if !ok {
		return nil, false
	}
	var p PendingOrder
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		c.logger.Warn("Discarding unreadable pending order", zap.Error(err))
		_ = c.session.Delete(PendingOrderKey)
		return nil, false
	}
	return &p, true
}

// Checkout submits the ledger as an order. The displayed totals travel only in
// the pending snapshot; the server prices the order itself. On success the
// ledger and the snapshot are cleared. On failure both are kept so the same
// submission can be retried.
func (c *Client) Checkout(ctx context.Context, ledger *cart.Ledger, details CheckoutDetails) (*models.Order, error) {
	items := ledger.Items()
	if len(items) == 0 {
		return nil, apperr.Validation("cart is empty")
	}
	if c.Token() == "" {
		return nil, &APIError{Status: http.StatusUnauthorized, Message: "sign in to place an order"}
	}

	// A retry keeps the earlier key only while the cart is unchanged; an
	// edited cart is a new submission.
	key := uuid.New().String()
	if prev, ok := c.PendingOrder(); ok && prev.IdempotencyKey != "" && prev.matches(items, ledger.PromoCode()) {
		key = prev.IdempotencyKey
	}

	pending := PendingOrder{
		IdempotencyKey: key,
		Items:          items,
		PromoCode:      ledger.PromoCode(),
		Totals:         ledger.Totals(),
		Details:        details,
		CreatedAt:      time.Now(),
	}
	raw, err := json.Marshal(pending)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending order: %w", err)
	}
	if err := c.session.Set(PendingOrderKey, string(raw)); err != nil {
		return nil, fmt.Errorf("failed to store pending order: %w", err)
	}

	shipping := details.ShippingAddress
	req := &service.CreateOrderRequest{
		Items:           make([]service.OrderLineRequest, 0, len(items)),
		ShippingAddress: &shipping,
		BillingAddress:  details.BillingAddress,
		PaymentMethod:   details.PaymentMethod,
		ShippingMethod:  details.ShippingMethod,
		PromoCode:       pending.PromoCode,
		Notes:           details.Notes,
	}
	for _, it := range items {
		req.Items = append(req.Items, service.OrderLineRequest{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price,
			Name:      it.Name,
			Image:     it.Image,
		})
	}

	order, err := c.CreateOrder(ctx, req, key)
	if err != nil {
		return nil, err
	}

	if err := ledger.Clear(ctx); err != nil {
		c.logger.Warn("Failed to clear cart after checkout", zap.String("order_id", order.ID), zap.Error(err))
	}
	if err := c.session.Delete(PendingOrderKey); err != nil {
		c.logger.Warn("Failed to clear pending order", zap.String("order_id", order.ID), zap.Error(err))
	}
	return order, nil
}
