// Package cart implements the cart ledger: a persisted list of product lines
// with price snapshots, an optional promo code, and derived totals.
package cart

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"techstore/internal/apperr"
	"techstore/internal/models"
	"techstore/internal/pricing"
	"techstore/internal/util"

	"go.uber.org/zap"
)

// ErrInvalidPrice is returned by Add for a line with a non-positive price.
var ErrInvalidPrice = &apperr.Error{Kind: apperr.ErrValidation, Message: "item price must be greater than 0"}

// State is the persisted form of a ledger.
type State struct {
	Items     []models.CartItem `json:"items"`
	PromoCode string            `json:"promoCode,omitempty"`
}

func (s State) clone() State {
	items := make([]models.CartItem, len(s.Items))
	copy(items, s.Items)
	return State{Items: items, PromoCode: s.PromoCode}
}

// Store persists ledger state per owner.
type Store interface {
	Load(ctx context.Context, owner string) (State, error)
	Save(ctx context.Context, owner string, state State) error
}

// Snapshot is what subscribers and readers see after a mutation.
type Snapshot struct {
	Items     []models.CartItem `json:"items"`
	PromoCode string            `json:"promoCode,omitempty"`
	ItemCount int               `json:"itemCount"`
	Totals    models.Totals     `json:"totals"`
}

// Ledger is the cart of a single owner. Mutations are serialized and each
// one persists the full state before subscribers are notified.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	owner   string
	pricing pricing.Config
	promos  *pricing.Catalog
	state   State
	now     func() time.Time
	logger  *zap.Logger

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// NewLedger loads the owner's cart from store.
func NewLedger(ctx context.Context, store Store, owner string, cfg pricing.Config, promos *pricing.Catalog) (*Ledger, error) {
	state, err := store.Load(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	return &Ledger{
		store:   store,
		owner:   owner,
		pricing: cfg,
		promos:  promos,
		state:   state.clone(),
		now:     time.Now,
		logger:  util.GetLogger(),
		subs:    make(map[int]func(Snapshot)),
	}, nil
}

func quantityTooLarge(productID string) error {
	return apperr.Validation("quantity for product %s cannot exceed %d", productID, models.MaxLineQuantity)
}

// Owner returns the key the ledger is stored under.
func (l *Ledger) Owner() string {
	return l.owner
}

// Add puts item in the cart, merging with an existing line for the same product.
func (l *Ledger) Add(ctx context.Context, item models.CartItem) error {
	if strings.TrimSpace(item.ProductID) == "" {
		return apperr.Validation("product id is required")
	}
	if item.Price <= 0 {
		return ErrInvalidPrice
	}
	if item.Quantity < 1 {
		item.Quantity = 1
	}
	if item.Quantity > models.MaxLineQuantity {
		return quantityTooLarge(item.ProductID)
	}

	return l.mutate(ctx, "add", func(s *State) error {
		for i := range s.Items {
			if s.Items[i].ProductID == item.ProductID {
				if s.Items[i].Quantity > models.MaxLineQuantity-item.Quantity {
					return quantityTooLarge(item.ProductID)
				}
				s.Items[i].Quantity += item.Quantity
				return nil
			}
		}
		if item.AddedAt.IsZero() {
			item.AddedAt = l.now()
		}
		s.Items = append(s.Items, item)
		return nil
	})
}

// SetQuantity sets the quantity of a line. n <= 0 removes it.
func (l *Ledger) SetQuantity(ctx context.Context, productID string, n int) error {
	if n <= 0 {
		return l.Remove(ctx, productID)
	}
	if n > models.MaxLineQuantity {
		return quantityTooLarge(productID)
	}
	return l.mutate(ctx, "set_quantity", func(s *State) error {
		for i := range s.Items {
			if s.Items[i].ProductID == productID {
				s.Items[i].Quantity = n
				return nil
			}
		}
		return nil
	})
}

// Remove drops the line for productID, if any.
func (l *Ledger) Remove(ctx context.Context, productID string) error {
	return l.mutate(ctx, "remove", func(s *State) error {
		kept := s.Items[:0]
		for _, it := range s.Items {
			if it.ProductID != productID {
				kept = append(kept, it)
			}
		}
		s.Items = kept
		return nil
	})
}

// Clear empties the cart and drops any promo.
func (l *Ledger) Clear(ctx context.Context) error {
	return l.mutate(ctx, "clear", func(s *State) error {
		s.Items = nil
		s.PromoCode = ""
		return nil
	})
}

// ApplyPromo validates code against the current subtotal and replaces any
// previously applied promo.
func (l *Ledger) ApplyPromo(ctx context.Context, code string) (pricing.PromoCode, error) {
	l.mu.Lock()
	subtotal := pricing.Subtotal(lines(l.state.Items))
	l.mu.Unlock()

	promo, err := l.promos.Validate(code, subtotal)
	if err != nil {
		return pricing.PromoCode{}, err
	}
	err = l.mutate(ctx, "apply_promo", func(s *State) error {
		s.PromoCode = promo.Code
		return nil
	})
	return promo, err
}

// RemovePromo drops the applied promo.
func (l *Ledger) RemovePromo(ctx context.Context) error {
	return l.mutate(ctx, "remove_promo", func(s *State) error {
		s.PromoCode = ""
		return nil
	})
}

// Items returns a copy of the cart lines.
func (l *Ledger) Items() []models.CartItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.clone().Items
}

// PromoCode returns the applied promo code, if any.
func (l *Ledger) PromoCode() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.PromoCode
}

// ItemCount returns the total number of units.
func (l *Ledger) ItemCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return itemCount(l.state.Items)
}

// Totals prices the cart. A recorded promo whose minimum is no longer met
// contributes nothing.
func (l *Ledger) Totals() models.Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals(l.state)
}

// Snapshot returns the current cart with its totals.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot(l.state)
}

// Subscribe registers fn to run after every successful mutation. The returned
// func removes the subscription.
func (l *Ledger) Subscribe(fn func(Snapshot)) func() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		delete(l.subs, id)
	}
}

// mutate applies fn to a copy of the state. An error from fn leaves the
// ledger untouched.
func (l *Ledger) mutate(ctx context.Context, op string, fn func(*State) error) error {
	l.mu.Lock()
	next := l.state.clone()
	if err := fn(&next); err != nil {
		l.mu.Unlock()
		return err
	}
	if err := l.store.Save(ctx, l.owner, next); err != nil {
		l.mu.Unlock()
		l.logger.Error("Failed to persist cart",
			zap.String("owner", l.owner),
			zap.String("op", op),
			zap.Error(err),
		)
		return fmt.Errorf("failed to save cart: %w", err)
	}
	l.state = next
	snap := l.snapshot(next)
	l.mu.Unlock()

	util.CartMutationsTotal.WithLabelValues(op).Inc()
	l.notify(snap)
	return nil
}

func (l *Ledger) notify(snap Snapshot) {
	l.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (l *Ledger) snapshot(s State) Snapshot {
	c := s.clone()
	return Snapshot{
		Items:     c.Items,
		PromoCode: c.PromoCode,
		ItemCount: itemCount(c.Items),
		Totals:    l.totals(s),
	}
}

func (l *Ledger) totals(s State) models.Totals {
	var promo *pricing.PromoCode
	if s.PromoCode != "" {
		if p, ok := l.promos.Lookup(s.PromoCode); ok {
			promo = &p
		}
	}
	return l.pricing.Compute(lines(s.Items), promo)
}

func lines(items []models.CartItem) []pricing.Line {
	out := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		out = append(out, pricing.Line{Price: it.Price, Quantity: it.Quantity})
	}
	return out
}

func itemCount(items []models.CartItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
