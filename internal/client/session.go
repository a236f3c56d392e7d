package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"techstore/internal/cart"
)

// Session keys. They match the names the storefront pages read.
const (
	TokenKey        = "techstore_token"
	UserKey         = "techstore_user"
	CartKey         = "ecommerce-cart-data"
	PendingOrderKey = "pending-order"
)

// SessionStore is the client's persistent key/value storage.
type SessionStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// MemorySession is a SessionStore held in memory.
type MemorySession struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemorySession creates an empty MemorySession.
func NewMemorySession() *MemorySession {
	return &MemorySession{values: make(map[string]string)}
}

func (m *MemorySession) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemorySession) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemorySession) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// CartStore persists a single cart ledger in a SessionStore under CartKey.
// The owner argument is ignored: a session holds one cart.
type CartStore struct {
	session SessionStore
}

// NewCartStore creates a cart.Store backed by session.
func NewCartStore(session SessionStore) *CartStore {
	return &CartStore{session: session}
}

// Load decodes the stored cart. A missing entry is an empty cart.
func (s *CartStore) Load(_ context.Context, _ string) (cart.State, error) {
	raw, ok := s.session.Get(CartKey)
	if !ok || raw == "" {
		return cart.State{}, nil
	}

	var state cart.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return cart.State{}, fmt.Errorf("failed to decode stored cart: %w", err)
	}
	return state, nil
}

func (s *CartStore) Save(_ context.Context, _ string, state cart.State) error {
	if len(state.Items) == 0 && state.PromoCode == "" {
		return s.session.Delete(CartKey)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}
	return s.session.Set(CartKey, string(raw))
}
