package cart

import (
	"context"
	"sync"
)

// MemoryStore keeps carts in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string]State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]State)}
}

// Load returns the owner's cart, or an empty one.
func (m *MemoryStore) Load(_ context.Context, owner string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.carts[owner].clone(), nil
}

// Save replaces the owner's cart. An empty cart is deleted.
func (m *MemoryStore) Save(_ context.Context, owner string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(state.Items) == 0 && state.PromoCode == "" {
		delete(m.carts, owner)
		return nil
	}
	m.carts[owner] = state.clone()
	return nil
}
