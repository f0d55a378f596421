package tokenstore

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

// MemoryStore keeps tokens for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]string)}
}

func (s *MemoryStore) Load(context.Context) (domain.Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fromEntries(s.entries), nil
}

func (s *MemoryStore) Save(_ context.Context, tokens domain.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = toEntries(tokens)
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]string)
	return nil
}
