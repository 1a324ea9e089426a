package pricing

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory settings store for demo/development mode.
type MemoryStore struct {
	mu  sync.RWMutex
	cur *Snapshot
}

// NewMemoryStore creates a new in-memory settings store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(ctx context.Context) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cur == nil {
		return nil, ErrNotFound
	}
	cp := *m.cur
	return &cp, nil
}

func (m *MemoryStore) Save(ctx context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.cur = &cp
	return nil
}
