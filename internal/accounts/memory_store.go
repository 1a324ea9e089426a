package accounts

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a thread-safe in-memory implementation
type MemoryStore struct {
	mu            sync.RWMutex
	professionals map[string]*Professional
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{professionals: make(map[string]*Professional)}
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, p *Professional) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.professionals[p.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *p
	m.professionals[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Professional, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.professionals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*Professional, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(email)
	for _, p := range m.professionals {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Update(ctx context.Context, p *Professional) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.professionals[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.professionals[p.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*Professional, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Professional, 0, len(m.professionals))
	for _, p := range m.professionals {
		cp := *p
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
