package requests

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a thread-safe in-memory implementation
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*ServiceRequest
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*ServiceRequest)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, r *ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, r *ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.requests[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) List(ctx context.Context, q Query) ([]*ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ServiceRequest
	for _, r := range m.requests {
		if q.Category != "" && r.Category != q.Category {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}
