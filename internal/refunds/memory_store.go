package refunds

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory refund store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	refunds  map[string]*Refund // id -> refund
	byUnlock map[string]string  // unlockID -> id
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		refunds:  make(map[string]*Refund),
		byUnlock: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, r *Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUnlock[r.UnlockID]; ok {
		return ErrDuplicateRefund
	}

	cp := *r
	m.refunds[r.ID] = &cp
	m.byUnlock[r.UnlockID] = r.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.refunds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetByUnlock(ctx context.Context, unlockID string) (*Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUnlock[unlockID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.refunds[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, r *Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.refunds[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.refunds[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.refunds[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byUnlock, r.UnlockID)
	delete(m.refunds, id)
	return nil
}

func (m *MemoryStore) ListPending(ctx context.Context, limit int) ([]*Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Refund
	for _, r := range m.refunds {
		if r.Status == StatusPending {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListByProfessional(ctx context.Context, professionalID string, limit int) ([]*Refund, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Refund
	for _, r := range m.refunds {
		if r.ProfessionalID == professionalID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
