package unlock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory unlock record store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record // id -> record
	pairs   map[string]string  // professionalID+"|"+requestID -> id
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		pairs:   make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func pairKey(professionalID, requestID string) string {
	return professionalID + "|" + requestID
}

func (m *MemoryStore) Create(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(r.ProfessionalID, r.RequestID)
	if _, ok := m.pairs[key]; ok {
		return ErrAlreadyUnlocked
	}

	cp := *r
	m.records[r.ID] = &cp
	m.pairs[key] = r.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetByPair(ctx context.Context, professionalID, requestID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairs[pairKey(professionalID, requestID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.records[id]
	return &cp, nil
}

func (m *MemoryStore) CountByRequest(ctx context.Context, requestID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.records {
		if r.RequestID == requestID {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ListByRequest(ctx context.Context, requestID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, r := range m.records {
		if r.RequestID == requestID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) ListByProfessional(ctx context.Context, professionalID string, limit int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Record
	for _, r := range m.records {
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

func (m *MemoryStore) SetDealClosed(ctx context.Context, id string, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.DealClosed {
		return ErrAlreadyClosed
	}
	r.DealClosed = true
	t := closedAt
	r.ClosedAt = &t
	return nil
}
