package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/conectapro/backend/internal/idgen"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	balances map[string]int64
	entries  []*Entry
	payments map[string]bool
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		entries:  make([]*Entry, 0),
		payments: make(map[string]bool),
	}
}

func (m *MemoryStore) Balance(ctx context.Context, professionalID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bal, ok := m.balances[professionalID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return bal, nil
}

func (m *MemoryStore) CreateAccount(ctx context.Context, professionalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.balances[professionalID]; !ok {
		m.balances[professionalID] = 0
	}
	return nil
}

func (m *MemoryStore) Credit(ctx context.Context, professionalID string, amount int64, entryType EntryType, description, reference, paymentRef string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.balances[professionalID]
	after := before + amount
	m.balances[professionalID] = after

	m.entries = append(m.entries, &Entry{
		ID:             idgen.WithPrefix("txn_"),
		ProfessionalID: professionalID,
		Type:           entryType,
		Amount:         amount,
		BalanceBefore:  before,
		BalanceAfter:   after,
		Description:    description,
		Reference:      reference,
		PaymentRef:     paymentRef,
		CreatedAt:      time.Now(),
	})

	if paymentRef != "" {
		m.payments[paymentRef] = true
	}

	return after, nil
}

func (m *MemoryStore) Debit(ctx context.Context, professionalID string, amount int64, description, reference string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before, ok := m.balances[professionalID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	if before < amount {
		return 0, ErrInsufficientBalance
	}

	after := before - amount
	m.balances[professionalID] = after

	m.entries = append(m.entries, &Entry{
		ID:             idgen.WithPrefix("txn_"),
		ProfessionalID: professionalID,
		Type:           TypeUsageDebit,
		Amount:         -amount,
		BalanceBefore:  before,
		BalanceAfter:   after,
		Description:    description,
		Reference:      reference,
		CreatedAt:      time.Now(),
	})

	return after, nil
}

func (m *MemoryStore) History(ctx context.Context, professionalID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].ProfessionalID == professionalID {
			cp := *m.entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) HistoryBefore(ctx context.Context, professionalID string, before time.Time, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.ProfessionalID == professionalID && e.CreatedAt.Before(before) {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) HasPayment(ctx context.Context, paymentRef string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.payments[paymentRef], nil
}

// Dump returns a copy of all balances and log entries for audit sweeps.
func (m *MemoryStore) Dump() (map[string]int64, []*Entry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balances := make(map[string]int64, len(m.balances))
	for id, bal := range m.balances {
		balances[id] = bal
	}
	entries := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		cp := *e
		entries = append(entries, &cp)
	}
	return balances, entries
}
