// Package accounts is the registry of professionals on the platform.
//
// A professional account is created at registration with a zero coin balance
// and is never deleted: misbehaving professionals are soft-banned, which
// blocks new contact unlocks but keeps the ledger history intact.
package accounts

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("professional not found")
	ErrAlreadyExists = errors.New("professional already registered")
	ErrBanned        = errors.New("professional is banned")
)

// Professional is a service provider who spends coins to unlock contacts.
type Professional struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone,omitempty"`
	Banned    bool       `json:"banned"`
	BanReason string     `json:"banReason,omitempty"`
	BannedAt  *time.Time `json:"bannedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Store persists professional accounts.
type Store interface {
	Create(ctx context.Context, p *Professional) error
	Get(ctx context.Context, id string) (*Professional, error)
	GetByEmail(ctx context.Context, email string) (*Professional, error)
	Update(ctx context.Context, p *Professional) error
	List(ctx context.Context, limit int) ([]*Professional, error)
}

// LedgerOpener opens a zero-balance coin account for new professionals.
type LedgerOpener interface {
	Open(ctx context.Context, professionalID string) error
}

// Service implements professional account business logic.
type Service struct {
	store  Store
	ledger LedgerOpener
}

// NewService creates a new accounts service.
func NewService(store Store, ledger LedgerOpener) *Service {
	return &Service{store: store, ledger: ledger}
}

// Register creates a professional account and opens its coin account.
func (s *Service) Register(ctx context.Context, p *Professional) error {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	if existing, err := s.store.GetByEmail(ctx, p.Email); err == nil && existing != nil {
		return ErrAlreadyExists
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.store.Create(ctx, p); err != nil {
		return err
	}
	return s.ledger.Open(ctx, p.ID)
}

// Get returns a professional by ID.
func (s *Service) Get(ctx context.Context, id string) (*Professional, error) {
	return s.store.Get(ctx, id)
}

// EnsureActive returns ErrBanned for banned professionals, ErrNotFound for
// unknown ones. Gate for every coin-spending operation.
func (s *Service) EnsureActive(ctx context.Context, id string) error {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Banned {
		return ErrBanned
	}
	return nil
}

// Ban soft-marks a professional as banned. The account and its ledger
// history survive; only new unlocks are blocked.
func (s *Service) Ban(ctx context.Context, id, reason string) (*Professional, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p.Banned = true
	p.BanReason = reason
	p.BannedAt = &now
	p.UpdatedAt = now

	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Unban lifts a ban.
func (s *Service) Unban(ctx context.Context, id string) (*Professional, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	p.Banned = false
	p.BanReason = ""
	p.BannedAt = nil
	p.UpdatedAt = time.Now()

	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
