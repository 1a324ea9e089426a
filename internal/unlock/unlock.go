// Package unlock implements the contact unlock engine.
//
// Flow:
//  1. Professional picks an open service request
//  2. Engine checks request state, duplicates, capacity and balance, in order
//  3. Coins are debited and an unlock record grants access to the contact
//  4. An exclusive unlock additionally moves the request to in_progress
//
// The unlock record snapshots the coin cost paid at unlock time, so later
// pricing changes can never alter what a refund settles against.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/conectapro/backend/internal/idgen"
	"github.com/conectapro/backend/internal/logging"
	"github.com/conectapro/backend/internal/pricing"
	"github.com/conectapro/backend/internal/requests"
	"github.com/conectapro/backend/internal/syncutil"
	"github.com/conectapro/backend/internal/traces"
)

var (
	ErrRequestUnavailable   = errors.New("service request does not accept unlocks")
	ErrAlreadyUnlocked      = errors.New("contact already unlocked for this request")
	ErrCapacityReached      = errors.New("request reached its professional limit")
	ErrExclusiveUnavailable = errors.New("request already has unlocks, exclusive access unavailable")
	ErrNotFound             = errors.New("unlock record not found")
	ErrAlreadyClosed        = errors.New("deal already marked closed")
)

// Record grants one professional access to one request's contact details.
// At most one record ever exists per (professional, request) pair and a
// record is never deleted.
type Record struct {
	ID              string     `json:"id"`
	ProfessionalID  string     `json:"professionalId"`
	RequestID       string     `json:"requestId"`
	Exclusive       bool       `json:"exclusive"`
	ContactUnlocked bool       `json:"contactUnlocked"`
	DealClosed      bool       `json:"dealClosed"`
	CoinsSpent      int64      `json:"coinsSpent"`
	CreatedAt       time.Time  `json:"createdAt"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
}

// ContactType returns the refund-record contact type tag.
func (r *Record) ContactType() string {
	if r.Exclusive {
		return "exclusive"
	}
	return "normal"
}

// Store persists unlock records.
type Store interface {
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByPair(ctx context.Context, professionalID, requestID string) (*Record, error)
	CountByRequest(ctx context.Context, requestID string) (int, error)
	ListByRequest(ctx context.Context, requestID string) ([]*Record, error)
	ListByProfessional(ctx context.Context, professionalID string, limit int) ([]*Record, error)
	SetDealClosed(ctx context.Context, id string, closedAt time.Time) error
}

// LedgerService abstracts coin movements so unlock doesn't import ledger.
type LedgerService interface {
	Debit(ctx context.Context, professionalID string, coins int64, description, reference string) (int64, error)
	CreditRefund(ctx context.Context, professionalID string, coins int64, description, reference string) (int64, error)
}

// PricingProvider supplies the current pricing snapshot.
type PricingProvider interface {
	Get(ctx context.Context) (pricing.Snapshot, error)
}

// RequestDirectory abstracts service request reads and the exclusive
// unlock transition.
type RequestDirectory interface {
	Get(ctx context.Context, id string) (*requests.ServiceRequest, error)
	SetInProgress(ctx context.Context, id string) error
}

// AccountGate blocks banned professionals from unlocking.
type AccountGate interface {
	EnsureActive(ctx context.Context, professionalID string) error
}

// EventSink receives platform events for the ops feed.
type EventSink interface {
	Publish(eventType string, payload any)
}

// Service implements the contact unlock engine.
type Service struct {
	store    Store
	ledger   LedgerService
	pricing  PricingProvider
	requests RequestDirectory
	accounts AccountGate
	locks    *syncutil.ShardedMutex
	events   EventSink
}

// NewService creates a new unlock service. The locks instance must be the
// one shared with the deal-outcome and refund services.
func NewService(store Store, ledger LedgerService, pricing PricingProvider, requests RequestDirectory, locks *syncutil.ShardedMutex) *Service {
	return &Service{
		store:    store,
		ledger:   ledger,
		pricing:  pricing,
		requests: requests,
		locks:    locks,
	}
}

// WithAccountGate adds a ban check on every unlock attempt.
func (s *Service) WithAccountGate(g AccountGate) *Service {
	s.accounts = g
	return s
}

// WithEvents adds an event sink for the ops feed.
func (s *Service) WithEvents(e EventSink) *Service {
	s.events = e
	return s
}

// UnlockContact validates and executes a contact unlock.
//
// Preconditions are evaluated in order and the first failing check wins:
// request open, no duplicate unlock, capacity, then balance. The whole
// check-create-debit sequence holds the request lock, so concurrent
// unlockers of the same request can never exceed the cap and the same
// professional can never unlock the same request twice.
func (s *Service) UnlockContact(ctx context.Context, professionalID, requestID string, exclusive bool) (*Record, int64, error) {
	ctx, span := traces.StartSpan(ctx, "unlock.UnlockContact",
		traces.ProfessionalID(professionalID),
		traces.RequestID(requestID),
	)
	defer span.End()

	if s.accounts != nil {
		if err := s.accounts.EnsureActive(ctx, professionalID); err != nil {
			return nil, 0, err
		}
	}

	unlock := s.locks.Lock(syncutil.RequestKey(requestID))
	defer unlock()

	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, requests.ErrNotFound) {
			return nil, 0, ErrRequestUnavailable
		}
		return nil, 0, err
	}
	if !req.AcceptsUnlocks() {
		return nil, 0, ErrRequestUnavailable
	}

	if existing, err := s.store.GetByPair(ctx, professionalID, requestID); err == nil && existing != nil {
		return nil, 0, ErrAlreadyUnlocked
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, 0, err
	}

	count, err := s.store.CountByRequest(ctx, requestID)
	if err != nil {
		return nil, 0, err
	}

	snap, err := s.pricing.Get(ctx)
	if err != nil {
		return nil, 0, err
	}

	if exclusive {
		// Exclusive means sole access: reject when anyone got there first.
		if count > 0 {
			return nil, 0, ErrExclusiveUnavailable
		}
	} else if count >= snap.MaxProfessionalsPerRequest {
		return nil, 0, ErrCapacityReached
	}

	cost := snap.UnlockCost(exclusive)
	rec := &Record{
		ID:              idgen.WithPrefix("ulk_"),
		ProfessionalID:  professionalID,
		RequestID:       requestID,
		Exclusive:       exclusive,
		ContactUnlocked: true,
		CoinsSpent:      cost,
		CreatedAt:       time.Now(),
	}

	desc := fmt.Sprintf("contact unlock (%s) for request %s", rec.ContactType(), requestID)
	newBalance, err := s.ledger.Debit(ctx, professionalID, cost, desc, rec.ID)
	if err != nil {
		return nil, 0, err
	}

	if err := s.store.Create(ctx, rec); err != nil {
		// Best-effort coin return if the record cannot be persisted
		_, _ = s.ledger.CreditRefund(ctx, professionalID, cost, "unlock failed, coins returned", rec.ID)
		return nil, 0, fmt.Errorf("failed to create unlock record: %w", err)
	}

	if exclusive {
		if err := s.requests.SetInProgress(ctx, requestID); err != nil {
			// Funds moved and the record exists, so the unlock stands.
			// Failing here would leave the professional paid-up but
			// without the contact payload.
			if err := s.requests.SetInProgress(ctx, requestID); err != nil {
				logging.L(ctx).Warn("exclusive unlock recorded but request transition failed",
					"unlock_id", rec.ID, "request_id", requestID, "error", err)
			}
		}
	}

	if s.events != nil {
		s.events.Publish("contact_unlocked", rec)
	}

	return rec, newBalance, nil
}

// Get returns an unlock record by ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

// GetByPair returns the unlock record for a (professional, request) pair.
func (s *Service) GetByPair(ctx context.Context, professionalID, requestID string) (*Record, error) {
	return s.store.GetByPair(ctx, professionalID, requestID)
}

// ListByProfessional returns a professional's unlock records, newest first.
func (s *Service) ListByProfessional(ctx context.Context, professionalID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByProfessional(ctx, professionalID, limit)
}

// ListByRequest returns all unlock records for a service request.
func (s *Service) ListByRequest(ctx context.Context, requestID string) ([]*Record, error) {
	return s.store.ListByRequest(ctx, requestID)
}
