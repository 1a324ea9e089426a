// Package deals resolves the outcome of an unlocked contact.
//
// A professional who closed a deal marks it here, which finalizes the
// service request and permanently blocks refunds for that unlock. Closing
// is irreversible. The inverse outcome (no deal) is handled by the refund
// settlement engine.
package deals

import (
	"context"
	"errors"
	"time"

	"github.com/conectapro/backend/internal/syncutil"
	"github.com/conectapro/backend/internal/unlock"
)

var (
	ErrNoAccess          = errors.New("no unlocked contact for this request")
	ErrAlreadyClosed     = errors.New("deal already marked closed")
	ErrRefundAlreadyUsed = errors.New("a refund was already requested for this unlock")
)

// UnlockDirectory abstracts unlock record access.
type UnlockDirectory interface {
	Get(ctx context.Context, id string) (*unlock.Record, error)
	GetByPair(ctx context.Context, professionalID, requestID string) (*unlock.Record, error)
	SetDealClosed(ctx context.Context, id string, closedAt time.Time) error
}

// RefundChecker reports whether a refund record exists for an unlock.
type RefundChecker interface {
	ExistsForUnlock(ctx context.Context, unlockID string) (bool, error)
}

// RequestFinalizer transitions a service request to finalized.
type RequestFinalizer interface {
	Finalize(ctx context.Context, id, professionalID string) error
}

// EventSink receives platform events for the ops feed.
type EventSink interface {
	Publish(eventType string, payload any)
}

// Service implements the deal outcome resolver.
type Service struct {
	unlocks  UnlockDirectory
	refunds  RefundChecker
	requests RequestFinalizer
	locks    *syncutil.ShardedMutex
	events   EventSink
}

// NewService creates a new deal outcome service. The locks instance must be
// the one shared with the unlock and refund services.
func NewService(unlocks UnlockDirectory, refunds RefundChecker, requests RequestFinalizer, locks *syncutil.ShardedMutex) *Service {
	return &Service{
		unlocks:  unlocks,
		refunds:  refunds,
		requests: requests,
		locks:    locks,
	}
}

// WithEvents adds an event sink for the ops feed.
func (s *Service) WithEvents(e EventSink) *Service {
	s.events = e
	return s
}

// MarkDealClosed records that the professional closed a deal for an
// unlocked contact. Holding the unlock-record lock keeps this mutually
// exclusive with a concurrent refund request for the same unlock.
func (s *Service) MarkDealClosed(ctx context.Context, professionalID, requestID string) (*unlock.Record, error) {
	rec, err := s.unlocks.GetByPair(ctx, professionalID, requestID)
	if err != nil {
		if errors.Is(err, unlock.ErrNotFound) {
			return nil, ErrNoAccess
		}
		return nil, err
	}
	if !rec.ContactUnlocked {
		return nil, ErrNoAccess
	}

	release := s.locks.Lock(syncutil.UnlockKey(rec.ID))
	defer release()

	// Re-read under the lock: a concurrent close or refund may have won.
	rec, err = s.unlocks.Get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if rec.DealClosed {
		return nil, ErrAlreadyClosed
	}

	refunded, err := s.refunds.ExistsForUnlock(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if refunded {
		return nil, ErrRefundAlreadyUsed
	}

	now := time.Now()
	if err := s.unlocks.SetDealClosed(ctx, rec.ID, now); err != nil {
		if errors.Is(err, unlock.ErrAlreadyClosed) {
			return nil, ErrAlreadyClosed
		}
		return nil, err
	}

	if err := s.requests.Finalize(ctx, requestID, professionalID); err != nil {
		// The unlock record is the source of truth for the closed deal;
		// retry the request transition once and surface a failure after.
		if err := s.requests.Finalize(ctx, requestID, professionalID); err != nil {
			return nil, err
		}
	}

	rec.DealClosed = true
	rec.ClosedAt = &now

	if s.events != nil {
		s.events.Publish("deal_closed", rec)
	}

	return rec, nil
}
