// Package refunds implements the refund settlement engine.
//
// Two paths, one invariant: at most one refund record per unlock record,
// ever, regardless of path or outcome.
//
// Automatic path: a professional unilaterally declares "I did not close
// this deal". The refund is approved on the spot and a configured
// percentage of the coins spent is credited back.
//
// Manual path: the professional submits a written dispute with evidence.
// The record stays pending until an admin approves (full coin credit) or
// denies it.
package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conectapro/backend/internal/idgen"
	"github.com/conectapro/backend/internal/logging"
	"github.com/conectapro/backend/internal/pricing"
	"github.com/conectapro/backend/internal/requests"
	"github.com/conectapro/backend/internal/security"
	"github.com/conectapro/backend/internal/syncutil"
	"github.com/conectapro/backend/internal/traces"
	"github.com/conectapro/backend/internal/unlock"
)

var (
	ErrUnlockNotFound     = errors.New("unlock record not found")
	ErrNotOwner           = errors.New("unlock record belongs to another professional")
	ErrDealAlreadyClosed  = errors.New("deal was marked closed, refund unavailable")
	ErrDuplicateRefund    = errors.New("a refund was already requested for this unlock")
	ErrReasonTooShort     = errors.New("refund reason must be at least 20 characters")
	ErrBadEvidenceURL     = errors.New("evidence URL is not allowed")
	ErrRefundWindowClosed = errors.New("refund window for this unlock has closed")
	ErrNotFound           = errors.New("refund record not found")
	ErrAlreadyResolved    = errors.New("refund request already resolved")
)

// MinReasonLength is the minimum dispute reason length for the manual path.
const MinReasonLength = 20

// Status is the refund record state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Decision is an admin's resolution of a pending refund.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
)

// Refund is the single refund record an unlock can ever have.
type Refund struct {
	ID             string     `json:"id"`
	UnlockID       string     `json:"unlockId"`
	ProfessionalID string     `json:"professionalId"`
	RequestID      string     `json:"requestId"`
	ClientID       string     `json:"clientId,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	EvidenceURLs   []string   `json:"evidenceUrls,omitempty"`
	CoinsSpent     int64      `json:"coinsSpent"`
	RefundedCoins  int64      `json:"refundedCoins"`
	ContactType    string     `json:"contactType"` // normal | exclusive
	Status         Status     `json:"status"`
	Automatic      bool       `json:"automatic"`
	AdminID        string     `json:"adminId,omitempty"`
	AdminResponse  string     `json:"adminResponse,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Store persists refund records.
type Store interface {
	Create(ctx context.Context, r *Refund) error
	Get(ctx context.Context, id string) (*Refund, error)
	GetByUnlock(ctx context.Context, unlockID string) (*Refund, error)
	Update(ctx context.Context, r *Refund) error
	Delete(ctx context.Context, id string) error
	ListPending(ctx context.Context, limit int) ([]*Refund, error)
	ListByProfessional(ctx context.Context, professionalID string, limit int) ([]*Refund, error)
}

// LedgerService abstracts the coin credit so refunds doesn't import ledger.
type LedgerService interface {
	CreditRefund(ctx context.Context, professionalID string, coins int64, description, reference string) (int64, error)
}

// PricingProvider supplies the refund percentage and window.
type PricingProvider interface {
	Get(ctx context.Context) (pricing.Snapshot, error)
}

// UnlockDirectory abstracts unlock record reads.
type UnlockDirectory interface {
	Get(ctx context.Context, id string) (*unlock.Record, error)
}

// RequestDirectory abstracts service request reads and cancellation.
type RequestDirectory interface {
	Get(ctx context.Context, id string) (*requests.ServiceRequest, error)
	Cancel(ctx context.Context, id string) error
}

// EventSink receives platform events for the ops feed.
type EventSink interface {
	Publish(eventType string, payload any)
}

// Service implements refund settlement.
type Service struct {
	store    Store
	ledger   LedgerService
	pricing  PricingProvider
	unlocks  UnlockDirectory
	requests RequestDirectory
	locks    *syncutil.ShardedMutex
	events   EventSink
}

// NewService creates a new refund service. The locks instance must be the
// one shared with the unlock and deal-outcome services.
func NewService(store Store, ledger LedgerService, pricing PricingProvider, unlocks UnlockDirectory, requests RequestDirectory, locks *syncutil.ShardedMutex) *Service {
	return &Service{
		store:    store,
		ledger:   ledger,
		pricing:  pricing,
		unlocks:  unlocks,
		requests: requests,
		locks:    locks,
	}
}

// WithEvents adds an event sink for the ops feed.
func (s *Service) WithEvents(e EventSink) *Service {
	s.events = e
	return s
}

// ExistsForUnlock reports whether any refund record exists for an unlock.
// Used by the deal outcome resolver for its anti-fraud check.
func (s *Service) ExistsForUnlock(ctx context.Context, unlockID string) (bool, error) {
	_, err := s.store.GetByUnlock(ctx, unlockID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RequestAutomaticRefund settles the no-questions-asked path: the
// professional declares the deal did not close, a configured percentage
// of the coins spent comes back immediately and the request is canceled.
func (s *Service) RequestAutomaticRefund(ctx context.Context, professionalID, unlockID string) (*Refund, int64, error) {
	ctx, span := traces.StartSpan(ctx, "refunds.RequestAutomaticRefund",
		traces.ProfessionalID(professionalID),
		traces.UnlockID(unlockID),
	)
	defer span.End()

	rec, snap, err := s.eligibleUnlock(ctx, professionalID, unlockID)
	if err != nil {
		return nil, 0, err
	}

	release := s.locks.Lock(syncutil.UnlockKey(rec.ID))
	defer release()

	if err := s.checkSettleable(ctx, rec.ID); err != nil {
		return nil, 0, err
	}

	now := time.Now()
	refund := &Refund{
		ID:             idgen.WithPrefix("rfd_"),
		UnlockID:       rec.ID,
		ProfessionalID: professionalID,
		RequestID:      rec.RequestID,
		CoinsSpent:     rec.CoinsSpent,
		RefundedCoins:  snap.RefundAmount(rec.CoinsSpent),
		ContactType:    rec.ContactType(),
		Status:         StatusApproved,
		Automatic:      true,
		ResolvedAt:     &now,
		CreatedAt:      now,
	}
	if req, err := s.requests.Get(ctx, rec.RequestID); err == nil {
		refund.ClientID = req.ClientID
	}

	if err := s.store.Create(ctx, refund); err != nil {
		return nil, 0, err
	}

	newBalance, err := s.ledger.CreditRefund(ctx, professionalID, refund.RefundedCoins,
		fmt.Sprintf("automatic refund for request %s", rec.RequestID), refund.ID)
	if err != nil {
		// No coins moved; the record must not survive or the duplicate
		// guard would block the retry forever.
		if derr := s.store.Delete(ctx, refund.ID); derr != nil {
			logging.L(ctx).Error("refund credit failed and record removal failed",
				"refund_id", refund.ID, "unlock_id", rec.ID, "error", derr)
		}
		return nil, 0, fmt.Errorf("refund credit failed: %w", err)
	}

	// The request only cancels from open/in_progress; a request another
	// professional already finalized stays finalized.
	if err := s.requests.Cancel(ctx, rec.RequestID); err != nil && !errors.Is(err, requests.ErrInvalidTransition) {
		return nil, 0, err
	}

	if s.events != nil {
		s.events.Publish("refund_settled", refund)
	}

	return refund, newBalance, nil
}

// SubmitRefundRequest opens the manual dispute path. Nothing is credited
// and the request is untouched until an admin resolves the record.
func (s *Service) SubmitRefundRequest(ctx context.Context, professionalID, unlockID, reason string, evidenceURLs []string) (*Refund, error) {
	if len(strings.TrimSpace(reason)) < MinReasonLength {
		return nil, ErrReasonTooShort
	}
	for _, u := range evidenceURLs {
		if err := security.ValidateEndpointURL(u); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadEvidenceURL, err)
		}
	}

	rec, _, err := s.eligibleUnlock(ctx, professionalID, unlockID)
	if err != nil {
		return nil, err
	}

	release := s.locks.Lock(syncutil.UnlockKey(rec.ID))
	defer release()

	if err := s.checkSettleable(ctx, rec.ID); err != nil {
		return nil, err
	}

	refund := &Refund{
		ID:             idgen.WithPrefix("rfd_"),
		UnlockID:       rec.ID,
		ProfessionalID: professionalID,
		RequestID:      rec.RequestID,
		Reason:         strings.TrimSpace(reason),
		EvidenceURLs:   evidenceURLs,
		CoinsSpent:     rec.CoinsSpent,
		ContactType:    rec.ContactType(),
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	}
	if req, err := s.requests.Get(ctx, rec.RequestID); err == nil {
		refund.ClientID = req.ClientID
	}

	if err := s.store.Create(ctx, refund); err != nil {
		return nil, err
	}

	if s.events != nil {
		s.events.Publish("refund_requested", refund)
	}

	return refund, nil
}

// ResolveRefund records an admin decision on a pending dispute. Approval
// credits back the full coins spent snapshotted at submission time.
func (s *Service) ResolveRefund(ctx context.Context, refundID, adminID string, decision Decision, adminResponse string) (*Refund, error) {
	ctx, span := traces.StartSpan(ctx, "refunds.ResolveRefund", traces.RefundID(refundID))
	defer span.End()

	refund, err := s.store.Get(ctx, refundID)
	if err != nil {
		return nil, err
	}

	release := s.locks.Lock(syncutil.UnlockKey(refund.UnlockID))
	defer release()

	// Re-read under the lock: a concurrent resolution may have won.
	refund, err = s.store.Get(ctx, refundID)
	if err != nil {
		return nil, err
	}
	if refund.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}

	now := time.Now()
	refund.Status = StatusDenied
	refund.AdminID = adminID
	refund.AdminResponse = adminResponse
	refund.ResolvedAt = &now

	if decision == DecisionApproved {
		refund.Status = StatusApproved
		refund.RefundedCoins = refund.CoinsSpent
	}

	if err := s.store.Update(ctx, refund); err != nil {
		return nil, err
	}

	if refund.Status == StatusApproved {
		if _, err := s.ledger.CreditRefund(ctx, refund.ProfessionalID, refund.RefundedCoins,
			fmt.Sprintf("refund approved for request %s", refund.RequestID), refund.ID); err != nil {
			// No coins moved; the dispute goes back to the pending queue
			// so the admin can resolve it again.
			refund.Status = StatusPending
			refund.RefundedCoins = 0
			refund.AdminID = ""
			refund.AdminResponse = ""
			refund.ResolvedAt = nil
			if uerr := s.store.Update(ctx, refund); uerr != nil {
				logging.L(ctx).Error("refund credit failed and rollback failed",
					"refund_id", refund.ID, "error", uerr)
			}
			return nil, fmt.Errorf("refund credit failed: %w", err)
		}
	}

	if s.events != nil {
		s.events.Publish("refund_resolved", refund)
	}

	return refund, nil
}

// Get returns a refund record by ID.
func (s *Service) Get(ctx context.Context, id string) (*Refund, error) {
	return s.store.Get(ctx, id)
}

// ListPending returns pending disputes for admin review, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*Refund, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListPending(ctx, limit)
}

// ListByProfessional returns a professional's refund records, newest first.
func (s *Service) ListByProfessional(ctx context.Context, professionalID string, limit int) ([]*Refund, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByProfessional(ctx, professionalID, limit)
}

// eligibleUnlock loads the unlock record and runs the ownership and
// refund-window checks shared by both paths.
func (s *Service) eligibleUnlock(ctx context.Context, professionalID, unlockID string) (*unlock.Record, pricing.Snapshot, error) {
	rec, err := s.unlocks.Get(ctx, unlockID)
	if err != nil {
		if errors.Is(err, unlock.ErrNotFound) {
			return nil, pricing.Snapshot{}, ErrUnlockNotFound
		}
		return nil, pricing.Snapshot{}, err
	}
	if rec.ProfessionalID != professionalID {
		return nil, pricing.Snapshot{}, ErrNotOwner
	}
	if !rec.ContactUnlocked {
		return nil, pricing.Snapshot{}, ErrUnlockNotFound
	}

	snap, err := s.pricing.Get(ctx)
	if err != nil {
		return nil, pricing.Snapshot{}, err
	}

	window := time.Duration(snap.RefundWindowDays) * 24 * time.Hour
	if time.Since(rec.CreatedAt) > window {
		return nil, pricing.Snapshot{}, ErrRefundWindowClosed
	}

	return rec, snap, nil
}

// checkSettleable re-validates the closed-deal and duplicate-refund
// invariants under the unlock-record lock.
func (s *Service) checkSettleable(ctx context.Context, unlockID string) error {
	rec, err := s.unlocks.Get(ctx, unlockID)
	if err != nil {
		return err
	}
	if rec.DealClosed {
		return ErrDealAlreadyClosed
	}

	exists, err := s.ExistsForUnlock(ctx, unlockID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateRefund
	}
	return nil
}
