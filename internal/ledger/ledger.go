// Package ledger tracks professional coin balances on the platform.
//
// Flow:
//  1. Professional buys a coin package (payment provider credits balance)
//  2. Professional spends coins to unlock client contacts (debits balance)
//  3. Refund settlement credits coins back when a deal did not close
//
// The ledger is the only writer of balances. Every mutation appends exactly
// one immutable transaction-log entry carrying the balance before and after.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/conectapro/backend/internal/pagination"
)

var (
	ErrInsufficientBalance = errors.New("insufficient coin balance")
	ErrAccountNotFound     = errors.New("professional account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrDuplicatePayment    = errors.New("payment already processed")
)

// EntryType classifies a transaction-log entry.
type EntryType string

const (
	TypePurchase     EntryType = "purchase"      // coin package paid via payment provider
	TypeAdminCredit  EntryType = "admin_credit"  // manual credit by an admin
	TypeUsageDebit   EntryType = "usage_debit"   // coins spent unlocking a contact
	TypeRefundCredit EntryType = "refund_credit" // refund settlement credit
)

// Entry is an immutable transaction-log record of one balance mutation.
type Entry struct {
	ID             string    `json:"id"`
	ProfessionalID string    `json:"professionalId"`
	Type           EntryType `json:"type"`
	Amount         int64     `json:"amount"` // signed: positive credit, negative debit
	BalanceBefore  int64     `json:"balanceBefore"`
	BalanceAfter   int64     `json:"balanceAfter"`
	Description    string    `json:"description,omitempty"`
	Reference      string    `json:"reference,omitempty"`  // unlock record ID, refund ID, etc.
	PaymentRef     string    `json:"paymentRef,omitempty"` // external payment reference
	CreatedAt      time.Time `json:"createdAt"`
}

// Store persists balances and the transaction log.
type Store interface {
	Balance(ctx context.Context, professionalID string) (int64, error)
	CreateAccount(ctx context.Context, professionalID string) error
	Credit(ctx context.Context, professionalID string, amount int64, entryType EntryType, description, reference, paymentRef string) (int64, error)
	Debit(ctx context.Context, professionalID string, amount int64, description, reference string) (int64, error)
	History(ctx context.Context, professionalID string, limit int) ([]*Entry, error)
	HistoryBefore(ctx context.Context, professionalID string, before time.Time, limit int) ([]*Entry, error)
	HasPayment(ctx context.Context, paymentRef string) (bool, error)
}

// Ledger manages professional coin balances.
type Ledger struct {
	store Store
}

// New creates a new ledger
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Balance returns a professional's current coin balance.
func (l *Ledger) Balance(ctx context.Context, professionalID string) (int64, error) {
	return l.store.Balance(ctx, professionalID)
}

// Open creates a zero-balance account for a newly registered professional.
// Idempotent: opening an existing account is a no-op.
func (l *Ledger) Open(ctx context.Context, professionalID string) error {
	return l.store.CreateAccount(ctx, professionalID)
}

// CreditPurchase credits coins bought through the payment provider.
// Duplicate deliveries of the same payment reference are rejected so a
// replayed webhook can never double-credit.
func (l *Ledger) CreditPurchase(ctx context.Context, professionalID string, coins int64, description, paymentRef string) (int64, error) {
	if coins <= 0 {
		return 0, ErrInvalidAmount
	}
	exists, err := l.store.HasPayment(ctx, paymentRef)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrDuplicatePayment
	}
	return l.store.Credit(ctx, professionalID, coins, TypePurchase, description, "", paymentRef)
}

// CreditAdmin credits coins granted manually by an admin.
func (l *Ledger) CreditAdmin(ctx context.Context, professionalID string, coins int64, description string) (int64, error) {
	if coins <= 0 {
		return 0, ErrInvalidAmount
	}
	return l.store.Credit(ctx, professionalID, coins, TypeAdminCredit, description, "", "")
}

// CreditRefund credits coins returned by the refund settlement engine.
func (l *Ledger) CreditRefund(ctx context.Context, professionalID string, coins int64, description, reference string) (int64, error) {
	if coins <= 0 {
		return 0, ErrInvalidAmount
	}
	return l.store.Credit(ctx, professionalID, coins, TypeRefundCredit, description, reference, "")
}

// Debit spends coins on a contact unlock. Fails with ErrInsufficientBalance
// when the balance would go negative; no partial debit is ever applied.
func (l *Ledger) Debit(ctx context.Context, professionalID string, coins int64, description, reference string) (int64, error) {
	if coins <= 0 {
		return 0, ErrInvalidAmount
	}
	return l.store.Debit(ctx, professionalID, coins, description, reference)
}

// CanSpend checks if a professional has at least the given balance.
func (l *Ledger) CanSpend(ctx context.Context, professionalID string, coins int64) (bool, error) {
	if coins < 0 {
		return false, ErrInvalidAmount
	}
	bal, err := l.store.Balance(ctx, professionalID)
	if err != nil {
		return false, err
	}
	return bal >= coins, nil
}

// History returns transaction-log entries for a professional, newest first.
func (l *Ledger) History(ctx context.Context, professionalID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.History(ctx, professionalID, limit)
}

// HistoryPage returns one page of transaction-log entries, newest first,
// plus an opaque cursor for the next page.
func (l *Ledger) HistoryPage(ctx context.Context, professionalID, cursor string, limit int) ([]*Entry, string, bool, error) {
	if limit <= 0 {
		limit = 50
	}

	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, err
	}

	var entries []*Entry
	if cur == nil {
		entries, err = l.store.History(ctx, professionalID, limit+1)
	} else {
		entries, err = l.store.HistoryBefore(ctx, professionalID, cur.CreatedAt, limit+1)
	}
	if err != nil {
		return nil, "", false, err
	}

	page, next, more := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return page, next, more, nil
}
