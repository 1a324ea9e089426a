package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/conectapro/backend/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables.
// The CHECK constraint on balance >= 0 is the last line of defense against
// overdraft; the Debit query never lets a balance go negative either way.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS professional_balances (
			professional_id VARCHAR(64) PRIMARY KEY,
			balance         BIGINT NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_balance_nonneg CHECK (balance >= 0)
		);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id              VARCHAR(36) PRIMARY KEY,
			professional_id VARCHAR(64) NOT NULL,
			type            VARCHAR(20) NOT NULL,
			amount          BIGINT NOT NULL,
			balance_before  BIGINT NOT NULL,
			balance_after   BIGINT NOT NULL,
			description     TEXT,
			reference       VARCHAR(64),
			payment_ref     VARCHAR(255),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_professional ON ledger_entries(professional_id);
		CREATE INDEX IF NOT EXISTS idx_ledger_payment ON ledger_entries(payment_ref);
		CREATE INDEX IF NOT EXISTS idx_ledger_created ON ledger_entries(created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Balance(ctx context.Context, professionalID string) (int64, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx, `
		SELECT balance FROM professional_balances WHERE professional_id = $1
	`, professionalID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (p *PostgresStore) CreateAccount(ctx context.Context, professionalID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO professional_balances (professional_id, balance, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (professional_id) DO NOTHING
	`, professionalID)
	return err
}

// Credit adds coins to a professional's balance, creating the account row
// if it does not exist yet.
func (p *PostgresStore) Credit(ctx context.Context, professionalID string, amount int64, entryType EntryType, description, reference, paymentRef string) (int64, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO professional_balances (professional_id, balance, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (professional_id) DO NOTHING
	`, professionalID)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure account: %w", err)
	}

	var before int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM professional_balances WHERE professional_id = $1 FOR UPDATE
	`, professionalID).Scan(&before)
	if err != nil {
		return 0, fmt.Errorf("failed to lock balance: %w", err)
	}

	after := before + amount
	_, err = tx.ExecContext(ctx, `
		UPDATE professional_balances SET balance = $2, updated_at = NOW()
		WHERE professional_id = $1
	`, professionalID, after)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := insertEntry(ctx, tx, &Entry{
		ID:             idgen.WithPrefix("txn_"),
		ProfessionalID: professionalID,
		Type:           entryType,
		Amount:         amount,
		BalanceBefore:  before,
		BalanceAfter:   after,
		Description:    description,
		Reference:      reference,
		PaymentRef:     paymentRef,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return after, nil
}

// Debit removes coins with row-level locking. The balance check and the
// update happen under the same lock, so two concurrent debits can never
// both pass against the same coins.
func (p *PostgresStore) Debit(ctx context.Context, professionalID string, amount int64, description, reference string) (int64, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var before int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM professional_balances WHERE professional_id = $1 FOR UPDATE
	`, professionalID).Scan(&before)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock balance: %w", err)
	}

	if before < amount {
		return 0, ErrInsufficientBalance
	}

	after := before - amount
	_, err = tx.ExecContext(ctx, `
		UPDATE professional_balances SET balance = $2, updated_at = NOW()
		WHERE professional_id = $1
	`, professionalID, after)
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := insertEntry(ctx, tx, &Entry{
		ID:             idgen.WithPrefix("txn_"),
		ProfessionalID: professionalID,
		Type:           TypeUsageDebit,
		Amount:         -amount,
		BalanceBefore:  before,
		BalanceAfter:   after,
		Description:    description,
		Reference:      reference,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return after, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *Entry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, professional_id, type, amount, balance_before,
			balance_after, description, reference, payment_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NOW())
	`, e.ID, e.ProfessionalID, e.Type, e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.Description, e.Reference, e.PaymentRef)
	if err != nil {
		return fmt.Errorf("failed to record entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) History(ctx context.Context, professionalID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, professional_id, type, amount, balance_before, balance_after,
		       description, reference, payment_ref, created_at
		FROM ledger_entries
		WHERE professional_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, professionalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (p *PostgresStore) HistoryBefore(ctx context.Context, professionalID string, before time.Time, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, professional_id, type, amount, balance_before, balance_after,
		       description, reference, payment_ref, created_at
		FROM ledger_entries
		WHERE professional_id = $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, professionalID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var description, reference, paymentRef sql.NullString
		if err := rows.Scan(&e.ID, &e.ProfessionalID, &e.Type, &e.Amount, &e.BalanceBefore,
			&e.BalanceAfter, &description, &reference, &paymentRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Description = description.String
		e.Reference = reference.String
		e.PaymentRef = paymentRef.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) HasPayment(ctx context.Context, paymentRef string) (bool, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries WHERE payment_ref = $1 AND type = 'purchase'
	`, paymentRef).Scan(&count)
	return count > 0, err
}
