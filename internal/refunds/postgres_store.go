package refunds

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed refund store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the refund_records table.
// The UNIQUE constraint on unlock_id backs the at-most-one-refund-per-unlock
// invariant even if the in-process lock is bypassed by a second instance.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS refund_records (
			id              VARCHAR(64) PRIMARY KEY,
			unlock_id       VARCHAR(64) NOT NULL,
			professional_id VARCHAR(64) NOT NULL,
			request_id      VARCHAR(64) NOT NULL,
			client_id       VARCHAR(64) NOT NULL DEFAULT '',
			reason          TEXT NOT NULL DEFAULT '',
			evidence_urls   TEXT[] NOT NULL DEFAULT '{}',
			coins_spent     BIGINT NOT NULL,
			refunded_coins  BIGINT NOT NULL DEFAULT 0,
			contact_type    VARCHAR(16) NOT NULL,
			status          VARCHAR(16) NOT NULL,
			automatic       BOOLEAN NOT NULL DEFAULT FALSE,
			admin_id        VARCHAR(64) NOT NULL DEFAULT '',
			admin_response  TEXT NOT NULL DEFAULT '',
			resolved_at     TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT uq_refund_unlock UNIQUE (unlock_id)
		);

		CREATE INDEX IF NOT EXISTS idx_refunds_professional ON refund_records(professional_id);
		CREATE INDEX IF NOT EXISTS idx_refunds_status ON refund_records(status);
	`)
	return err
}

const refundColumns = `id, unlock_id, professional_id, request_id, client_id,
	reason, evidence_urls, coins_spent, refunded_coins, contact_type,
	status, automatic, admin_id, admin_response, resolved_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, r *Refund) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refund_records (id, unlock_id, professional_id, request_id,
			client_id, reason, evidence_urls, coins_spent, refunded_coins,
			contact_type, status, automatic, admin_id, admin_response,
			resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, r.ID, r.UnlockID, r.ProfessionalID, r.RequestID, r.ClientID,
		r.Reason, pq.Array(r.EvidenceURLs), r.CoinsSpent, r.RefundedCoins,
		r.ContactType, r.Status, r.Automatic, r.AdminID, r.AdminResponse,
		r.ResolvedAt, r.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "uq_refund_unlock") {
			return ErrDuplicateRefund
		}
		return fmt.Errorf("failed to create refund record: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Refund, error) {
	return scanRefund(p.db.QueryRowContext(ctx, `
		SELECT `+refundColumns+` FROM refund_records WHERE id = $1
	`, id))
}

func (p *PostgresStore) GetByUnlock(ctx context.Context, unlockID string) (*Refund, error) {
	return scanRefund(p.db.QueryRowContext(ctx, `
		SELECT `+refundColumns+` FROM refund_records WHERE unlock_id = $1
	`, unlockID))
}

func (p *PostgresStore) Update(ctx context.Context, r *Refund) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE refund_records
		SET refunded_coins = $2, status = $3, admin_id = $4,
		    admin_response = $5, resolved_at = $6
		WHERE id = $1
	`, r.ID, r.RefundedCoins, r.Status, r.AdminID, r.AdminResponse, r.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update refund record: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a refund record. Only used to back out a record whose
// ledger credit never happened; settled refunds are immutable.
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM refund_records WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete refund record: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListPending(ctx context.Context, limit int) ([]*Refund, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+refundColumns+` FROM refund_records
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, StatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRefunds(rows)
}

func (p *PostgresStore) ListByProfessional(ctx context.Context, professionalID string, limit int) ([]*Refund, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+refundColumns+` FROM refund_records
		WHERE professional_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, professionalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRefunds(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRefundRow(row rowScanner) (*Refund, error) {
	r := &Refund{}
	var resolvedAt sql.NullTime
	err := row.Scan(&r.ID, &r.UnlockID, &r.ProfessionalID, &r.RequestID,
		&r.ClientID, &r.Reason, pq.Array(&r.EvidenceURLs), &r.CoinsSpent,
		&r.RefundedCoins, &r.ContactType, &r.Status, &r.Automatic,
		&r.AdminID, &r.AdminResponse, &resolvedAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedAt = &t
	}
	return r, nil
}

func scanRefund(row *sql.Row) (*Refund, error) {
	r, err := scanRefundRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func scanRefunds(rows *sql.Rows) ([]*Refund, error) {
	var result []*Refund
	for rows.Next() {
		r, err := scanRefundRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
