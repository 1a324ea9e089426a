package unlock

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed unlock store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the unlock_records table.
// The UNIQUE constraint on (professional_id, request_id) backs the
// at-most-one-unlock-per-pair invariant even if the in-process lock
// is bypassed by a second instance.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS unlock_records (
			id               VARCHAR(64) PRIMARY KEY,
			professional_id  VARCHAR(64) NOT NULL,
			request_id       VARCHAR(64) NOT NULL,
			exclusive        BOOLEAN NOT NULL DEFAULT FALSE,
			contact_unlocked BOOLEAN NOT NULL DEFAULT TRUE,
			deal_closed      BOOLEAN NOT NULL DEFAULT FALSE,
			coins_spent      BIGINT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at        TIMESTAMPTZ,
			CONSTRAINT uq_unlock_pair UNIQUE (professional_id, request_id)
		);

		CREATE INDEX IF NOT EXISTS idx_unlocks_request ON unlock_records(request_id);
		CREATE INDEX IF NOT EXISTS idx_unlocks_professional ON unlock_records(professional_id);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, r *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO unlock_records (id, professional_id, request_id, exclusive,
			contact_unlocked, deal_closed, coins_spent, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
	`, r.ID, r.ProfessionalID, r.RequestID, r.Exclusive, r.ContactUnlocked,
		r.CoinsSpent, r.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "uq_unlock_pair") {
			return ErrAlreadyUnlocked
		}
		return fmt.Errorf("failed to create unlock record: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	return scanRecord(p.db.QueryRowContext(ctx, `
		SELECT id, professional_id, request_id, exclusive, contact_unlocked,
		       deal_closed, coins_spent, created_at, closed_at
		FROM unlock_records WHERE id = $1
	`, id))
}

func (p *PostgresStore) GetByPair(ctx context.Context, professionalID, requestID string) (*Record, error) {
	return scanRecord(p.db.QueryRowContext(ctx, `
		SELECT id, professional_id, request_id, exclusive, contact_unlocked,
		       deal_closed, coins_spent, created_at, closed_at
		FROM unlock_records WHERE professional_id = $1 AND request_id = $2
	`, professionalID, requestID))
}

func scanRecord(row *sql.Row) (*Record, error) {
	r := &Record{}
	var closedAt sql.NullTime
	err := row.Scan(&r.ID, &r.ProfessionalID, &r.RequestID, &r.Exclusive,
		&r.ContactUnlocked, &r.DealClosed, &r.CoinsSpent, &r.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		r.ClosedAt = &t
	}
	return r, nil
}

func (p *PostgresStore) CountByRequest(ctx context.Context, requestID string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM unlock_records WHERE request_id = $1
	`, requestID).Scan(&count)
	return count, err
}

func (p *PostgresStore) ListByRequest(ctx context.Context, requestID string) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, professional_id, request_id, exclusive, contact_unlocked,
		       deal_closed, coins_spent, created_at, closed_at
		FROM unlock_records
		WHERE request_id = $1
		ORDER BY created_at ASC
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *PostgresStore) ListByProfessional(ctx context.Context, professionalID string, limit int) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, professional_id, request_id, exclusive, contact_unlocked,
		       deal_closed, coins_spent, created_at, closed_at
		FROM unlock_records
		WHERE professional_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, professionalID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var result []*Record
	for rows.Next() {
		r := &Record{}
		var closedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.ProfessionalID, &r.RequestID, &r.Exclusive,
			&r.ContactUnlocked, &r.DealClosed, &r.CoinsSpent, &r.CreatedAt, &closedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			t := closedAt.Time
			r.ClosedAt = &t
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// SetDealClosed flips deal_closed exactly once.
func (p *PostgresStore) SetDealClosed(ctx context.Context, id string, closedAt time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE unlock_records SET deal_closed = TRUE, closed_at = $2
		WHERE id = $1 AND deal_closed = FALSE
	`, id, closedAt)
	if err != nil {
		return fmt.Errorf("failed to mark deal closed: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either missing or already closed; disambiguate for the caller.
		var closed bool
		err := p.db.QueryRowContext(ctx, `
			SELECT deal_closed FROM unlock_records WHERE id = $1
		`, id).Scan(&closed)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrAlreadyClosed
	}
	return nil
}
