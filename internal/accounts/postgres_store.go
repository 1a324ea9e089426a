package accounts

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

// NewPostgresStore creates a new PostgreSQL-backed accounts store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the professionals table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS professionals (
			id         VARCHAR(64) PRIMARY KEY,
			name       VARCHAR(255) NOT NULL,
			email      VARCHAR(255) NOT NULL UNIQUE,
			phone      VARCHAR(32),
			banned     BOOLEAN NOT NULL DEFAULT FALSE,
			ban_reason TEXT,
			banned_at  TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, prof *Professional) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO professionals (id, name, email, phone, banned, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), FALSE, $5, $6)
	`, prof.ID, prof.Name, strings.ToLower(prof.Email), prof.Phone, prof.CreatedAt, prof.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create professional: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Professional, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, banned, ban_reason, banned_at, created_at, updated_at
		FROM professionals WHERE id = $1
	`, id))
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*Professional, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, banned, ban_reason, banned_at, created_at, updated_at
		FROM professionals WHERE email = $1
	`, strings.ToLower(email)))
}

func (p *PostgresStore) scanOne(row *sql.Row) (*Professional, error) {
	prof := &Professional{}
	var phone, banReason sql.NullString
	var bannedAt sql.NullTime

	err := row.Scan(&prof.ID, &prof.Name, &prof.Email, &phone, &prof.Banned,
		&banReason, &bannedAt, &prof.CreatedAt, &prof.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	prof.Phone = phone.String
	prof.BanReason = banReason.String
	if bannedAt.Valid {
		t := bannedAt.Time
		prof.BannedAt = &t
	}
	return prof, nil
}

func (p *PostgresStore) Update(ctx context.Context, prof *Professional) error {
	var bannedAt *time.Time
	if prof.BannedAt != nil {
		bannedAt = prof.BannedAt
	}

	result, err := p.db.ExecContext(ctx, `
		UPDATE professionals SET
			name       = $2,
			phone      = NULLIF($3, ''),
			banned     = $4,
			ban_reason = NULLIF($5, ''),
			banned_at  = $6,
			updated_at = $7
		WHERE id = $1
	`, prof.ID, prof.Name, prof.Phone, prof.Banned, prof.BanReason, bannedAt, prof.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update professional: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Professional, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, email, phone, banned, ban_reason, banned_at, created_at, updated_at
		FROM professionals
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Professional
	for rows.Next() {
		prof := &Professional{}
		var phone, banReason sql.NullString
		var bannedAt sql.NullTime
		if err := rows.Scan(&prof.ID, &prof.Name, &prof.Email, &phone, &prof.Banned,
			&banReason, &bannedAt, &prof.CreatedAt, &prof.UpdatedAt); err != nil {
			return nil, err
		}
		prof.Phone = phone.String
		prof.BanReason = banReason.String
		if bannedAt.Valid {
			t := bannedAt.Time
			prof.BannedAt = &t
		}
		result = append(result, prof)
	}
	return result, rows.Err()
}
