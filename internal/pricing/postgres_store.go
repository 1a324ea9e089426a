package pricing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL.
// Settings are a singleton row; coin packages are stored as JSONB.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed settings store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the pricing settings table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pricing_settings (
			singleton                      BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
			unlock_cost_normal             BIGINT NOT NULL CHECK (unlock_cost_normal > 0),
			unlock_cost_exclusive          BIGINT NOT NULL CHECK (unlock_cost_exclusive > 0),
			max_professionals_per_request  INT NOT NULL CHECK (max_professionals_per_request >= 1),
			refund_percentage              INT NOT NULL CHECK (refund_percentage BETWEEN 0 AND 100),
			refund_window_days             INT NOT NULL CHECK (refund_window_days >= 1),
			coin_packages                  JSONB NOT NULL DEFAULT '[]',
			version                        BIGINT NOT NULL DEFAULT 0,
			updated_at                     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context) (*Snapshot, error) {
	s := &Snapshot{}
	var packagesJSON []byte

	err := p.db.QueryRowContext(ctx, `
		SELECT unlock_cost_normal, unlock_cost_exclusive, max_professionals_per_request,
		       refund_percentage, refund_window_days, coin_packages, version, updated_at
		FROM pricing_settings WHERE singleton
	`).Scan(&s.UnlockCostNormal, &s.UnlockCostExclusive, &s.MaxProfessionalsPerRequest,
		&s.RefundPercentage, &s.RefundWindowDays, &packagesJSON, &s.Version, &s.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(packagesJSON, &s.CoinPackages); err != nil {
		return nil, fmt.Errorf("failed to decode coin packages: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) Save(ctx context.Context, s *Snapshot) error {
	packagesJSON, err := json.Marshal(s.CoinPackages)
	if err != nil {
		return fmt.Errorf("failed to encode coin packages: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO pricing_settings (singleton, unlock_cost_normal, unlock_cost_exclusive,
			max_professionals_per_request, refund_percentage, refund_window_days,
			coin_packages, version, updated_at)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (singleton) DO UPDATE SET
			unlock_cost_normal            = EXCLUDED.unlock_cost_normal,
			unlock_cost_exclusive         = EXCLUDED.unlock_cost_exclusive,
			max_professionals_per_request = EXCLUDED.max_professionals_per_request,
			refund_percentage             = EXCLUDED.refund_percentage,
			refund_window_days            = EXCLUDED.refund_window_days,
			coin_packages                 = EXCLUDED.coin_packages,
			version                       = EXCLUDED.version,
			updated_at                    = EXCLUDED.updated_at
	`, s.UnlockCostNormal, s.UnlockCostExclusive, s.MaxProfessionalsPerRequest,
		s.RefundPercentage, s.RefundWindowDays, packagesJSON, s.Version, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pricing settings: %w", err)
	}
	return nil
}
