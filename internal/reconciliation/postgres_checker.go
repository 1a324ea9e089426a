package reconciliation

import (
	"context"
	"database/sql"
	"time"
)

// PostgresChecker audits the PostgreSQL ledger with a single aggregate query.
type PostgresChecker struct {
	db *sql.DB
}

// NewPostgresChecker creates a checker over the PostgreSQL ledger tables.
func NewPostgresChecker(db *sql.DB) *PostgresChecker {
	return &PostgresChecker{db: db}
}

var _ Checker = (*PostgresChecker)(nil)

func (c *PostgresChecker) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{SweptAt: time.Now()}

	if err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM professional_balances
	`).Scan(&report.Accounts); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT b.professional_id, b.balance, COALESCE(SUM(e.amount), 0) AS computed
		FROM professional_balances b
		LEFT JOIN ledger_entries e ON e.professional_id = b.professional_id
		GROUP BY b.professional_id, b.balance
		HAVING b.balance <> COALESCE(SUM(e.amount), 0)
		ORDER BY b.professional_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Mismatch
		if err := rows.Scan(&m.ProfessionalID, &m.StoredBalance, &m.ComputedSum); err != nil {
			return nil, err
		}
		report.Mismatches = append(report.Mismatches, m)
	}
	return report, rows.Err()
}
