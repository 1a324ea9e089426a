package requests

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed requests store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the service_requests table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS service_requests (
			id                         VARCHAR(64) PRIMARY KEY,
			client_id                  VARCHAR(64) NOT NULL,
			category                   VARCHAR(100) NOT NULL,
			subcategory                VARCHAR(100),
			title                      VARCHAR(255) NOT NULL,
			description                TEXT,
			status                     VARCHAR(20) NOT NULL DEFAULT 'open',
			contracted_professional_id VARCHAR(64),
			created_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_requests_status ON service_requests(status);
		CREATE INDEX IF NOT EXISTS idx_requests_category ON service_requests(category);
		CREATE INDEX IF NOT EXISTS idx_requests_client ON service_requests(client_id);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, r *ServiceRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_requests (id, client_id, category, subcategory, title,
			description, status, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9)
	`, r.ID, r.ClientID, r.Category, r.Subcategory, r.Title, r.Description,
		r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create service request: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*ServiceRequest, error) {
	r := &ServiceRequest{}
	var subcategory, description, contracted sql.NullString

	err := p.db.QueryRowContext(ctx, `
		SELECT id, client_id, category, subcategory, title, description, status,
		       contracted_professional_id, created_at, updated_at
		FROM service_requests WHERE id = $1
	`, id).Scan(&r.ID, &r.ClientID, &r.Category, &subcategory, &r.Title,
		&description, &r.Status, &contracted, &r.CreatedAt, &r.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Subcategory = subcategory.String
	r.Description = description.String
	r.ContractedProfessionalID = contracted.String
	return r, nil
}

func (p *PostgresStore) Update(ctx context.Context, r *ServiceRequest) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE service_requests SET
			status                     = $2,
			contracted_professional_id = NULLIF($3, ''),
			updated_at                 = $4
		WHERE id = $1
	`, r.ID, r.Status, r.ContractedProfessionalID, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update service request: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*ServiceRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, client_id, category, subcategory, title, description, status,
		       contracted_professional_id, created_at, updated_at
		FROM service_requests
		WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, q.Category, string(q.Status), q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ServiceRequest
	for rows.Next() {
		r := &ServiceRequest{}
		var subcategory, description, contracted sql.NullString
		if err := rows.Scan(&r.ID, &r.ClientID, &r.Category, &subcategory, &r.Title,
			&description, &r.Status, &contracted, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Subcategory = subcategory.String
		r.Description = description.String
		r.ContractedProfessionalID = contracted.String
		result = append(result, r)
	}
	return result, rows.Err()
}
