package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-backend/internal/model"
)

// AdminRepository handles staff account data access.
type AdminRepository struct {
	pool *pgxpool.Pool
}

// NewAdminRepository creates a new AdminRepository.
func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{pool: pool}
}

func scanAdmin(row pgx.Row) (*model.Admin, error) {
	a := &model.Admin{}
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an admin by ID.
func (r *AdminRepository) GetByID(ctx context.Context, id int) (*model.Admin, error) {
	return scanAdmin(r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, role, created_at, updated_at
		 FROM admins WHERE id = $1`, id))
}

// GetByEmail retrieves an admin by email (used for login).
func (r *AdminRepository) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	return scanAdmin(r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, role, created_at, updated_at
		 FROM admins WHERE lower(email) = lower($1)`, email))
}

// Create inserts a new admin.
func (r *AdminRepository) Create(ctx context.Context, a *model.Admin) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO admins (email, name, password_hash, role)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		a.Email, a.Name, a.PasswordHash, a.Role,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}
