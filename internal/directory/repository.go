package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetPerson returns the person with the given id.
func (r *Repository) GetPerson(ctx context.Context, id int64) (Person, error) {
	const q = `SELECT id, email, name, role, is_active FROM people WHERE id = $1`
	var p Person
	err := r.pool.QueryRow(ctx, q, id).Scan(&p.ID, &p.Email, &p.Name, &p.Role, &p.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Person{}, ErrPersonNotFound
	}
	if err != nil {
		return Person{}, err
	}
	return p, nil
}

// GetSupplier returns the supplier with the given id.
func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	const q = `SELECT id, name, email, is_active, created_at FROM suppliers WHERE id = $1`
	var s Supplier
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.Name, &s.Email, &s.IsActive, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, ErrSupplierNotFound
	}
	if err != nil {
		return Supplier{}, err
	}
	return s, nil
}
