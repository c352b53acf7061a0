package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed stock persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetQuantity reads the current stock level; missing products count as zero.
func (r *Repository) GetQuantity(ctx context.Context, productID int64) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx, `SELECT qty FROM stock_levels WHERE product_id = $1`, productID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return qty, nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_movements (product_id, qty, ref, posted_at)
VALUES ($1, $2, $3, $4)`, m.ProductID, m.Qty, m.Ref, m.PostedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRef
		}
		return err
	}
	return nil
}

func (t *txRepo) DeleteMovement(ctx context.Context, ref string) (Movement, bool, error) {
	var m Movement
	err := t.tx.QueryRow(ctx, `DELETE FROM stock_movements WHERE ref = $1
RETURNING id, product_id, qty, ref, posted_at`, ref).Scan(
		&m.ID, &m.ProductID, &m.Qty, &m.Ref, &m.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, false, nil
	}
	if err != nil {
		return Movement{}, false, err
	}
	return m, true, nil
}

func (t *txRepo) GetLevelForUpdate(ctx context.Context, productID int64) (Level, bool, error) {
	var level Level
	err := t.tx.QueryRow(ctx, `SELECT product_id, qty, updated_at FROM stock_levels
WHERE product_id = $1 FOR UPDATE`, productID).Scan(&level.ProductID, &level.Qty, &level.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Level{}, false, nil
	}
	if err != nil {
		return Level{}, false, err
	}
	return level, true, nil
}

func (t *txRepo) UpsertLevel(ctx context.Context, level Level) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_levels (product_id, qty, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (product_id) DO UPDATE SET qty = EXCLUDED.qty, updated_at = EXCLUDED.updated_at`,
		level.ProductID, level.Qty, level.UpdatedAt)
	return err
}
