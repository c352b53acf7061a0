package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/shared"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so records can be
// appended inside the caller's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed ledger storage.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends a record using the pool.
func (r *Repository) Insert(ctx context.Context, rec Record) (int64, error) {
	return InsertTx(ctx, r.pool, rec)
}

// InsertTx appends a record through any DBTX, typically the transaction that
// carries the mutation being audited.
func InsertTx(ctx context.Context, db DBTX, rec Record) (int64, error) {
	diffJSON, err := MarshalDiff(rec.Diff)
	if err != nil {
		return 0, err
	}
	metaJSON, err := json.Marshal(rec.Meta)
	if err != nil {
		return 0, fmt.Errorf("audit: marshal meta: %w", err)
	}
	var id int64
	err = db.QueryRow(ctx, `INSERT INTO audit_records
(entity, entity_id, action, actor_id, actor_name, diff, reason, meta, client_ip, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))
RETURNING id`,
		rec.Entity, rec.EntityID, rec.Action, rec.ActorID, rec.ActorName,
		diffJSON, rec.Reason, metaJSON, rec.ClientIP, nullTime(rec.At)).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Query lists records matching the filter, newest first.
func (r *Repository) Query(ctx context.Context, filter Filter) ([]Record, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argNum := 1

	addArg := func(clause string, value any) {
		where += fmt.Sprintf(clause, argNum)
		args = append(args, value)
		argNum++
	}

	if filter.Entity != "" {
		addArg(` AND entity = $%d`, filter.Entity)
	}
	if filter.EntityID != "" {
		addArg(` AND entity_id = $%d`, filter.EntityID)
	}
	if filter.ActorID > 0 {
		addArg(` AND actor_id = $%d`, filter.ActorID)
	}
	if filter.Action != "" {
		addArg(` AND action = $%d`, filter.Action)
	}
	if !filter.From.IsZero() {
		addArg(` AND at >= $%d`, filter.From)
	}
	if !filter.To.IsZero() {
		addArg(` AND at <= $%d`, filter.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := shared.Pagination{Page: filter.Page, PerPage: filter.PerPage}
	dataSQL := `SELECT id, entity, entity_id, action, actor_id, actor_name, diff, reason, meta, client_ip, at
FROM audit_records` + where +
		fmt.Sprintf(` ORDER BY at DESC, id DESC LIMIT $%d OFFSET $%d`, argNum, argNum+1)
	args = append(args, filter.PerPage, page.Offset())

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var diffRaw, metaRaw []byte
		if err := rows.Scan(&rec.ID, &rec.Entity, &rec.EntityID, &rec.Action,
			&rec.ActorID, &rec.ActorName, &diffRaw, &rec.Reason, &metaRaw, &rec.ClientIP, &rec.At); err != nil {
			return nil, 0, err
		}
		if rec.Diff, err = UnmarshalDiff(diffRaw); err != nil {
			return nil, 0, err
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &rec.Meta); err != nil {
				return nil, 0, fmt.Errorf("audit: unmarshal meta: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
