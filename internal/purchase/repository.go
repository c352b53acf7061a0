package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/approval"
	"github.com/meridian-erp/meridian/internal/audit"
	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. AppendAudit writes through
// the same transaction, so a rolled back mutation leaves no ledger trace.
type TxRepository interface {
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	ReplaceLines(ctx context.Context, orderID int64, lines []Line) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	UpdateTotals(ctx context.Context, po PurchaseOrder) error
	UpdateLineReceived(ctx context.Context, lineID, received int64) error
	SetReceivedAt(ctx context.Context, id int64, at time.Time) error
	InsertReceivingEntry(ctx context.Context, entry ReceivingEntry) error
	InsertDecision(ctx context.Context, d Decision) error
	CountApprovals(ctx context.Context, orderID int64) (int, error)
	AppendAudit(ctx context.Context, rec audit.Record) error
}

// Decision is one recorded approve/reject by one actor on one order.
type Decision struct {
	OrderID   int64
	ActorID   int64
	Verdict   string
	Reason    string
	DecidedAt time.Time
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

const orderColumns = `id, number, supplier_id, status, subtotal, tax, total,
created_by, created_at, expected_at, received_at`

// GetOrder returns a purchase order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return fetchOrder(ctx, r.pool, id, "")
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	return fetchOrder(ctx, t.tx, id, " FOR UPDATE")
}

func fetchOrder(ctx context.Context, db audit.DBTX, id int64, suffix string) (PurchaseOrder, error) {
	var po PurchaseOrder
	var expectedAt, receivedAt *time.Time
	err := db.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`+suffix, id).Scan(
		&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.Subtotal, &po.Tax, &po.Total,
		&po.CreatedBy, &po.CreatedAt, &expectedAt, &receivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrNotFound
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	if expectedAt != nil {
		po.ExpectedAt = *expectedAt
	}
	if receivedAt != nil {
		po.ReceivedAt = *receivedAt
	}

	rows, err := db.Query(ctx, `SELECT id, order_id, product_id, qty, unit_cost, line_total, received
FROM purchase_order_lines WHERE order_id = $1 ORDER BY id`+suffix, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Qty,
			&line.UnitCost, &line.LineTotal, &line.Received); err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (t *txRepo) CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(number, supplier_id, status, subtotal, tax, total, created_by, created_at, expected_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), $8)
RETURNING id`,
		po.Number, po.SupplierID, po.Status, po.Subtotal, po.Tax, po.Total,
		po.CreatedBy, nullTime(po.ExpectedAt)).Scan(&id)
	return id, err
}

func (t *txRepo) ReplaceLines(ctx context.Context, orderID int64, lines []Line) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	for _, line := range lines {
		_, err := t.tx.Exec(ctx, `INSERT INTO purchase_order_lines
(order_id, product_id, qty, unit_cost, line_total, received)
VALUES ($1, $2, $3, $4, $5, $6)`,
			orderID, line.ProductID, line.Qty, line.UnitCost, line.LineTotal, line.Received)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateTotals(ctx context.Context, po PurchaseOrder) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET subtotal = $1, tax = $2, total = $3 WHERE id = $4`,
		po.Subtotal, po.Tax, po.Total, po.ID)
	return err
}

func (t *txRepo) UpdateLineReceived(ctx context.Context, lineID, received int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_lines SET received = $1 WHERE id = $2`, received, lineID)
	return err
}

func (t *txRepo) SetReceivedAt(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET received_at = $1 WHERE id = $2`, at, id)
	return err
}

func (t *txRepo) InsertReceivingEntry(ctx context.Context, entry ReceivingEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO receiving_entries
(order_id, line_id, product_id, ordered, received, previous, total, condition, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.OrderID, entry.LineID, entry.ProductID, entry.Ordered,
		entry.Received, entry.Previous, entry.Total, entry.Condition, entry.At)
	return err
}

func (t *txRepo) InsertDecision(ctx context.Context, d Decision) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO order_decisions (order_id, actor_id, verdict, reason, decided_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (order_id, actor_id) DO UPDATE SET verdict = $3, reason = $4, decided_at = $5`,
		d.OrderID, d.ActorID, d.Verdict, d.Reason, d.DecidedAt)
	return err
}

func (t *txRepo) CountApprovals(ctx context.Context, orderID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(DISTINCT actor_id) FROM order_decisions
WHERE order_id = $1 AND verdict = 'approve'`, orderID).Scan(&n)
	return n, err
}

func (t *txRepo) AppendAudit(ctx context.Context, rec audit.Record) error {
	_, err := audit.InsertTx(ctx, t.tx, rec)
	return err
}

// ListFilters narrows List results. Zero values mean "no constraint".
type ListFilters struct {
	Status     Status
	SupplierID int64
	CreatedBy  int64
	Search     string
}

// List returns orders matching the filters, newest first, without lines.
func (r *Repository) List(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argNum := 1

	addArg := func(clause string, value any) {
		where += fmt.Sprintf(clause, argNum)
		args = append(args, value)
		argNum++
	}

	if filters.Status != "" {
		addArg(` AND status = $%d`, filters.Status)
	}
	if filters.SupplierID > 0 {
		addArg(` AND supplier_id = $%d`, filters.SupplierID)
	}
	if filters.CreatedBy > 0 {
		addArg(` AND created_by = $%d`, filters.CreatedBy)
	}
	if filters.Search != "" {
		addArg(` AND number ILIKE $%d`, "%"+filters.Search+"%")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `SELECT ` + orderColumns + ` FROM purchase_orders` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		var expectedAt, receivedAt *time.Time
		if err := rows.Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status,
			&po.Subtotal, &po.Tax, &po.Total, &po.CreatedBy, &po.CreatedAt,
			&expectedAt, &receivedAt); err != nil {
			return nil, 0, err
		}
		if expectedAt != nil {
			po.ExpectedAt = *expectedAt
		}
		if receivedAt != nil {
			po.ReceivedAt = *receivedAt
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// PendingApprovalRefs projects orders waiting for approval into policy refs,
// oldest first, for the escalation scan.
func (r *Repository) PendingApprovalRefs(ctx context.Context, limit int) ([]approval.OrderRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, total, status, created_at
FROM purchase_orders WHERE status = $1 ORDER BY created_at LIMIT $2`,
		StatusPendingApproval, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []approval.OrderRef
	for rows.Next() {
		var ref approval.OrderRef
		if err := rows.Scan(&ref.ID, &ref.Number, &ref.Total, &ref.Status, &ref.CreatedAt); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
