package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/audit"
	"github.com/meridian-erp/meridian/internal/directory"
	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error)
}

// DirectoryPort validates suppliers and resolves actors.
type DirectoryPort interface {
	ResolveActor(ctx context.Context, actorID int64) shared.Actor
	CheckSupplier(ctx context.Context, id int64) (directory.Supplier, error)
}

// Service owns order CRUD and the simple lifecycle transitions. Approval
// decisions and goods receipts live in Workflow.
type Service struct {
	repo      RepositoryPort
	directory DirectoryPort
	events    Sink
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs Service.
func NewService(repo RepositoryPort, dir DirectoryPort, events Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = NopSink{}
	}
	return &Service{repo: repo, directory: dir, events: events, logger: logger, now: time.Now}
}

// LineInput describes one order line in a create or update payload.
type LineInput struct {
	ProductID int64
	Qty       int64
	UnitCost  decimal.Decimal
}

// CreateOrderInput describes the creation payload.
type CreateOrderInput struct {
	Number     string
	SupplierID int64
	Tax        decimal.Decimal
	ExpectedAt time.Time
	ActorID    int64
	Lines      []LineInput
}

// UpdateOrderInput replaces the mutable fields of a draft order.
type UpdateOrderInput struct {
	Tax        decimal.Decimal
	ExpectedAt time.Time
	ActorID    int64
	Lines      []LineInput
}

// Create persists a new order in draft with its lines and totals.
func (s *Service) Create(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	lines, err := buildLines(input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if _, err := s.directory.CheckSupplier(ctx, input.SupplierID); err != nil {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier %d: %v", ErrValidation, input.SupplierID, err)
	}
	actor := s.directory.ResolveActor(ctx, input.ActorID)

	po := PurchaseOrder{
		Number:     input.Number,
		SupplierID: input.SupplierID,
		Status:     StatusDraft,
		Tax:        input.Tax,
		Lines:      lines,
		CreatedBy:  actor.ID,
		ExpectedAt: input.ExpectedAt,
	}
	if po.Number == "" {
		po.Number = generateNumber("PO")
	}
	po.RecomputeTotals()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for i := range po.Lines {
			po.Lines[i].OrderID = id
		}
		if err := tx.ReplaceLines(ctx, id, po.Lines); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, s.auditRecord(po, actor, "create", "",
			audit.LineDiff{New: lineSnapshots(po.Lines)}, s.now()))
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.logger.Info("purchase order created", "number", po.Number, "total", po.Total.String())
	return po, nil
}

// Update replaces lines and tax on a draft order and recomputes totals.
// Orders past draft are frozen for editing; amend via reject-to-draft.
func (s *Service) Update(ctx context.Context, orderID int64, input UpdateOrderInput) (PurchaseOrder, error) {
	lines, err := buildLines(input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	actor := s.directory.ResolveActor(ctx, input.ActorID)

	var updated PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return ErrOrderFrozen
		}
		if po.Status != StatusDraft {
			return fmt.Errorf("%w: order %s is %s, only drafts are editable",
				ErrValidation, po.Number, po.Status)
		}
		old := lineSnapshots(po.Lines)

		po.Tax = input.Tax
		po.ExpectedAt = input.ExpectedAt
		po.Lines = lines
		for i := range po.Lines {
			po.Lines[i].OrderID = po.ID
		}
		po.RecomputeTotals()

		if err := tx.ReplaceLines(ctx, po.ID, po.Lines); err != nil {
			return err
		}
		if err := tx.UpdateTotals(ctx, po); err != nil {
			return err
		}
		updated = po
		return tx.AppendAudit(ctx, s.auditRecord(po, actor, "update", "",
			audit.LineDiff{Old: old, New: lineSnapshots(po.Lines)}, s.now()))
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return updated, nil
}

// Submit moves a draft into pending approval.
func (s *Service) Submit(ctx context.Context, orderID, actorID int64) error {
	return s.transition(ctx, orderID, actorID, StatusPendingApproval, "submit", "",
		func(po PurchaseOrder) error {
			if len(po.Lines) == 0 {
				return fmt.Errorf("%w: order %s has no lines", ErrValidation, po.Number)
			}
			if !po.Total.IsPositive() {
				return fmt.Errorf("%w: order %s total must be positive", ErrValidation, po.Number)
			}
			return nil
		})
}

// Send marks an approved order as sent to its supplier.
func (s *Service) Send(ctx context.Context, orderID, actorID int64) error {
	return s.transition(ctx, orderID, actorID, StatusSentToSupplier, "send", "", nil)
}

// Cancel terminates an order. A reason is mandatory.
func (s *Service) Cancel(ctx context.Context, orderID, actorID int64, reason string) error {
	if reason == "" {
		return ErrReasonRequired
	}
	return s.transition(ctx, orderID, actorID, StatusCancelled, "cancel", reason, nil)
}

// Close archives a fully received order.
func (s *Service) Close(ctx context.Context, orderID, actorID int64) error {
	return s.transition(ctx, orderID, actorID, StatusClosed, "close", "", nil)
}

// transition applies one guarded status change with its ledger record.
func (s *Service) transition(ctx context.Context, orderID, actorID int64, target Status,
	action, reason string, guard func(PurchaseOrder) error) error {
	actor := s.directory.ResolveActor(ctx, actorID)
	now := s.now()

	var from Status
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return ErrOrderFrozen
		}
		if !CanTransition(po.Status, target) {
			return &TransitionError{From: po.Status, To: target}
		}
		if guard != nil {
			if err := guard(po); err != nil {
				return err
			}
		}
		if err := tx.UpdateStatus(ctx, po.ID, target); err != nil {
			return err
		}
		from, number = po.Status, po.Number
		return tx.AppendAudit(ctx, s.auditRecord(po, actor, action, reason,
			audit.StatusDiff{Old: string(po.Status), New: string(target)}, now))
	})
	if err != nil {
		return err
	}
	s.events.OrderTransitioned(ctx, TransitionEvent{
		OrderID: orderID, Number: number, Action: action, From: from, To: target,
		ActorID: actor.ID, Reason: reason, At: now,
	})
	return nil
}

// Get returns an order with its lines.
func (s *Service) Get(ctx context.Context, orderID int64) (PurchaseOrder, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// List returns orders matching the filters.
func (s *Service) List(ctx context.Context, limit, offset int, filters ListFilters) ([]PurchaseOrder, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset, filters)
}

// NextStates returns the valid transitions out of the order's current status.
func (s *Service) NextStates(ctx context.Context, orderID int64) (Status, []Status, error) {
	po, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return "", nil, err
	}
	return po.Status, ValidTransitions(po.Status), nil
}

func (s *Service) auditRecord(po PurchaseOrder, actor shared.Actor, action, reason string,
	diff audit.Diff, now time.Time) audit.Record {
	meta := map[string]any{"number": po.Number}
	if actor.Fallback {
		meta["actor_fallback"] = true
	}
	return audit.Record{
		Entity:    "purchase_order",
		EntityID:  fmt.Sprintf("%d", po.ID),
		Action:    action,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Diff:      diff,
		Reason:    reason,
		Meta:      meta,
		At:        now,
	}
}

func buildLines(inputs []LineInput) ([]Line, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	seen := make(map[int64]struct{}, len(inputs))
	lines := make([]Line, 0, len(inputs))
	for _, in := range inputs {
		if in.ProductID <= 0 {
			return nil, fmt.Errorf("%w: line product id required", ErrValidation)
		}
		if in.Qty <= 0 {
			return nil, fmt.Errorf("%w: line quantity must be positive", ErrValidation)
		}
		if in.UnitCost.IsNegative() {
			return nil, fmt.Errorf("%w: line unit cost must not be negative", ErrValidation)
		}
		if _, dup := seen[in.ProductID]; dup {
			return nil, fmt.Errorf("%w: duplicate line for product %d", ErrValidation, in.ProductID)
		}
		seen[in.ProductID] = struct{}{}
		lines = append(lines, Line{ProductID: in.ProductID, Qty: in.Qty, UnitCost: in.UnitCost})
	}
	return lines, nil
}

func lineSnapshots(lines []Line) []audit.LineSnapshot {
	out := make([]audit.LineSnapshot, len(lines))
	for i, line := range lines {
		out[i] = audit.LineSnapshot{ProductID: line.ProductID, Qty: line.Qty, UnitCost: line.UnitCost.String()}
	}
	return out
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
