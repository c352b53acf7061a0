package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian/internal/approval"
	"github.com/meridian-erp/meridian/internal/audit"
	"github.com/meridian-erp/meridian/internal/shared"
)

// StockPort is the stock collaborator. Implementations must be idempotent per
// ref so retries after a failed commit cannot double-apply, and RevertDelta
// must take a ref off file again so a retry can re-apply it.
type StockPort interface {
	ApplyDelta(ctx context.Context, productID, qty int64, ref string) error
	RevertDelta(ctx context.Context, productID int64, ref string) error
}

// ActorResolver turns an actor id into a named actor for ledger records.
type ActorResolver interface {
	ResolveActor(ctx context.Context, actorID int64) shared.Actor
}

// IdempotencyPort guards receipt replay, satisfied by shared.IdempotencyStore.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Workflow drives approval decisions and goods receipts. It owns the policy
// check, the transactional write of status plus lines plus ledger record, and
// the hand-off of stock deltas to the stock collaborator.
type Workflow struct {
	repo        WorkflowRepositoryPort
	policy      *approval.Store
	stock       StockPort
	directory   ActorResolver
	idempotency IdempotencyPort
	events      Sink
	logger      *slog.Logger
	now         func() time.Time

	rejectTo Status
}

// WorkflowRepositoryPort describes repository operations used by Workflow.
type WorkflowRepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
}

// WorkflowOption tweaks construction.
type WorkflowOption func(*Workflow)

// WithRejectTarget sets the status a rejected order lands in. The default
// returns the order to draft so the author can amend and resubmit.
func WithRejectTarget(s Status) WorkflowOption {
	return func(w *Workflow) {
		if s == StatusDraft || s == StatusCancelled {
			w.rejectTo = s
		}
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// NewWorkflow constructs Workflow.
func NewWorkflow(repo WorkflowRepositoryPort, policy *approval.Store, stock StockPort,
	directory ActorResolver, idem IdempotencyPort, events Sink,
	logger *slog.Logger, opts ...WorkflowOption) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = NopSink{}
	}
	w := &Workflow{
		repo:        repo,
		policy:      policy,
		stock:       stock,
		directory:   directory,
		idempotency: idem,
		events:      events,
		logger:      logger,
		now:         time.Now,
		rejectTo:    StatusDraft,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// DecisionResult reports the outcome for one order of a bulk decision.
type DecisionResult struct {
	OrderID  int64
	Number   string
	Status   Status
	Recorded bool
	Err      error
}

// Approve records an approval by actorID on every order in the batch. The
// whole batch is policy-checked first against the rule governing its
// highest-value member, so a bulk call is never more permissive than
// approving the same orders one at a time. Individual orders can still fail
// during the write; each gets its own result entry.
func (w *Workflow) Approve(ctx context.Context, orderIDs []int64, actorID int64, reason string) ([]DecisionResult, error) {
	return w.decide(ctx, orderIDs, actorID, reason, "approve")
}

// Reject records a rejection. A reason is mandatory; rejected orders return
// to the configured reject target.
func (w *Workflow) Reject(ctx context.Context, orderIDs []int64, actorID int64, reason string) ([]DecisionResult, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	return w.decide(ctx, orderIDs, actorID, reason, "reject")
}

func (w *Workflow) decide(ctx context.Context, orderIDs []int64, actorID int64, reason, verdict string) ([]DecisionResult, error) {
	if len(orderIDs) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrValidation)
	}
	actor := w.directory.ResolveActor(ctx, actorID)
	now := w.now()

	orders := make([]PurchaseOrder, 0, len(orderIDs))
	refs := make([]approval.OrderRef, 0, len(orderIDs))
	for _, id := range orderIDs {
		po, err := w.repo.GetOrder(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", id, err)
		}
		orders = append(orders, po)
		refs = append(refs, approval.OrderRef{
			ID:        po.ID,
			Number:    po.Number,
			Total:     po.Total,
			Status:    string(po.Status),
			Terminal:  po.Status.Terminal(),
			CreatedAt: po.CreatedAt,
		})
	}

	ruleset := w.policy.Current()
	check := ruleset.Validate(refs, actor.Role, now)
	for _, esc := range check.Escalations {
		w.logger.Warn("approval deadline exceeded",
			"order", esc.Number, "age", esc.Age.String(), "deadline", esc.Deadline.String())
	}
	if !check.Valid {
		return nil, &PolicyViolationError{Violations: check.Violations}
	}

	results := make([]DecisionResult, len(orders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, po := range orders {
		g.Go(func() error {
			results[i] = w.applyDecision(gctx, po, ruleset, actor, verdict, reason, now)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].OrderID < results[j].OrderID })
	return results, nil
}

// applyDecision records one actor's verdict on one order and transitions it
// once the governing threshold's approver count is met. Errors land in the
// result instead of aborting sibling orders.
func (w *Workflow) applyDecision(ctx context.Context, po PurchaseOrder, ruleset *approval.Ruleset,
	actor shared.Actor, verdict, reason string, now time.Time) DecisionResult {
	result := DecisionResult{OrderID: po.ID, Number: po.Number, Status: po.Status}

	target := StatusApproved
	if verdict == "reject" {
		target = w.rejectTo
	}

	err := w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetOrderForUpdate(ctx, po.ID)
		if err != nil {
			return err
		}
		if current.Status != StatusPendingApproval {
			return &TransitionError{From: current.Status, To: target}
		}
		if err := tx.InsertDecision(ctx, Decision{
			OrderID: po.ID, ActorID: actor.ID, Verdict: verdict, Reason: reason, DecidedAt: now,
		}); err != nil {
			return err
		}
		result.Recorded = true

		if verdict == "approve" {
			required := 1
			if threshold, ok := ruleset.Governing(current.Total); ok {
				required = threshold.RequiredApprovers
			}
			count, err := tx.CountApprovals(ctx, po.ID)
			if err != nil {
				return err
			}
			if count < required {
				w.logger.Info("approval recorded, more approvers required",
					"order", po.Number, "have", count, "need", required)
				return nil
			}
		}
		if !CanTransition(current.Status, target) {
			return &TransitionError{From: current.Status, To: target}
		}
		if err := tx.UpdateStatus(ctx, po.ID, target); err != nil {
			return err
		}
		result.Status = target
		return tx.AppendAudit(ctx, w.auditRecord(po, actor, verdict, reason, audit.StatusDiff{
			Old: string(current.Status), New: string(target),
		}, now))
	})
	if err != nil {
		result.Err = err
		return result
	}
	if result.Status != po.Status {
		w.events.OrderTransitioned(ctx, TransitionEvent{
			OrderID: po.ID, Number: po.Number, Action: verdict, From: po.Status, To: result.Status,
			ActorID: actor.ID, Reason: reason, At: now,
		})
	}
	return result
}

func (w *Workflow) auditRecord(po PurchaseOrder, actor shared.Actor, action, reason string,
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

// ReceiveInput describes one goods receipt against an order. Ref identifies
// the receipt for idempotence; when empty a deterministic ref is derived from
// the payload, so the same physical receipt always maps to the same ref.
type ReceiveInput struct {
	OrderID int64
	Ref     string
	Lines   []ReceiptLine
	ActorID int64
	Notes   string
}

// ReceiveResult reports what a receipt changed.
type ReceiveResult struct {
	Order     PurchaseOrder
	Entries   []ReceivingEntry
	Status    Status
	Duplicate bool
}

// Receive reconciles receipt quantities against the order, persists line
// progress, the resulting status and the ledger record in one transaction,
// and posts stock deltas. Replaying a receipt with the same ref is a no-op.
func (w *Workflow) Receive(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if len(input.Lines) == 0 {
		return ReceiveResult{}, fmt.Errorf("%w: receipt has no lines", ErrValidation)
	}
	actor := w.directory.ResolveActor(ctx, input.ActorID)
	now := w.now()
	ref := input.Ref
	if ref == "" {
		ref = deriveReceiptRef(input)
	}

	inserted := false
	if w.idempotency != nil {
		err := w.idempotency.CheckAndInsert(ctx, ref, "purchase.receive")
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			po, err := w.repo.GetOrder(ctx, input.OrderID)
			if err != nil {
				return ReceiveResult{}, err
			}
			w.logger.Info("receipt already processed", "order", po.Number, "ref", ref)
			return ReceiveResult{Order: po, Status: po.Status, Duplicate: true}, nil
		}
		if err != nil {
			return ReceiveResult{}, err
		}
		inserted = true
	}

	var result ReceiveResult
	var applied []Delta
	err := w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if po.Status.Terminal() {
			return ErrOrderFrozen
		}
		if !CanReceive(po.Status) {
			return &TransitionError{From: po.Status, To: StatusPartiallyReceived}
		}

		rec := Reconcile(po, input.Lines, ref, now)
		if len(rec.Violations) > 0 {
			return &ReceiptViolationError{Violations: rec.Violations}
		}
		if !rec.Changed {
			result = ReceiveResult{Order: po, Status: po.Status}
			return nil
		}

		for _, line := range rec.Lines {
			if err := tx.UpdateLineReceived(ctx, line.ID, line.Received); err != nil {
				return err
			}
		}
		for _, entry := range rec.Entries {
			if err := tx.InsertReceivingEntry(ctx, entry); err != nil {
				return err
			}
		}
		if rec.Status != po.Status {
			if !CanTransition(po.Status, rec.Status) {
				return &TransitionError{From: po.Status, To: rec.Status}
			}
			if err := tx.UpdateStatus(ctx, po.ID, rec.Status); err != nil {
				return err
			}
			if rec.Status == StatusFullyReceived {
				if err := tx.SetReceivedAt(ctx, po.ID, now); err != nil {
					return err
				}
			}
		}

		diff := audit.ReceiptDiff{Ref: ref}
		for _, entry := range rec.Entries {
			diff.Entries = append(diff.Entries, audit.ReceiptChange{
				LineID:    entry.LineID,
				ProductID: entry.ProductID,
				Previous:  entry.Previous,
				Received:  entry.Received,
				Total:     entry.Total,
				Condition: string(entry.Condition),
			})
		}
		if err := tx.AppendAudit(ctx, w.auditRecord(po, actor, "receive", input.Notes, diff, now)); err != nil {
			return err
		}

		for _, delta := range rec.Deltas {
			if err := w.stock.ApplyDelta(ctx, delta.ProductID, delta.Qty, delta.Ref); err != nil {
				return fmt.Errorf("stock delta for product %d: %w", delta.ProductID, err)
			}
			applied = append(applied, delta)
		}

		updated := po
		updated.Lines = rec.Lines
		updated.Status = rec.Status
		result = ReceiveResult{Order: updated, Entries: rec.Entries, Status: rec.Status}
		return nil
	})
	if err != nil {
		w.compensate(ctx, applied)
		if inserted {
			_ = w.idempotency.Delete(ctx, ref)
		}
		return ReceiveResult{}, err
	}
	if len(result.Entries) > 0 {
		w.events.OrderReceived(ctx, ReceiptEvent{
			OrderID: result.Order.ID, Number: result.Order.Number, Ref: ref,
			Status: result.Status, Entries: result.Entries, At: now,
		})
	}
	return result, nil
}

// compensate takes back stock deltas that committed outside a failed order
// transaction. Reverting removes the movement ref from file, so a retried
// receipt re-applies the same refs instead of hitting the duplicate guard.
func (w *Workflow) compensate(ctx context.Context, applied []Delta) {
	for _, delta := range applied {
		if err := w.stock.RevertDelta(ctx, delta.ProductID, delta.Ref); err != nil {
			w.logger.Error("stock compensation failed, manual correction required",
				"product_id", delta.ProductID, "qty", delta.Qty, "ref", delta.Ref, "error", err)
		}
	}
}

func deriveReceiptRef(input ReceiveInput) string {
	payload := fmt.Sprintf("RCV:%d", input.OrderID)
	for _, line := range input.Lines {
		payload += fmt.Sprintf(":%d=%d/%s", line.LineID, line.Qty, line.Condition)
	}
	return uuid.NewSHA1(uuid.Nil, []byte(payload)).String()
}
