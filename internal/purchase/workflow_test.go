package purchase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/approval"
	"github.com/meridian-erp/meridian/internal/shared"
)

// stubStock applies deltas with the same ref semantics as the inventory
// service: a ref already on file is a silent no-op, and reverting takes the
// ref off file again.
type stubStock struct {
	mu        sync.Mutex
	applied   []Delta
	movements map[string]Delta
	levels    map[int64]int64
	failOn    int64
}

func newStubStock() *stubStock {
	return &stubStock{
		movements: make(map[string]Delta),
		levels:    make(map[int64]int64),
	}
}

func (s *stubStock) ApplyDelta(ctx context.Context, productID, qty int64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != 0 && productID == s.failOn {
		return errors.New("stock backend unavailable")
	}
	if _, ok := s.movements[ref]; ok {
		return nil
	}
	d := Delta{ProductID: productID, Qty: qty, Ref: ref}
	s.movements[ref] = d
	s.applied = append(s.applied, d)
	s.levels[productID] += qty
	return nil
}

func (s *stubStock) RevertDelta(ctx context.Context, productID int64, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.movements[ref]
	if !ok {
		return nil
	}
	delete(s.movements, ref)
	s.levels[d.ProductID] -= d.Qty
	return nil
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]struct{})}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func testRuleset(requiredHigh int) *approval.Ruleset {
	return approval.NewRuleset([]approval.Threshold{
		{
			ID: 1, Name: "standard", Min: decimal.Zero,
			Max:   decimal.NewNullDecimal(decimal.NewFromInt(50000)),
			Roles: []string{"manager", "admin"}, RequiredApprovers: 1, Active: true,
		},
		{
			ID: 2, Name: "high-value", Min: decimal.NewFromInt(50000),
			Roles: []string{"admin"}, RequiredApprovers: requiredHigh, Active: true,
		},
	}, nil)
}

type workflowFixture struct {
	repo     *memoryOrderRepo
	stock    *stubStock
	idem     *memoryIdempotency
	sink     *captureSink
	workflow *Workflow
	now      time.Time
}

func newWorkflowFixture(t *testing.T, rs *approval.Ruleset, opts ...WorkflowOption) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		repo:  newMemoryOrderRepo(),
		stock: newStubStock(),
		idem:  newMemoryIdempotency(),
		sink:  &captureSink{},
		now:   time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC),
	}
	store := approval.NewStore(nil, nil, rs)
	opts = append([]WorkflowOption{WithClock(func() time.Time { return f.now })}, opts...)
	f.workflow = NewWorkflow(f.repo, store, f.stock, newStubDirectory(), f.idem, f.sink, nil, opts...)
	return f
}

func (f *workflowFixture) pendingOrder(total string, lines ...Line) PurchaseOrder {
	if len(lines) == 0 {
		lines = []Line{{ProductID: 7, Qty: 1, UnitCost: money(total)}}
	}
	return f.repo.seed(PurchaseOrder{
		SupplierID: 1,
		Status:     StatusPendingApproval,
		Lines:      lines,
		CreatedAt:  f.now.Add(-2 * time.Hour),
	})
}

func TestApproveWithinBand(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	po := f.pendingOrder("10000")

	results, err := f.workflow.Approve(context.Background(), []int64{po.ID}, 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, StatusApproved, results[0].Status)
	require.True(t, results[0].Recorded)

	got, _ := f.repo.GetOrder(context.Background(), po.ID)
	require.Equal(t, StatusApproved, got.Status)
	require.Len(t, f.repo.audits, 1)
	require.Equal(t, "approve", f.repo.audits[0].Action)
	require.Len(t, f.sink.transitions, 1)
	require.Equal(t, "approve", f.sink.transitions[0].Action)
}

func TestApproveHighValueNeedsAdmin(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	po := f.pendingOrder("60000")
	ctx := context.Background()

	_, err := f.workflow.Approve(ctx, []int64{po.ID}, 10, "")
	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)
	require.NotEmpty(t, policy.Violations)
	require.Contains(t, policy.Violations[0], "manager")

	got, _ := f.repo.GetOrder(ctx, po.ID)
	require.Equal(t, StatusPendingApproval, got.Status, "denied decisions must not mutate")
	require.Empty(t, f.repo.audits)

	results, err := f.workflow.Approve(ctx, []int64{po.ID}, 20, "")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, results[0].Status)
}

func TestBulkGovernedByHighestValue(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	small := f.pendingOrder("10000")
	big := f.pendingOrder("60000")
	ctx := context.Background()

	_, err := f.workflow.Approve(ctx, []int64{small.ID, big.ID}, 10, "")
	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)

	// The affordable order must not slip through alongside the denied one.
	gotSmall, _ := f.repo.GetOrder(ctx, small.ID)
	require.Equal(t, StatusPendingApproval, gotSmall.Status)

	results, err := f.workflow.Approve(ctx, []int64{small.ID, big.ID}, 20, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.NoError(t, res.Err)
		require.Equal(t, StatusApproved, res.Status)
	}
}

func TestBulkIsBestEffortPerOrder(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	pending := f.pendingOrder("10000")
	draft := f.repo.seed(PurchaseOrder{
		SupplierID: 1, Status: StatusDraft,
		Lines:     []Line{{ProductID: 7, Qty: 1, UnitCost: money("5000")}},
		CreatedAt: f.now.Add(-time.Hour),
	})

	results, err := f.workflow.Approve(context.Background(), []int64{pending.ID, draft.ID}, 20, "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[int64]DecisionResult{}
	for _, res := range results {
		byID[res.OrderID] = res
	}
	require.NoError(t, byID[pending.ID].Err)
	require.Equal(t, StatusApproved, byID[pending.ID].Status)
	require.ErrorIs(t, byID[draft.ID].Err, ErrTransitionDenied)
}

func TestApproveBatchWithTerminalOrderDenied(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	pending := f.pendingOrder("10000")
	cancelled := f.repo.seed(PurchaseOrder{
		SupplierID: 1, Status: StatusCancelled, Number: "PO-9",
		Lines: []Line{{ProductID: 7, Qty: 1, UnitCost: money("100")}},
	})

	_, err := f.workflow.Approve(context.Background(), []int64{pending.ID, cancelled.ID}, 20, "")
	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)
	require.Contains(t, strings.Join(policy.Violations, "; "), "PO-9")
}

func TestTwoApproverThreshold(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(2))
	po := f.pendingOrder("60000")
	ctx := context.Background()

	results, err := f.workflow.Approve(ctx, []int64{po.ID}, 20, "")
	require.NoError(t, err)
	require.True(t, results[0].Recorded)
	require.Equal(t, StatusPendingApproval, results[0].Status, "one of two approvals keeps the order pending")

	// The same approver again does not count twice.
	results, err = f.workflow.Approve(ctx, []int64{po.ID}, 20, "")
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, results[0].Status)

	results, err = f.workflow.Approve(ctx, []int64{po.ID}, 21, "")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, results[0].Status)
}

func TestRejectNeedsReasonAndReturnsToDraft(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	po := f.pendingOrder("10000")
	ctx := context.Background()

	_, err := f.workflow.Reject(ctx, []int64{po.ID}, 10, "")
	require.ErrorIs(t, err, ErrReasonRequired)

	results, err := f.workflow.Reject(ctx, []int64{po.ID}, 10, "wrong supplier")
	require.NoError(t, err)
	require.Equal(t, StatusDraft, results[0].Status)

	require.Len(t, f.repo.audits, 1)
	require.Equal(t, "reject", f.repo.audits[0].Action)
	require.Equal(t, "wrong supplier", f.repo.audits[0].Reason)
}

func TestRejectTargetConfigurable(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1), WithRejectTarget(StatusCancelled))
	po := f.pendingOrder("10000")

	results, err := f.workflow.Reject(context.Background(), []int64{po.ID}, 10, "duplicate order")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, results[0].Status)
}

func TestReceivePartialThenComplete(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	po := f.repo.seed(PurchaseOrder{
		SupplierID: 1, Status: StatusSentToSupplier,
		Lines: []Line{{ProductID: 7, Qty: 10, UnitCost: money("10")}},
	})
	ctx := context.Background()
	lineID := mustLineID(t, f.repo, po.ID, 7)

	result, err := f.workflow.Receive(ctx, ReceiveInput{
		OrderID: po.ID, Ref: "R1", ActorID: 10,
		Lines: []ReceiptLine{{LineID: lineID, Qty: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, result.Status)
	require.EqualValues(t, 4, f.stock.levels[7])

	result, err = f.workflow.Receive(ctx, ReceiveInput{
		OrderID: po.ID, Ref: "R2", ActorID: 10,
		Lines: []ReceiptLine{{LineID: lineID, Qty: 6}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusFullyReceived, result.Status)
	require.EqualValues(t, 10, f.stock.levels[7])

	got, _ := f.repo.GetOrder(ctx, po.ID)
	require.Equal(t, StatusFullyReceived, got.Status)
	require.Equal(t, f.now, got.ReceivedAt)
	require.Len(t, f.repo.audits, 2)
	require.Len(t, f.sink.receipts, 2)
}

func TestReceiveOverReceiptRejectedWhole(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	po := f.repo.seed(PurchaseOrder{
		SupplierID: 1, Status: StatusPartiallyReceived,
		Lines: []Line{
			{ProductID: 7, Qty: 10, UnitCost: money("10"), Received: 4},
			{ProductID: 8, Qty: 3, UnitCost: money("5")},
		},
	})
	ctx := context.Background()
	overLine := mustLineID(t, f.repo, po.ID, 7)
	okLine := mustLineID(t, f.repo, po.ID, 8)

	_, err := f.workflow.Receive(ctx, ReceiveInput{
		OrderID: po.ID, Ref: "R1", ActorID: 10,
		Lines: []ReceiptLine{
			{LineID: overLine, Qty: 8},
			{LineID: okLine, Qty: 1},
		},
	})
	var violation *ReceiptViolationError
	require.ErrorAs(t, err, &violation)
	require.Len(t, violation.Violations, 1)
	require.Equal(t, overLine, violation.Violations[0].LineID)

	// Nothing moved, including the valid sibling line.
	got, _ := f.repo.GetOrder(ctx, po.ID)
	require.Equal(t, StatusPartiallyReceived, got.Status)
	require.Empty(t, f.stock.applied)
	require.Empty(t, f.repo.audits)

	result, err := f.workflow.Receive(ctx, ReceiveInput{
		OrderID: po.ID, Ref: "R1", ActorID: 10,
		Lines: []ReceiptLine{{LineID: overLine, Qty: 6}, {LineID: okLine, Qty: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusFullyReceived, result.Status)
}

func TestReceiveSameRefIsNoOp(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	po := f.repo.seed(PurchaseOrder{
		SupplierID: 1, Status: StatusSentToSupplier,
		Lines: []Line{{ProductID: 7, Qty: 10, UnitCost: money("10")}},
	})
	ctx := context.Background()
	lineID := mustLineID(t, f.repo, po.ID, 7)
	input := ReceiveInput{
		OrderID: po.ID, Ref: "R1", ActorID: 10,
		Lines: []ReceiptLine{{LineID: lineID, Qty: 4}},
	}

	first, err := f.workflow.Receive(ctx, input)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := f.workflow.Receive(ctx, input)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.EqualValues(t, 4, f.stock.levels[7], "replay must not move stock")
	require.Len(t, f.repo.audits, 1)
}

func TestReceiveDerivedRefDetectsReplay(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	po := f.repo.seed(PurchaseOrder{
		SupplierID: 1, Status: StatusSentToSupplier,
		Lines: []Line{{ProductID: 7, Qty: 10, UnitCost: money("10")}},
	})
	ctx := context.Background()
	lineID := mustLineID(t, f.repo, po.ID, 7)
	input := ReceiveInput{
		OrderID: po.ID, ActorID: 10,
		Lines: []ReceiptLine{{LineID: lineID, Qty: 4}},
	}

	_, err := f.workflow.Receive(ctx, input)
	require.NoError(t, err)
	second, err := f.workflow.Receive(ctx, input)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.EqualValues(t, 4, f.stock.levels[7])
}

func TestReceiveOnUnreceivableStatus(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	draft := f.repo.seed(PurchaseOrder{
		SupplierID: 1, Status: StatusDraft,
		Lines: []Line{{ProductID: 7, Qty: 10, UnitCost: money("10")}},
	})
	closed := f.repo.seed(PurchaseOrder{SupplierID: 1, Status: StatusClosed})
	ctx := context.Background()

	_, err := f.workflow.Receive(ctx, ReceiveInput{
		OrderID: draft.ID, Ref: "R1", ActorID: 10,
		Lines: []ReceiptLine{{LineID: 1, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrTransitionDenied)

	_, err = f.workflow.Receive(ctx, ReceiveInput{
		OrderID: closed.ID, Ref: "R2", ActorID: 10,
		Lines: []ReceiptLine{{LineID: 1, Qty: 1}},
	})
	require.ErrorIs(t, err, ErrOrderFrozen)
}

func TestReceiveCompensatesStockOnCommitFailure(t *testing.T) {
	f := newWorkflowFixture(t, testRuleset(1))
	po := f.repo.seed(PurchaseOrder{
		SupplierID: 1, Status: StatusSentToSupplier,
		Lines: []Line{{ProductID: 7, Qty: 10, UnitCost: money("10")}},
	})
	lineID := mustLineID(t, f.repo, po.ID, 7)
	f.repo.commitErr = errors.New("connection reset during commit")
	ctx := context.Background()

	_, err := f.workflow.Receive(ctx, ReceiveInput{
		OrderID: po.ID, Ref: "R1", ActorID: 10,
		Lines: []ReceiptLine{{LineID: lineID, Qty: 4}},
	})
	require.Error(t, err)
	require.EqualValues(t, 0, f.stock.levels[7], "delta must be reverted")
	require.Empty(t, f.stock.movements, "reverted refs must come off file")
	after, err := f.repo.GetOrder(ctx, po.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, after.Lines[0].Received, "failed receipt must not persist")

	// The idempotency key is released and the refs are off file, so retrying
	// the same receipt re-applies the deltas instead of silently skipping them.
	f.repo.commitErr = nil
	result, err := f.workflow.Receive(ctx, ReceiveInput{
		OrderID: po.ID, Ref: "R1", ActorID: 10,
		Lines: []ReceiptLine{{LineID: lineID, Qty: 4}},
	})
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	after, err = f.repo.GetOrder(ctx, po.ID)
	require.NoError(t, err)
	require.EqualValues(t, 4, after.Lines[0].Received)
	require.EqualValues(t, after.Lines[0].Received, f.stock.levels[7],
		"stock level must match the order's received quantity")
}

func mustLineID(t *testing.T, repo *memoryOrderRepo, orderID, productID int64) int64 {
	t.Helper()
	po, err := repo.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	for _, line := range po.Lines {
		if line.ProductID == productID {
			return line.ID
		}
	}
	t.Fatalf("no line for product %d", productID)
	return 0
}
