package purchase

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func orderWithLines(status Status, lines ...Line) PurchaseOrder {
	po := PurchaseOrder{ID: 1, Number: "PO-1", Status: status, Lines: lines}
	po.RecomputeTotals()
	return po
}

func line(id, productID, qty, received int64) Line {
	return Line{ID: id, OrderID: 1, ProductID: productID, Qty: qty,
		UnitCost: decimal.NewFromInt(100), Received: received}
}

func TestReconcileFullReceipt(t *testing.T) {
	po := orderWithLines(StatusSentToSupplier, line(10, 7, 5, 0))

	res := Reconcile(po, []ReceiptLine{{LineID: 10, Qty: 5}}, "R1", time.Now())

	require.Empty(t, res.Violations)
	require.True(t, res.Changed)
	require.Equal(t, StatusFullyReceived, res.Status)
	require.Len(t, res.Deltas, 1)
	require.Equal(t, int64(7), res.Deltas[0].ProductID)
	require.Equal(t, int64(5), res.Deltas[0].Qty)
	require.Equal(t, int64(5), res.Lines[0].Received)
}

func TestReconcilePartialThenComplete(t *testing.T) {
	po := orderWithLines(StatusSentToSupplier, line(10, 7, 10, 0))

	first := Reconcile(po, []ReceiptLine{{LineID: 10, Qty: 4}}, "R1", time.Now())
	require.Empty(t, first.Violations)
	require.Equal(t, StatusPartiallyReceived, first.Status)

	po.Lines = first.Lines
	po.Status = first.Status
	second := Reconcile(po, []ReceiptLine{{LineID: 10, Qty: 6}}, "R2", time.Now())
	require.Empty(t, second.Violations)
	require.Equal(t, StatusFullyReceived, second.Status)
	require.Equal(t, int64(10), second.Lines[0].Received)
}

func TestReconcileAnySplitSummingToOrderedCompletes(t *testing.T) {
	splits := [][]int64{{10}, {1, 9}, {3, 3, 4}, {2, 2, 2, 2, 2}, {9, 0, 1}}
	for _, split := range splits {
		po := orderWithLines(StatusSentToSupplier, line(10, 7, 10, 0))
		for i, qty := range split {
			ref := "R" + string(rune('0'+i))
			res := Reconcile(po, []ReceiptLine{{LineID: 10, Qty: qty}}, ref, time.Now())
			require.Emptyf(t, res.Violations, "split %v step %d", split, i)
			if res.Changed {
				po.Lines = res.Lines
				po.Status = res.Status
			}
		}
		require.Equalf(t, StatusFullyReceived, po.Status, "split %v", split)
		require.Equal(t, int64(10), po.Lines[0].Received)
	}
}

func TestReconcileOverReceiptRejectedWithZeroDeltas(t *testing.T) {
	// ordered=10, previously received=4: 8 more would total 12.
	po := orderWithLines(StatusPartiallyReceived, line(10, 7, 10, 4))

	res := Reconcile(po, []ReceiptLine{{LineID: 10, Qty: 8}}, "R1", time.Now())
	require.Len(t, res.Violations, 1)
	require.Equal(t, "would exceed ordered quantity", res.Violations[0].Reason)
	require.Empty(t, res.Deltas)
	require.Empty(t, res.Entries)
	require.Equal(t, StatusPartiallyReceived, res.Status)

	// 6 more is exactly the remainder.
	res = Reconcile(po, []ReceiptLine{{LineID: 10, Qty: 6}}, "R2", time.Now())
	require.Empty(t, res.Violations)
	require.Equal(t, StatusFullyReceived, res.Status)
	require.Equal(t, int64(10), res.Lines[0].Received)
}

func TestReconcileNegativeQuantityRejected(t *testing.T) {
	po := orderWithLines(StatusSentToSupplier, line(10, 7, 5, 0))

	res := Reconcile(po, []ReceiptLine{{LineID: 10, Qty: -1}}, "R1", time.Now())
	require.Len(t, res.Violations, 1)
	require.Equal(t, "received quantity must not be negative", res.Violations[0].Reason)
	require.Empty(t, res.Deltas)
}

func TestReconcileCollectsAllViolationsInOnePass(t *testing.T) {
	po := orderWithLines(StatusSentToSupplier, line(10, 7, 5, 0), line(11, 8, 3, 0))

	res := Reconcile(po, []ReceiptLine{
		{LineID: 10, Qty: -2},
		{LineID: 11, Qty: 4},
		{LineID: 99, Qty: 1},
	}, "R1", time.Now())

	require.Len(t, res.Violations, 3)
	require.Empty(t, res.Deltas)
	require.Empty(t, res.Entries)
}

func TestReconcileViolationDiscardsValidSiblingLines(t *testing.T) {
	po := orderWithLines(StatusSentToSupplier, line(10, 7, 5, 0), line(11, 8, 3, 0))

	res := Reconcile(po, []ReceiptLine{
		{LineID: 10, Qty: 5},
		{LineID: 11, Qty: 4}, // exceeds ordered 3
	}, "R1", time.Now())

	require.Len(t, res.Violations, 1)
	require.Empty(t, res.Deltas, "a violating receipt must have zero side effects")
	require.False(t, res.Changed)
}

func TestReconcileZeroQuantitiesAreNoOp(t *testing.T) {
	po := orderWithLines(StatusPartiallyReceived, line(10, 7, 10, 4))

	res := Reconcile(po, []ReceiptLine{{LineID: 10, Qty: 0}}, "R1", time.Now())
	require.Empty(t, res.Violations)
	require.False(t, res.Changed)
	require.Empty(t, res.Deltas)
	require.Equal(t, StatusPartiallyReceived, res.Status)
}

func TestReconcileAggregatesDeltasPerProduct(t *testing.T) {
	po := orderWithLines(StatusSentToSupplier,
		line(10, 7, 5, 0), line(11, 7, 5, 0), line(12, 8, 2, 0))

	res := Reconcile(po, []ReceiptLine{
		{LineID: 10, Qty: 2},
		{LineID: 11, Qty: 3},
		{LineID: 12, Qty: 1},
	}, "R1", time.Now())

	require.Empty(t, res.Violations)
	require.Len(t, res.Deltas, 2)
	require.Equal(t, int64(7), res.Deltas[0].ProductID)
	require.Equal(t, int64(5), res.Deltas[0].Qty)
	require.Equal(t, int64(8), res.Deltas[1].ProductID)
	require.Equal(t, int64(1), res.Deltas[1].Qty)
	require.Equal(t, StatusPartiallyReceived, res.Status)
}

func TestReconcileDefaultsConditionToGood(t *testing.T) {
	po := orderWithLines(StatusSentToSupplier, line(10, 7, 5, 0))

	res := Reconcile(po, []ReceiptLine{{LineID: 10, Qty: 2}}, "R1", time.Now())
	require.Len(t, res.Entries, 1)
	require.Equal(t, ConditionGood, res.Entries[0].Condition)

	res = Reconcile(po, []ReceiptLine{{LineID: 10, Qty: 2, Condition: ConditionDamaged}}, "R2", time.Now())
	require.Equal(t, ConditionDamaged, res.Entries[0].Condition)
}

func TestRecomputeTotalsInvariant(t *testing.T) {
	po := PurchaseOrder{
		Tax: decimal.NewFromInt(120),
		Lines: []Line{
			{Qty: 3, UnitCost: decimal.NewFromInt(100)},
			{Qty: 2, UnitCost: decimal.NewFromFloat(49.5)},
		},
	}
	po.RecomputeTotals()

	require.True(t, po.Subtotal.Equal(decimal.NewFromInt(399)))
	require.True(t, po.Total.Equal(po.Subtotal.Add(po.Tax)))
	require.True(t, po.Lines[0].LineTotal.Equal(decimal.NewFromInt(300)))
}
