package purchase

import (
	"fmt"
	"sort"
	"time"
)

// Reconciliation is the computed outcome of applying a goods receipt to an
// order. Nothing is persisted here; the reconciler separates "what changed"
// from "how it is persisted".
type Reconciliation struct {
	Entries    []ReceivingEntry
	Lines      []Line
	Deltas     []Delta
	Status     Status
	Changed    bool
	Violations []QuantityViolation
}

// Reconcile computes per-line and order-level state for a set of receipt
// quantities. All violations are collected in one pass; a caller sees every
// problem at once. A receipt whose quantities are all zero leaves the status
// unchanged and produces no deltas.
func Reconcile(order PurchaseOrder, receipts []ReceiptLine, ref string, at time.Time) Reconciliation {
	result := Reconciliation{Status: order.Status}

	byID := make(map[int64]int, len(order.Lines))
	for i, line := range order.Lines {
		byID[line.ID] = i
	}

	updated := make([]Line, len(order.Lines))
	copy(updated, order.Lines)

	deltaByProduct := make(map[int64]int64)

	for _, receipt := range receipts {
		idx, ok := byID[receipt.LineID]
		if !ok {
			result.Violations = append(result.Violations, QuantityViolation{
				LineID: receipt.LineID,
				Asked:  receipt.Qty,
				Reason: "no such line on order",
			})
			continue
		}
		line := updated[idx]
		if receipt.Qty < 0 {
			result.Violations = append(result.Violations, QuantityViolation{
				LineID:  line.ID,
				Ordered: line.Qty,
				Have:    line.Received,
				Asked:   receipt.Qty,
				Reason:  "received quantity must not be negative",
			})
			continue
		}
		total := line.Received + receipt.Qty
		if total > line.Qty {
			result.Violations = append(result.Violations, QuantityViolation{
				LineID:  line.ID,
				Ordered: line.Qty,
				Have:    line.Received,
				Asked:   receipt.Qty,
				Reason:  "would exceed ordered quantity",
			})
			continue
		}
		if receipt.Qty == 0 {
			continue
		}
		condition := receipt.Condition
		if condition == "" {
			condition = ConditionGood
		}
		result.Entries = append(result.Entries, ReceivingEntry{
			OrderID:   order.ID,
			LineID:    line.ID,
			ProductID: line.ProductID,
			Ordered:   line.Qty,
			Received:  receipt.Qty,
			Previous:  line.Received,
			Total:     total,
			Condition: condition,
			At:        at,
		})
		updated[idx].Received = total
		deltaByProduct[line.ProductID] += receipt.Qty
		result.Changed = true
	}

	if len(result.Violations) > 0 {
		return Reconciliation{Status: order.Status, Violations: result.Violations}
	}

	result.Lines = updated
	if result.Changed {
		result.Status = resultingStatus(updated)
		result.Deltas = flattenDeltas(deltaByProduct, ref)
	}
	return result
}

func resultingStatus(lines []Line) Status {
	full := len(lines) > 0
	any := false
	for _, line := range lines {
		if line.Received > 0 {
			any = true
		}
		if line.Received < line.Qty {
			full = false
		}
	}
	switch {
	case full:
		return StatusFullyReceived
	case any:
		return StatusPartiallyReceived
	default:
		return StatusSentToSupplier
	}
}

func flattenDeltas(byProduct map[int64]int64, ref string) []Delta {
	products := make([]int64, 0, len(byProduct))
	for id := range byProduct {
		products = append(products, id)
	}
	sort.Slice(products, func(i, j int) bool { return products[i] < products[j] })

	deltas := make([]Delta, 0, len(products))
	for _, id := range products {
		deltas = append(deltas, Delta{
			ProductID: id,
			Qty:       byProduct[id],
			Ref:       fmt.Sprintf("%s:%d", ref, id),
		})
	}
	return deltas
}
