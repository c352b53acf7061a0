package purchase

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates purchase order lifecycle states.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusPendingApproval   Status = "pending_approval"
	StatusApproved          Status = "approved"
	StatusSentToSupplier    Status = "sent_to_supplier"
	StatusPartiallyReceived Status = "partially_received"
	StatusFullyReceived     Status = "fully_received"
	StatusCancelled         Status = "cancelled"
	StatusClosed            Status = "closed"
)

// Valid reports whether s is a member of the defined status set.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusSentToSupplier,
		StatusPartiallyReceived, StatusFullyReceived, StatusCancelled, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusClosed
}

// Condition tags the state of goods at receipt time.
type Condition string

const (
	ConditionGood    Condition = "good"
	ConditionDamaged Condition = "damaged"
	ConditionExpired Condition = "expired"
)

// Valid reports whether c is a known condition tag.
func (c Condition) Valid() bool {
	return c == ConditionGood || c == ConditionDamaged || c == ConditionExpired
}

// PurchaseOrder is the procurement document governed by the lifecycle engine.
type PurchaseOrder struct {
	ID         int64
	Number     string
	SupplierID int64
	Status     Status
	Lines      []Line
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	CreatedBy  int64
	CreatedAt  time.Time
	ExpectedAt time.Time
	ReceivedAt time.Time
}

// Line is a purchase order line item, owned exclusively by its parent order.
type Line struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Qty       int64
	UnitCost  decimal.Decimal
	LineTotal decimal.Decimal
	Received  int64
}

// RecomputeTotals restores the total = subtotal + tax invariant after the
// line set changed. Tax stays as provided; its computation is owned elsewhere.
func (po *PurchaseOrder) RecomputeTotals() {
	subtotal := decimal.Zero
	for i := range po.Lines {
		po.Lines[i].LineTotal = decimal.NewFromInt(po.Lines[i].Qty).Mul(po.Lines[i].UnitCost)
		subtotal = subtotal.Add(po.Lines[i].LineTotal)
	}
	po.Subtotal = subtotal
	po.Total = subtotal.Add(po.Tax)
}

// FullyReceived reports whether every line has been received in full.
func (po *PurchaseOrder) FullyReceived() bool {
	if len(po.Lines) == 0 {
		return false
	}
	for _, line := range po.Lines {
		if line.Received < line.Qty {
			return false
		}
	}
	return true
}

// ReceiptLine is one line of a proposed goods receipt.
type ReceiptLine struct {
	LineID    int64
	Qty       int64
	Condition Condition
}

// ReceivingEntry records the outcome of one receipt line, immutable once
// committed.
type ReceivingEntry struct {
	OrderID   int64
	LineID    int64
	ProductID int64
	Ordered   int64
	Received  int64
	Previous  int64
	Total     int64
	Condition Condition
	At        time.Time
}

// Delta is a signed stock quantity instruction for the stock collaborator.
type Delta struct {
	ProductID int64
	Qty       int64
	Ref       string
}

var (
	// ErrNotFound indicates the purchase order does not exist.
	ErrNotFound = errors.New("purchase: order not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("purchase: invalid input")
	// ErrTransitionDenied indicates the requested status change is not in the
	// transition graph.
	ErrTransitionDenied = errors.New("purchase: transition denied")
	// ErrOrderFrozen indicates mutation of a terminal-state order.
	ErrOrderFrozen = errors.New("purchase: order is in a terminal state")
	// ErrReasonRequired indicates a rejection without a reason.
	ErrReasonRequired = errors.New("purchase: rejection reason required")
)

// TransitionError carries the denied status pair for diagnostics.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("purchase: transition %s -> %s denied", e.From, e.To)
}

// Unwrap lets callers match ErrTransitionDenied.
func (e *TransitionError) Unwrap() error { return ErrTransitionDenied }

// QuantityViolation describes a rejected receipt line.
type QuantityViolation struct {
	LineID  int64
	Ordered int64
	Have    int64
	Asked   int64
	Reason  string
}

func (v QuantityViolation) Error() string {
	return fmt.Sprintf("purchase: line %d: %s (ordered %d, received %d, asked %d)",
		v.LineID, v.Reason, v.Ordered, v.Have, v.Asked)
}

// ReceiptViolationError rejects a goods receipt whole. No line is applied
// when any line violates a quantity rule.
type ReceiptViolationError struct {
	Violations []QuantityViolation
}

func (e *ReceiptViolationError) Error() string {
	switch len(e.Violations) {
	case 0:
		return "purchase: receipt rejected"
	case 1:
		return "purchase: receipt rejected: " + e.Violations[0].Error()
	default:
		return fmt.Sprintf("purchase: receipt rejected: %s (and %d more)",
			e.Violations[0].Error(), len(e.Violations)-1)
	}
}

// PolicyViolationError wraps approval policy violations denying an operation
// before any mutation.
type PolicyViolationError struct {
	Violations []string
}

func (e *PolicyViolationError) Error() string {
	if len(e.Violations) == 0 {
		return "purchase: policy violation"
	}
	return "purchase: policy violation: " + e.Violations[0]
}
