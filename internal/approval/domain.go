package approval

import (
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Threshold is an ordered monetary approval rule. An order whose total falls
// in [Min, Max) is governed by the rule; an invalid Max means unbounded.
type Threshold struct {
	ID                int64
	Name              string
	Min               decimal.Decimal
	Max               decimal.NullDecimal
	Roles             []string
	RequiredApprovers int
	EscalationAfter   time.Duration
	SkipWeekends      bool
	SkipHolidays      bool
	Active            bool
}

// Contains reports whether total falls within the threshold band.
func (t Threshold) Contains(total decimal.Decimal) bool {
	if total.LessThan(t.Min) {
		return false
	}
	if t.Max.Valid && !total.LessThan(t.Max.Decimal) {
		return false
	}
	return true
}

// AllowsRole reports whether any of the threshold's roles matches role.
func (t Threshold) AllowsRole(role string) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (t Threshold) equal(o Threshold) bool {
	if t.ID != o.ID || t.Name != o.Name || !t.Min.Equal(o.Min) {
		return false
	}
	if t.Max.Valid != o.Max.Valid || (t.Max.Valid && !t.Max.Decimal.Equal(o.Max.Decimal)) {
		return false
	}
	if t.RequiredApprovers != o.RequiredApprovers || t.EscalationAfter != o.EscalationAfter {
		return false
	}
	if t.SkipWeekends != o.SkipWeekends || t.SkipHolidays != o.SkipHolidays || t.Active != o.Active {
		return false
	}
	return slices.Equal(t.Roles, o.Roles)
}

// OrderRef carries the order facts the policy needs. The policy never touches
// order persistence; callers project their orders into refs.
type OrderRef struct {
	ID        int64
	Number    string
	Total     decimal.Decimal
	Status    string
	Terminal  bool
	CreatedAt time.Time
}

// Escalation flags an order whose age exceeds its threshold's escalation
// deadline. Advisory only; it never invalidates a batch.
type Escalation struct {
	OrderID   int64
	Number    string
	Age       time.Duration
	Deadline  time.Duration
	Threshold string
}

// ValidationResult reports whether a batch satisfies policy for a proposed
// transition, with one violation message per offending order.
type ValidationResult struct {
	Valid       bool
	Violations  []string
	Escalations []Escalation
}

// ErrNoThresholds indicates the active ruleset is empty.
var ErrNoThresholds = errors.New("approval: ruleset has no active thresholds")
