package approval

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Ruleset is an immutable, ordered set of thresholds plus the holiday
// calendar used for escalation age. Build a new Ruleset and swap it into the
// Store to reconfigure at runtime.
type Ruleset struct {
	thresholds []Threshold
	holidays   map[string]struct{}
}

// NewRuleset copies and orders thresholds by ascending minimum amount.
// Holidays are calendar dates observed by thresholds with SkipHolidays.
func NewRuleset(thresholds []Threshold, holidays []time.Time) *Ruleset {
	sorted := make([]Threshold, len(thresholds))
	copy(sorted, thresholds)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Min.LessThan(sorted[j].Min)
	})
	days := make(map[string]struct{}, len(holidays))
	for _, day := range holidays {
		days[day.Format("2006-01-02")] = struct{}{}
	}
	return &Ruleset{thresholds: sorted, holidays: days}
}

// Thresholds returns a copy of the ordered threshold list.
func (rs *Ruleset) Thresholds() []Threshold {
	out := make([]Threshold, len(rs.thresholds))
	copy(out, rs.thresholds)
	return out
}

// Equal reports whether two rulesets carry the same thresholds and holiday
// calendar. Reload uses it to skip swaps that would change nothing.
func (rs *Ruleset) Equal(other *Ruleset) bool {
	if other == nil {
		return false
	}
	if len(rs.thresholds) != len(other.thresholds) || len(rs.holidays) != len(other.holidays) {
		return false
	}
	for i := range rs.thresholds {
		if !rs.thresholds[i].equal(other.thresholds[i]) {
			return false
		}
	}
	for day := range rs.holidays {
		if _, ok := other.holidays[day]; !ok {
			return false
		}
	}
	return true
}

// Match returns the active thresholds whose band contains total, in
// ascending minimum-amount order.
func (rs *Ruleset) Match(total decimal.Decimal) []Threshold {
	var matched []Threshold
	for _, t := range rs.thresholds {
		if t.Active && t.Contains(total) {
			matched = append(matched, t)
		}
	}
	return matched
}

// Governing returns the most conservative threshold for total: the matching
// rule with the highest minimum amount.
func (rs *Ruleset) Governing(total decimal.Decimal) (Threshold, bool) {
	matched := rs.Match(total)
	if len(matched) == 0 {
		return Threshold{}, false
	}
	return matched[len(matched)-1], true
}

// Validate checks whether actorRole may decide the given batch. The governing
// rule of the highest-value order decides the required role set, so a bulk
// operation is only as permissive as its strictest member. Escalation
// deadline breaches are flagged but never invalidate the batch.
func (rs *Ruleset) Validate(orders []OrderRef, actorRole string, now time.Time) ValidationResult {
	result := ValidationResult{}
	if len(orders) == 0 {
		result.Violations = append(result.Violations, "no orders in batch")
		return result
	}

	var governing Threshold
	var governingOrder OrderRef
	haveGoverning := false

	for _, order := range orders {
		if order.Terminal {
			result.Violations = append(result.Violations,
				fmt.Sprintf("order %s is in terminal state %s", order.Number, order.Status))
			continue
		}
		threshold, ok := rs.Governing(order.Total)
		if !ok {
			result.Violations = append(result.Violations,
				fmt.Sprintf("order %s (total %s) matches no active approval threshold", order.Number, order.Total))
			continue
		}
		if !haveGoverning || order.Total.GreaterThan(governingOrder.Total) {
			governing = threshold
			governingOrder = order
			haveGoverning = true
		}
		if age := rs.escalationAge(order.CreatedAt, now, threshold); threshold.EscalationAfter > 0 && age > threshold.EscalationAfter {
			result.Escalations = append(result.Escalations, Escalation{
				OrderID:   order.ID,
				Number:    order.Number,
				Age:       age,
				Deadline:  threshold.EscalationAfter,
				Threshold: threshold.Name,
			})
		}
	}

	if haveGoverning && !governing.AllowsRole(actorRole) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("role %s may not decide order %s (requires one of %v)",
				actorRole, governingOrder.Number, governing.Roles))
	}

	result.Valid = len(result.Violations) == 0
	return result
}

// Escalations reports every order in the batch whose waiting age exceeds its
// governing threshold's deadline. Orders matching no threshold are skipped.
func (rs *Ruleset) Escalations(orders []OrderRef, now time.Time) []Escalation {
	var out []Escalation
	for _, order := range orders {
		if order.Terminal {
			continue
		}
		threshold, ok := rs.Governing(order.Total)
		if !ok || threshold.EscalationAfter <= 0 {
			continue
		}
		if age := rs.escalationAge(order.CreatedAt, now, threshold); age > threshold.EscalationAfter {
			out = append(out, Escalation{
				OrderID:   order.ID,
				Number:    order.Number,
				Age:       age,
				Deadline:  threshold.EscalationAfter,
				Threshold: threshold.Name,
			})
		}
	}
	return out
}

// escalationAge measures how long the order has been waiting, skipping
// weekend and holiday days when the threshold says so.
func (rs *Ruleset) escalationAge(createdAt, now time.Time, t Threshold) time.Duration {
	if createdAt.IsZero() || !now.After(createdAt) {
		return 0
	}
	if !t.SkipWeekends && !t.SkipHolidays {
		return now.Sub(createdAt)
	}
	skipped := time.Duration(0)
	for day := createdAt.Truncate(24 * time.Hour); day.Before(now); day = day.Add(24 * time.Hour) {
		if t.SkipWeekends && (day.Weekday() == time.Saturday || day.Weekday() == time.Sunday) {
			skipped += 24 * time.Hour
			continue
		}
		if t.SkipHolidays {
			if _, ok := rs.holidays[day.Format("2006-01-02")]; ok {
				skipped += 24 * time.Hour
			}
		}
	}
	age := now.Sub(createdAt) - skipped
	if age < 0 {
		return 0
	}
	return age
}
