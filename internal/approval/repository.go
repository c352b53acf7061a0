package approval

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository loads threshold configuration from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadRuleset reads approval thresholds and the holiday calendar.
func (r *Repository) LoadRuleset(ctx context.Context) (*Ruleset, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, min_amount, max_amount, roles,
required_approvers, escalation_hours, skip_weekends, skip_holidays, active
FROM approval_thresholds ORDER BY min_amount ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var thresholds []Threshold
	for rows.Next() {
		var t Threshold
		var minAmount decimal.Decimal
		var maxAmount *decimal.Decimal
		var hours int
		if err := rows.Scan(&t.ID, &t.Name, &minAmount, &maxAmount, &t.Roles,
			&t.RequiredApprovers, &hours, &t.SkipWeekends, &t.SkipHolidays, &t.Active); err != nil {
			return nil, err
		}
		t.Min = minAmount
		if maxAmount != nil {
			t.Max = decimal.NewNullDecimal(*maxAmount)
		}
		t.EscalationAfter = time.Duration(hours) * time.Hour
		thresholds = append(thresholds, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	holidayRows, err := r.pool.Query(ctx, `SELECT day FROM approval_holidays`)
	if err != nil {
		return nil, err
	}
	defer holidayRows.Close()

	var holidays []time.Time
	for holidayRows.Next() {
		var day time.Time
		if err := holidayRows.Scan(&day); err != nil {
			return nil, err
		}
		holidays = append(holidays, day)
	}
	if err := holidayRows.Err(); err != nil {
		return nil, err
	}

	return NewRuleset(thresholds, holidays), nil
}
