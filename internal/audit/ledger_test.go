package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryLedgerRepo struct {
	records []Record
	nextID  int64
	fail    error
}

func (r *memoryLedgerRepo) Insert(ctx context.Context, rec Record) (int64, error) {
	if r.fail != nil {
		return 0, r.fail
	}
	r.nextID++
	rec.ID = r.nextID
	r.records = append(r.records, rec)
	return rec.ID, nil
}

func (r *memoryLedgerRepo) Query(ctx context.Context, filter Filter) ([]Record, int, error) {
	var matched []Record
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if filter.Entity != "" && rec.Entity != filter.Entity {
			continue
		}
		if filter.EntityID != "" && rec.EntityID != filter.EntityID {
			continue
		}
		if filter.ActorID > 0 && rec.ActorID != filter.ActorID {
			continue
		}
		if !filter.From.IsZero() && rec.At.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && rec.At.After(filter.To) {
			continue
		}
		matched = append(matched, rec)
	}
	return matched, len(matched), nil
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	repo := &memoryLedgerRepo{}
	ledger := NewLedger(repo, nil)

	id, err := ledger.Append(context.Background(), Record{
		Entity:   "purchase_order",
		EntityID: "42",
		Action:   "po.approve",
		ActorID:  7,
		Diff:     StatusDiff{Old: "pending_approval", New: "approved"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, id)
	require.False(t, repo.records[0].At.IsZero())
}

func TestAppendRejectsIncompleteRecords(t *testing.T) {
	ledger := NewLedger(&memoryLedgerRepo{}, nil)

	_, err := ledger.Append(context.Background(), Record{Entity: "purchase_order"})
	require.ErrorIs(t, err, ErrIncomplete)
}

func TestAppendSurfacesStorageFailure(t *testing.T) {
	repo := &memoryLedgerRepo{fail: errors.New("disk full")}
	ledger := NewLedger(repo, nil)

	_, err := ledger.Append(context.Background(), Record{
		Entity: "purchase_order", EntityID: "1", Action: "po.create",
	})
	require.ErrorIs(t, err, ErrAppendFailed)
}

func TestQueryByEntityNewestFirst(t *testing.T) {
	repo := &memoryLedgerRepo{}
	ledger := NewLedger(repo, nil)
	ctx := context.Background()

	for _, action := range []string{"po.create", "po.submit", "po.approve"} {
		_, err := ledger.Append(ctx, Record{Entity: "purchase_order", EntityID: "1", Action: action})
		require.NoError(t, err)
	}
	_, err := ledger.Append(ctx, Record{Entity: "purchase_order", EntityID: "2", Action: "po.create"})
	require.NoError(t, err)

	records, total, err := ledger.QueryByEntity(ctx, "purchase_order", "1", 1, 20)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Equal(t, "po.approve", records[0].Action)
	require.Equal(t, "po.create", records[2].Action)
}

func TestQueryByActorAndTimeRange(t *testing.T) {
	repo := &memoryLedgerRepo{}
	ledger := NewLedger(repo, nil)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := ledger.Append(ctx, Record{
			Entity: "purchase_order", EntityID: "1", Action: "po.receive",
			ActorID: int64(i%2 + 1), At: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
	}

	records, _, err := ledger.QueryByActor(ctx, 1, 1, 20)
	require.NoError(t, err)
	require.Len(t, records, 2)

	records, _, err = ledger.QueryByTimeRange(ctx, base.Add(30*time.Minute), base.Add(90*time.Minute), 1, 20)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestDiffRoundTrip(t *testing.T) {
	cases := []Diff{
		StatusDiff{Old: "draft", New: "pending_approval"},
		LineDiff{
			Old: []LineSnapshot{{ProductID: 1, Qty: 2, UnitCost: "10.50"}},
			New: []LineSnapshot{{ProductID: 1, Qty: 3, UnitCost: "10.50"}},
		},
		ReceiptDiff{Ref: "R-1", Entries: []ReceiptChange{
			{LineID: 9, ProductID: 1, Previous: 4, Received: 6, Total: 10, Condition: "good"},
		}},
		RulesetDiff{OldVersion: 1, NewVersion: 2},
	}
	for _, diff := range cases {
		raw, err := MarshalDiff(diff)
		require.NoError(t, err)
		restored, err := UnmarshalDiff(raw)
		require.NoError(t, err)
		require.Equal(t, diff, restored)
	}
}

func TestUnmarshalDiffUnknownKind(t *testing.T) {
	_, err := UnmarshalDiff([]byte(`{"kind":"mystery","data":{}}`))
	require.Error(t, err)
}

func TestMarshalNilDiff(t *testing.T) {
	raw, err := MarshalDiff(nil)
	require.NoError(t, err)
	require.Nil(t, raw)

	d, err := UnmarshalDiff(nil)
	require.NoError(t, err)
	require.Nil(t, d)
}
