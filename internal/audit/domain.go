package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Record is one append-only audit entry. Records are immutable once appended;
// the ledger never updates or deletes them.
type Record struct {
	ID        int64
	Entity    string
	EntityID  string
	Action    string
	ActorID   int64
	ActorName string
	Diff      Diff
	Reason    string
	Meta      map[string]any
	ClientIP  string
	At        time.Time
}

// Diff is a tagged union of known before/after shapes. The ledger treats the
// payload as opaque JSON; each action type contributes its own shape.
type Diff interface {
	Kind() string
}

// StatusDiff captures a status transition.
type StatusDiff struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Kind implements Diff.
func (StatusDiff) Kind() string { return "status" }

// LineSnapshot is one line item inside a LineDiff.
type LineSnapshot struct {
	ProductID int64  `json:"product_id"`
	Qty       int64  `json:"qty"`
	UnitCost  string `json:"unit_cost"`
}

// LineDiff captures a change to an order's line set.
type LineDiff struct {
	Old []LineSnapshot `json:"old"`
	New []LineSnapshot `json:"new"`
}

// Kind implements Diff.
func (LineDiff) Kind() string { return "lines" }

// ReceiptChange is one line item inside a ReceiptDiff.
type ReceiptChange struct {
	LineID    int64  `json:"line_id"`
	ProductID int64  `json:"product_id"`
	Previous  int64  `json:"previous"`
	Received  int64  `json:"received"`
	Total     int64  `json:"total"`
	Condition string `json:"condition"`
}

// ReceiptDiff captures a goods receipt event, one entry per affected line.
type ReceiptDiff struct {
	Ref     string          `json:"ref"`
	Entries []ReceiptChange `json:"entries"`
}

// Kind implements Diff.
func (ReceiptDiff) Kind() string { return "receipt" }

// RulesetDiff captures an approval ruleset swap.
type RulesetDiff struct {
	OldVersion int64 `json:"old_version"`
	NewVersion int64 `json:"new_version"`
}

// Kind implements Diff.
func (RulesetDiff) Kind() string { return "ruleset" }

type diffEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalDiff serialises a diff with its kind tag.
func MarshalDiff(d Diff) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal diff: %w", err)
	}
	return json.Marshal(diffEnvelope{Kind: d.Kind(), Data: data})
}

// UnmarshalDiff restores a diff from its tagged form. Unknown kinds yield an
// error rather than silently dropping data.
func UnmarshalDiff(raw []byte) (Diff, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var env diffEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("audit: unmarshal diff: %w", err)
	}
	switch env.Kind {
	case "status":
		var d StatusDiff
		err := json.Unmarshal(env.Data, &d)
		return d, err
	case "lines":
		var d LineDiff
		err := json.Unmarshal(env.Data, &d)
		return d, err
	case "receipt":
		var d ReceiptDiff
		err := json.Unmarshal(env.Data, &d)
		return d, err
	case "ruleset":
		var d RulesetDiff
		err := json.Unmarshal(env.Data, &d)
		return d, err
	default:
		return nil, fmt.Errorf("audit: unknown diff kind %q", env.Kind)
	}
}

// Filter narrows ledger queries. Zero values mean "no constraint".
type Filter struct {
	Entity   string
	EntityID string
	ActorID  int64
	Action   string
	From     time.Time
	To       time.Time
	Page     int
	PerPage  int
}

var (
	// ErrIncomplete indicates a record missing required identity fields.
	ErrIncomplete = errors.New("audit: record requires entity, entity id and action")
	// ErrAppendFailed wraps storage failures. Losing an audit record for a
	// committed mutation is a correctness bug, so this is never swallowed.
	ErrAppendFailed = errors.New("audit: append failed")
)
