package purchase

import (
	"context"
	"time"
)

// TransitionEvent describes a committed status change for downstream
// consumers. Events fire after the transaction commits; a consumer failure
// never rolls back the transition.
type TransitionEvent struct {
	OrderID int64
	Number  string
	Action  string
	From    Status
	To      Status
	ActorID int64
	Reason  string
	At      time.Time
}

// ReceiptEvent describes a committed goods receipt.
type ReceiptEvent struct {
	OrderID int64
	Number  string
	Ref     string
	Status  Status
	Entries []ReceivingEntry
	At      time.Time
}

// Sink receives lifecycle events for notification fan-out.
type Sink interface {
	OrderTransitioned(ctx context.Context, evt TransitionEvent)
	OrderReceived(ctx context.Context, evt ReceiptEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) OrderTransitioned(context.Context, TransitionEvent) {}
func (NopSink) OrderReceived(context.Context, ReceiptEvent)        {}
