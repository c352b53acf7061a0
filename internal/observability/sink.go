package observability

import (
	"context"

	"github.com/meridian-erp/meridian/internal/purchase"
)

// EventRecorder counts purchase lifecycle events before forwarding them.
type EventRecorder struct {
	metrics *Metrics
	next    purchase.Sink
}

// NewEventRecorder wraps next with metric counting.
func NewEventRecorder(metrics *Metrics, next purchase.Sink) *EventRecorder {
	if next == nil {
		next = purchase.NopSink{}
	}
	return &EventRecorder{metrics: metrics, next: next}
}

// OrderTransitioned implements purchase.Sink.
func (r *EventRecorder) OrderTransitioned(ctx context.Context, evt purchase.TransitionEvent) {
	r.metrics.ObserveTransition(string(evt.From), string(evt.To))
	switch evt.Action {
	case "approve", "reject":
		r.metrics.ObserveDecision(evt.Action)
	}
	r.next.OrderTransitioned(ctx, evt)
}

// OrderReceived implements purchase.Sink.
func (r *EventRecorder) OrderReceived(ctx context.Context, evt purchase.ReceiptEvent) {
	r.metrics.ObserveReceipt()
	r.next.OrderReceived(ctx, evt)
}
