package jobs

import (
	"context"
	"log/slog"

	"github.com/meridian-erp/meridian/internal/purchase"
)

// QueueSink forwards purchase lifecycle events onto the job queue. Enqueue
// failures are logged and dropped; a notification must never undo a committed
// transition.
type QueueSink struct {
	client *Client
	logger *slog.Logger
}

// NewQueueSink constructs a QueueSink.
func NewQueueSink(client *Client, logger *slog.Logger) *QueueSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSink{client: client, logger: logger}
}

// OrderTransitioned implements purchase.Sink.
func (s *QueueSink) OrderTransitioned(ctx context.Context, evt purchase.TransitionEvent) {
	_, err := s.client.EnqueueOrderNotify(ctx, OrderNotifyPayload{
		OrderID: evt.OrderID,
		Number:  evt.Number,
		From:    string(evt.From),
		To:      string(evt.To),
		ActorID: evt.ActorID,
		Reason:  evt.Reason,
	})
	if err != nil {
		s.logger.Error("enqueue transition notification", "number", evt.Number, "error", err)
	}
}

// OrderReceived implements purchase.Sink.
func (s *QueueSink) OrderReceived(ctx context.Context, evt purchase.ReceiptEvent) {
	_, err := s.client.EnqueueOrderNotify(ctx, OrderNotifyPayload{
		OrderID: evt.OrderID,
		Number:  evt.Number,
		From:    string(evt.Status),
		To:      string(evt.Status),
		Reason:  "goods received under ref " + evt.Ref,
	})
	if err != nil {
		s.logger.Error("enqueue receipt notification", "number", evt.Number, "error", err)
	}
}
