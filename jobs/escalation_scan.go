package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian/internal/approval"
)

const (
	// TaskEscalationScan flags pending orders past their approval deadline.
	TaskEscalationScan = "approval:escalation_scan"
	// EscalationScanSpec runs the scan every hour on the hour.
	EscalationScanSpec = "0 * * * *"
)

// EscalationScanPayload bounds one scan pass.
type EscalationScanPayload struct {
	Limit int `json:"limit"`
}

// PendingOrderSource lists orders waiting for approval.
type PendingOrderSource interface {
	PendingApprovalRefs(ctx context.Context, limit int) ([]approval.OrderRef, error)
}

// NewEscalationScanTask builds a scan task.
func NewEscalationScanTask(limit int) (*asynq.Task, error) {
	body, err := json.Marshal(EscalationScanPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEscalationScan, body, asynq.Queue(QueueDefault)), nil
}

// NewEscalationScanHandler builds the handler for TaskEscalationScan. Each
// breach is logged and a notification task is enqueued; escalation is
// advisory and never mutates orders.
func NewEscalationScanHandler(source PendingOrderSource, store *approval.Store, client *Client, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload EscalationScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Limit <= 0 {
			payload.Limit = 500
		}
		refs, err := source.PendingApprovalRefs(ctx, payload.Limit)
		if err != nil {
			return err
		}
		escalations := store.Current().Escalations(refs, time.Now())
		for _, esc := range escalations {
			logger.Warn("approval deadline exceeded",
				"order", esc.Number,
				"threshold", esc.Threshold,
				"age", esc.Age.String(),
				"deadline", esc.Deadline.String())
			if client == nil {
				continue
			}
			notify := OrderNotifyPayload{
				OrderID: esc.OrderID,
				Number:  esc.Number,
				From:    "pending_approval",
				To:      "pending_approval",
				Reason:  fmt.Sprintf("approval deadline exceeded (%s threshold, waiting %s)", esc.Threshold, esc.Age),
			}
			if _, err := client.EnqueueOrderNotify(ctx, notify); err != nil {
				logger.Error("enqueue escalation notification", "order", esc.Number, "error", err)
			}
		}
		logger.Info("escalation scan complete", "pending", len(refs), "escalated", len(escalations))
		return nil
	}
}
