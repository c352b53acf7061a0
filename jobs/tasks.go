package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOrderNotify fans out purchase order lifecycle notifications.
	TaskOrderNotify = "purchase:notify"
)

// OrderNotifyPayload describes a committed lifecycle change to notify about.
type OrderNotifyPayload struct {
	OrderID int64  `json:"order_id"`
	Number  string `json:"number"`
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID int64  `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

// NewOrderNotifyTask constructs an Asynq task.
func NewOrderNotifyTask(payload OrderNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderNotify, data, asynq.Queue(QueueDefault)), nil
}

// HandleOrderNotifyTask processes TaskOrderNotify tasks.
func HandleOrderNotifyTask(ctx context.Context, t *asynq.Task) error {
	var payload OrderNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder until the mail channel lands; the queue contract is stable.
	slog.Info("order notification",
		"number", payload.Number, "from", payload.From, "to", payload.To, "reason", payload.Reason)
	return nil
}
