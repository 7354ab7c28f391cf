package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerTotalsRefresh recomputes the profit snapshot of one order.
	TaskLedgerTotalsRefresh = "ledger:totals_refresh"
	// TaskIdempotencyCleanup purges expired create-item client keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// TotalsRefreshPayload identifies the order whose totals changed.
type TotalsRefreshPayload struct {
	OrderID int64 `json:"order_id"`
}

// IdempotencyCleanupPayload optionally overrides the configured retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewTotalsRefreshTask constructs an Asynq task.
func NewTotalsRefreshTask(orderID int64) (*asynq.Task, error) {
	if orderID <= 0 {
		return nil, fmt.Errorf("totals refresh: invalid order id %d", orderID)
	}
	data, err := json.Marshal(TotalsRefreshPayload{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerTotalsRefresh, data), nil
}

// NewIdempotencyCleanupTask constructs the cleanup task used by the scheduler.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
