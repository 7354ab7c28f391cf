package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/KantanPro/ktp-ledger/internal/jobs"
	"github.com/KantanPro/ktp-ledger/internal/ledger/items"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// TotalsRefresher recomputes and stores an order's totals.
type TotalsRefresher interface {
	RefreshTotals(ctx context.Context, orderID int64) (items.TotalsSnapshot, error)
}

// TotalsRefreshJob keeps order_profit_snapshots in step with line-item edits.
type TotalsRefreshJob struct {
	Refresher TotalsRefresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewTotalsRefreshJob wires dependencies for the refresh handler.
func NewTotalsRefreshJob(refresher TotalsRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *TotalsRefreshJob {
	return &TotalsRefreshJob{Refresher: refresher, Logger: logger, Metrics: metrics}
}

// Handle processes TaskLedgerTotalsRefresh tasks.
func (j *TotalsRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Refresher == nil {
		return errors.New("totals refresh: handler not configured")
	}
	var payload TotalsRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.OrderID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskLedgerTotalsRefresh)
	logger := j.logger().With(slog.Int64("order_id", payload.OrderID))

	snapshot, err := j.Refresher.RefreshTotals(ctx, payload.OrderID)
	if errors.Is(err, items.ErrOrderNotFound) {
		logger.Warn("order vanished before totals refresh")
		return tracker.End(nil)
	}
	if err != nil {
		logger.Error("refresh order totals", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("order totals refreshed",
		slog.String("invoice_total", snapshot.InvoiceTotal.String()),
		slog.String("profit", snapshot.Profit.String()))
	return tracker.End(nil)
}

func (j *TotalsRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *TotalsRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
