package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/KantanPro/ktp-ledger/internal/jobs"
)

// KeyPurger drops idempotency keys older than the retention window.
type KeyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob enforces the retention of create-item client keys.
type IdempotencyCleanupJob struct {
	Store     KeyPurger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := j.Retention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := metrics.Track(TaskIdempotencyCleanup)

	purged, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		logger.Error("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	metrics.AddPurgedKeys(purged)
	logger.Info("idempotency keys purged", slog.Int64("count", purged), slog.Duration("retention", retention))
	return tracker.End(nil)
}
