package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/KantanPro/ktp-ledger/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address is required")
	}
	opts, err := jobs.RedisOpt(redisAddr)
	if err != nil {
		return nil, fmt.Errorf("jobs cli: %w", err)
	}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerParams selects the job and its arguments.
type TriggerParams struct {
	Name           string
	OrderID        int64
	RetentionHours int
}

// BuildTask maps a job name onto its Asynq task.
func BuildTask(params TriggerParams) (*asynq.Task, error) {
	switch params.Name {
	case jobs.TaskLedgerTotalsRefresh:
		return jobs.NewTotalsRefreshTask(params.OrderID)
	case jobs.TaskIdempotencyCleanup:
		if params.RetentionHours < 0 {
			return nil, fmt.Errorf("jobs cli: negative retention %d", params.RetentionHours)
		}
		return jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{RetentionHours: params.RetentionHours})
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", params.Name)
	}
}

// Trigger enqueues a supported job.
func (c *JobsCLI) Trigger(ctx context.Context, params TriggerParams) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := BuildTask(params)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}
