package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFeedSync refreshes intake for every active cycle.
	TaskFeedSync = "cycle:feed_sync"
	// TaskLedgerReconcile audits running balances against ledger sums.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// FeedSyncPayload carries scheduling metadata for the feed sync pass.
type FeedSyncPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewFeedSyncTask constructs an Asynq task for the feed sync pass.
func NewFeedSyncTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(FeedSyncPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFeedSync, body, asynq.Queue(QueueDefault)), nil
}

// LedgerReconcilePayload carries scheduling metadata for the reconciliation pass.
type LedgerReconcilePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerReconcileTask constructs an Asynq task for ledger reconciliation.
func NewLedgerReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerReconcilePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention window for key pruning.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key pruning.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
