package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/agrilink/agrilink/internal/cycle"
	"github.com/agrilink/agrilink/internal/observability"
)

// FeedSyncJob refreshes intake for every active cycle from the external
// consumption calculator.
type FeedSyncJob struct {
	Cycles  *cycle.Service
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewFeedSyncJob initialises the feed sync handler.
func NewFeedSyncJob(cycles *cycle.Service, logger *slog.Logger, metrics *observability.Metrics) *FeedSyncJob {
	return &FeedSyncJob{Cycles: cycles, Logger: logger, Metrics: metrics}
}

// Handle executes one sync pass over all active cycles.
func (j *FeedSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cycles == nil {
		return errors.New("feed sync: handler not configured")
	}
	var payload FeedSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	refreshed, err := j.Cycles.SyncAll(ctx)
	if err != nil {
		j.Metrics.JobObserved(TaskFeedSync, "error")
		if j.Logger != nil {
			j.Logger.Warn("feed sync completed with errors",
				slog.Int("refreshed", refreshed), slog.Any("error", err))
		}
		return err
	}
	j.Metrics.JobObserved(TaskFeedSync, "ok")
	if j.Logger != nil {
		j.Logger.Info("feed sync completed", slog.Int("refreshed", refreshed))
	}
	return nil
}
