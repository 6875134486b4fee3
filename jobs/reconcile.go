package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agrilink/agrilink/internal/observability"
)

// LedgerReconcileJob audits every farmer's denormalised running balance
// against the closed-form sum of that farmer's ledger entries. Drift is
// reported, never auto-corrected; the ledger is the source of truth and any
// divergence needs a human decision.
type LedgerReconcileJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewLedgerReconcileJob initialises the reconciliation handler.
func NewLedgerReconcileJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *observability.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Pool: pool, Logger: logger, Metrics: metrics}
}

// Handle executes the reconciliation pass.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload LedgerReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	rows, err := j.Pool.Query(ctx, `
SELECT f.id, f.main_stock::text, COALESCE(SUM(s.amount), 0)::text
FROM farmers f
LEFT JOIN stock_logs s ON s.farmer_id = f.id
GROUP BY f.id, f.main_stock
HAVING f.main_stock <> COALESCE(SUM(s.amount), 0)`)
	if err != nil {
		j.Metrics.JobObserved(TaskLedgerReconcile, "error")
		return fmt.Errorf("ledger reconcile: query drift: %w", err)
	}
	defer rows.Close()

	drifted := 0
	for rows.Next() {
		var (
			farmerID          int64
			mainStock, summed string
		)
		if err := rows.Scan(&farmerID, &mainStock, &summed); err != nil {
			j.Metrics.JobObserved(TaskLedgerReconcile, "error")
			return fmt.Errorf("ledger reconcile: scan drift row: %w", err)
		}
		drifted++
		if j.Logger != nil {
			j.Logger.Error("ledger drift detected",
				slog.Int64("farmer_id", farmerID),
				slog.String("main_stock", mainStock),
				slog.String("ledger_sum", summed))
		}
	}
	if err := rows.Err(); err != nil {
		j.Metrics.JobObserved(TaskLedgerReconcile, "error")
		return fmt.Errorf("ledger reconcile: iterate drift rows: %w", err)
	}

	if drifted > 0 {
		j.Metrics.JobObserved(TaskLedgerReconcile, "drift")
		return fmt.Errorf("ledger reconcile: %d farmer(s) out of balance", drifted)
	}
	j.Metrics.JobObserved(TaskLedgerReconcile, "ok")
	if j.Logger != nil {
		j.Logger.Info("ledger reconcile clean")
	}
	return nil
}
