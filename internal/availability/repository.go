package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/agrilink/agrilink/internal/shared"
)

// Repository reads projection inputs from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Snapshot reads the committed balance and the summed intake of the farmer's
// active cycles in one query, scoped to the calling officer.
func (r *Repository) Snapshot(ctx context.Context, officerID, farmerID int64) (Snapshot, error) {
	if r == nil || r.pool == nil {
		return Snapshot{}, fmt.Errorf("availability repo not initialised")
	}
	row := r.pool.QueryRow(ctx, `
SELECT f.id, f.main_stock::text, COALESCE(SUM(c.intake), 0)::text
FROM farmers f
LEFT JOIN cycles c ON c.farmer_id = f.id
WHERE f.id = $1 AND f.officer_id = $2
GROUP BY f.id, f.main_stock`, farmerID, officerID)
	var (
		snap                Snapshot
		mainStock, forecast string
	)
	if err := row.Scan(&snap.FarmerID, &mainStock, &forecast); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, shared.ErrNotFound
		}
		return Snapshot{}, err
	}
	var err error
	if snap.MainStock, err = decimal.NewFromString(mainStock); err != nil {
		return Snapshot{}, fmt.Errorf("availability: parse main_stock: %w", err)
	}
	if snap.ActiveForecast, err = decimal.NewFromString(forecast); err != nil {
		return Snapshot{}, fmt.Errorf("availability: parse forecast: %w", err)
	}
	return snap, nil
}
