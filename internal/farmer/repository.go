package farmer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/agrilink/agrilink/internal/ledger"
	"github.com/agrilink/agrilink/internal/platform/db"
	"github.com/agrilink/agrilink/internal/shared"
)

// Repository persists farmers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const farmerColumns = `id, org_id, officer_id, name, phone, main_stock::text, total_consumed::text, created_at, updated_at`

// Register inserts the farmer and, when an opening balance is given, the
// matching INITIAL stock log entry inside the same transaction so the
// conservation invariant holds from the first row.
func (r *Repository) Register(ctx context.Context, input RegisterInput) (Farmer, error) {
	if r == nil || r.pool == nil {
		return Farmer{}, fmt.Errorf("farmer repo not initialised")
	}
	var created Farmer
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
INSERT INTO farmers (org_id, officer_id, name, phone, main_stock, total_consumed)
VALUES ($1, $2, $3, $4, $5::numeric, 0)
RETURNING `+farmerColumns, input.OrgID, input.OfficerID, input.Name, input.Phone, input.OpeningStock.String())
		f, err := scanFarmer(row)
		if err != nil {
			return err
		}
		if input.OpeningStock.IsPositive() {
			_, err = tx.Exec(ctx, `
INSERT INTO stock_logs (farmer_id, amount, entry_type, note)
VALUES ($1, $2::numeric, $3, $4)`, f.ID, input.OpeningStock.String(), string(ledger.EntryTypeInitial), input.Note)
			if err != nil {
				return err
			}
		}
		created = f
		return nil
	})
	if err != nil {
		return Farmer{}, err
	}
	return created, nil
}

// GetOwned resolves (officer, farmer) to the managed farmer. This is the
// single authorization capability used by every read path; mutating ledger
// operations re-derive ownership under a row lock inside their own
// transactions.
func (r *Repository) GetOwned(ctx context.Context, officerID, farmerID int64) (Farmer, error) {
	if r == nil || r.pool == nil {
		return Farmer{}, fmt.Errorf("farmer repo not initialised")
	}
	row := r.pool.QueryRow(ctx, `
SELECT `+farmerColumns+` FROM farmers WHERE id = $1 AND officer_id = $2`, farmerID, officerID)
	f, err := scanFarmer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Farmer{}, shared.ErrNotFound
		}
		return Farmer{}, err
	}
	return f, nil
}

// ListByOfficer returns the officer's farmers ordered by name.
func (r *Repository) ListByOfficer(ctx context.Context, filter ListFilter) ([]Farmer, int, error) {
	if r == nil || r.pool == nil {
		return nil, 0, fmt.Errorf("farmer repo not initialised")
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM farmers WHERE officer_id = $1`, filter.OfficerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+farmerColumns+`
FROM farmers
WHERE officer_id = $1
ORDER BY name
LIMIT $2 OFFSET $3`, filter.OfficerID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var farmers []Farmer
	for rows.Next() {
		f, err := scanFarmer(rows)
		if err != nil {
			return nil, 0, err
		}
		farmers = append(farmers, f)
	}
	return farmers, total, rows.Err()
}

func scanFarmer(row pgx.Row) (Farmer, error) {
	var (
		f                    Farmer
		mainStock, consumed  string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&f.ID, &f.OrgID, &f.OfficerID, &f.Name, &f.Phone, &mainStock, &consumed, &createdAt, &updatedAt); err != nil {
		return Farmer{}, err
	}
	var err error
	if f.MainStock, err = decimal.NewFromString(mainStock); err != nil {
		return Farmer{}, fmt.Errorf("farmer: parse main_stock: %w", err)
	}
	if f.TotalConsumed, err = decimal.NewFromString(consumed); err != nil {
		return Farmer{}, fmt.Errorf("farmer: parse total_consumed: %w", err)
	}
	f.CreatedAt = createdAt
	f.UpdatedAt = updatedAt
	return f, nil
}
