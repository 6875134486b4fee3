package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/agrilink/agrilink/internal/platform/db"
	"github.com/agrilink/agrilink/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. Every
// mutating ledger operation runs against this interface inside one WithTx
// callback so balance updates and entry appends commit together.
type TxRepository interface {
	GetBalanceForUpdate(ctx context.Context, farmerID int64) (Balance, error)
	SetMainStock(ctx context.Context, farmerID int64, mainStock decimal.Decimal) error
	InsertEntry(ctx context.Context, entry StockLogEntry) (StockLogEntry, error)
	GetEntry(ctx context.Context, logID int64) (StockLogEntry, error)
	EntriesByReference(ctx context.Context, referenceID string) ([]StockLogEntry, error)
	HasCorrectionFor(ctx context.Context, referenceID string) (bool, error)
	UpdateEntry(ctx context.Context, logID int64, amount decimal.Decimal, note string) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction with
// serialization-failure retry.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("ledger repo not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const entryColumns = `id, farmer_id, amount::text, entry_type, COALESCE(reference_id, ''), COALESCE(note, ''), created_at`

// ListEntries returns the farmer's ledger lines, newest first. Commit order
// provides the total per-farmer ordering the reconciliation invariant needs.
// The farmer must be managed by the requesting officer.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]StockLogEntry, int, error) {
	if r == nil || r.pool == nil {
		return nil, 0, fmt.Errorf("ledger repo not initialised")
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	var owned bool
	if err := r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM farmers WHERE id = $1 AND officer_id = $2)`,
		filter.FarmerID, filter.OfficerID).Scan(&owned); err != nil {
		return nil, 0, err
	}
	if !owned {
		return nil, 0, shared.ErrNotFound
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_logs WHERE farmer_id = $1`, filter.FarmerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+entryColumns+`
FROM stock_logs
WHERE farmer_id = $1
ORDER BY id DESC
LIMIT $2 OFFSET $3`, filter.FarmerID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var entries []StockLogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

// SumEntries recomputes the closed-form balance for one farmer. Used by the
// reconciliation job, never by the live transactional path.
func (r *Repository) SumEntries(ctx context.Context, farmerID int64) (decimal.Decimal, error) {
	if r == nil || r.pool == nil {
		return decimal.Zero, fmt.Errorf("ledger repo not initialised")
	}
	var sum string
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0)::text FROM stock_logs WHERE farmer_id = $1`, farmerID).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(sum)
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, farmerID int64) (Balance, error) {
	row := r.tx.QueryRow(ctx, `
SELECT id, officer_id, main_stock::text, total_consumed::text
FROM farmers
WHERE id = $1
FOR UPDATE`, farmerID)
	var (
		bal                 Balance
		mainStock, consumed string
	)
	if err := row.Scan(&bal.FarmerID, &bal.OfficerID, &mainStock, &consumed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, shared.ErrNotFound
		}
		return Balance{}, err
	}
	var err error
	if bal.MainStock, err = decimal.NewFromString(mainStock); err != nil {
		return Balance{}, fmt.Errorf("ledger: parse main_stock: %w", err)
	}
	if bal.TotalConsumed, err = decimal.NewFromString(consumed); err != nil {
		return Balance{}, fmt.Errorf("ledger: parse total_consumed: %w", err)
	}
	return bal, nil
}

func (r *txRepo) SetMainStock(ctx context.Context, farmerID int64, mainStock decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE farmers SET main_stock = $2::numeric, updated_at = NOW() WHERE id = $1`, farmerID, mainStock.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertEntry(ctx context.Context, entry StockLogEntry) (StockLogEntry, error) {
	row := r.tx.QueryRow(ctx, `
INSERT INTO stock_logs (farmer_id, amount, entry_type, reference_id, note)
VALUES ($1, $2::numeric, $3, NULLIF($4, ''), $5)
RETURNING `+entryColumns,
		entry.FarmerID, entry.Amount.String(), string(entry.Type), entry.ReferenceID, entry.Note)
	return scanEntry(row)
}

func (r *txRepo) GetEntry(ctx context.Context, logID int64) (StockLogEntry, error) {
	row := r.tx.QueryRow(ctx, `
SELECT `+entryColumns+` FROM stock_logs WHERE id = $1`, logID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLogEntry{}, shared.ErrNotFound
		}
		return StockLogEntry{}, err
	}
	return entry, nil
}

func (r *txRepo) EntriesByReference(ctx context.Context, referenceID string) ([]StockLogEntry, error) {
	rows, err := r.tx.Query(ctx, `
SELECT `+entryColumns+` FROM stock_logs WHERE reference_id = $1 ORDER BY id`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []StockLogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *txRepo) HasCorrectionFor(ctx context.Context, referenceID string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM stock_logs WHERE reference_id = $1 AND entry_type = $2)`,
		referenceID, string(EntryTypeCorrection)).Scan(&exists)
	return exists, err
}

func (r *txRepo) UpdateEntry(ctx context.Context, logID int64, amount decimal.Decimal, note string) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE stock_logs SET amount = $2::numeric, note = $3 WHERE id = $1`, logID, amount.String(), note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (StockLogEntry, error) {
	var (
		entry     StockLogEntry
		amount    string
		entryType string
	)
	if err := row.Scan(&entry.ID, &entry.FarmerID, &amount, &entryType, &entry.ReferenceID, &entry.Note, &entry.CreatedAt); err != nil {
		return StockLogEntry{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return StockLogEntry{}, fmt.Errorf("ledger: parse amount: %w", err)
	}
	entry.Amount = parsed
	entry.Type = EntryType(entryType)
	return entry, nil
}
