package cycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/agrilink/agrilink/internal/ledger"
	"github.com/agrilink/agrilink/internal/platform/db"
	"github.com/agrilink/agrilink/internal/shared"
)

// Repository persists cycles, histories and journal logs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. End runs
// its seven steps against this interface inside one WithTx callback so the
// archive, the journal re-point, the ledger debit and the cycle delete commit
// together.
type TxRepository interface {
	GetCycleForUpdate(ctx context.Context, cycleID int64) (Cycle, error)
	GetBalanceForUpdate(ctx context.Context, farmerID int64) (ledger.Balance, error)
	InsertCycle(ctx context.Context, c Cycle) (Cycle, error)
	SetMortality(ctx context.Context, cycleID int64, mortality int) error
	SetIntake(ctx context.Context, cycleID int64, intake decimal.Decimal, age int) error
	DeleteCycle(ctx context.Context, cycleID int64) error
	InsertHistory(ctx context.Context, h History) (History, error)
	RepointLogs(ctx context.Context, cycleID, historyID int64) error
	InsertLog(ctx context.Context, log Log) (Log, error)
	GetLog(ctx context.Context, logID int64) (Log, error)
	HasCorrectionFor(ctx context.Context, logID int64) (bool, error)
	CommitConsumption(ctx context.Context, farmerID int64, mainStock, totalConsumed decimal.Decimal) error
	InsertStockEntry(ctx context.Context, entry ledger.StockLogEntry) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("cycle repo not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const cycleColumns = `c.id, c.farmer_id, c.org_id, f.officer_id, c.name, c.doc, c.mortality, c.intake::text, c.age, c.created_at, c.updated_at`

// GetOwned fetches one active cycle managed by the officer.
func (r *Repository) GetOwned(ctx context.Context, officerID, cycleID int64) (Cycle, error) {
	if r == nil || r.pool == nil {
		return Cycle{}, fmt.Errorf("cycle repo not initialised")
	}
	row := r.pool.QueryRow(ctx, `
SELECT `+cycleColumns+`
FROM cycles c JOIN farmers f ON f.id = c.farmer_id
WHERE c.id = $1 AND f.officer_id = $2`, cycleID, officerID)
	c, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cycle{}, shared.ErrNotFound
		}
		return Cycle{}, err
	}
	return c, nil
}

// Get fetches one active cycle regardless of officer, for worker-driven syncs.
func (r *Repository) Get(ctx context.Context, cycleID int64) (Cycle, error) {
	if r == nil || r.pool == nil {
		return Cycle{}, fmt.Errorf("cycle repo not initialised")
	}
	row := r.pool.QueryRow(ctx, `
SELECT `+cycleColumns+`
FROM cycles c JOIN farmers f ON f.id = c.farmer_id
WHERE c.id = $1`, cycleID)
	c, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cycle{}, shared.ErrNotFound
		}
		return Cycle{}, err
	}
	return c, nil
}

// ListActive returns every active cycle, for the periodic feed sync pass.
func (r *Repository) ListActive(ctx context.Context) ([]Cycle, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("cycle repo not initialised")
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+cycleColumns+`
FROM cycles c JOIN farmers f ON f.id = c.farmer_id
ORDER BY c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cycles []Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

const logColumns = `id, COALESCE(cycle_id, 0), COALESCE(history_id, 0), log_type, value_change::text, previous_value::text, new_value::text, COALESCE(ref_log_id, 0), COALESCE(note, ''), created_at`

// ListLogs returns the journal for an active cycle, oldest first.
func (r *Repository) ListLogs(ctx context.Context, cycleID int64) ([]Log, error) {
	return r.listLogsBy(ctx, `cycle_id`, cycleID)
}

// ListHistoryLogs returns the journal carried over to an archived cycle.
func (r *Repository) ListHistoryLogs(ctx context.Context, historyID int64) ([]Log, error) {
	return r.listLogsBy(ctx, `history_id`, historyID)
}

func (r *Repository) listLogsBy(ctx context.Context, column string, id int64) ([]Log, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("cycle repo not initialised")
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+logColumns+` FROM cycle_logs WHERE `+column+` = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []Log
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

const historyColumns = `h.id, h.farmer_id, h.org_id, f.officer_id, h.name, h.doc, h.mortality, h.final_intake::text, h.age, h.start_date, h.end_date, h.created_at`

// ListHistories returns archived cycles for one of the officer's farmers.
func (r *Repository) ListHistories(ctx context.Context, officerID, farmerID int64) ([]History, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("cycle repo not initialised")
	}
	rows, err := r.pool.Query(ctx, `
SELECT `+historyColumns+`
FROM cycle_histories h JOIN farmers f ON f.id = h.farmer_id
WHERE h.farmer_id = $1 AND f.officer_id = $2
ORDER BY h.end_date DESC`, farmerID, officerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var histories []History
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		histories = append(histories, h)
	}
	return histories, rows.Err()
}

// GetHistory fetches one archived cycle managed by the officer.
func (r *Repository) GetHistory(ctx context.Context, officerID, historyID int64) (History, error) {
	if r == nil || r.pool == nil {
		return History{}, fmt.Errorf("cycle repo not initialised")
	}
	row := r.pool.QueryRow(ctx, `
SELECT `+historyColumns+`
FROM cycle_histories h JOIN farmers f ON f.id = h.farmer_id
WHERE h.id = $1 AND f.officer_id = $2`, historyID, officerID)
	h, err := scanHistory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return History{}, shared.ErrNotFound
		}
		return History{}, err
	}
	return h, nil
}

// DeleteHistory hard-deletes an archived record owned by the officer; the
// journal rows cascade. The ledger entries written at close time are
// untouched.
func (r *Repository) DeleteHistory(ctx context.Context, officerID, historyID int64) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("cycle repo not initialised")
	}
	tag, err := r.pool.Exec(ctx, `
DELETE FROM cycle_histories h
USING farmers f
WHERE h.id = $1 AND f.id = h.farmer_id AND f.officer_id = $2`, historyID, officerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) GetCycleForUpdate(ctx context.Context, cycleID int64) (Cycle, error) {
	// Lock the cycle row first, then read the officer from the farmer; the
	// farmer row itself is locked separately where the balance is written.
	row := r.tx.QueryRow(ctx, `
SELECT `+cycleColumns+`
FROM cycles c JOIN farmers f ON f.id = c.farmer_id
WHERE c.id = $1
FOR UPDATE OF c`, cycleID)
	c, err := scanCycle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cycle{}, shared.ErrNotFound
		}
		return Cycle{}, err
	}
	return c, nil
}

func (r *txRepo) GetBalanceForUpdate(ctx context.Context, farmerID int64) (ledger.Balance, error) {
	row := r.tx.QueryRow(ctx, `
SELECT id, officer_id, main_stock::text, total_consumed::text
FROM farmers
WHERE id = $1
FOR UPDATE`, farmerID)
	var (
		bal                 ledger.Balance
		mainStock, consumed string
	)
	if err := row.Scan(&bal.FarmerID, &bal.OfficerID, &mainStock, &consumed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Balance{}, shared.ErrNotFound
		}
		return ledger.Balance{}, err
	}
	var err error
	if bal.MainStock, err = decimal.NewFromString(mainStock); err != nil {
		return ledger.Balance{}, fmt.Errorf("cycle: parse main_stock: %w", err)
	}
	if bal.TotalConsumed, err = decimal.NewFromString(consumed); err != nil {
		return ledger.Balance{}, fmt.Errorf("cycle: parse total_consumed: %w", err)
	}
	return bal, nil
}

func (r *txRepo) InsertCycle(ctx context.Context, c Cycle) (Cycle, error) {
	// org_id is sourced from the farmer row so the two can never disagree.
	row := r.tx.QueryRow(ctx, `
WITH inserted AS (
	INSERT INTO cycles (farmer_id, org_id, name, doc, mortality, intake, age, created_at)
	SELECT f.id, f.org_id, $2, $3, 0, 0, $4, $5 FROM farmers f WHERE f.id = $1
	RETURNING *
)
SELECT `+cycleColumns+`
FROM inserted c JOIN farmers f ON f.id = c.farmer_id`,
		c.FarmerID, c.Name, c.Doc, c.Age, c.CreatedAt)
	return scanCycle(row)
}

func (r *txRepo) SetMortality(ctx context.Context, cycleID int64, mortality int) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE cycles SET mortality = $2, updated_at = NOW() WHERE id = $1`, cycleID, mortality)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) SetIntake(ctx context.Context, cycleID int64, intake decimal.Decimal, age int) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE cycles SET intake = $2::numeric, age = $3, updated_at = NOW() WHERE id = $1`,
		cycleID, intake.String(), age)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) DeleteCycle(ctx context.Context, cycleID int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM cycles WHERE id = $1`, cycleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertHistory(ctx context.Context, h History) (History, error) {
	row := r.tx.QueryRow(ctx, `
WITH inserted AS (
	INSERT INTO cycle_histories (farmer_id, org_id, name, doc, mortality, final_intake, age, start_date, end_date)
	VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9)
	RETURNING *
)
SELECT `+historyColumns+`
FROM inserted h JOIN farmers f ON f.id = h.farmer_id`,
		h.FarmerID, h.OrgID, h.Name, h.Doc, h.Mortality, h.FinalIntake.String(), h.Age, h.StartDate, h.EndDate)
	return scanHistory(row)
}

func (r *txRepo) RepointLogs(ctx context.Context, cycleID, historyID int64) error {
	_, err := r.tx.Exec(ctx, `
UPDATE cycle_logs SET cycle_id = NULL, history_id = $2 WHERE cycle_id = $1`, cycleID, historyID)
	return err
}

func (r *txRepo) InsertLog(ctx context.Context, log Log) (Log, error) {
	row := r.tx.QueryRow(ctx, `
INSERT INTO cycle_logs (cycle_id, history_id, log_type, value_change, previous_value, new_value, ref_log_id, note)
VALUES (NULLIF($1, 0), NULLIF($2, 0), $3, $4::numeric, $5::numeric, $6::numeric, NULLIF($7, 0), $8)
RETURNING `+logColumns,
		log.CycleID, log.HistoryID, string(log.Type), log.ValueChange.String(),
		nullDecimalArg(log.PreviousValue), nullDecimalArg(log.NewValue), log.RefLogID, log.Note)
	return scanLog(row)
}

// HasCorrectionFor reports whether a correction already points back at the
// given journal entry.
func (r *txRepo) HasCorrectionFor(ctx context.Context, logID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM cycle_logs WHERE log_type = 'CORRECTION' AND ref_log_id = $1)`, logID).Scan(&exists)
	return exists, err
}

func (r *txRepo) GetLog(ctx context.Context, logID int64) (Log, error) {
	row := r.tx.QueryRow(ctx, `
SELECT `+logColumns+` FROM cycle_logs WHERE id = $1`, logID)
	log, err := scanLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Log{}, shared.ErrNotFound
		}
		return Log{}, err
	}
	return log, nil
}

func (r *txRepo) CommitConsumption(ctx context.Context, farmerID int64, mainStock, totalConsumed decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE farmers SET main_stock = $2::numeric, total_consumed = $3::numeric, updated_at = NOW() WHERE id = $1`,
		farmerID, mainStock.String(), totalConsumed.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertStockEntry(ctx context.Context, entry ledger.StockLogEntry) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO stock_logs (farmer_id, amount, entry_type, reference_id, note)
VALUES ($1, $2::numeric, $3, NULLIF($4, ''), $5)`,
		entry.FarmerID, entry.Amount.String(), string(entry.Type), entry.ReferenceID, entry.Note)
	return err
}

func nullDecimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func scanCycle(row pgx.Row) (Cycle, error) {
	var (
		c      Cycle
		intake string
	)
	if err := row.Scan(&c.ID, &c.FarmerID, &c.OrgID, &c.OfficerID, &c.Name, &c.Doc, &c.Mortality, &intake, &c.Age, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Cycle{}, err
	}
	parsed, err := decimal.NewFromString(intake)
	if err != nil {
		return Cycle{}, fmt.Errorf("cycle: parse intake: %w", err)
	}
	c.Intake = parsed
	return c, nil
}

func scanHistory(row pgx.Row) (History, error) {
	var (
		h      History
		intake string
	)
	if err := row.Scan(&h.ID, &h.FarmerID, &h.OrgID, &h.OfficerID, &h.Name, &h.Doc, &h.Mortality, &intake, &h.Age, &h.StartDate, &h.EndDate, &h.CreatedAt); err != nil {
		return History{}, err
	}
	parsed, err := decimal.NewFromString(intake)
	if err != nil {
		return History{}, fmt.Errorf("cycle: parse final_intake: %w", err)
	}
	h.FinalIntake = parsed
	return h, nil
}

func scanLog(row pgx.Row) (Log, error) {
	var (
		log                Log
		logType            string
		valueChange        string
		prevValue, newValue *string
	)
	if err := row.Scan(&log.ID, &log.CycleID, &log.HistoryID, &logType, &valueChange, &prevValue, &newValue, &log.RefLogID, &log.Note, &log.CreatedAt); err != nil {
		return Log{}, err
	}
	log.Type = LogType(logType)
	parsed, err := decimal.NewFromString(valueChange)
	if err != nil {
		return Log{}, fmt.Errorf("cycle: parse value_change: %w", err)
	}
	log.ValueChange = parsed
	if log.PreviousValue, err = parseNullDecimal(prevValue); err != nil {
		return Log{}, err
	}
	if log.NewValue, err = parseNullDecimal(newValue); err != nil {
		return Log{}, err
	}
	return log, nil
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	parsed, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("cycle: parse decimal: %w", err)
	}
	return decimal.NullDecimal{Decimal: parsed, Valid: true}, nil
}
