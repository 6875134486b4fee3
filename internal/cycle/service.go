package cycle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrilink/agrilink/internal/ledger"
	"github.com/agrilink/agrilink/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOwned(ctx context.Context, officerID, cycleID int64) (Cycle, error)
	Get(ctx context.Context, cycleID int64) (Cycle, error)
	ListActive(ctx context.Context) ([]Cycle, error)
	ListLogs(ctx context.Context, cycleID int64) ([]Log, error)
	ListHistories(ctx context.Context, officerID, farmerID int64) ([]History, error)
	GetHistory(ctx context.Context, officerID, historyID int64) (History, error)
	ListHistoryLogs(ctx context.Context, historyID int64) ([]Log, error)
	DeleteHistory(ctx context.Context, officerID, historyID int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IntakeSource is the external daily feed consumption calculator. Its output
// is an opaque cumulative, non-negative consumption amount for the cycle; the
// algorithm behind it is not this service's concern.
type IntakeSource interface {
	CumulativeIntake(ctx context.Context, c Cycle) (decimal.Decimal, error)
}

// CacheInvalidator bumps read-side caches after a committed mutation.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service governs the cycle lifecycle: active with self-transition amendments
// (mortality, feed sync), then a single terminal transition to archived that
// commits the accumulated consumption against the ledger.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	intake      IntakeSource
	invalidator CacheInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, intake IntakeSource, invalidator CacheInvalidator) *Service {
	return &Service{repo: repo, audit: audit, intake: intake, invalidator: invalidator}
}

// Create inserts a new active cycle. When age exceeds one day the creation
// timestamp is backdated by age-1 days so elapsed-time consumption matches a
// batch that started earlier. One feed sync pass runs right after commit so
// intake reflects the already-elapsed days.
func (s *Service) Create(ctx context.Context, input CreateInput) (Cycle, error) {
	if input.Doc <= 0 {
		return Cycle{}, fmt.Errorf("cycle: bird count must be positive: %w", shared.ErrInvalidArgument)
	}
	if input.Age < 0 {
		return Cycle{}, fmt.Errorf("cycle: age must not be negative: %w", shared.ErrInvalidArgument)
	}
	name := input.Name
	if name == "" {
		name = fmt.Sprintf("Cycle %s", time.Now().Format("2006-01-02"))
	}
	startedAt := time.Now().UTC()
	if input.Age > 1 {
		startedAt = startedAt.AddDate(0, 0, -(input.Age - 1))
	}
	var created Cycle
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.GetBalanceForUpdate(ctx, input.FarmerID)
		if err != nil {
			return err
		}
		if bal.OfficerID != input.OfficerID {
			return fmt.Errorf("cycle: farmer %d not managed by officer: %w", input.FarmerID, shared.ErrNotFound)
		}
		created, err = tx.InsertCycle(ctx, Cycle{
			FarmerID:  input.FarmerID,
			Name:      name,
			Doc:       input.Doc,
			Age:       input.Age,
			CreatedAt: startedAt,
		})
		if err != nil {
			return err
		}
		_, err = tx.InsertLog(ctx, Log{
			CycleID:     created.ID,
			Type:        LogTypeSystem,
			ValueChange: decimal.NewFromInt(int64(input.Doc)),
			Note:        fmt.Sprintf("cycle started with %d birds at age %d", input.Doc, input.Age),
		})
		return err
	})
	if err != nil {
		return Cycle{}, err
	}
	s.record(ctx, input.OfficerID, "cycle:create", created.ID, map[string]any{
		"farmer_id": created.FarmerID,
		"doc":       created.Doc,
		"age":       created.Age,
	})
	// Initial sync pass; failure here leaves intake at zero until the next
	// scheduled pass.
	_, _ = s.SyncOne(ctx, created.ID)
	if refreshed, err := s.repo.GetOwned(ctx, input.OfficerID, created.ID); err == nil {
		created = refreshed
	}
	return created, nil
}

// AddMortality increments the cycle's cumulative mortality. Cumulative
// mortality may not exceed the initial bird count.
func (s *Service) AddMortality(ctx context.Context, input MortalityInput) (Log, error) {
	if input.Amount <= 0 {
		return Log{}, fmt.Errorf("cycle: mortality must be positive: %w", shared.ErrInvalidArgument)
	}
	var log Log
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCycleForUpdate(ctx, input.CycleID)
		if err != nil {
			return err
		}
		if c.OfficerID != input.OfficerID {
			return fmt.Errorf("cycle: cycle %d not managed by officer: %w", input.CycleID, shared.ErrNotFound)
		}
		next := c.Mortality + input.Amount
		if next > c.Doc {
			return fmt.Errorf("cycle: mortality %d exceeds bird count %d: %w", next, c.Doc, shared.ErrInvalidArgument)
		}
		if err := tx.SetMortality(ctx, c.ID, next); err != nil {
			return err
		}
		log, err = tx.InsertLog(ctx, Log{
			CycleID:       c.ID,
			Type:          LogTypeMortality,
			ValueChange:   decimal.NewFromInt(int64(input.Amount)),
			PreviousValue: decimal.NullDecimal{Decimal: decimal.NewFromInt(int64(c.Mortality)), Valid: true},
			NewValue:      decimal.NullDecimal{Decimal: decimal.NewFromInt(int64(next)), Valid: true},
			Note:          input.Reason,
		})
		return err
	})
	if err != nil {
		return Log{}, err
	}
	s.record(ctx, input.OfficerID, "cycle:mortality", input.CycleID, map[string]any{"amount": input.Amount})
	return log, nil
}

// RevertLog undoes one mortality report while the cycle is still active,
// writing a compensating CORRECTION journal entry.
func (s *Service) RevertLog(ctx context.Context, officerID, logID int64) (Log, error) {
	var correction Log
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetLog(ctx, logID)
		if err != nil {
			return err
		}
		if original.Type != LogTypeMortality {
			return fmt.Errorf("cycle: only mortality logs can be reverted: %w", shared.ErrInvalidState)
		}
		if original.CycleID == 0 {
			return fmt.Errorf("cycle: log belongs to an archived cycle: %w", shared.ErrInvalidState)
		}
		reverted, err := tx.HasCorrectionFor(ctx, original.ID)
		if err != nil {
			return err
		}
		if reverted {
			return fmt.Errorf("cycle: mortality report #%d already reverted: %w", original.ID, shared.ErrInvalidState)
		}
		c, err := tx.GetCycleForUpdate(ctx, original.CycleID)
		if err != nil {
			return err
		}
		if c.OfficerID != officerID {
			return fmt.Errorf("cycle: cycle %d not managed by officer: %w", c.ID, shared.ErrNotFound)
		}
		amount := int(original.ValueChange.IntPart())
		next := c.Mortality - amount
		if next < 0 {
			return fmt.Errorf("cycle: mortality already adjusted below this report: %w", shared.ErrInvalidState)
		}
		if err := tx.SetMortality(ctx, c.ID, next); err != nil {
			return err
		}
		correction, err = tx.InsertLog(ctx, Log{
			CycleID:       c.ID,
			Type:          LogTypeCorrection,
			ValueChange:   original.ValueChange.Neg(),
			PreviousValue: decimal.NullDecimal{Decimal: decimal.NewFromInt(int64(c.Mortality)), Valid: true},
			NewValue:      decimal.NullDecimal{Decimal: decimal.NewFromInt(int64(next)), Valid: true},
			RefLogID:      original.ID,
			Note:          fmt.Sprintf("reverted mortality report #%d", original.ID),
		})
		return err
	})
	if err != nil {
		return Log{}, err
	}
	s.record(ctx, officerID, "cycle:revert_log", logID, nil)
	return correction, nil
}

// End archives the cycle and commits its consumption against the ledger. All
// steps run in one transaction: no concurrent reader ever observes a history
// row without its matching CYCLE_CLOSE entry, or the reverse.
func (s *Service) End(ctx context.Context, input EndInput) (History, error) {
	if input.Intake.IsNegative() {
		return History{}, fmt.Errorf("cycle: intake must not be negative: %w", shared.ErrInvalidArgument)
	}
	endedAt := time.Now().UTC()
	var archived History
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCycleForUpdate(ctx, input.CycleID)
		if err != nil {
			return err
		}
		if c.OfficerID != input.OfficerID {
			return fmt.Errorf("cycle: cycle %d not managed by officer: %w", input.CycleID, shared.ErrNotFound)
		}
		bal, err := tx.GetBalanceForUpdate(ctx, c.FarmerID)
		if err != nil {
			return err
		}
		archived, err = tx.InsertHistory(ctx, History{
			FarmerID:    c.FarmerID,
			OrgID:       c.OrgID,
			Name:        c.Name,
			Doc:         c.Doc,
			Mortality:   c.Mortality,
			FinalIntake: input.Intake,
			Age:         c.Age,
			StartDate:   c.CreatedAt,
			EndDate:     endedAt,
		})
		if err != nil {
			return err
		}
		if err := tx.RepointLogs(ctx, c.ID, archived.ID); err != nil {
			return err
		}
		if _, err := tx.InsertLog(ctx, Log{
			HistoryID:   archived.ID,
			Type:        LogTypeSystem,
			ValueChange: input.Intake,
			Note:        fmt.Sprintf("cycle closed, total consumption %s", input.Intake),
		}); err != nil {
			return err
		}
		// The moment provisional consumption becomes a permanent ledger fact.
		if err := tx.CommitConsumption(ctx, c.FarmerID,
			bal.MainStock.Sub(input.Intake),
			bal.TotalConsumed.Add(input.Intake)); err != nil {
			return err
		}
		if err := tx.InsertStockEntry(ctx, ledger.StockLogEntry{
			FarmerID:    c.FarmerID,
			Amount:      input.Intake.Neg(),
			Type:        ledger.EntryTypeCycleClose,
			ReferenceID: "history-" + strconv.FormatInt(archived.ID, 10),
			Note: fmt.Sprintf("%s (%s to %s)", c.Name,
				c.CreatedAt.Format("2006-01-02"), endedAt.Format("2006-01-02")),
		}); err != nil {
			return err
		}
		return tx.DeleteCycle(ctx, c.ID)
	})
	if err != nil {
		return History{}, err
	}
	s.record(ctx, input.OfficerID, "cycle:end", input.CycleID, map[string]any{
		"history_id":   archived.ID,
		"final_intake": archived.FinalIntake.String(),
	})
	s.bump(ctx)
	return archived, nil
}

// SyncOne refreshes intake and age for a single cycle from the external
// calculator, journaling the change as a FEED entry. The calculator is called
// before the transaction opens so the cycle row lock never waits on network
// I/O; the cycle is re-read under the lock before anything is written.
func (s *Service) SyncOne(ctx context.Context, cycleID int64) (Cycle, error) {
	if s.intake == nil {
		return Cycle{}, fmt.Errorf("cycle: intake source not configured")
	}
	snapshot, err := s.repo.Get(ctx, cycleID)
	if err != nil {
		return Cycle{}, err
	}
	target, err := s.intake.CumulativeIntake(ctx, snapshot)
	if err != nil {
		return Cycle{}, err
	}
	if target.IsNegative() {
		return Cycle{}, fmt.Errorf("cycle: calculator returned negative intake %s: %w", target, shared.ErrInvalidArgument)
	}
	var synced Cycle
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCycleForUpdate(ctx, cycleID)
		if err != nil {
			return err
		}
		age := ageOf(c)
		if target.Equal(c.Intake) && age == c.Age {
			synced = c
			return nil
		}
		if err := tx.SetIntake(ctx, c.ID, target, age); err != nil {
			return err
		}
		if !target.Equal(c.Intake) {
			if _, err := tx.InsertLog(ctx, Log{
				CycleID:       c.ID,
				Type:          LogTypeFeed,
				ValueChange:   target.Sub(c.Intake),
				PreviousValue: decimal.NullDecimal{Decimal: c.Intake, Valid: true},
				NewValue:      decimal.NullDecimal{Decimal: target, Valid: true},
				Note:          "feed sync",
			}); err != nil {
				return err
			}
		}
		synced = c
		synced.Intake = target
		synced.Age = age
		return nil
	})
	if err != nil {
		return Cycle{}, err
	}
	s.bump(ctx)
	return synced, nil
}

// SyncAll runs the feed sync pass over every active cycle. A failing cycle is
// skipped rather than aborting the pass; the first error is returned alongside
// the refreshed count.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	cycles, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	var synced int
	var firstErr error
	for _, c := range cycles {
		if _, err := s.SyncOne(ctx, c.ID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("cycle %d: %w", c.ID, err)
			}
			continue
		}
		synced++
	}
	return synced, firstErr
}

// Get fetches an active cycle with its journal.
func (s *Service) Get(ctx context.Context, officerID, cycleID int64) (Cycle, []Log, error) {
	c, err := s.repo.GetOwned(ctx, officerID, cycleID)
	if err != nil {
		return Cycle{}, nil, err
	}
	logs, err := s.repo.ListLogs(ctx, cycleID)
	if err != nil {
		return Cycle{}, nil, err
	}
	return c, logs, nil
}

// ListHistories returns a farmer's archived cycles.
func (s *Service) ListHistories(ctx context.Context, officerID, farmerID int64) ([]History, error) {
	return s.repo.ListHistories(ctx, officerID, farmerID)
}

// GetHistory fetches an archived cycle with its carried-over journal.
func (s *Service) GetHistory(ctx context.Context, officerID, historyID int64) (History, []Log, error) {
	h, err := s.repo.GetHistory(ctx, officerID, historyID)
	if err != nil {
		return History{}, nil, err
	}
	logs, err := s.repo.ListHistoryLogs(ctx, historyID)
	if err != nil {
		return History{}, nil, err
	}
	return h, logs, nil
}

// DeleteHistory irreversibly removes an archived record. The ledger entries
// written at close time stay: deleting the archive does not unspend the feed.
func (s *Service) DeleteHistory(ctx context.Context, officerID, historyID int64) error {
	if err := s.repo.DeleteHistory(ctx, officerID, historyID); err != nil {
		return err
	}
	s.record(ctx, officerID, "cycle:delete_history", historyID, nil)
	return nil
}

func (s *Service) record(ctx context.Context, officerID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OfficerID: officerID,
		Action:    action,
		Entity:    "cycle",
		EntityID:  strconv.FormatInt(entityID, 10),
		Meta:      meta,
	})
}

func (s *Service) bump(ctx context.Context) {
	if s.invalidator != nil {
		_ = s.invalidator.Bump(ctx)
	}
}

// ageOf derives the cycle's age in days from its (possibly backdated) start.
func ageOf(c Cycle) int {
	days := int(time.Since(c.CreatedAt).Hours()/24) + 1
	if days < c.Age {
		return c.Age
	}
	return days
}
