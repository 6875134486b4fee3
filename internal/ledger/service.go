package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agrilink/agrilink/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]StockLogEntry, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator bumps read-side caches after a committed mutation.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service coordinates ledger operations. Every public operation executes as
// one database transaction; concurrency safety comes from the FOR UPDATE row
// lock taken on the farmer balance before any conditional write.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	invalidator CacheInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, invalidator CacheInvalidator) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, invalidator: invalidator}
}

// AddStock increments the farmer's balance and appends a RESTOCK entry.
func (s *Service) AddStock(ctx context.Context, input AddStockInput) (StockLogEntry, error) {
	if !input.Amount.IsPositive() {
		return StockLogEntry{}, fmt.Errorf("ledger: amount must be positive: %w", shared.ErrInvalidArgument)
	}
	return s.postSigned(ctx, signedPost{
		OfficerID:  input.OfficerID,
		FarmerID:   input.FarmerID,
		Amount:     input.Amount,
		Type:       EntryTypeRestock,
		Note:       input.Note,
		RequestKey: input.RequestKey,
		Action:     "ledger:add",
	})
}

// DeductStock decrements the farmer's balance and appends a negative
// CORRECTION entry. No non-negative floor is enforced: callers are trusted to
// have validated against availability upstream, and the reconciliation job
// flags negative balances.
func (s *Service) DeductStock(ctx context.Context, input DeductStockInput) (StockLogEntry, error) {
	if !input.Amount.IsPositive() {
		return StockLogEntry{}, fmt.Errorf("ledger: amount must be positive: %w", shared.ErrInvalidArgument)
	}
	return s.postSigned(ctx, signedPost{
		OfficerID:  input.OfficerID,
		FarmerID:   input.FarmerID,
		Amount:     input.Amount.Neg(),
		Type:       EntryTypeCorrection,
		Note:       input.Note,
		RequestKey: input.RequestKey,
		Action:     "ledger:deduct",
	})
}

type signedPost struct {
	OfficerID  int64
	FarmerID   int64
	Amount     decimal.Decimal
	Type       EntryType
	Note       string
	RequestKey string
	Action     string
}

func (s *Service) postSigned(ctx context.Context, post signedPost) (StockLogEntry, error) {
	release, err := s.claimKey(ctx, post.RequestKey)
	if err != nil {
		return StockLogEntry{}, err
	}
	var created StockLogEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.GetBalanceForUpdate(ctx, post.FarmerID)
		if err != nil {
			return err
		}
		if bal.OfficerID != post.OfficerID {
			return fmt.Errorf("ledger: farmer %d not managed by officer: %w", post.FarmerID, shared.ErrNotFound)
		}
		if err := tx.SetMainStock(ctx, post.FarmerID, bal.MainStock.Add(post.Amount)); err != nil {
			return err
		}
		created, err = tx.InsertEntry(ctx, StockLogEntry{
			FarmerID: post.FarmerID,
			Amount:   post.Amount,
			Type:     post.Type,
			Note:     post.Note,
		})
		return err
	})
	if err != nil {
		release()
		return StockLogEntry{}, err
	}
	s.afterCommit(ctx, post.OfficerID, post.Action, created)
	return created, nil
}

// Transfer moves stock between two farmers atomically. Both sides share one
// generated reference id and sum to zero. The source balance is checked under
// the row lock, so two racing transfers cannot jointly overdraw it.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if !input.Amount.IsPositive() {
		return TransferResult{}, fmt.Errorf("ledger: amount must be positive: %w", shared.ErrInvalidArgument)
	}
	if input.SourceFarmerID == input.TargetFarmerID {
		return TransferResult{}, fmt.Errorf("ledger: cannot transfer to the same farmer: %w", shared.ErrInvalidArgument)
	}
	release, err := s.claimKey(ctx, input.RequestKey)
	if err != nil {
		return TransferResult{}, err
	}
	referenceID := uuid.NewString()
	var result TransferResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// Lock both balances in id order to avoid lock-order deadlocks.
		ids := []int64{input.SourceFarmerID, input.TargetFarmerID}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		balances := make(map[int64]Balance, 2)
		for _, id := range ids {
			bal, err := tx.GetBalanceForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if bal.OfficerID != input.OfficerID {
				return fmt.Errorf("ledger: farmer %d not managed by officer: %w", id, shared.ErrNotFound)
			}
			balances[id] = bal
		}
		source := balances[input.SourceFarmerID]
		target := balances[input.TargetFarmerID]
		if source.MainStock.LessThan(input.Amount) {
			return fmt.Errorf("ledger: balance %s below transfer amount %s: %w",
				source.MainStock, input.Amount, shared.ErrInsufficientStock)
		}
		if err := tx.SetMainStock(ctx, source.FarmerID, source.MainStock.Sub(input.Amount)); err != nil {
			return err
		}
		if err := tx.SetMainStock(ctx, target.FarmerID, target.MainStock.Add(input.Amount)); err != nil {
			return err
		}
		out, err := tx.InsertEntry(ctx, StockLogEntry{
			FarmerID:    source.FarmerID,
			Amount:      input.Amount.Neg(),
			Type:        EntryTypeTransferOut,
			ReferenceID: referenceID,
			Note:        input.Note,
		})
		if err != nil {
			return err
		}
		in, err := tx.InsertEntry(ctx, StockLogEntry{
			FarmerID:    target.FarmerID,
			Amount:      input.Amount,
			Type:        EntryTypeTransferIn,
			ReferenceID: referenceID,
			Note:        input.Note,
		})
		if err != nil {
			return err
		}
		result = TransferResult{ReferenceID: referenceID, Out: out, In: in}
		return nil
	})
	if err != nil {
		release()
		return TransferResult{}, err
	}
	s.afterCommit(ctx, input.OfficerID, "ledger:transfer", result.Out)
	return result, nil
}

// RevertEntry appends a CORRECTION negating the original entry and adjusts the
// balance accordingly. The original entry is untouched. CYCLE_CLOSE entries
// must be undone by reopening the cycle, and corrections cannot be corrected
// again, which keeps reversal chains bounded.
func (s *Service) RevertEntry(ctx context.Context, input RevertInput) (StockLogEntry, error) {
	var created StockLogEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntry(ctx, input.LogID)
		if err != nil {
			return err
		}
		switch original.Type {
		case EntryTypeCycleClose:
			return fmt.Errorf("ledger: cycle close entries are reverted by reopening the cycle: %w", shared.ErrInvalidState)
		case EntryTypeCorrection:
			return fmt.Errorf("ledger: corrections cannot be reverted: %w", shared.ErrInvalidState)
		}
		reference := referenceOf(original)
		reverted, err := tx.HasCorrectionFor(ctx, reference)
		if err != nil {
			return err
		}
		if reverted {
			return fmt.Errorf("ledger: entry %d already reverted: %w", original.ID, shared.ErrInvalidState)
		}
		// Ownership is re-derived from the entry's farmer at call time.
		bal, err := tx.GetBalanceForUpdate(ctx, original.FarmerID)
		if err != nil {
			return err
		}
		if bal.OfficerID != input.OfficerID {
			return fmt.Errorf("ledger: farmer %d not managed by officer: %w", original.FarmerID, shared.ErrForbidden)
		}
		if err := tx.SetMainStock(ctx, original.FarmerID, bal.MainStock.Add(original.Amount.Neg())); err != nil {
			return err
		}
		created, err = tx.InsertEntry(ctx, StockLogEntry{
			FarmerID:    original.FarmerID,
			Amount:      original.Amount.Neg(),
			Type:        EntryTypeCorrection,
			ReferenceID: reference,
			Note:        input.Note,
		})
		return err
	})
	if err != nil {
		return StockLogEntry{}, err
	}
	s.afterCommit(ctx, input.OfficerID, "ledger:revert", created)
	return created, nil
}

// RevertTransfer reverses both sides of a recorded transfer in one
// transaction. It fails closed when the reference groups anything other than
// the two transfer legs, or when the caller does not manage every farmer
// involved.
func (s *Service) RevertTransfer(ctx context.Context, officerID int64, referenceID, note string) ([]StockLogEntry, error) {
	if referenceID == "" {
		return nil, fmt.Errorf("ledger: reference required: %w", shared.ErrInvalidArgument)
	}
	var corrections []StockLogEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries, err := tx.EntriesByReference(ctx, referenceID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("ledger: no entries for reference %s: %w", referenceID, shared.ErrNotFound)
		}
		farmerIDs := make([]int64, 0, len(entries))
		for _, entry := range entries {
			if entry.Type != EntryTypeTransferIn && entry.Type != EntryTypeTransferOut {
				return fmt.Errorf("ledger: reference %s is not a clean transfer pair: %w", referenceID, shared.ErrInvalidState)
			}
			farmerIDs = append(farmerIDs, entry.FarmerID)
		}
		sort.Slice(farmerIDs, func(i, j int) bool { return farmerIDs[i] < farmerIDs[j] })
		balances := make(map[int64]Balance, len(farmerIDs))
		for _, id := range farmerIDs {
			if _, ok := balances[id]; ok {
				continue
			}
			bal, err := tx.GetBalanceForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if bal.OfficerID != officerID {
				return fmt.Errorf("ledger: farmer %d not managed by officer: %w", id, shared.ErrForbidden)
			}
			balances[id] = bal
		}
		for _, entry := range entries {
			bal := balances[entry.FarmerID]
			bal.MainStock = bal.MainStock.Add(entry.Amount.Neg())
			balances[entry.FarmerID] = bal
			if err := tx.SetMainStock(ctx, entry.FarmerID, bal.MainStock); err != nil {
				return err
			}
			correction, err := tx.InsertEntry(ctx, StockLogEntry{
				FarmerID:    entry.FarmerID,
				Amount:      entry.Amount.Neg(),
				Type:        EntryTypeCorrection,
				ReferenceID: referenceID,
				Note:        note,
			})
			if err != nil {
				return err
			}
			corrections = append(corrections, correction)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OfficerID: officerID,
			Action:    "ledger:revert_transfer",
			Entity:    "stock_log",
			EntityID:  referenceID,
			Meta:      map[string]any{"corrections": len(corrections)},
		})
	}
	s.bump(ctx)
	return corrections, nil
}

// CorrectEntry amends a non-CYCLE_CLOSE entry's stored amount in place and
// nudges the farmer's balance by the delta. A zero delta updates the note
// only.
func (s *Service) CorrectEntry(ctx context.Context, input CorrectInput) (StockLogEntry, error) {
	var corrected StockLogEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntry(ctx, input.LogID)
		if err != nil {
			return err
		}
		if original.Type == EntryTypeCycleClose {
			return fmt.Errorf("ledger: cycle close entries cannot be amended: %w", shared.ErrInvalidState)
		}
		bal, err := tx.GetBalanceForUpdate(ctx, original.FarmerID)
		if err != nil {
			return err
		}
		if bal.OfficerID != input.OfficerID {
			return fmt.Errorf("ledger: farmer %d not managed by officer: %w", original.FarmerID, shared.ErrForbidden)
		}
		note := input.Note
		if note == "" {
			note = original.Note
		}
		delta := input.NewAmount.Sub(original.Amount)
		if err := tx.UpdateEntry(ctx, original.ID, input.NewAmount, note); err != nil {
			return err
		}
		if !delta.IsZero() {
			if err := tx.SetMainStock(ctx, original.FarmerID, bal.MainStock.Add(delta)); err != nil {
				return err
			}
		}
		corrected = original
		corrected.Amount = input.NewAmount
		corrected.Note = note
		return nil
	})
	if err != nil {
		return StockLogEntry{}, err
	}
	s.afterCommit(ctx, input.OfficerID, "ledger:correct", corrected)
	return corrected, nil
}

// ListEntries returns the ledger lines for one of the officer's farmers.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]StockLogEntry, shared.Pagination, error) {
	if filter.OfficerID == 0 {
		return nil, shared.Pagination{}, fmt.Errorf("ledger: officer required: %w", shared.ErrForbidden)
	}
	entries, total, err := s.repo.ListEntries(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// referenceOf returns the grouping token a correction stores to point back at
// the entry it reverses: transfer legs keep their shared reference so a later
// RevertTransfer fails closed, standalone entries get a synthetic token.
func referenceOf(entry StockLogEntry) string {
	if entry.ReferenceID != "" {
		return entry.ReferenceID
	}
	return "log-" + strconv.FormatInt(entry.ID, 10)
}

func (s *Service) claimKey(ctx context.Context, key string) (func(), error) {
	if s.idempotency == nil || key == "" {
		return func() {}, nil
	}
	if err := s.idempotency.Claim(ctx, key, shared.IdemScopeLedger); err != nil {
		return nil, err
	}
	return func() { _ = s.idempotency.Release(ctx, key) }, nil
}

func (s *Service) afterCommit(ctx context.Context, officerID int64, action string, entry StockLogEntry) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OfficerID: officerID,
			Action:    action,
			Entity:    "stock_log",
			EntityID:  strconv.FormatInt(entry.ID, 10),
			Meta: map[string]any{
				"farmer_id": entry.FarmerID,
				"amount":    entry.Amount.String(),
				"type":      string(entry.Type),
			},
		})
	}
	s.bump(ctx)
}

func (s *Service) bump(ctx context.Context) {
	if s.invalidator != nil {
		_ = s.invalidator.Bump(ctx)
	}
}
