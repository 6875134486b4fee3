package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/agrilink/agrilink/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	balances map[int64]Balance
	entries  []StockLogEntry
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: make(map[int64]Balance)}
}

// seedFarmer registers a balance the way farmer registration does: a nonzero
// opening balance is backed by an INITIAL entry so the ledger sum matches from
// the start.
func (r *memoryRepo) seedFarmer(farmerID, officerID int64, stock string) {
	amount, _ := decimal.NewFromString(stock)
	r.balances[farmerID] = Balance{FarmerID: farmerID, OfficerID: officerID, MainStock: amount}
	if !amount.IsZero() {
		r.nextID++
		r.entries = append(r.entries, StockLogEntry{
			ID:        r.nextID,
			FarmerID:  farmerID,
			Amount:    amount,
			Type:      EntryTypeInitial,
			CreatedAt: time.Now().UTC(),
		})
	}
}

type memoryTx struct {
	repo *memoryRepo
}

// WithTx serialises callers and restores the snapshot on error, mirroring a
// rolled-back database transaction.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	balancesBackup := make(map[int64]Balance, len(r.balances))
	for k, v := range r.balances {
		balancesBackup[k] = v
	}
	entriesBackup := make([]StockLogEntry, len(r.entries))
	copy(entriesBackup, r.entries)
	idBackup := r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.balances = balancesBackup
		r.entries = entriesBackup
		r.nextID = idBackup
		return err
	}
	return nil
}

func (r *memoryRepo) ListEntries(ctx context.Context, filter EntryFilter) ([]StockLogEntry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bal, ok := r.balances[filter.FarmerID]
	if !ok || bal.OfficerID != filter.OfficerID {
		return nil, 0, shared.ErrNotFound
	}
	var matched []StockLogEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].FarmerID == filter.FarmerID {
			matched = append(matched, r.entries[i])
		}
	}
	return matched, len(matched), nil
}

func (tx *memoryTx) GetBalanceForUpdate(ctx context.Context, farmerID int64) (Balance, error) {
	bal, ok := tx.repo.balances[farmerID]
	if !ok {
		return Balance{}, shared.ErrNotFound
	}
	return bal, nil
}

func (tx *memoryTx) SetMainStock(ctx context.Context, farmerID int64, mainStock decimal.Decimal) error {
	bal, ok := tx.repo.balances[farmerID]
	if !ok {
		return shared.ErrNotFound
	}
	bal.MainStock = mainStock
	tx.repo.balances[farmerID] = bal
	return nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry StockLogEntry) (StockLogEntry, error) {
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	entry.CreatedAt = time.Now().UTC()
	tx.repo.entries = append(tx.repo.entries, entry)
	return entry, nil
}

func (tx *memoryTx) GetEntry(ctx context.Context, logID int64) (StockLogEntry, error) {
	for _, entry := range tx.repo.entries {
		if entry.ID == logID {
			return entry, nil
		}
	}
	return StockLogEntry{}, shared.ErrNotFound
}

func (tx *memoryTx) EntriesByReference(ctx context.Context, referenceID string) ([]StockLogEntry, error) {
	var matched []StockLogEntry
	for _, entry := range tx.repo.entries {
		if entry.ReferenceID == referenceID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func (tx *memoryTx) HasCorrectionFor(ctx context.Context, referenceID string) (bool, error) {
	for _, entry := range tx.repo.entries {
		if entry.ReferenceID == referenceID && entry.Type == EntryTypeCorrection {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) UpdateEntry(ctx context.Context, logID int64, amount decimal.Decimal, note string) error {
	for i, entry := range tx.repo.entries {
		if entry.ID == logID {
			tx.repo.entries[i].Amount = amount
			tx.repo.entries[i].Note = note
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRepo) ledgerSum(farmerID int64) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := decimal.Zero
	for _, entry := range r.entries {
		if entry.FarmerID == farmerID {
			sum = sum.Add(entry.Amount)
		}
	}
	return sum
}

func (r *memoryRepo) mainStock(farmerID int64) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[farmerID].MainStock
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestAddAndDeductStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "0")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	entry, err := svc.AddStock(ctx, AddStockInput{OfficerID: 10, FarmerID: 1, Amount: dec(t, "100.5")})
	require.NoError(t, err)
	require.Equal(t, EntryTypeRestock, entry.Type)
	require.True(t, repo.mainStock(1).Equal(dec(t, "100.5")))

	deducted, err := svc.DeductStock(ctx, DeductStockInput{OfficerID: 10, FarmerID: 1, Amount: dec(t, "30.5")})
	require.NoError(t, err)
	require.Equal(t, EntryTypeCorrection, deducted.Type)
	require.True(t, deducted.Amount.Equal(dec(t, "-30.5")))
	require.True(t, repo.mainStock(1).Equal(dec(t, "70")))

	// The running balance stays equal to the sum of the entries.
	require.True(t, repo.ledgerSum(1).Equal(repo.mainStock(1)))

	_, err = svc.AddStock(ctx, AddStockInput{OfficerID: 10, FarmerID: 1, Amount: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.DeductStock(ctx, DeductStockInput{OfficerID: 10, FarmerID: 1, Amount: dec(t, "-3")})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.AddStock(ctx, AddStockInput{OfficerID: 99, FarmerID: 1, Amount: dec(t, "5")})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTransferZeroSum(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "100")
	repo.seedFarmer(2, 10, "20")
	repo.seedFarmer(3, 77, "50")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	result, err := svc.Transfer(ctx, TransferInput{OfficerID: 10, SourceFarmerID: 1, TargetFarmerID: 2, Amount: dec(t, "40")})
	require.NoError(t, err)
	require.NotEmpty(t, result.ReferenceID)
	require.Equal(t, result.ReferenceID, result.Out.ReferenceID)
	require.Equal(t, result.ReferenceID, result.In.ReferenceID)
	require.True(t, result.Out.Amount.Add(result.In.Amount).IsZero())
	require.True(t, repo.mainStock(1).Equal(dec(t, "60")))
	require.True(t, repo.mainStock(2).Equal(dec(t, "60")))

	_, err = svc.Transfer(ctx, TransferInput{OfficerID: 10, SourceFarmerID: 1, TargetFarmerID: 2, Amount: dec(t, "500")})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = svc.Transfer(ctx, TransferInput{OfficerID: 10, SourceFarmerID: 1, TargetFarmerID: 1, Amount: dec(t, "5")})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	// Farmer 3 belongs to another officer; nothing may move.
	_, err = svc.Transfer(ctx, TransferInput{OfficerID: 10, SourceFarmerID: 1, TargetFarmerID: 3, Amount: dec(t, "5")})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.True(t, repo.mainStock(1).Equal(dec(t, "60")))
	require.True(t, repo.mainStock(3).Equal(dec(t, "50")))
}

func TestRevertEntryNonDestructive(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "0")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	original, err := svc.AddStock(ctx, AddStockInput{OfficerID: 10, FarmerID: 1, Amount: dec(t, "25")})
	require.NoError(t, err)

	correction, err := svc.RevertEntry(ctx, RevertInput{OfficerID: 10, LogID: original.ID, Note: "typo"})
	require.NoError(t, err)
	require.Equal(t, EntryTypeCorrection, correction.Type)
	require.True(t, correction.Amount.Equal(dec(t, "-25")))
	require.True(t, repo.mainStock(1).IsZero())

	// The original line is untouched.
	kept, err := (&memoryTx{repo: repo}).GetEntry(ctx, original.ID)
	require.NoError(t, err)
	require.True(t, kept.Amount.Equal(dec(t, "25")))

	// Reverting the same entry twice is rejected.
	_, err = svc.RevertEntry(ctx, RevertInput{OfficerID: 10, LogID: original.ID})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	// Corrections cannot be reverted.
	_, err = svc.RevertEntry(ctx, RevertInput{OfficerID: 10, LogID: correction.ID})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRevertEntryOwnership(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "0")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	original, err := svc.AddStock(ctx, AddStockInput{OfficerID: 10, FarmerID: 1, Amount: dec(t, "25")})
	require.NoError(t, err)

	_, err = svc.RevertEntry(ctx, RevertInput{OfficerID: 99, LogID: original.ID})
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.True(t, repo.mainStock(1).Equal(dec(t, "25")))
}

func TestRevertTransfer(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "100")
	repo.seedFarmer(2, 10, "0")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	result, err := svc.Transfer(ctx, TransferInput{OfficerID: 10, SourceFarmerID: 1, TargetFarmerID: 2, Amount: dec(t, "40")})
	require.NoError(t, err)

	corrections, err := svc.RevertTransfer(ctx, 10, result.ReferenceID, "wrong target")
	require.NoError(t, err)
	require.Len(t, corrections, 2)
	require.True(t, repo.mainStock(1).Equal(dec(t, "100")))
	require.True(t, repo.mainStock(2).IsZero())
	require.True(t, repo.ledgerSum(1).Equal(repo.mainStock(1)))
	require.True(t, repo.ledgerSum(2).Equal(repo.mainStock(2)))

	// The reference group now holds corrections, so a second revert fails closed.
	_, err = svc.RevertTransfer(ctx, 10, result.ReferenceID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.RevertTransfer(ctx, 10, "missing-ref", "")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRevertTransferForbiddenLeavesNoPartialWrites(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "100")
	repo.seedFarmer(2, 10, "0")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	result, err := svc.Transfer(ctx, TransferInput{OfficerID: 10, SourceFarmerID: 1, TargetFarmerID: 2, Amount: dec(t, "40")})
	require.NoError(t, err)

	// Hand farmer 2 to another officer after the fact.
	repo.balances[2] = Balance{FarmerID: 2, OfficerID: 99, MainStock: repo.balances[2].MainStock}

	_, err = svc.RevertTransfer(ctx, 10, result.ReferenceID, "")
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.True(t, repo.mainStock(1).Equal(dec(t, "60")))
	require.True(t, repo.mainStock(2).Equal(dec(t, "40")))
}

func TestCorrectEntryAdjustsByDelta(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "0")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	original, err := svc.AddStock(ctx, AddStockInput{OfficerID: 10, FarmerID: 1, Amount: dec(t, "50")})
	require.NoError(t, err)

	corrected, err := svc.CorrectEntry(ctx, CorrectInput{OfficerID: 10, LogID: original.ID, NewAmount: dec(t, "45"), Note: "typo fix"})
	require.NoError(t, err)
	require.True(t, corrected.Amount.Equal(dec(t, "45")))
	require.True(t, repo.mainStock(1).Equal(dec(t, "45")))
	require.True(t, repo.ledgerSum(1).Equal(repo.mainStock(1)))

	// Zero delta only updates the note.
	noteOnly, err := svc.CorrectEntry(ctx, CorrectInput{OfficerID: 10, LogID: original.ID, NewAmount: dec(t, "45"), Note: "new note"})
	require.NoError(t, err)
	require.Equal(t, "new note", noteOnly.Note)
	require.True(t, repo.mainStock(1).Equal(dec(t, "45")))
}

func TestCycleCloseEntriesAreProtected(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "-120")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	var closeEntry StockLogEntry
	err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		closeEntry, err = tx.InsertEntry(ctx, StockLogEntry{
			FarmerID:    1,
			Amount:      dec(t, "-120"),
			Type:        EntryTypeCycleClose,
			ReferenceID: "history-7",
		})
		return err
	})
	require.NoError(t, err)

	_, err = svc.RevertEntry(ctx, RevertInput{OfficerID: 10, LogID: closeEntry.ID})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.CorrectEntry(ctx, CorrectInput{OfficerID: 10, LogID: closeEntry.ID, NewAmount: dec(t, "-100")})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestListEntriesScopedToOfficer(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "50")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	entries, pagination, err := svc.ListEntries(ctx, EntryFilter{OfficerID: 10, FarmerID: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, 1, pagination.Total)

	// Another officer cannot read this farmer's ledger.
	_, _, err = svc.ListEntries(ctx, EntryFilter{OfficerID: 99, FarmerID: 1})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, _, err = svc.ListEntries(ctx, EntryFilter{FarmerID: 1})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestConcurrentTransfersCannotOverdraw(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "100")
	repo.seedFarmer(2, 10, "0")
	repo.seedFarmer(3, 10, "0")
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, target := range []int64{2, 3} {
		wg.Add(1)
		go func(target int64) {
			defer wg.Done()
			_, err := svc.Transfer(ctx, TransferInput{OfficerID: 10, SourceFarmerID: 1, TargetFarmerID: target, Amount: dec(t, "70")})
			errs <- err
		}(target)
	}
	wg.Wait()
	close(errs)

	var failures int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, shared.ErrInsufficientStock)
			failures++
		}
	}
	require.Equal(t, 1, failures)
	require.True(t, repo.mainStock(1).Equal(dec(t, "30")))
	require.True(t, repo.ledgerSum(1).Equal(repo.mainStock(1)))
}
