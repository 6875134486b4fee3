package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	// EntryTypeInitial records the opening balance written at registration.
	EntryTypeInitial EntryType = "INITIAL"
	// EntryTypeRestock represents feed added to a farmer's balance.
	EntryTypeRestock EntryType = "RESTOCK"
	// EntryTypeCorrection compensates for a prior entry without deleting it.
	EntryTypeCorrection EntryType = "CORRECTION"
	// EntryTypeTransferIn is the credit side of a transfer.
	EntryTypeTransferIn EntryType = "TRANSFER_IN"
	// EntryTypeTransferOut is the debit side of a transfer.
	EntryTypeTransferOut EntryType = "TRANSFER_OUT"
	// EntryTypeCycleClose is the consumption debit committed when a cycle ends.
	EntryTypeCycleClose EntryType = "CYCLE_CLOSE"
)

// StockLogEntry is one immutable ledger line. Positive amounts are credits,
// negative amounts debits. Entries are write-once; the only sanctioned
// in-place edit is the amount/note fix applied by CorrectEntry.
type StockLogEntry struct {
	ID          int64
	FarmerID    int64
	Amount      decimal.Decimal
	Type        EntryType
	ReferenceID string
	Note        string
	CreatedAt   time.Time
}

// Balance is the farmer's denormalised running total as read under a row lock
// inside a ledger transaction.
type Balance struct {
	FarmerID      int64
	OfficerID     int64
	MainStock     decimal.Decimal
	TotalConsumed decimal.Decimal
}

// AddStockInput describes a restock request.
type AddStockInput struct {
	OfficerID  int64
	FarmerID   int64
	Amount     decimal.Decimal
	Note       string
	RequestKey string
}

// DeductStockInput describes a manual stock deduction.
type DeductStockInput struct {
	OfficerID  int64
	FarmerID   int64
	Amount     decimal.Decimal
	Note       string
	RequestKey string
}

// TransferInput describes an atomic two-sided stock move.
type TransferInput struct {
	OfficerID      int64
	SourceFarmerID int64
	TargetFarmerID int64
	Amount         decimal.Decimal
	Note           string
	RequestKey     string
}

// TransferResult reports both sides of a recorded transfer.
type TransferResult struct {
	ReferenceID string
	Out         StockLogEntry
	In          StockLogEntry
}

// RevertInput targets one existing entry for non-destructive reversal.
type RevertInput struct {
	OfficerID int64
	LogID     int64
	Note      string
}

// CorrectInput amends a clerical typo on one entry.
type CorrectInput struct {
	OfficerID int64
	LogID     int64
	NewAmount decimal.Decimal
	Note      string
}

// EntryFilter narrows ledger listings for one farmer.
type EntryFilter struct {
	OfficerID int64
	FarmerID  int64
	Page      int
	PerPage   int
}
