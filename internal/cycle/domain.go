package cycle

import (
	"time"

	"github.com/shopspring/decimal"
)

// LogType enumerates cycle journal entry kinds.
type LogType string

const (
	// LogTypeFeed records an intake change written by the feed sync pass.
	LogTypeFeed LogType = "FEED"
	// LogTypeMortality records a mortality report.
	LogTypeMortality LogType = "MORTALITY"
	// LogTypeNote records a free-form officer note.
	LogTypeNote LogType = "NOTE"
	// LogTypeCorrection compensates a prior journal entry.
	LogTypeCorrection LogType = "CORRECTION"
	// LogTypeSystem records lifecycle events written by the service itself.
	LogTypeSystem LogType = "SYSTEM"
)

// Cycle is an active production batch. Intake is cumulative feed consumption
// as reported by the external consumption calculator; it stays a forecast
// until End commits it against the ledger. OfficerID is denormalised from the
// owning farmer for authorization checks.
type Cycle struct {
	ID        int64
	FarmerID  int64
	OrgID     int64
	OfficerID int64
	Name      string
	Doc       int
	Mortality int
	Intake    decimal.Decimal
	Age       int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// History is the immutable archive of a terminated cycle. Created only by
// End; never re-activated.
type History struct {
	ID          int64
	FarmerID    int64
	OrgID       int64
	OfficerID   int64
	Name        string
	Doc         int
	Mortality   int
	FinalIntake decimal.Decimal
	Age         int
	StartDate   time.Time
	EndDate     time.Time
	CreatedAt   time.Time
}

// Log is one append-only journal entry tied to either an active cycle or a
// history record, never both. Logs are re-pointed from cycle to history when
// the cycle closes.
type Log struct {
	ID            int64
	CycleID       int64
	HistoryID     int64
	Type          LogType
	ValueChange   decimal.Decimal
	PreviousValue decimal.NullDecimal
	NewValue      decimal.NullDecimal
	RefLogID      int64
	Note          string
	CreatedAt     time.Time
}

// CreateInput describes a cycle creation request. Age above one backdates the
// cycle so elapsed-time consumption matches a batch that started earlier.
type CreateInput struct {
	OfficerID int64
	FarmerID  int64
	Name      string
	Doc       int
	Age       int
}

// MortalityInput reports bird deaths on an active cycle.
type MortalityInput struct {
	OfficerID int64
	CycleID   int64
	Amount    int
	Reason    string
}

// EndInput terminates an active cycle, committing the given intake against
// the farmer's ledger.
type EndInput struct {
	OfficerID int64
	CycleID   int64
	Intake    decimal.Decimal
}
