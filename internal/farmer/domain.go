package farmer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Farmer is the aggregate root for one grower. MainStock is the ledger-backed
// running balance: it must always equal the sum of the farmer's stock log
// entries since creation. TotalConsumed accumulates feed committed by closed
// cycles over the farmer's lifetime.
type Farmer struct {
	ID            int64
	OrgID         int64
	OfficerID     int64
	Name          string
	Phone         string
	MainStock     decimal.Decimal
	TotalConsumed decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RegisterInput describes a farmer registration request.
type RegisterInput struct {
	OrgID        int64
	OfficerID    int64
	Name         string
	Phone        string
	OpeningStock decimal.Decimal
	Note         string
}

// ListFilter narrows farmer listings.
type ListFilter struct {
	OfficerID int64
	Page      int
	PerPage   int
}
