// Package availability derives the currently spendable feed balance for a
// farmer: the committed ledger balance minus the forecast consumption of the
// farmer's still-open cycles. The derived figure is never persisted; active
// cycle consumption is a forecast, not yet spent.
package availability

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Snapshot carries the two inputs of the projection as read from storage.
type Snapshot struct {
	FarmerID       int64
	MainStock      decimal.Decimal
	ActiveForecast decimal.Decimal
}

// Availability is the read-time projection returned to callers.
type Availability struct {
	FarmerID       int64           `json:"farmer_id"`
	MainStock      decimal.Decimal `json:"main_stock"`
	ActiveForecast decimal.Decimal `json:"active_forecast"`
	Available      decimal.Decimal `json:"available"`
	LowStock       bool            `json:"low_stock"`
}

// RepositoryPort reads the projection inputs.
type RepositoryPort interface {
	Snapshot(ctx context.Context, officerID, farmerID int64) (Snapshot, error)
}

// Service computes availability projections with a short-lived cache and
// request deduplication.
type Service struct {
	repo      RepositoryPort
	cache     *Cache
	threshold decimal.Decimal
	group     singleflight.Group
}

// NewService builds Service. threshold is the low-stock warning level in bags.
func NewService(repo RepositoryPort, cache *Cache, threshold decimal.Decimal) *Service {
	return &Service{repo: repo, cache: cache, threshold: threshold}
}

// Get returns the availability projection for one of the officer's farmers.
func (s *Service) Get(ctx context.Context, officerID, farmerID int64) (Availability, error) {
	key, err := s.cache.BuildKey(ctx, strconv.FormatInt(officerID, 10), strconv.FormatInt(farmerID, 10))
	if err != nil {
		return Availability{}, err
	}
	result, err, _ := s.group.Do(key, func() (any, error) {
		var avail Availability
		err := s.cache.FetchJSON(ctx, key, &avail, func(ctx context.Context) (any, error) {
			snap, err := s.repo.Snapshot(ctx, officerID, farmerID)
			if err != nil {
				return nil, err
			}
			return s.project(snap), nil
		})
		if err != nil {
			return Availability{}, err
		}
		return avail, nil
	})
	if err != nil {
		return Availability{}, err
	}
	avail, ok := result.(Availability)
	if !ok {
		return Availability{}, fmt.Errorf("availability: unexpected cached type %T", result)
	}
	return avail, nil
}

func (s *Service) project(snap Snapshot) Availability {
	available := snap.MainStock.Sub(snap.ActiveForecast)
	return Availability{
		FarmerID:       snap.FarmerID,
		MainStock:      snap.MainStock,
		ActiveForecast: snap.ActiveForecast,
		Available:      available,
		LowStock:       available.LessThan(s.threshold),
	}
}
