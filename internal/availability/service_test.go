package availability

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/agrilink/agrilink/internal/shared"
)

type stubRepo struct {
	snapshots map[int64]Snapshot
	calls     int
}

func (r *stubRepo) Snapshot(ctx context.Context, officerID, farmerID int64) (Snapshot, error) {
	r.calls++
	snap, ok := r.snapshots[farmerID]
	if !ok {
		return Snapshot{}, shared.ErrNotFound
	}
	return snap, nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), srv
}

func TestGetProjectsAvailableStock(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := &stubRepo{snapshots: map[int64]Snapshot{
		1: {FarmerID: 1, MainStock: dec(t, "100"), ActiveForecast: dec(t, "35.5")},
	}}
	svc := NewService(repo, cache, dec(t, "4"))
	ctx := context.Background()

	avail, err := svc.Get(ctx, 10, 1)
	require.NoError(t, err)
	require.True(t, avail.Available.Equal(dec(t, "64.5")))
	require.True(t, avail.MainStock.Equal(dec(t, "100")))
	require.True(t, avail.ActiveForecast.Equal(dec(t, "35.5")))
	require.False(t, avail.LowStock)
}

func TestGetFlagsLowStock(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := &stubRepo{snapshots: map[int64]Snapshot{
		1: {FarmerID: 1, MainStock: dec(t, "40"), ActiveForecast: dec(t, "37")},
	}}
	svc := NewService(repo, cache, dec(t, "4"))

	avail, err := svc.Get(context.Background(), 10, 1)
	require.NoError(t, err)
	require.True(t, avail.Available.Equal(dec(t, "3")))
	require.True(t, avail.LowStock)
}

func TestGetServesFromCacheUntilBump(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := &stubRepo{snapshots: map[int64]Snapshot{
		1: {FarmerID: 1, MainStock: dec(t, "100"), ActiveForecast: dec(t, "20")},
	}}
	svc := NewService(repo, cache, dec(t, "4"))
	ctx := context.Background()

	_, err := svc.Get(ctx, 10, 1)
	require.NoError(t, err)
	_, err = svc.Get(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)

	// A mutation bumps the version and orphans the cached key.
	repo.snapshots[1] = Snapshot{FarmerID: 1, MainStock: dec(t, "60"), ActiveForecast: dec(t, "20")}
	require.NoError(t, cache.Bump(ctx))

	avail, err := svc.Get(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, 2, repo.calls)
	require.True(t, avail.Available.Equal(dec(t, "40")))
}

func TestGetNotFoundIsNotCached(t *testing.T) {
	cache, _ := newTestCache(t)
	repo := &stubRepo{snapshots: map[int64]Snapshot{}}
	svc := NewService(repo, cache, dec(t, "4"))

	_, err := svc.Get(context.Background(), 10, 404)
	require.ErrorIs(t, err, shared.ErrNotFound)

	repo.snapshots[404] = Snapshot{FarmerID: 404, MainStock: dec(t, "10")}
	avail, err := svc.Get(context.Background(), 10, 404)
	require.NoError(t, err)
	require.True(t, avail.Available.Equal(dec(t, "10")))
}

func TestGetWorksWithoutRedis(t *testing.T) {
	repo := &stubRepo{snapshots: map[int64]Snapshot{
		1: {FarmerID: 1, MainStock: dec(t, "10"), ActiveForecast: dec(t, "2")},
	}}
	svc := NewService(repo, NewCache(nil, time.Minute), dec(t, "4"))

	avail, err := svc.Get(context.Background(), 10, 1)
	require.NoError(t, err)
	require.True(t, avail.Available.Equal(dec(t, "8")))
}
