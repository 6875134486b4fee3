package farmer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/agrilink/agrilink/internal/shared"
)

type memoryRepo struct {
	farmers map[int64]Farmer
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{farmers: make(map[int64]Farmer)}
}

func (r *memoryRepo) Register(ctx context.Context, input RegisterInput) (Farmer, error) {
	r.nextID++
	f := Farmer{
		ID:        r.nextID,
		OrgID:     input.OrgID,
		OfficerID: input.OfficerID,
		Name:      input.Name,
		Phone:     input.Phone,
		MainStock: input.OpeningStock,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	r.farmers[f.ID] = f
	return f, nil
}

func (r *memoryRepo) GetOwned(ctx context.Context, officerID, farmerID int64) (Farmer, error) {
	f, ok := r.farmers[farmerID]
	if !ok || f.OfficerID != officerID {
		return Farmer{}, shared.ErrNotFound
	}
	return f, nil
}

func (r *memoryRepo) ListByOfficer(ctx context.Context, filter ListFilter) ([]Farmer, int, error) {
	var matched []Farmer
	for id := int64(1); id <= r.nextID; id++ {
		if f, ok := r.farmers[id]; ok && f.OfficerID == filter.OfficerID {
			matched = append(matched, f)
		}
	}
	return matched, len(matched), nil
}

func TestRegisterValidatesInput(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterInput{
		OrgID:        1,
		OfficerID:    10,
		Name:         "  Pak Budi  ",
		OpeningStock: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	require.Equal(t, "Pak Budi", created.Name)
	require.True(t, created.MainStock.Equal(decimal.NewFromInt(50)))

	_, err = svc.Register(ctx, RegisterInput{OrgID: 1, OfficerID: 10, Name: "   "})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.Register(ctx, RegisterInput{OrgID: 0, OfficerID: 10, Name: "X"})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.Register(ctx, RegisterInput{OrgID: 1, OfficerID: 10, Name: "X", OpeningStock: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestGetScopedToOfficer(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	created, err := svc.Register(ctx, RegisterInput{OrgID: 1, OfficerID: 10, Name: "Bu Sari"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, 10, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = svc.Get(ctx, 99, created.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Get(ctx, 0, created.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestListPaginates(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Register(ctx, RegisterInput{OrgID: 1, OfficerID: 10, Name: "Farmer"})
		require.NoError(t, err)
	}
	_, err := svc.Register(ctx, RegisterInput{OrgID: 1, OfficerID: 77, Name: "Other"})
	require.NoError(t, err)

	farmers, pagination, err := svc.List(ctx, ListFilter{OfficerID: 10, Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, farmers, 3)
	require.Equal(t, 3, pagination.Total)
	require.Equal(t, 2, pagination.TotalPages)

	_, _, err = svc.List(ctx, ListFilter{OfficerID: 0})
	require.ErrorIs(t, err, shared.ErrForbidden)
}
