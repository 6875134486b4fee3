package farmer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/agrilink/agrilink/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Register(ctx context.Context, input RegisterInput) (Farmer, error)
	GetOwned(ctx context.Context, officerID, farmerID int64) (Farmer, error)
	ListByOfficer(ctx context.Context, filter ListFilter) ([]Farmer, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates farmer registration and reads.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Register creates the farmer aggregate, seeding the ledger with an INITIAL
// entry when an opening balance is supplied.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Farmer, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return Farmer{}, fmt.Errorf("farmer: name required: %w", shared.ErrInvalidArgument)
	}
	if input.OfficerID == 0 || input.OrgID == 0 {
		return Farmer{}, fmt.Errorf("farmer: officer and organisation required: %w", shared.ErrInvalidArgument)
	}
	if input.OpeningStock.IsNegative() {
		return Farmer{}, fmt.Errorf("farmer: opening stock must not be negative: %w", shared.ErrInvalidArgument)
	}
	created, err := s.repo.Register(ctx, input)
	if err != nil {
		return Farmer{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			OfficerID: input.OfficerID,
			Action:    "farmer:register",
			Entity:    "farmer",
			EntityID:  strconv.FormatInt(created.ID, 10),
			Meta: map[string]any{
				"name":          created.Name,
				"opening_stock": input.OpeningStock.String(),
			},
		})
	}
	return created, nil
}

// Get fetches one farmer managed by the officer.
func (s *Service) Get(ctx context.Context, officerID, farmerID int64) (Farmer, error) {
	if officerID == 0 {
		return Farmer{}, fmt.Errorf("farmer: officer required: %w", shared.ErrForbidden)
	}
	return s.repo.GetOwned(ctx, officerID, farmerID)
}

// List returns the officer's farmers with pagination metadata.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Farmer, shared.Pagination, error) {
	if filter.OfficerID == 0 {
		return nil, shared.Pagination{}, fmt.Errorf("farmer: officer required: %w", shared.ErrForbidden)
	}
	farmers, total, err := s.repo.ListByOfficer(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return farmers, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}
