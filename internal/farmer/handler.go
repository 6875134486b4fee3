package farmer

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/agrilink/agrilink/internal/availability"
	"github.com/agrilink/agrilink/internal/platform/httpx"
	"github.com/agrilink/agrilink/internal/shared"
)

// Handler wires HTTP endpoints for farmer registration, listing and the
// availability projection.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	availability *availability.Service
	validator    *validator.Validate
}

// NewHandler constructs farmer handler.
func NewHandler(logger *slog.Logger, service *Service, avail *availability.Service) *Handler {
	return &Handler{logger: logger, service: service, availability: avail, validator: validator.New()}
}

// MountRoutes registers farmer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/farmers", h.handleRegister)
	r.Get("/farmers", h.handleList)
	r.Get("/farmers/{farmerID}", h.handleGet)
	r.Get("/farmers/{farmerID}/availability", h.handleAvailability)
}

type registerRequest struct {
	OrgID        int64  `json:"org_id" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Phone        string `json:"phone"`
	OpeningStock string `json:"opening_stock"`
	Note         string `json:"note"`
}

type farmerDTO struct {
	ID            int64  `json:"id"`
	OrgID         int64  `json:"org_id"`
	OfficerID     int64  `json:"officer_id"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	MainStock     string `json:"main_stock"`
	TotalConsumed string `json:"total_consumed"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toFarmerDTO(f Farmer) farmerDTO {
	return farmerDTO{
		ID:            f.ID,
		OrgID:         f.OrgID,
		OfficerID:     f.OfficerID,
		Name:          f.Name,
		Phone:         f.Phone,
		MainStock:     f.MainStock.String(),
		TotalConsumed: f.TotalConsumed.String(),
		CreatedAt:     f.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     f.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", err.Error())
		return
	}
	opening := decimal.Zero
	if req.OpeningStock != "" {
		var err error
		if opening, err = decimal.NewFromString(req.OpeningStock); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "opening_stock is not a valid decimal")
			return
		}
	}
	f, err := h.service.Register(r.Context(), RegisterInput{
		OrgID:        req.OrgID,
		OfficerID:    officerID,
		Name:         req.Name,
		Phone:        req.Phone,
		OpeningStock: opening,
		Note:         req.Note,
	})
	if err != nil {
		h.logger.Error("register farmer failed", slog.String("name", req.Name), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toFarmerDTO(f))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	farmers, pagination, err := h.service.List(r.Context(), ListFilter{
		OfficerID: officerID,
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dtos := make([]farmerDTO, 0, len(farmers))
	for _, f := range farmers {
		dtos = append(dtos, toFarmerDTO(f))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"farmers": dtos, "pagination": pagination})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	farmerID, ok := h.pathID(w, r, "farmerID")
	if !ok {
		return
	}
	f, err := h.service.Get(r.Context(), officerID, farmerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFarmerDTO(f))
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	farmerID, ok := h.pathID(w, r, "farmerID")
	if !ok {
		return
	}
	avail, err := h.availability.Get(r.Context(), officerID, farmerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, avail)
}

func (h *Handler) officer(w http.ResponseWriter, r *http.Request) (int64, bool) {
	officerID := shared.OfficerFromContext(r.Context())
	if officerID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "officer identity missing")
		return 0, false
	}
	return officerID, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", name+" is not a valid id")
		return 0, false
	}
	return id, true
}
