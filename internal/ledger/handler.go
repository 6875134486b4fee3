package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/agrilink/agrilink/internal/platform/httpx"
	"github.com/agrilink/agrilink/internal/shared"
)

// Handler wires HTTP endpoints for ledger operations.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/farmers/{farmerID}/stock-logs", h.handleListEntries)
	r.Post("/farmers/{farmerID}/stock", h.handleAddStock)
	r.Post("/farmers/{farmerID}/stock/deduct", h.handleDeductStock)
	r.Post("/stock/transfers", h.handleTransfer)
	r.Post("/stock/transfers/{referenceID}/revert", h.handleRevertTransfer)
	r.Post("/stock-logs/{logID}/revert", h.handleRevertEntry)
	r.Patch("/stock-logs/{logID}", h.handleCorrectEntry)
}

type amountRequest struct {
	Amount     string `json:"amount" validate:"required"`
	Note       string `json:"note"`
	RequestKey string `json:"request_key"`
}

type transferRequest struct {
	SourceFarmerID int64  `json:"source_farmer_id" validate:"required"`
	TargetFarmerID int64  `json:"target_farmer_id" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	Note           string `json:"note"`
	RequestKey     string `json:"request_key"`
}

type revertRequest struct {
	Note string `json:"note"`
}

type correctRequest struct {
	Amount string `json:"amount" validate:"required"`
	Note   string `json:"note"`
}

type entryDTO struct {
	ID          int64  `json:"id"`
	FarmerID    int64  `json:"farmer_id"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id,omitempty"`
	Note        string `json:"note,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toEntryDTO(entry StockLogEntry) entryDTO {
	return entryDTO{
		ID:          entry.ID,
		FarmerID:    entry.FarmerID,
		Amount:      entry.Amount.String(),
		Type:        string(entry.Type),
		ReferenceID: entry.ReferenceID,
		Note:        entry.Note,
		CreatedAt:   entry.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) handleAddStock(w http.ResponseWriter, r *http.Request) {
	officerID, ok := officerFrom(w, r)
	if !ok {
		return
	}
	farmerID, ok := pathID(w, r, "farmerID")
	if !ok {
		return
	}
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	entry, err := h.service.AddStock(r.Context(), AddStockInput{
		OfficerID:  officerID,
		FarmerID:   farmerID,
		Amount:     amount,
		Note:       req.Note,
		RequestKey: req.RequestKey,
	})
	if err != nil {
		h.logger.Error("add stock failed", slog.Int64("farmer_id", farmerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryDTO(entry))
}

func (h *Handler) handleDeductStock(w http.ResponseWriter, r *http.Request) {
	officerID, ok := officerFrom(w, r)
	if !ok {
		return
	}
	farmerID, ok := pathID(w, r, "farmerID")
	if !ok {
		return
	}
	var req amountRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	entry, err := h.service.DeductStock(r.Context(), DeductStockInput{
		OfficerID:  officerID,
		FarmerID:   farmerID,
		Amount:     amount,
		Note:       req.Note,
		RequestKey: req.RequestKey,
	})
	if err != nil {
		h.logger.Error("deduct stock failed", slog.Int64("farmer_id", farmerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryDTO(entry))
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	officerID, ok := officerFrom(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, ok := h.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	result, err := h.service.Transfer(r.Context(), TransferInput{
		OfficerID:      officerID,
		SourceFarmerID: req.SourceFarmerID,
		TargetFarmerID: req.TargetFarmerID,
		Amount:         amount,
		Note:           req.Note,
		RequestKey:     req.RequestKey,
	})
	if err != nil {
		h.logger.Error("transfer failed",
			slog.Int64("source", req.SourceFarmerID),
			slog.Int64("target", req.TargetFarmerID),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"reference_id": result.ReferenceID,
		"out":          toEntryDTO(result.Out),
		"in":           toEntryDTO(result.In),
	})
}

func (h *Handler) handleRevertEntry(w http.ResponseWriter, r *http.Request) {
	officerID, ok := officerFrom(w, r)
	if !ok {
		return
	}
	logID, ok := pathID(w, r, "logID")
	if !ok {
		return
	}
	var req revertRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.RevertEntry(r.Context(), RevertInput{OfficerID: officerID, LogID: logID, Note: req.Note})
	if err != nil {
		h.logger.Error("revert entry failed", slog.Int64("log_id", logID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEntryDTO(entry))
}

func (h *Handler) handleRevertTransfer(w http.ResponseWriter, r *http.Request) {
	officerID, ok := officerFrom(w, r)
	if !ok {
		return
	}
	referenceID := chi.URLParam(r, "referenceID")
	var req revertRequest
	if !h.decode(w, r, &req) {
		return
	}
	corrections, err := h.service.RevertTransfer(r.Context(), officerID, referenceID, req.Note)
	if err != nil {
		h.logger.Error("revert transfer failed", slog.String("reference_id", referenceID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	dtos := make([]entryDTO, 0, len(corrections))
	for _, entry := range corrections {
		dtos = append(dtos, toEntryDTO(entry))
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"corrections": dtos})
}

func (h *Handler) handleCorrectEntry(w http.ResponseWriter, r *http.Request) {
	officerID, ok := officerFrom(w, r)
	if !ok {
		return
	}
	logID, ok := pathID(w, r, "logID")
	if !ok {
		return
	}
	var req correctRequest
	if !h.decode(w, r, &req) {
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "amount is not a valid decimal")
		return
	}
	entry, err := h.service.CorrectEntry(r.Context(), CorrectInput{
		OfficerID: officerID,
		LogID:     logID,
		NewAmount: amount,
		Note:      req.Note,
	})
	if err != nil {
		h.logger.Error("correct entry failed", slog.Int64("log_id", logID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryDTO(entry))
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	officerID, ok := officerFrom(w, r)
	if !ok {
		return
	}
	farmerID, ok := pathID(w, r, "farmerID")
	if !ok {
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	entries, pagination, err := h.service.ListEntries(r.Context(), EntryFilter{
		OfficerID: officerID,
		FarmerID:  farmerID,
		Page:      page,
		PerPage:   perPage,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dtos := make([]entryDTO, 0, len(entries))
	for _, entry := range entries {
		dtos = append(dtos, toEntryDTO(entry))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": dtos, "pagination": pagination})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "malformed request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", err.Error())
		return false
	}
	return true
}

func (h *Handler) parseAmount(w http.ResponseWriter, raw string) (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "amount is not a valid decimal")
		return decimal.Decimal{}, false
	}
	return amount, true
}

func officerFrom(w http.ResponseWriter, r *http.Request) (int64, bool) {
	officerID := shared.OfficerFromContext(r.Context())
	if officerID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "officer identity missing")
		return 0, false
	}
	return officerID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", name+" is not a valid id")
		return 0, false
	}
	return id, true
}
