package cycle

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

// Handler wires HTTP endpoints for cycle lifecycle operations.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs cycle handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers cycle routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/cycles", h.handleCreate)
	r.Get("/cycles/{cycleID}", h.handleGet)
	r.Post("/cycles/{cycleID}/mortality", h.handleMortality)
	r.Post("/cycles/{cycleID}/end", h.handleEnd)
	r.Post("/cycle-logs/{logID}/revert", h.handleRevertLog)
	r.Get("/farmers/{farmerID}/histories", h.handleListHistories)
	r.Get("/histories/{historyID}", h.handleGetHistory)
	r.Delete("/histories/{historyID}", h.handleDeleteHistory)
}

type createRequest struct {
	FarmerID int64  `json:"farmer_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Doc      int    `json:"doc" validate:"required,gt=0"`
	Age      int    `json:"age" validate:"gte=0"`
}

type mortalityRequest struct {
	Amount int    `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason"`
}

type endRequest struct {
	Intake string `json:"intake" validate:"required"`
}

type cycleDTO struct {
	ID        int64  `json:"id"`
	FarmerID  int64  `json:"farmer_id"`
	Name      string `json:"name"`
	Doc       int    `json:"doc"`
	Mortality int    `json:"mortality"`
	Intake    string `json:"intake"`
	Age       int    `json:"age"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type historyDTO struct {
	ID          int64  `json:"id"`
	FarmerID    int64  `json:"farmer_id"`
	Name        string `json:"name"`
	Doc         int    `json:"doc"`
	Mortality   int    `json:"mortality"`
	FinalIntake string `json:"final_intake"`
	Age         int    `json:"age"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

type logDTO struct {
	ID            int64  `json:"id"`
	Type          string `json:"type"`
	ValueChange   string `json:"value_change"`
	PreviousValue string `json:"previous_value,omitempty"`
	NewValue      string `json:"new_value,omitempty"`
	Note          string `json:"note,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toCycleDTO(c Cycle) cycleDTO {
	return cycleDTO{
		ID:        c.ID,
		FarmerID:  c.FarmerID,
		Name:      c.Name,
		Doc:       c.Doc,
		Mortality: c.Mortality,
		Intake:    c.Intake.String(),
		Age:       c.Age,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
}

func toHistoryDTO(hist History) historyDTO {
	return historyDTO{
		ID:          hist.ID,
		FarmerID:    hist.FarmerID,
		Name:        hist.Name,
		Doc:         hist.Doc,
		Mortality:   hist.Mortality,
		FinalIntake: hist.FinalIntake.String(),
		Age:         hist.Age,
		StartDate:   hist.StartDate.Format(time.RFC3339),
		EndDate:     hist.EndDate.Format(time.RFC3339),
	}
}

func toLogDTO(l Log) logDTO {
	dto := logDTO{
		ID:          l.ID,
		Type:        string(l.Type),
		ValueChange: l.ValueChange.String(),
		Note:        l.Note,
		CreatedAt:   l.CreatedAt.Format(time.RFC3339),
	}
	if l.PreviousValue.Valid {
		dto.PreviousValue = l.PreviousValue.Decimal.String()
	}
	if l.NewValue.Valid {
		dto.NewValue = l.NewValue.Decimal.String()
	}
	return dto
}

func toLogDTOs(logs []Log) []logDTO {
	dtos := make([]logDTO, 0, len(logs))
	for _, l := range logs {
		dtos = append(dtos, toLogDTO(l))
	}
	return dtos
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.Create(r.Context(), CreateInput{
		OfficerID: officerID,
		FarmerID:  req.FarmerID,
		Name:      req.Name,
		Doc:       req.Doc,
		Age:       req.Age,
	})
	if err != nil {
		h.logger.Error("create cycle failed", slog.Int64("farmer_id", req.FarmerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toCycleDTO(c))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	cycleID, ok := h.pathID(w, r, "cycleID")
	if !ok {
		return
	}
	c, logs, err := h.service.Get(r.Context(), officerID, cycleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"cycle": toCycleDTO(c), "logs": toLogDTOs(logs)})
}

func (h *Handler) handleMortality(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	cycleID, ok := h.pathID(w, r, "cycleID")
	if !ok {
		return
	}
	var req mortalityRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.service.AddMortality(r.Context(), MortalityInput{
		OfficerID: officerID,
		CycleID:   cycleID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		h.logger.Error("mortality report failed", slog.Int64("cycle_id", cycleID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLogDTO(entry))
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	cycleID, ok := h.pathID(w, r, "cycleID")
	if !ok {
		return
	}
	var req endRequest
	if !h.decode(w, r, &req) {
		return
	}
	intake, err := decimal.NewFromString(req.Intake)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Argument", "intake is not a valid decimal")
		return
	}
	archived, err := h.service.End(r.Context(), EndInput{OfficerID: officerID, CycleID: cycleID, Intake: intake})
	if err != nil {
		h.logger.Error("end cycle failed", slog.Int64("cycle_id", cycleID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toHistoryDTO(archived))
}

func (h *Handler) handleRevertLog(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	logID, ok := h.pathID(w, r, "logID")
	if !ok {
		return
	}
	correction, err := h.service.RevertLog(r.Context(), officerID, logID)
	if err != nil {
		h.logger.Error("revert cycle log failed", slog.Int64("log_id", logID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLogDTO(correction))
}

func (h *Handler) handleListHistories(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	farmerID, ok := h.pathID(w, r, "farmerID")
	if !ok {
		return
	}
	histories, err := h.service.ListHistories(r.Context(), officerID, farmerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	dtos := make([]historyDTO, 0, len(histories))
	for _, hist := range histories {
		dtos = append(dtos, toHistoryDTO(hist))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"histories": dtos})
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	historyID, ok := h.pathID(w, r, "historyID")
	if !ok {
		return
	}
	hist, logs, err := h.service.GetHistory(r.Context(), officerID, historyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"history": toHistoryDTO(hist), "logs": toLogDTOs(logs)})
}

func (h *Handler) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	officerID, ok := h.officer(w, r)
	if !ok {
		return
	}
	historyID, ok := h.pathID(w, r, "historyID")
	if !ok {
		return
	}
	if err := h.service.DeleteHistory(r.Context(), officerID, historyID); err != nil {
		h.logger.Error("delete history failed", slog.Int64("history_id", historyID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
