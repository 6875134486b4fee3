package ledger

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/agrilink/agrilink/internal/shared"
)

func newTestRouter(t *testing.T, repo *memoryRepo) http.Handler {
	t.Helper()
	handler := NewHandler(slog.Default(), NewService(repo, nil, nil, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if raw := req.Header.Get("X-Officer-ID"); raw == "10" {
				req = req.WithContext(shared.ContextWithOfficer(req.Context(), 10))
			}
			next.ServeHTTP(w, req)
		})
	})
	handler.MountRoutes(r)
	return r
}

func TestHandleAddStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "0")
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/farmers/1/stock", strings.NewReader(`{"amount":"25.5","note":"restock"}`))
	req.Header.Set("X-Officer-ID", "10")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	var body entryDTO
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "25.5", body.Amount)
	require.Equal(t, string(EntryTypeRestock), body.Type)
	require.True(t, repo.mainStock(1).Equal(dec(t, "25.5")))
}

func TestHandleAddStockRejectsAnonymous(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "0")
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/farmers/1/stock", strings.NewReader(`{"amount":"25.5"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleAddStockRejectsBadAmount(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "0")
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/farmers/1/stock", strings.NewReader(`{"amount":"not-a-number"}`))
	req.Header.Set("X-Officer-ID", "10")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestHandleDeductInsufficientBalanceStillPosts(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "10")
	router := newTestRouter(t, repo)

	// Deduct has no floor; availability is checked upstream of the ledger.
	req := httptest.NewRequest(http.MethodPost, "/farmers/1/stock/deduct", strings.NewReader(`{"amount":"25"}`))
	req.Header.Set("X-Officer-ID", "10")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.True(t, repo.mainStock(1).Equal(dec(t, "-15")))
}

func TestHandleTransferNotFoundFarmer(t *testing.T) {
	repo := newMemoryRepo()
	repo.seedFarmer(1, 10, "100")
	router := newTestRouter(t, repo)

	req := httptest.NewRequest(http.MethodPost, "/stock/transfers", strings.NewReader(`{"source_farmer_id":1,"target_farmer_id":999,"amount":"5"}`))
	req.Header.Set("X-Officer-ID", "10")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	require.True(t, repo.mainStock(1).Equal(dec(t, "100")))
}
