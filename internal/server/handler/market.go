package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
	"github.com/alanyoungcy/taper/internal/service"
)

// MarketHandler serves market endpoints.
type MarketHandler struct {
	catalog  CatalogService
	sessions SessionService
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(catalog CatalogService, sessions SessionService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{catalog: catalog, sessions: sessions, logger: logger}
}

// ListMarkets returns markets filtered by meet and gender.
// GET /api/markets?meet=ncaa-m-2026&gender=Men
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.MarketFilter{
		MeetID: q.Get("meet"),
		Gender: domain.Gender(q.Get("gender")),
	}
	if filter.Gender != "" && !filter.Gender.Valid() {
		writeError(w, http.StatusBadRequest, "gender must be Men or Women")
		return
	}

	markets, err := h.catalog.ListMarkets(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list markets", err)
		return
	}
	statuses := sessionStatuses(r.Context(), h.sessions, deviceID(r), markets, h.logger)
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": newMarketViews(markets, statuses),
		"total":   len(markets),
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.catalog.GetMarket(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get market", err)
		return
	}

	var status *picks.MarketStatus
	if st := sessionStatuses(r.Context(), h.sessions, deviceID(r), []domain.Market{market}, h.logger); len(st) == 1 {
		status = &st[0]
	}
	writeJSON(w, http.StatusOK, newMarketView(market, status))
}

// Spotlight returns the most-voted markets.
// GET /api/spotlight?n=4
func (h *MarketHandler) Spotlight(w http.ResponseWriter, r *http.Request) {
	n := service.DefaultSpotlightSize
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 50 {
			writeError(w, http.StatusBadRequest, "n must be between 1 and 50")
			return
		}
		n = parsed
	}

	markets, err := h.catalog.Spotlight(r.Context(), n)
	if err != nil {
		h.fail(w, r, "spotlight", err)
		return
	}
	statuses := sessionStatuses(r.Context(), h.sessions, deviceID(r), markets, h.logger)
	writeJSON(w, http.StatusOK, map[string]any{"markets": newMarketViews(markets, statuses)})
}

type recordResultRequest struct {
	Result string `json:"result"`
}

// RecordResult settles a market with its official time.
// POST /api/markets/{id}/result
func (h *MarketHandler) RecordResult(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req recordResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.catalog.RecordResult(r.Context(), id, req.Result)
	if err != nil {
		if errors.Is(err, service.ErrInvalidResult) {
			writeCodedError(w, http.StatusBadRequest, "invalid_result", err.Error())
			return
		}
		h.fail(w, r, "record result", err)
		return
	}
	writeJSON(w, http.StatusOK, newMarketView(market, nil))
}

func (h *MarketHandler) fail(w http.ResponseWriter, r *http.Request, what string, err error) {
	status, code := pickErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+what+" failed", slog.String("error", err.Error()))
	}
	writeCodedError(w, status, code, what+" failed")
}
