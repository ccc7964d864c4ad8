package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
)

// PickHandler serves the caller's pick lifecycle endpoints. Every route acts
// on the device resolved by the device middleware.
type PickHandler struct {
	sessions   SessionService
	scoreboard ScoreboardBuilder
	logger     *slog.Logger
}

// NewPickHandler creates a PickHandler.
func NewPickHandler(sessions SessionService, scoreboard ScoreboardBuilder, logger *slog.Logger) *PickHandler {
	return &PickHandler{sessions: sessions, scoreboard: scoreboard, logger: logger}
}

type picksResponse struct {
	Identity domain.Identity `json:"identity"`
	Backend  string          `json:"backend"`
	Picks    []domain.Pick   `json:"picks"`
}

// ListPicks returns every draft and submission of the caller.
// GET /api/picks
func (h *PickHandler) ListPicks(w http.ResponseWriter, r *http.Request) {
	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}
	snap := mgr.Snapshot()
	writeJSON(w, http.StatusOK, picksResponse{
		Identity: snap.Identity,
		Backend:  snap.Backend,
		Picks:    snap.Picks(),
	})
}

type setPickRequest struct {
	Side string `json:"side"`
}

// SetPick drafts a side for a market.
// PUT /api/picks/{marketID}
func (h *PickHandler) SetPick(w http.ResponseWriter, r *http.Request) {
	var req setPickRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, ok := domain.ParseSide(req.Side)
	if !ok {
		writeCodedError(w, http.StatusBadRequest, "invalid_side", "side must be over or under")
		return
	}
	marketID := pathParam(r, "marketID")
	h.respond(w, r, marketID, h.sessions.SetPick(r.Context(), deviceID(r), marketID, side))
}

// Submit locks in the drafted side.
// POST /api/picks/{marketID}/submit
func (h *PickHandler) Submit(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "marketID")
	h.respond(w, r, marketID, h.sessions.Submit(r.Context(), deviceID(r), marketID))
}

// Unlock returns a submission to a draft.
// DELETE /api/picks/{marketID}/submit
func (h *PickHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "marketID")
	h.respond(w, r, marketID, h.sessions.Unlock(r.Context(), deviceID(r), marketID))
}

// ClearAll wipes every pick.
// DELETE /api/picks
func (h *PickHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.ClearAll(r.Context(), deviceID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearDrafts drops drafts that were never submitted.
// DELETE /api/picks/drafts
func (h *PickHandler) ClearDrafts(w http.ResponseWriter, r *http.Request) {
	n, err := h.sessions.ClearDrafts(r.Context(), deviceID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// Scoreboard scores the caller's picks.
// GET /api/picks/scoreboard
func (h *PickHandler) Scoreboard(w http.ResponseWriter, r *http.Request) {
	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}
	board, err := h.scoreboard.Build(r.Context(), mgr.Snapshot())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *PickHandler) manager(w http.ResponseWriter, r *http.Request) (*picks.Manager, bool) {
	mgr, err := h.sessions.Manager(r.Context(), deviceID(r))
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return mgr, true
}

// respond writes the market's pick status after a transition, or the
// mapped error.
func (h *PickHandler) respond(w http.ResponseWriter, r *http.Request, marketID string, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	mgr, ok := h.manager(w, r)
	if !ok {
		return
	}
	st, err := mgr.Status(marketID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *PickHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := pickErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: pick request failed",
			slog.String("device_id", deviceID(r)),
			slog.String("error", err.Error()),
		)
	}
	writeCodedError(w, status, code, err.Error())
}
