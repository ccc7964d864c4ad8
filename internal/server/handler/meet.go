package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
	"github.com/alanyoungcy/taper/internal/service"
)

// Meet detail views.
const (
	viewUpcoming = "upcoming"
	viewResults  = "results"
)

// MeetHandler serves meet endpoints.
type MeetHandler struct {
	catalog  CatalogService
	sessions SessionService
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewMeetHandler creates a MeetHandler.
func NewMeetHandler(catalog CatalogService, sessions SessionService, clock clockwork.Clock, logger *slog.Logger) *MeetHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MeetHandler{catalog: catalog, sessions: sessions, clock: clock, logger: logger}
}

// ListMeets returns every meet in home feed order.
// GET /api/meets
func (h *MeetHandler) ListMeets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	meets, err := h.catalog.ListMeets(ctx)
	if err != nil {
		h.fail(w, r, "list meets", err)
		return
	}
	markets, err := h.catalog.ListMarkets(ctx, domain.MarketFilter{})
	if err != nil {
		h.fail(w, r, "list markets", err)
		return
	}
	counts := make(map[string]int, len(meets))
	for _, m := range markets {
		counts[m.MeetID]++
	}

	now := h.clock.Now()
	out := make([]meetView, 0, len(meets))
	for _, m := range meets {
		out = append(out, newMeetView(m, counts[m.ID], now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"meets": out})
}

// meetDetailResponse is the meet page payload.
type meetDetailResponse struct {
	Meet           meetView      `json:"meet"`
	Gender         domain.Gender `json:"gender"`
	View           string        `json:"view"`
	Markets        []marketView  `json:"markets"`
	TotalUpcoming  int           `json:"total_upcoming"`
	SubmittedCount int           `json:"submitted_count"`
}

// GetMeet returns a meet with one gender's markets split into upcoming or
// results. gender defaults to the meet's first gender.
// GET /api/meets/{id}?gender=Men&view=upcoming
func (h *MeetHandler) GetMeet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing meet id")
		return
	}

	meet, err := h.catalog.GetMeet(ctx, id)
	if err != nil {
		h.fail(w, r, "get meet", err)
		return
	}

	q := r.URL.Query()
	gender := domain.Gender(q.Get("gender"))
	if gender == "" && len(meet.Genders) > 0 {
		gender = meet.Genders[0]
	}
	if !meet.HasGender(gender) {
		writeError(w, http.StatusBadRequest, "meet has no "+string(gender)+" markets")
		return
	}
	view := q.Get("view")
	if view == "" {
		view = viewUpcoming
	}
	if view != viewUpcoming && view != viewResults {
		writeError(w, http.StatusBadRequest, "view must be upcoming or results")
		return
	}

	all, err := h.catalog.ListMarkets(ctx, domain.MarketFilter{MeetID: meet.ID})
	if err != nil {
		h.fail(w, r, "list markets", err)
		return
	}
	var byGender []domain.Market
	for _, m := range all {
		if m.Gender == gender {
			byGender = append(byGender, m)
		}
	}
	upcoming, settled := service.SplitByStatus(byGender)
	statuses := sessionStatuses(ctx, h.sessions, deviceID(r), byGender, h.logger)

	submitted := 0
	for _, st := range statuses {
		if st.Submitted && !st.Settled {
			submitted++
		}
	}

	shown := upcoming
	if view == viewResults {
		shown = settled
	}
	writeJSON(w, http.StatusOK, meetDetailResponse{
		Meet:           newMeetView(meet, len(all), h.clock.Now()),
		Gender:         gender,
		View:           view,
		Markets:        newMarketViews(shown, statuses),
		TotalUpcoming:  len(upcoming),
		SubmittedCount: submitted,
	})
}

func (h *MeetHandler) fail(w http.ResponseWriter, r *http.Request, what string, err error) {
	status, code := pickErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+what+" failed", slog.String("error", err.Error()))
	}
	writeCodedError(w, status, code, what+" failed")
}

// sessionStatuses looks up the caller's pick state for markets. Session
// failures degrade to no pick state rather than failing the read.
func sessionStatuses(ctx context.Context, sessions SessionService, device string, markets []domain.Market, logger *slog.Logger) []picks.MarketStatus {
	if sessions == nil || device == "" || len(markets) == 0 {
		return nil
	}
	mgr, err := sessions.Manager(ctx, device)
	if err != nil {
		logger.WarnContext(ctx, "handler: session unavailable",
			slog.String("device_id", device),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return mgr.Statuses(marketIDs(markets))
}
