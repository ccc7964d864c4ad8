package handler

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
	"github.com/alanyoungcy/taper/internal/scoring"
)

// meetView decorates a meet with lock state for display.
type meetView struct {
	domain.Meet
	Locked      bool   `json:"locked"`
	LocksIn     string `json:"locks_in,omitempty"`
	MarketCount int    `json:"market_count"`
}

func newMeetView(m domain.Meet, marketCount int, now time.Time) meetView {
	v := meetView{Meet: m, Locked: m.IsLocked(now), MarketCount: marketCount}
	switch {
	case m.LockTime == nil:
	case v.Locked:
		v.LocksIn = "locked"
	default:
		v.LocksIn = humanize.RelTime(*m.LockTime, now, "ago", "from now")
	}
	return v
}

// marketView is a market plus its parsed target and the caller's pick.
type marketView struct {
	domain.Market
	Settlement domain.MarketStatus `json:"status"`
	Target     string              `json:"target_time,omitempty"`
	TotalVotes int                 `json:"total_votes"`
	Pick       *picks.MarketStatus `json:"pick,omitempty"`
}

func newMarketView(m domain.Market, status *picks.MarketStatus) marketView {
	target, _ := scoring.ParseTargetTime(m.TimeLabel)
	return marketView{
		Market:     m,
		Settlement: m.Status(),
		Target:     target,
		TotalVotes: m.TotalVotes(),
		Pick:       status,
	}
}

// newMarketViews pairs markets with their statuses by id.
func newMarketViews(markets []domain.Market, statuses []picks.MarketStatus) []marketView {
	byID := make(map[string]picks.MarketStatus, len(statuses))
	for _, st := range statuses {
		byID[st.MarketID] = st
	}
	out := make([]marketView, 0, len(markets))
	for _, m := range markets {
		var st *picks.MarketStatus
		if s, ok := byID[m.ID]; ok {
			st = &s
		}
		out = append(out, newMarketView(m, st))
	}
	return out
}

func marketIDs(markets []domain.Market) []string {
	ids := make([]string, len(markets))
	for i, m := range markets {
		ids[i] = m.ID
	}
	return ids
}
