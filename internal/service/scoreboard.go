package service

import (
	"context"
	"sort"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
	"github.com/alanyoungcy/taper/internal/scoring"
)

// OutcomeObserver is told about every submitted pick that gets scored.
type OutcomeObserver interface {
	Outcome(o domain.Outcome)
}

// ScoreEntry is one pick as shown on the scoreboard.
type ScoreEntry struct {
	Market    domain.Market  `json:"market"`
	Side      domain.Side    `json:"side"`
	Submitted bool           `json:"submitted"`
	Outcome   domain.Outcome `json:"outcome"`
}

// ScoreGroup collects a meet's picks.
type ScoreGroup struct {
	MeetID   string       `json:"meet_id"`
	MeetName string       `json:"meet_name"`
	Entries  []ScoreEntry `json:"entries"`
}

// Scoreboard is one identity's picks grouped by meet with outcome totals.
// Totals count submitted picks only.
type Scoreboard struct {
	Identity domain.Identity `json:"identity"`
	Groups   []ScoreGroup    `json:"groups"`
	Totals   scoring.Tally   `json:"totals"`
}

// ScoreboardService scores a session's picks against the catalog.
type ScoreboardService struct {
	catalog  *CatalogService
	observer OutcomeObserver
}

// NewScoreboardService creates a ScoreboardService. observer may be nil.
func NewScoreboardService(catalog *CatalogService, observer OutcomeObserver) *ScoreboardService {
	return &ScoreboardService{catalog: catalog, observer: observer}
}

// Build scores snap. Picks for markets or meets missing from the catalog are
// left out. Groups follow meet listing order and entries follow market order.
func (s *ScoreboardService) Build(ctx context.Context, snap picks.Snapshot) (Scoreboard, error) {
	meets, err := s.catalog.ListMeets(ctx)
	if err != nil {
		return Scoreboard{}, err
	}
	markets, err := s.catalog.ListMarkets(ctx, domain.MarketFilter{})
	if err != nil {
		return Scoreboard{}, err
	}

	position := make(map[string]int, len(markets))
	byID := make(map[string]domain.Market, len(markets))
	for i, m := range markets {
		position[m.ID] = i
		byID[m.ID] = m
	}

	byMeet := make(map[string][]ScoreEntry)
	board := Scoreboard{Identity: snap.Identity, Groups: []ScoreGroup{}}
	for id, side := range snap.State.Picks {
		market, ok := byID[id]
		if !ok {
			continue
		}
		if _, ok := s.catalog.Meet(market.MeetID); !ok {
			continue
		}
		entry := ScoreEntry{
			Market:    market,
			Side:      side,
			Submitted: snap.State.Submitted[id],
			Outcome:   domain.OutcomePending,
		}
		if entry.Submitted {
			entry.Outcome = scoring.ClassifyMarket(market, side)
			board.Totals.Add(entry.Outcome)
			if s.observer != nil {
				s.observer.Outcome(entry.Outcome)
			}
		}
		byMeet[market.MeetID] = append(byMeet[market.MeetID], entry)
	}

	for _, meet := range meets {
		entries, ok := byMeet[meet.ID]
		if !ok {
			continue
		}
		sort.Slice(entries, func(i, j int) bool {
			return position[entries[i].Market.ID] < position[entries[j].Market.ID]
		})
		board.Groups = append(board.Groups, ScoreGroup{
			MeetID:   meet.ID,
			MeetName: meet.Name,
			Entries:  entries,
		})
	}
	return board, nil
}
