package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alanyoungcy/taper/internal/cache/redis"
	"github.com/alanyoungcy/taper/internal/catalog"
	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
	"github.com/alanyoungcy/taper/internal/scoring"
)

// ErrCatalogUnavailable is returned by reads before the first successful load.
var ErrCatalogUnavailable = errors.New("catalog_service: catalog not loaded")

// ErrInvalidResult is returned when a recorded result is not a swim time.
var ErrInvalidResult = errors.New("catalog_service: invalid result time")

// DefaultSpotlightSize is the number of spotlight markets on the home feed.
const DefaultSpotlightSize = 4

// CatalogService serves meets and markets from an in-memory snapshot that is
// periodically reloaded from a catalog.Source.
type CatalogService struct {
	source   catalog.Source
	cache    domain.CatalogCache
	results  domain.ResultStore
	bus      domain.SignalBus
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	loaded   bool
	meets    map[string]domain.Meet
	markets  map[string]domain.Market
	order    []string          // market ids in source order
	recorded map[string]string // results recorded at runtime, reapplied on refresh
	loadedAt time.Time
}

// NewCatalogService creates a CatalogService. cache, results and bus are
// optional; a nil collaborator disables the matching feature.
func NewCatalogService(
	source catalog.Source,
	cache domain.CatalogCache,
	results domain.ResultStore,
	bus domain.SignalBus,
	clock clockwork.Clock,
	refreshInterval time.Duration,
	logger *slog.Logger,
) *CatalogService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CatalogService{
		source:   source,
		cache:    cache,
		results:  results,
		bus:      bus,
		clock:    clock,
		interval: refreshInterval,
		logger:   logger.With(slog.String("component", "catalog_service")),
		meets:    make(map[string]domain.Meet),
		markets:  make(map[string]domain.Market),
		recorded: make(map[string]string),
	}
}

// Refresh reloads the snapshot from the source. On failure the previous
// snapshot stays in place.
func (s *CatalogService) Refresh(ctx context.Context) error {
	snap, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("catalog_service: load from %s: %w", s.source.Name(), err)
	}

	for _, id := range snap.SuspectLabels() {
		s.logger.WarnContext(ctx, "catalog_service: time label has no parseable target",
			slog.String("market_id", id),
		)
	}

	meets := make(map[string]domain.Meet, len(snap.Meets))
	for _, m := range snap.Meets {
		meets[m.ID] = m
	}
	markets := make(map[string]domain.Market, len(snap.Markets))
	order := make([]string, 0, len(snap.Markets))

	s.mu.Lock()
	for _, m := range snap.Markets {
		if !m.IsSettled() {
			if r, ok := s.recorded[m.ID]; ok {
				m.Result = &r
			}
		} else {
			delete(s.recorded, m.ID)
		}
		markets[m.ID] = m
		order = append(order, m.ID)
	}
	s.meets = meets
	s.markets = markets
	s.order = order
	s.loaded = true
	s.loadedAt = s.clock.Now()
	list := s.marketsLocked(domain.MarketFilter{})
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SetMarkets(ctx, list); err != nil {
			s.logger.WarnContext(ctx, "catalog_service: cache markets failed",
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "catalog_service: catalog loaded",
		slog.String("source", s.source.Name()),
		slog.Int("meets", len(meets)),
		slog.Int("markets", len(markets)),
	)
	return nil
}

// Run refreshes the catalog every refresh interval until ctx is cancelled.
// A non-positive interval disables periodic refresh.
func (s *CatalogService) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := s.Refresh(ctx); err != nil {
				s.logger.ErrorContext(ctx, "catalog_service: refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// LoadedAt reports when the current snapshot was loaded.
func (s *CatalogService) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// ListMeets returns meets grouped by category (NCAA, International,
// Olympics) and newest first within a category.
func (s *CatalogService) ListMeets(_ context.Context) ([]domain.Meet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, ErrCatalogUnavailable
	}
	out := make([]domain.Meet, 0, len(s.meets))
	for _, m := range s.meets {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := a.Category.Rank(), b.Category.Rank(); ra != rb {
			return ra < rb
		}
		if a.Year != b.Year {
			return a.Year > b.Year
		}
		return a.ID < b.ID
	})
	return out, nil
}

// GetMeet returns the meet with id or domain.ErrNotFound.
func (s *CatalogService) GetMeet(_ context.Context, id string) (domain.Meet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return domain.Meet{}, ErrCatalogUnavailable
	}
	m, ok := s.meets[id]
	if !ok {
		return domain.Meet{}, fmt.Errorf("catalog_service: meet %q: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// ListMarkets returns markets matching filter in source order. Filtering by
// an unknown meet returns domain.ErrNotFound.
func (s *CatalogService) ListMarkets(_ context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, ErrCatalogUnavailable
	}
	if filter.MeetID != "" {
		if _, ok := s.meets[filter.MeetID]; !ok {
			return nil, fmt.Errorf("catalog_service: meet %q: %w", filter.MeetID, domain.ErrNotFound)
		}
	}
	return s.marketsLocked(filter), nil
}

// GetMarket returns the market with id. A snapshot miss falls back to the
// shared cache, which may hold markets another instance has already loaded.
func (s *CatalogService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if m, ok := s.Market(id); ok {
		return m, nil
	}
	if s.cache != nil {
		m, err := s.cache.GetMarket(ctx, id)
		if err == nil {
			if _, ok := s.Meet(m.MeetID); ok {
				return m, nil
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "catalog_service: cache get failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return domain.Market{}, fmt.Errorf("catalog_service: market %q: %w", id, domain.ErrNotFound)
}

// Market implements picks.Catalog.
func (s *CatalogService) Market(id string) (domain.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	return m, ok
}

// Meet implements picks.Catalog.
func (s *CatalogService) Meet(id string) (domain.Meet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meets[id]
	return m, ok
}

// Spotlight returns up to n markets with the most community votes. Markets
// whose meet is missing are skipped. Ties keep source order.
func (s *CatalogService) Spotlight(_ context.Context, n int) ([]domain.Market, error) {
	if n <= 0 {
		n = DefaultSpotlightSize
	}
	s.mu.RLock()
	if !s.loaded {
		s.mu.RUnlock()
		return nil, ErrCatalogUnavailable
	}
	candidates := make([]domain.Market, 0, len(s.order))
	for _, id := range s.order {
		m := s.markets[id]
		if _, ok := s.meets[m.MeetID]; ok {
			candidates = append(candidates, m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].TotalVotes() > candidates[j].TotalVotes()
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, nil
}

// SplitByStatus partitions markets into upcoming (unsettled) and settled,
// preserving order.
func SplitByStatus(markets []domain.Market) (upcoming, settled []domain.Market) {
	upcoming = make([]domain.Market, 0, len(markets))
	settled = make([]domain.Market, 0)
	for _, m := range markets {
		if m.IsSettled() {
			settled = append(settled, m)
		} else {
			upcoming = append(upcoming, m)
		}
	}
	return upcoming, settled
}

// RecordResult settles marketID with an official time, persists it when a
// result store is configured and announces the settlement on the bus.
func (s *CatalogService) RecordResult(ctx context.Context, marketID, result string) (domain.Market, error) {
	result = strings.TrimSpace(result)
	if _, err := scoring.TimeToSeconds(result); err != nil {
		return domain.Market{}, fmt.Errorf("%w: %q", ErrInvalidResult, result)
	}

	market, ok := s.Market(marketID)
	if !ok {
		return domain.Market{}, fmt.Errorf("catalog_service: market %q: %w", marketID, domain.ErrNotFound)
	}

	if s.results != nil {
		if err := s.results.SetResult(ctx, marketID, result); err != nil {
			return domain.Market{}, fmt.Errorf("catalog_service: set result %q: %w", marketID, err)
		}
	}

	s.mu.Lock()
	market, ok = s.markets[marketID]
	if !ok {
		// A refresh dropped the market while the result was being stored.
		s.mu.Unlock()
		return domain.Market{}, fmt.Errorf("catalog_service: market %q: %w", marketID, domain.ErrNotFound)
	}
	market.Result = &result
	s.markets[marketID] = market
	s.recorded[marketID] = result
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, marketID); err != nil {
			s.logger.WarnContext(ctx, "catalog_service: cache invalidate failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		evt := domain.PickEvent{
			Type:     domain.PickEventSettled,
			MarketID: marketID,
			Result:   result,
			At:       s.clock.Now().UTC(),
		}
		if err := redis.PublishJSON(ctx, s.bus, domain.ChannelSettled, evt); err != nil {
			s.logger.WarnContext(ctx, "catalog_service: publish settlement failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "catalog_service: result recorded",
		slog.String("market_id", marketID),
		slog.String("result", result),
	)
	return market, nil
}

// marketsLocked lists markets in source order. Callers hold s.mu.
func (s *CatalogService) marketsLocked(filter domain.MarketFilter) []domain.Market {
	out := make([]domain.Market, 0, len(s.order))
	for _, id := range s.order {
		m := s.markets[id]
		if filter.Match(m) {
			out = append(out, m)
		}
	}
	return out
}

var _ picks.Catalog = (*CatalogService)(nil)
