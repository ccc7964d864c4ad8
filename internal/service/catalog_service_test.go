package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/taper/internal/catalog"
	"github.com/alanyoungcy/taper/internal/domain"
)

var testStart = time.Date(2026, 3, 19, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSource struct {
	mu    sync.Mutex
	data  []byte
	err   error
	loads int
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Load(ctx context.Context) (catalog.Snapshot, error) {
	s.mu.Lock()
	s.loads++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return catalog.Snapshot{}, err
	}
	return catalog.NewStaticSource(s.data).Load(ctx)
}

func (s *stubSource) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

type catalogHarness struct {
	svc     *CatalogService
	source  *stubSource
	cache   *memCatalogCache
	results *memResultStore
	bus     *memBus
	clock   *clockwork.FakeClock
}

func newCatalogHarness(t *testing.T) *catalogHarness {
	t.Helper()
	h := &catalogHarness{
		source:  &stubSource{data: []byte(testDataset)},
		cache:   newMemCatalogCache(),
		results: &memResultStore{},
		bus:     newMemBus(),
		clock:   clockwork.NewFakeClockAt(testStart),
	}
	h.svc = NewCatalogService(h.source, h.cache, h.results, h.bus, h.clock, time.Minute, discardLogger())
	require.NoError(t, h.svc.Refresh(context.Background()))
	return h
}

func ids(markets []domain.Market) []string {
	out := make([]string, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.ID)
	}
	return out
}

func TestCatalogService_ReadsBeforeLoad(t *testing.T) {
	svc := NewCatalogService(&stubSource{data: []byte(testDataset)}, nil, nil, nil, nil, 0, discardLogger())
	ctx := context.Background()

	_, err := svc.ListMeets(ctx)
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	_, err = svc.ListMarkets(ctx, domain.MarketFilter{})
	assert.ErrorIs(t, err, ErrCatalogUnavailable)
	_, ok := svc.Market("kos")
	assert.False(t, ok)
}

func TestCatalogService_ListMeetsOrder(t *testing.T) {
	h := newCatalogHarness(t)

	meets, err := h.svc.ListMeets(context.Background())
	require.NoError(t, err)

	var got []string
	for _, m := range meets {
		got = append(got, m.ID)
	}
	assert.Equal(t, []string{"ncaa-m-2026", "ncaa-w-2025", "panpacs-2026", "oly-2024"}, got)
}

func TestCatalogService_ListMarkets(t *testing.T) {
	h := newCatalogHarness(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter domain.MarketFilter
		want   []string
	}{
		{"all", domain.MarketFilter{}, []string{"liendo", "kos", "douglass", "marchand", "mckeon", "titmus"}},
		{"by meet", domain.MarketFilter{MeetID: "oly-2024"}, []string{"marchand", "mckeon"}},
		{"by gender", domain.MarketFilter{Gender: domain.GenderWomen}, []string{"douglass", "mckeon", "titmus"}},
		{"meet and gender", domain.MarketFilter{MeetID: "oly-2024", Gender: domain.GenderWomen}, []string{"mckeon"}},
		{"no match", domain.MarketFilter{MeetID: "ncaa-w-2025", Gender: domain.GenderMen}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.svc.ListMarkets(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}

	_, err := h.svc.ListMarkets(ctx, domain.MarketFilter{MeetID: "worlds-2027"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalogService_ResultsOverlaid(t *testing.T) {
	h := newCatalogHarness(t)

	kos, err := h.svc.GetMarket(context.Background(), "kos")
	require.NoError(t, err)
	assert.True(t, kos.IsSettled())
	assert.Equal(t, "1:33.88", kos.ResultTime())

	upcoming, settled := SplitByStatus([]domain.Market{kos, {ID: "liendo"}})
	assert.Equal(t, []string{"liendo"}, ids(upcoming))
	assert.Equal(t, []string{"kos"}, ids(settled))
}

func TestCatalogService_Spotlight(t *testing.T) {
	h := newCatalogHarness(t)
	ctx := context.Background()

	top, err := h.svc.Spotlight(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"kos", "marchand", "liendo"}, ids(top))

	top, err = h.svc.Spotlight(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, top, DefaultSpotlightSize)

	top, err = h.svc.Spotlight(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, top, 6)
}

func TestCatalogService_GetMeetAndMarket(t *testing.T) {
	h := newCatalogHarness(t)
	ctx := context.Background()

	meet, err := h.svc.GetMeet(ctx, "ncaa-m-2026")
	require.NoError(t, err)
	require.NotNil(t, meet.LockTime)
	assert.False(t, meet.IsLocked(h.clock.Now()))

	_, err = h.svc.GetMeet(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.GetMarket(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalogService_GetMarketFallsBackToCache(t *testing.T) {
	h := newCatalogHarness(t)
	ctx := context.Background()

	h.cache.markets["late"] = domain.Market{ID: "late", MeetID: "oly-2024", Gender: domain.GenderMen}
	h.cache.markets["orphan"] = domain.Market{ID: "orphan", MeetID: "gone"}

	m, err := h.svc.GetMarket(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, "late", m.ID)

	_, err = h.svc.GetMarket(ctx, "orphan")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCatalogService_RefreshWritesCache(t *testing.T) {
	h := newCatalogHarness(t)
	assert.Equal(t, 1, h.cache.sets)
	assert.Len(t, h.cache.markets, 6)
	assert.Equal(t, testStart, h.svc.LoadedAt())
}

func TestCatalogService_CacheFailureIgnored(t *testing.T) {
	cache := newMemCatalogCache()
	cache.err = errors.New("redis down")
	svc := NewCatalogService(&stubSource{data: []byte(testDataset)}, cache, nil, nil, nil, 0, discardLogger())

	require.NoError(t, svc.Refresh(context.Background()))
	_, ok := svc.Market("kos")
	assert.True(t, ok)
}

func TestCatalogService_RefreshFailureKeepsSnapshot(t *testing.T) {
	h := newCatalogHarness(t)
	h.source.err = errors.New("s3 unavailable")

	err := h.svc.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 unavailable")

	_, ok := h.svc.Market("liendo")
	assert.True(t, ok)
}

func TestCatalogService_RecordResult(t *testing.T) {
	h := newCatalogHarness(t)
	ctx := context.Background()

	_, err := h.svc.RecordResult(ctx, "liendo", "fast")
	assert.ErrorIs(t, err, ErrInvalidResult)

	_, err = h.svc.RecordResult(ctx, "ghost", "42.10")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m, err := h.svc.RecordResult(ctx, "liendo", " 42.74 ")
	require.NoError(t, err)
	assert.Equal(t, "42.74", m.ResultTime())
	assert.Equal(t, "42.74", h.results.results["liendo"])
	assert.Contains(t, h.cache.invalidated, "liendo")

	evts := h.bus.events(domain.ChannelSettled)
	require.Len(t, evts, 1)
	assert.Equal(t, domain.PickEventSettled, evts[0].Type)
	assert.Equal(t, "liendo", evts[0].MarketID)
	assert.Equal(t, "42.74", evts[0].Result)

	// A refresh from a source without the result keeps it settled.
	require.NoError(t, h.svc.Refresh(ctx))
	got, ok := h.svc.Market("liendo")
	require.True(t, ok)
	assert.Equal(t, "42.74", got.ResultTime())
}

func TestCatalogService_RecordResultStoreFailure(t *testing.T) {
	h := newCatalogHarness(t)
	h.results.err = errors.New("postgres down")

	_, err := h.svc.RecordResult(context.Background(), "liendo", "42.74")
	require.Error(t, err)

	m, _ := h.svc.Market("liendo")
	assert.False(t, m.IsSettled(), "snapshot untouched when persistence fails")
	assert.Empty(t, h.bus.events(domain.ChannelSettled))
}

func TestCatalogService_RecordResultMarketDroppedByRefresh(t *testing.T) {
	h := newCatalogHarness(t)
	ctx := context.Background()

	ds, err := catalog.Parse([]byte(testDataset))
	require.NoError(t, err)
	kept := ds.Markets[:0]
	for _, m := range ds.Markets {
		if m.ID != "liendo" {
			kept = append(kept, m)
		}
	}
	ds.Markets = kept
	delete(ds.Results, "liendo")
	without, err := ds.Marshal()
	require.NoError(t, err)

	h.results.stored = func() {
		h.source.data = without
		require.NoError(t, h.svc.Refresh(ctx))
	}

	_, err = h.svc.RecordResult(ctx, "liendo", "42.74")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, ok := h.svc.Market("liendo")
	assert.False(t, ok)
	_, ok = h.svc.Market("")
	assert.False(t, ok, "no zero-value market inserted")
	assert.Empty(t, h.bus.events(domain.ChannelSettled))
}

func TestCatalogService_RunRefreshes(t *testing.T) {
	h := newCatalogHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return h.source.loadCount() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestSettledEventPayload(t *testing.T) {
	h := newCatalogHarness(t)
	_, err := h.svc.RecordResult(context.Background(), "titmus", "3:55.55")
	require.NoError(t, err)

	raw := h.bus.published[domain.ChannelSettled][0]
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "market_settled", payload["type"])
	assert.Equal(t, "titmus", payload["market_id"])
}
