package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/alanyoungcy/taper/internal/domain"
)

const testDataset = `
version: 1
meets:
  - id: oly-2024
    name: Paris 2024
    category: Olympics
    league_tag: OLY
    year: 2024
    genders: [Men, Women]
  - id: ncaa-w-2025
    name: NCAA Women 2025
    category: NCAA
    league_tag: NCAA
    year: 2025
    genders: [Women]
  - id: ncaa-m-2026
    name: NCAA Men 2026
    category: NCAA
    league_tag: NCAA
    year: 2026
    genders: [Men]
    lock_time: "2026-03-20T17:00:00Z"
  - id: panpacs-2026
    name: Pan Pacs 2026
    category: International
    league_tag: PAN PACS
    year: 2026
    genders: [Men, Women]
markets:
  - id: liendo
    meet_id: ncaa-m-2026
    gender: Men
    swimmer: Josh Liendo
    event: 100 Yard Butterfly
    time_label: Dressel's 42.80
    votes_over: 10
    votes_under: 10
  - id: kos
    meet_id: ncaa-m-2026
    gender: Men
    swimmer: Hubert Kos
    event: 200 Yard Back
    time_label: 1:34.00 Barrier
    votes_over: 50
    votes_under: 50
  - id: douglass
    meet_id: ncaa-w-2025
    gender: Women
    swimmer: Kate Douglass
    event: 200 Yard IM
    time_label: 1:49.00 Barrier
    votes_over: 5
  - id: marchand
    meet_id: oly-2024
    gender: Men
    swimmer: Leon Marchand
    event: 400m IM
    time_label: 4:02.50 Line
    votes_over: 30
    votes_under: 70
  - id: mckeon
    meet_id: oly-2024
    gender: Women
    swimmer: Emma McKeon
    event: 100m Freestyle
    time_label: 52.00 Barrier
    votes_over: 20
  - id: titmus
    meet_id: panpacs-2026
    gender: Women
    swimmer: Ariarne Titmus
    event: 400m Freestyle
    time_label: 3:55.00 Barrier
    votes_over: 20
results:
  kos: "1:33.88"
  marchand: "4:01.95"
`

type memCatalogCache struct {
	mu          sync.Mutex
	markets     map[string]domain.Market
	sets        int
	invalidated []string
	err         error
}

func newMemCatalogCache() *memCatalogCache {
	return &memCatalogCache{markets: make(map[string]domain.Market)}
}

func (c *memCatalogCache) SetMarkets(_ context.Context, markets []domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sets++
	for _, m := range markets {
		c.markets[m.ID] = m
	}
	return nil
}

func (c *memCatalogCache) GetMarket(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memCatalogCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type memResultStore struct {
	mu      sync.Mutex
	results map[string]string
	err     error
	stored  func() // runs after a successful SetResult
}

func (s *memResultStore) SetResult(_ context.Context, marketID, result string) error {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return s.err
	}
	if s.results == nil {
		s.results = make(map[string]string)
	}
	s.results[marketID] = result
	stored := s.stored
	s.mu.Unlock()

	if stored != nil {
		stored()
	}
	return nil
}

// memBus records publishes and fans them out to exact-match subscribers.
type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	subs      map[string][]chan []byte
}

func newMemBus() *memBus {
	return &memBus{published: make(map[string][][]byte), subs: make(map[string][]chan []byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	for _, ch := range b.subs[channel] {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *memBus) subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (b *memBus) payloads(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[channel]...)
}

func (b *memBus) events(channel string) []domain.PickEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.PickEvent
	for _, raw := range b.published[channel] {
		var evt domain.PickEvent
		if err := json.Unmarshal(raw, &evt); err == nil {
			out = append(out, evt)
		}
	}
	return out
}

type memGuestStore struct {
	mu      sync.Mutex
	states  map[string]domain.PickState
	cleared []string
}

func newMemGuestStore() *memGuestStore {
	return &memGuestStore{states: make(map[string]domain.PickState)}
}

func (s *memGuestStore) Load(_ context.Context, deviceID string) (domain.PickState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[deviceID]
	if !ok {
		return domain.NewPickState(), nil
	}
	return st.Clone(), nil
}

func (s *memGuestStore) Save(_ context.Context, deviceID string, state domain.PickState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[deviceID] = state.Clone()
	return nil
}

func (s *memGuestStore) Clear(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, deviceID)
	s.cleared = append(s.cleared, deviceID)
	return nil
}

func (s *memGuestStore) get(deviceID string) (domain.PickState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[deviceID]
	return st, ok
}

type memPickStore struct {
	mu   sync.Mutex
	rows map[string]map[string]domain.Side
	err  error
	gate chan struct{}
}

func newMemPickStore() *memPickStore {
	return &memPickStore{rows: make(map[string]map[string]domain.Side)}
}

var errStoreDown = errors.New("store down")

// blockLoads holds every Load until the returned channel is closed.
func (s *memPickStore) blockLoads() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	return s.gate
}

func (s *memPickStore) userRows(userID string) map[string]domain.Side {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Side, len(s.rows[userID]))
	for id, side := range s.rows[userID] {
		out[id] = side
	}
	return out
}

func (s *memPickStore) Load(_ context.Context, userID string) ([]domain.RemotePick, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.RemotePick
	for id, side := range s.rows[userID] {
		out = append(out, domain.RemotePick{MarketID: id, Side: side})
	}
	return out, nil
}

func (s *memPickStore) Upsert(_ context.Context, userID, marketID string, side domain.Side) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows[userID] == nil {
		s.rows[userID] = make(map[string]domain.Side)
	}
	s.rows[userID][marketID] = side
	return nil
}

func (s *memPickStore) Delete(_ context.Context, userID, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows[userID], marketID)
	return nil
}

func (s *memPickStore) DeleteAll(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, userID)
	return nil
}

type countingObserver struct {
	mu       sync.Mutex
	opened   int
	closed   int
	outcomes map[domain.Outcome]int
}

func (o *countingObserver) SessionOpened() { o.mu.Lock(); o.opened++; o.mu.Unlock() }
func (o *countingObserver) SessionClosed() { o.mu.Lock(); o.closed++; o.mu.Unlock() }

func (o *countingObserver) Outcome(out domain.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[domain.Outcome]int)
	}
	o.outcomes[out]++
}
