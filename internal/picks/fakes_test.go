package picks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alanyoungcy/taper/internal/domain"
)

type fakeCatalog struct {
	mu      sync.Mutex
	meets   map[string]domain.Meet
	markets map[string]domain.Market
}

func newFakeCatalog() *fakeCatalog {
	c := &fakeCatalog{
		meets:   make(map[string]domain.Meet),
		markets: make(map[string]domain.Market),
	}
	c.addMeet(domain.Meet{ID: "ncaa-m-2026", Category: domain.CategoryNCAA, Genders: []domain.Gender{domain.GenderMen}})
	c.addMarket(domain.Market{ID: "liendo", MeetID: "ncaa-m-2026", Gender: domain.GenderMen, TimeLabel: "Dressel's 42.80"})
	c.addMarket(domain.Market{ID: "urlando", MeetID: "ncaa-m-2026", Gender: domain.GenderMen, TimeLabel: "1:36.00 Barrier"})
	return c
}

func (c *fakeCatalog) addMeet(m domain.Meet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meets[m.ID] = m
}

func (c *fakeCatalog) addMarket(m domain.Market) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
}

func (c *fakeCatalog) settle(id, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.markets[id]
	m.Result = &result
	c.markets[id] = m
}

func (c *fakeCatalog) lock(meetID string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.meets[meetID]
	m.LockTime = &at
	c.meets[meetID] = m
}

func (c *fakeCatalog) Market(id string) (domain.Market, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markets[id]
	return m, ok
}

func (c *fakeCatalog) Meet(id string) (domain.Meet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.meets[id]
	return m, ok
}

type memGuestStore struct {
	mu     sync.Mutex
	states map[string]domain.PickState
	saves  int
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
	s.saves++
	return nil
}

func (s *memGuestStore) Clear(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, deviceID)
	return nil
}

func (s *memGuestStore) get(deviceID string) (domain.PickState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[deviceID]
	return st, ok
}

type memPickStore struct {
	mu      sync.Mutex
	rows    map[string]map[string]domain.Side
	upserts int
	failing bool
	gate    chan struct{}
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

func (s *memPickStore) Load(_ context.Context, userID string) ([]domain.RemotePick, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errStoreDown
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
	if s.failing {
		return errStoreDown
	}
	if s.rows[userID] == nil {
		s.rows[userID] = make(map[string]domain.Side)
	}
	s.rows[userID][marketID] = side
	s.upserts++
	return nil
}

func (s *memPickStore) Delete(_ context.Context, userID, marketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	delete(s.rows[userID], marketID)
	return nil
}

func (s *memPickStore) DeleteAll(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	delete(s.rows, userID)
	return nil
}

func (s *memPickStore) userRows(userID string) map[string]domain.Side {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Side)
	for k, v := range s.rows[userID] {
		out[k] = v
	}
	return out
}

func (s *memPickStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

type countingRecorder struct {
	mu          sync.Mutex
	transitions map[string]int
	failures    map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{transitions: make(map[string]int), failures: make(map[string]int)}
}

func (r *countingRecorder) Transition(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := op + ":ok"
	if err != nil {
		key = op + ":rejected"
	}
	r.transitions[key]++
}

func (r *countingRecorder) PersistFailed(backend, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[backend+":"+op]++
}

func (r *countingRecorder) failed(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[key]
}
