// Package picks owns the draft and submitted pick state of one session.
//
// A Manager is bound to a device. While the device is a guest, state is
// persisted through the guest store; after sign-in it is persisted per
// account through the remote pick store. Transitions update memory
// synchronously and queue the matching persistence call on an ordered
// worker, so a slow or failing backend never blocks or reverts a pick.
package picks

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/scoring"
)

// Catalog is the read-only view of meets and markets the manager validates
// against.
type Catalog interface {
	Market(id string) (domain.Market, bool)
	Meet(id string) (domain.Meet, bool)
}

// Recorder receives transition and persistence outcomes for metrics.
type Recorder interface {
	Transition(op string, err error)
	PersistFailed(backend, op string)
}

type nopRecorder struct{}

func (nopRecorder) Transition(string, error)     {}
func (nopRecorder) PersistFailed(string, string) {}

// Operation names reported to the Recorder and used in logs.
const (
	OpSetPick          = "set_pick"
	OpSubmit           = "submit"
	OpUnlock           = "unlock"
	OpClearAll         = "clear_all"
	OpClearUnsubmitted = "clear_unsubmitted"
	OpSignIn           = "sign_in"
	OpSignOut          = "sign_out"
)

// Deps are the collaborators shared by every manager.
type Deps struct {
	Catalog  Catalog
	Guests   domain.GuestStateStore
	Remote   domain.PickStore
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Recorder Recorder
}

// Options tune the persistence worker.
type Options struct {
	QueueSize      int
	PersistTimeout time.Duration
}

// Snapshot is a copy of a manager's state.
type Snapshot struct {
	Identity domain.Identity  `json:"identity"`
	Backend  string           `json:"backend"`
	State    domain.PickState `json:"state"`
}

// Picks returns the snapshot's picks sorted by market id.
func (s Snapshot) Picks() []domain.Pick {
	out := s.State.List()
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// MarketStatus is the control state of one market for the current session.
type MarketStatus struct {
	MarketID   string         `json:"market_id"`
	Side       domain.Side    `json:"side,omitempty"`
	Submitted  bool           `json:"submitted"`
	TimeLocked bool           `json:"time_locked"`
	Settled    bool           `json:"settled"`
	CanPick    bool           `json:"can_pick"`
	CanSubmit  bool           `json:"can_submit"`
	CanUnlock  bool           `json:"can_unlock"`
	Outcome    domain.Outcome `json:"outcome"`
}

// Manager is the pick lifecycle state machine for one device.
type Manager struct {
	catalog  Catalog
	guests   domain.GuestStateStore
	remote   domain.PickStore
	clock    clockwork.Clock
	logger   *slog.Logger
	recorder Recorder
	effects  *effectQueue

	mu       sync.Mutex
	identity domain.Identity
	backend  Backend
	state    domain.PickState
	loading  Backend // backend with a Load in flight; transitions fail until it lands
	closed   bool
}

// NewManager creates a guest manager for deviceID with empty state. Call
// Load to restore persisted guest state.
func NewManager(deviceID string, deps Deps, opts Options) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	logger := deps.Logger.With(slog.String("component", "picks"), slog.String("device_id", deviceID))
	rec := deps.Recorder

	return &Manager{
		catalog:  deps.Catalog,
		guests:   deps.Guests,
		remote:   deps.Remote,
		clock:    deps.Clock,
		logger:   logger,
		recorder: rec,
		effects: newEffectQueue(opts.QueueSize, opts.PersistTimeout, logger, func(backend, op string, _ error) {
			rec.PersistFailed(backend, op)
		}),
		identity: domain.Identity{DeviceID: deviceID},
		backend:  NewGuestBackend(deps.Guests, deviceID),
		state:    domain.NewPickState(),
	}
}

// Load replaces in-memory state with whatever the active backend holds. On
// failure the state is reset to empty and the error returned.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	backend := m.backend
	m.loading = backend
	m.mu.Unlock()
	return m.loadFrom(ctx, backend)
}

// Identity returns the identity the manager currently acts for.
func (m *Manager) Identity() domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Identity: m.identity,
		Backend:  m.backend.Name(),
		State:    m.state.Clone(),
	}
}

// SetPick drafts side for marketID, replacing any earlier draft.
func (m *Manager) SetPick(marketID string, side domain.Side) (err error) {
	defer func() { m.recorder.Transition(OpSetPick, err) }()

	if !side.Valid() {
		return ErrInvalidSide
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writableLocked(); err != nil {
		return err
	}

	market, locked, err := m.lookup(marketID)
	if err != nil {
		return err
	}
	if m.state.Submitted[marketID] {
		return ErrAlreadySubmitted
	}
	if market.IsSettled() {
		return ErrSettled
	}
	if locked {
		return ErrTimeLocked
	}
	if m.state.Picks[marketID] == side {
		return nil
	}

	m.state.Picks[marketID] = side
	m.enqueue(OpSetPick, func(ctx context.Context, b Backend, s domain.PickState) error {
		return b.Drafted(ctx, s)
	})
	return nil
}

// SubmitMarket locks in the drafted side for marketID. Lock time and
// settlement are re-checked against the catalog and clock at call time.
func (m *Manager) SubmitMarket(marketID string) (err error) {
	defer func() { m.recorder.Transition(OpSubmit, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writableLocked(); err != nil {
		return err
	}

	market, locked, err := m.lookup(marketID)
	if err != nil {
		return err
	}
	side, ok := m.state.Picks[marketID]
	if !ok || !side.Valid() {
		return ErrNoDraft
	}
	if m.state.Submitted[marketID] {
		return ErrAlreadySubmitted
	}
	if market.IsSettled() {
		return ErrSettled
	}
	if locked {
		return ErrTimeLocked
	}

	m.state.Submitted[marketID] = true
	m.enqueue(OpSubmit, func(ctx context.Context, b Backend, s domain.PickState) error {
		return b.Submitted(ctx, s, marketID, side)
	})
	return nil
}

// ClearSubmission unlocks marketID back to a draft. The drafted side is kept.
func (m *Manager) ClearSubmission(marketID string) (err error) {
	defer func() { m.recorder.Transition(OpUnlock, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writableLocked(); err != nil {
		return err
	}

	market, locked, err := m.lookup(marketID)
	if err != nil {
		return err
	}
	if !m.state.Submitted[marketID] {
		return ErrNotSubmitted
	}
	if market.IsSettled() {
		return ErrSettled
	}
	if locked {
		return ErrTimeLocked
	}

	delete(m.state.Submitted, marketID)
	m.enqueue(OpUnlock, func(ctx context.Context, b Backend, s domain.PickState) error {
		return b.Unlocked(ctx, s, marketID)
	})
	return nil
}

// ClearAll wipes every draft and submission for the acting identity.
func (m *Manager) ClearAll() (err error) {
	defer func() { m.recorder.Transition(OpClearAll, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writableLocked(); err != nil {
		return err
	}

	m.state = domain.NewPickState()
	m.enqueue(OpClearAll, func(ctx context.Context, b Backend, _ domain.PickState) error {
		return b.Cleared(ctx)
	})
	return nil
}

// ClearUnsubmitted drops every draft that was never submitted and returns
// how many were removed.
func (m *Manager) ClearUnsubmitted() (removed int, err error) {
	defer func() { m.recorder.Transition(OpClearUnsubmitted, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writableLocked(); err != nil {
		return 0, err
	}

	for id := range m.state.Picks {
		if !m.state.Submitted[id] {
			delete(m.state.Picks, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	m.enqueue(OpClearUnsubmitted, func(ctx context.Context, b Backend, s domain.PickState) error {
		return b.Drafted(ctx, s)
	})
	return removed, nil
}

// SignIn switches the manager to the account backend for userID and
// replaces in-memory state with the account's stored picks. Guest drafts are
// discarded, not merged. If loading fails the state is left empty.
func (m *Manager) SignIn(ctx context.Context, userID string) (err error) {
	defer func() { m.recorder.Transition(OpSignIn, err) }()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	backend := NewRemoteBackend(m.remote, userID)
	m.identity.UserID = userID
	m.backend = backend
	m.loading = backend
	m.state = domain.NewPickState()
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "picks: signed in", slog.String("user_id", userID))
	return m.loadFrom(ctx, backend)
}

// SignOut switches back to the guest backend and wipes in-memory and guest
// state so the previous account's picks do not leak into the device.
func (m *Manager) SignOut(ctx context.Context) (err error) {
	defer func() { m.recorder.Transition(OpSignOut, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	prev := m.identity.UserID
	m.identity.UserID = ""
	m.backend = NewGuestBackend(m.guests, m.identity.DeviceID)
	m.loading = nil
	m.state = domain.NewPickState()
	m.enqueue(OpSignOut, func(ctx context.Context, b Backend, _ domain.PickState) error {
		return b.Cleared(ctx)
	})

	m.logger.InfoContext(ctx, "picks: signed out", slog.String("user_id", prev))
	return nil
}

func (m *Manager) loadFrom(ctx context.Context, backend Backend) error {
	state, err := backend.Load(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != backend {
		// Identity changed while loading; the newer switch owns the state.
		return nil
	}
	m.state = state
	if m.loading == backend {
		m.loading = nil
	}
	return err
}

// writableLocked reports why a transition cannot run right now. Callers hold
// m.mu.
func (m *Manager) writableLocked() error {
	if m.closed {
		return ErrClosed
	}
	if m.loading != nil {
		return ErrLoading
	}
	return nil
}

// Status reports the pick and control state of marketID.
func (m *Manager) Status(marketID string) (MarketStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	market, locked, err := m.lookup(marketID)
	if err != nil {
		return MarketStatus{}, err
	}
	return m.statusLocked(market, locked), nil
}

// Statuses reports Status for each id, skipping ids unknown to the catalog.
func (m *Manager) Statuses(marketIDs []string) []MarketStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MarketStatus, 0, len(marketIDs))
	for _, id := range marketIDs {
		market, locked, err := m.lookup(id)
		if err != nil {
			continue
		}
		out = append(out, m.statusLocked(market, locked))
	}
	return out
}

func (m *Manager) statusLocked(market domain.Market, locked bool) MarketStatus {
	side := m.state.Picks[market.ID]
	submitted := m.state.Submitted[market.ID]
	settled := market.IsSettled()
	open := !settled && !locked

	st := MarketStatus{
		MarketID:   market.ID,
		Side:       side,
		Submitted:  submitted,
		TimeLocked: locked,
		Settled:    settled,
		CanPick:    open && !submitted,
		CanSubmit:  open && !submitted && side.Valid(),
		CanUnlock:  open && submitted,
		Outcome:    domain.OutcomePending,
	}
	if submitted {
		st.Outcome = scoring.ClassifyMarket(market, side)
	}
	return st
}

// Outcome scores the submitted pick for marketID. Drafts and unknown
// markets are pending.
func (m *Manager) Outcome(marketID string) domain.Outcome {
	st, err := m.Status(marketID)
	if err != nil {
		return domain.OutcomePending
	}
	return st.Outcome
}

// Flush waits until every persistence call queued so far has been applied.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	done := m.effects.barrier()
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further transitions and waits for queued persistence calls
// to finish. It is safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.effects.close()
}

// lookup resolves marketID and whether its meet is time-locked now. Callers
// hold m.mu.
func (m *Manager) lookup(marketID string) (domain.Market, bool, error) {
	market, ok := m.catalog.Market(marketID)
	if !ok {
		return domain.Market{}, false, ErrUnknownMarket
	}
	locked := false
	if meet, ok := m.catalog.Meet(market.MeetID); ok {
		locked = meet.IsLocked(m.clock.Now())
	}
	return market, locked, nil
}

// enqueue schedules fn against the current backend with a copy of the
// current state. Callers hold m.mu.
func (m *Manager) enqueue(op string, fn func(ctx context.Context, b Backend, s domain.PickState) error) {
	backend := m.backend
	state := m.state.Clone()
	m.effects.push(effect{
		op:      op,
		backend: backend.Name(),
		run: func(ctx context.Context) error {
			return fn(ctx, backend, state)
		},
	})
}
