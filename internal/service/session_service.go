package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/alanyoungcy/taper/internal/cache/redis"
	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
)

var (
	// ErrInvalidIdentity is returned for identity events missing a device,
	// a known kind, or a user on sign-in.
	ErrInvalidIdentity = errors.New("session_service: invalid identity event")
	// ErrSessionsClosed is returned once Close has been called.
	ErrSessionsClosed = errors.New("session_service: closed")
)

// SessionObserver is notified as managers enter and leave the registry.
type SessionObserver interface {
	SessionOpened()
	SessionClosed()
}

type nopObserver struct{}

func (nopObserver) SessionOpened() {}
func (nopObserver) SessionClosed() {}

type session struct {
	mgr      *picks.Manager
	ready    chan struct{}
	lastSeen time.Time
}

// SessionService keeps one picks.Manager per device, applies identity events
// to them and broadcasts every successful transition on the device's pick
// channel.
type SessionService struct {
	deps     picks.Deps
	opts     picks.Options
	bus      domain.SignalBus
	idle     time.Duration
	observer SessionObserver
	clock    clockwork.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	users    map[string]string // device id -> signed-in user id
	closed   bool
}

// NewSessionService creates a SessionService. bus and observer are optional.
// Managers unused for longer than idle are closed by Run; zero keeps them
// forever.
func NewSessionService(
	deps picks.Deps,
	opts picks.Options,
	bus domain.SignalBus,
	idle time.Duration,
	observer SessionObserver,
	logger *slog.Logger,
) *SessionService {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &SessionService{
		deps:     deps,
		opts:     opts,
		bus:      bus,
		idle:     idle,
		observer: observer,
		clock:    deps.Clock,
		logger:   logger.With(slog.String("component", "session_service")),
		sessions: make(map[string]*session),
		users:    make(map[string]string),
	}
}

// Manager returns the manager for deviceID, creating and loading it on first
// use. A device already known to be signed in starts on its account.
func (s *SessionService) Manager(ctx context.Context, deviceID string) (*picks.Manager, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrInvalidIdentity)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionsClosed
	}
	if sess, ok := s.sessions[deviceID]; ok {
		sess.lastSeen = s.clock.Now()
		s.mu.Unlock()
		select {
		case <-sess.ready:
			return sess.mgr, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	sess := &session{
		mgr:      picks.NewManager(deviceID, s.deps, s.opts),
		ready:    make(chan struct{}),
		lastSeen: s.clock.Now(),
	}
	s.sessions[deviceID] = sess
	userID := s.users[deviceID]
	s.mu.Unlock()
	s.observer.SessionOpened()

	var err error
	if userID != "" {
		err = sess.mgr.SignIn(ctx, userID)
	} else {
		err = sess.mgr.Load(ctx)
	}
	if err != nil {
		// The manager starts empty; later transitions still persist.
		s.logger.WarnContext(ctx, "session_service: initial load failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()),
		)
	}
	close(sess.ready)
	return sess.mgr, nil
}

// withManager runs fn against deviceID's manager. A manager evicted between
// lookup and use is replaced once and fn runs again on the fresh one.
func (s *SessionService) withManager(ctx context.Context, deviceID string, fn func(*picks.Manager) error) (*picks.Manager, error) {
	for attempt := 0; ; attempt++ {
		mgr, err := s.Manager(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		err = fn(mgr)
		if attempt == 0 && errors.Is(err, picks.ErrClosed) {
			continue
		}
		return mgr, err
	}
}

// SetPick drafts side for marketID on deviceID's manager.
func (s *SessionService) SetPick(ctx context.Context, deviceID, marketID string, side domain.Side) error {
	_, err := s.withManager(ctx, deviceID, func(mgr *picks.Manager) error {
		return mgr.SetPick(marketID, side)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.PickEvent{Type: domain.PickEventSet, DeviceID: deviceID, MarketID: marketID, Side: side})
	return nil
}

// Submit locks in deviceID's draft for marketID.
func (s *SessionService) Submit(ctx context.Context, deviceID, marketID string) error {
	mgr, err := s.withManager(ctx, deviceID, func(mgr *picks.Manager) error {
		return mgr.SubmitMarket(marketID)
	})
	if err != nil {
		return err
	}
	st, _ := mgr.Status(marketID)
	s.publish(ctx, domain.PickEvent{Type: domain.PickEventSubmitted, DeviceID: deviceID, MarketID: marketID, Side: st.Side})
	return nil
}

// Unlock returns deviceID's submission for marketID to a draft.
func (s *SessionService) Unlock(ctx context.Context, deviceID, marketID string) error {
	_, err := s.withManager(ctx, deviceID, func(mgr *picks.Manager) error {
		return mgr.ClearSubmission(marketID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.PickEvent{Type: domain.PickEventUnlocked, DeviceID: deviceID, MarketID: marketID})
	return nil
}

// ClearAll wipes every pick of deviceID's acting identity.
func (s *SessionService) ClearAll(ctx context.Context, deviceID string) error {
	_, err := s.withManager(ctx, deviceID, func(mgr *picks.Manager) error {
		return mgr.ClearAll()
	})
	if err != nil {
		return err
	}
	s.publish(ctx, domain.PickEvent{Type: domain.PickEventCleared, DeviceID: deviceID})
	return nil
}

// ClearDrafts drops deviceID's unsubmitted drafts and reports how many were
// removed.
func (s *SessionService) ClearDrafts(ctx context.Context, deviceID string) (int, error) {
	var n int
	_, err := s.withManager(ctx, deviceID, func(mgr *picks.Manager) error {
		var err error
		n, err = mgr.ClearUnsubmitted()
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publish(ctx, domain.PickEvent{Type: domain.PickEventCleared, DeviceID: deviceID})
	}
	return n, nil
}

// PublishIdentity announces evt on the identity channel so every instance
// applies it. Without a bus the event is applied locally.
func (s *SessionService) PublishIdentity(ctx context.Context, evt domain.IdentityEvent) error {
	if err := validateIdentity(evt); err != nil {
		return err
	}
	if evt.At.IsZero() {
		evt.At = s.clock.Now().UTC()
	}
	if s.bus == nil {
		return s.HandleIdentity(ctx, evt)
	}
	if err := redis.PublishJSON(ctx, s.bus, domain.ChannelIdentity, evt); err != nil {
		return fmt.Errorf("session_service: publish identity: %w", err)
	}
	return nil
}

// HandleIdentity binds or unbinds a user on a device and switches its
// manager's backend when one is live. Signing out a device with no live
// manager still wipes its guest state.
func (s *SessionService) HandleIdentity(ctx context.Context, evt domain.IdentityEvent) error {
	if err := validateIdentity(evt); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionsClosed
	}
	switch evt.Kind {
	case domain.IdentitySignedIn:
		s.users[evt.DeviceID] = evt.UserID
	case domain.IdentitySignedOut:
		delete(s.users, evt.DeviceID)
	}
	sess, live := s.sessions[evt.DeviceID]
	s.mu.Unlock()

	log := s.logger.With(
		slog.String("device_id", evt.DeviceID),
		slog.String("kind", string(evt.Kind)),
	)

	if !live {
		if evt.Kind == domain.IdentitySignedOut && s.deps.Guests != nil {
			if err := s.deps.Guests.Clear(ctx, evt.DeviceID); err != nil {
				return fmt.Errorf("session_service: clear guest state %s: %w", evt.DeviceID, err)
			}
		}
		log.DebugContext(ctx, "session_service: identity recorded for idle device")
		return nil
	}

	select {
	case <-sess.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	var err error
	switch evt.Kind {
	case domain.IdentitySignedIn:
		if sess.mgr.Identity().UserID == evt.UserID {
			return nil
		}
		err = sess.mgr.SignIn(ctx, evt.UserID)
	case domain.IdentitySignedOut:
		if sess.mgr.Identity().Guest() {
			return nil
		}
		err = sess.mgr.SignOut(ctx)
	}
	// State was replaced even when the load failed; clients must refetch.
	s.publish(ctx, domain.PickEvent{Type: domain.PickEventReloaded, DeviceID: evt.DeviceID})
	if err != nil {
		return fmt.Errorf("session_service: apply %s for %s: %w", evt.Kind, evt.DeviceID, err)
	}
	log.InfoContext(ctx, "session_service: identity applied")
	return nil
}

// Run consumes identity events from the bus and evicts idle managers until
// ctx is cancelled.
func (s *SessionService) Run(ctx context.Context) error {
	var events <-chan []byte
	if s.bus != nil {
		ch, err := s.bus.Subscribe(ctx, domain.ChannelIdentity)
		if err != nil {
			return fmt.Errorf("session_service: subscribe identity: %w", err)
		}
		events = ch
	}

	var sweep <-chan time.Time
	if s.idle > 0 {
		ticker := s.clock.NewTicker(s.idle / 2)
		defer ticker.Stop()
		sweep = ticker.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("session_service: identity subscription closed")
			}
			var evt domain.IdentityEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				s.logger.WarnContext(ctx, "session_service: malformed identity event", slog.String("error", err.Error()))
				continue
			}
			if err := s.HandleIdentity(ctx, evt); err != nil {
				s.logger.ErrorContext(ctx, "session_service: identity event failed",
					slog.String("device_id", evt.DeviceID),
					slog.String("error", err.Error()),
				)
			}
		case <-sweep:
			if n := s.EvictIdle(); n > 0 {
				s.logger.DebugContext(ctx, "session_service: evicted idle sessions", slog.Int("count", n))
			}
		}
	}
}

// EvictIdle closes managers not used within the idle window and returns how
// many were removed.
func (s *SessionService) EvictIdle() int {
	if s.idle <= 0 {
		return 0
	}
	cutoff := s.clock.Now().Add(-s.idle)

	s.mu.Lock()
	var stale []*picks.Manager
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) && isReady(sess) {
			stale = append(stale, sess.mgr)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, mgr := range stale {
		mgr.Close()
		s.observer.SessionClosed()
	}
	return len(stale)
}

// Len is the number of live managers.
func (s *SessionService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close rejects new sessions and drains every manager's pending writes.
func (s *SessionService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *session) {
			defer wg.Done()
			<-sess.ready
			sess.mgr.Close()
			s.observer.SessionClosed()
		}(sess)
	}
	wg.Wait()
}

func (s *SessionService) publish(ctx context.Context, evt domain.PickEvent) {
	if s.bus == nil {
		return
	}
	evt.At = s.clock.Now().UTC()
	if err := redis.PublishJSON(ctx, s.bus, domain.PickChannel(evt.DeviceID), evt); err != nil {
		s.logger.WarnContext(ctx, "session_service: publish pick event failed",
			slog.String("device_id", evt.DeviceID),
			slog.String("type", string(evt.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func isReady(sess *session) bool {
	select {
	case <-sess.ready:
		return true
	default:
		return false
	}
}

func validateIdentity(evt domain.IdentityEvent) error {
	if evt.DeviceID == "" {
		return fmt.Errorf("%w: missing device_id", ErrInvalidIdentity)
	}
	switch evt.Kind {
	case domain.IdentitySignedIn:
		if evt.UserID == "" {
			return fmt.Errorf("%w: signed_in without user_id", ErrInvalidIdentity)
		}
	case domain.IdentitySignedOut:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidIdentity, evt.Kind)
	}
	return nil
}
