package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/taper/internal/catalog"
	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/metrics"
	"github.com/alanyoungcy/taper/internal/picks"
	"github.com/alanyoungcy/taper/internal/server/handler"
	"github.com/alanyoungcy/taper/internal/server/middleware"
	"github.com/alanyoungcy/taper/internal/service"
)

const testAPIKey = "secret"

type memGuestStore struct {
	mu     sync.Mutex
	states map[string]domain.PickState
}

func (s *memGuestStore) Load(_ context.Context, id string) (domain.PickState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		return st.Clone(), nil
	}
	return domain.NewPickState(), nil
}

func (s *memGuestStore) Save(_ context.Context, id string, st domain.PickState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = st.Clone()
	return nil
}

func (s *memGuestStore) Clear(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
	return nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func newTestServer(t *testing.T, cfg Config, deps Deps) (*Server, *metrics.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 19, 12, 0, 0, 0, time.UTC))
	m := metrics.New()

	cat := service.NewCatalogService(catalog.NewStaticSource(nil), nil, nil, nil, clock, 0, logger)
	require.NoError(t, cat.Refresh(context.Background()))
	sessions := service.NewSessionService(picks.Deps{
		Catalog:  cat,
		Guests:   &memGuestStore{states: make(map[string]domain.PickState)},
		Clock:    clock,
		Logger:   logger,
		Recorder: m,
	}, picks.Options{QueueSize: 8, PersistTimeout: time.Second}, nil, time.Hour, m, logger)
	t.Cleanup(sessions.Close)

	if deps.Observer == nil {
		deps.Observer = m
	}
	srv := NewServer(cfg, Handlers{
		Health:  handler.NewHealthHandler(nil, clock, logger),
		Meets:   handler.NewMeetHandler(cat, sessions, clock, logger),
		Markets: handler.NewMarketHandler(cat, sessions, logger),
		Picks:   handler.NewPickHandler(sessions, service.NewScoreboardService(cat, m), logger),
		Auth:    handler.NewAuthHandler(sessions, logger),
		Metrics: m.Handler(),
	}, deps, nil, logger)
	return srv, m
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_RoutesAndDeviceCookie(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: testAPIKey}, Deps{})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/meets", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	device := rec.Header().Get(middleware.DeviceHeader)
	assert.NotEmpty(t, device)

	var issued *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.DeviceCookie {
			issued = c
		}
	}
	require.NotNil(t, issued)
	assert.Equal(t, device, issued.Value)

	req := httptest.NewRequest(http.MethodGet, "/api/picks", nil)
	req.Header.Set(middleware.DeviceHeader, "dev-42")
	rec = serve(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"device_id":"dev-42"`)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/nothing-here", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AdminRoutesRequireAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: testAPIKey}, Deps{})

	tests := []struct {
		method string
		target string
		body   string
	}{
		{http.MethodPost, "/api/auth/session", `{"device_id":"dev-1","user_id":"u-1"}`},
		{http.MethodDelete, "/api/auth/session", `{"device_id":"dev-1"}`},
		{http.MethodPost, "/api/markets/x/result", `{"result":"1:00.00"}`},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := serve(srv, httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/session", strings.NewReader(`{"device_id":"dev-1","user_id":"u-1"}`))
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec := serve(srv, req)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestServer_MetricsUseRoutePatterns(t *testing.T) {
	srv, _ := newTestServer(t, Config{}, Deps{})

	req := httptest.NewRequest(http.MethodPut, "/api/picks/not-a-market", strings.NewReader(`{"side":"over"}`))
	rec := serve(srv, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `route="PUT /api/picks/{marketID}"`)
	assert.Contains(t, body, `taper_picks_transitions_total{op="set_pick",result="unknown_market"} 1`)
	assert.NotContains(t, body, "not-a-market")
}

func TestServer_RateLimit(t *testing.T) {
	cfg := Config{RateLimit: RateLimitConfig{Enabled: true, Requests: 1, Window: time.Minute}}
	srv, _ := newTestServer(t, cfg, Deps{Limiter: denyLimiter{}})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/meets", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestServer_CORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, Config{CORSOrigins: []string{"https://taper.app"}}, Deps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/picks", nil)
	req.Header.Set("Origin", "https://taper.app")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	rec := serve(srv, req)
	assert.Equal(t, "https://taper.app", rec.Header().Get("Access-Control-Allow-Origin"))
}
