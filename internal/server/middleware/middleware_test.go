package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoDevice() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, DeviceID(r.Context()))
	})
}

func TestDevice(t *testing.T) {
	h := Device(true)(echoDevice())

	t.Run("header wins over cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(DeviceHeader, "dev-header")
		req.AddCookie(&http.Cookie{Name: DeviceCookie, Value: "dev-cookie"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "dev-header", rec.Body.String())
		assert.Empty(t, rec.Result().Cookies())
	})

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DeviceCookie, Value: "dev-cookie"})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "dev-cookie", rec.Body.String())
		assert.Equal(t, "dev-cookie", rec.Header().Get(DeviceHeader))
	})

	t.Run("issues a new id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, DeviceCookie, cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)
		assert.True(t, cookies[0].Secure)
		assert.Equal(t, cookies[0].Value, rec.Body.String())
		assert.Len(t, rec.Body.String(), 36)
	})

	t.Run("rejects unsafe ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(DeviceHeader, "picks:*")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.NotEqual(t, "picks:*", rec.Body.String())
		assert.Len(t, rec.Result().Cookies(), 1)
	})
}

func TestAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name    string
		key     string
		header  map[string]string
		want    int
		wantMsg string
	}{
		{"disabled", "", nil, http.StatusNoContent, ""},
		{"missing", "secret", nil, http.StatusUnauthorized, "missing api key"},
		{"bearer", "secret", map[string]string{"Authorization": "Bearer secret"}, http.StatusNoContent, ""},
		{"api key", "secret", map[string]string{APIKeyHeader: "secret"}, http.StatusNoContent, ""},
		{"wrong", "secret", map[string]string{APIKeyHeader: "nope"}, http.StatusUnauthorized, "invalid api key"},
		{"basic scheme", "secret", map[string]string{"Authorization": "Basic secret"}, http.StatusUnauthorized, "missing api key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			Auth(tt.key)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.wantMsg == "" {
				return
			}

			var body struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "unauthorized", body.Code)
			assert.Equal(t, tt.wantMsg, body.Error)
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}

type stubLimiter struct {
	allowed bool
	err     error
	keys    []string
}

func (l *stubLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name    string
		limiter *stubLimiter
		want    int
	}{
		{"allowed", &stubLimiter{allowed: true}, http.StatusOK},
		{"limited", &stubLimiter{allowed: false}, http.StatusTooManyRequests},
		{"fails open", &stubLimiter{err: errors.New("redis down")}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			rec := httptest.NewRecorder()
			RateLimit(tt.limiter, 10, time.Minute, logger)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, []string{"api:203.0.113.9"}, tt.limiter.keys)
			if tt.want == http.StatusTooManyRequests {
				assert.Equal(t, "60", rec.Header().Get("Retry-After"))
				assert.Contains(t, rec.Body.String(), `"code":"rate_limited"`)
			}
		})
	}
}

type recordingObserver struct {
	method, route string
	code          int
}

func (o *recordingObserver) ObserveHTTP(method, route string, code int, _ time.Duration) {
	o.method, o.route, o.code = method, route, code
}

func TestInstrumentUsesPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	obs := &recordingObserver{}

	rec := httptest.NewRecorder()
	Instrument(obs)(mux).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/kos", nil))

	assert.Equal(t, "GET /api/markets/{id}", obs.route)
	assert.Equal(t, http.StatusNotFound, obs.code)
}

func TestCORSPreflight(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := CORS([]string{"https://taper.app"})(next)

	req := httptest.NewRequest(http.MethodOptions, "/api/picks/kos", nil)
	req.Header.Set("Origin", "https://taper.app")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	req.Header.Set("Access-Control-Request-Headers", strings.ToLower(DeviceHeader))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "https://taper.app", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.True(t, strings.Contains(rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut))

	req = httptest.NewRequest(http.MethodGet, "/api/meets", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}
