package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
)

func TestTransitionLabels(t *testing.T) {
	m := New()
	m.Transition(picks.OpSubmit, nil)
	m.Transition(picks.OpSubmit, nil)
	m.Transition(picks.OpSubmit, fmt.Errorf("wrapped: %w", picks.ErrTimeLocked))
	m.Transition(picks.OpSetPick, errors.New("boom"))
	m.Transition(picks.OpSetPick, picks.ErrLoading)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues(picks.OpSubmit, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(picks.OpSubmit, "time_locked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(picks.OpSetPick, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(picks.OpSetPick, "loading")))
}

func TestPersistFailuresAndOutcomes(t *testing.T) {
	m := New()
	m.PersistFailed("remote", picks.OpSubmit)
	m.Outcome(domain.OutcomeCorrect)
	m.Outcome(domain.OutcomeCorrect)
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistFails.WithLabelValues("remote", picks.OpSubmit)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.outcomes.WithLabelValues("correct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/api/meets", http.StatusOK, 12*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "taper_http_request_duration_seconds_count")
	assert.Contains(t, body, `route="/api/meets"`)
}
