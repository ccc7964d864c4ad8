package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
	"github.com/alanyoungcy/taper/internal/server/middleware"
	"github.com/alanyoungcy/taper/internal/service"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 16 << 10

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeCodedError sends an error response with a machine-readable code.
func writeCodedError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// decodeJSON reads a size-limited JSON body into dst, rejecting unknown
// fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}

// deviceID returns the device the request is attributed to.
func deviceID(r *http.Request) string {
	return middleware.DeviceID(r.Context())
}

// pickErrorStatus maps pick and session errors onto HTTP responses. The
// second return value is a stable code for clients.
func pickErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, picks.ErrUnknownMarket):
		return http.StatusNotFound, "unknown_market"
	case errors.Is(err, picks.ErrInvalidSide):
		return http.StatusBadRequest, "invalid_side"
	case errors.Is(err, picks.ErrNoDraft):
		return http.StatusConflict, "no_draft"
	case errors.Is(err, picks.ErrAlreadySubmitted):
		return http.StatusConflict, "already_submitted"
	case errors.Is(err, picks.ErrNotSubmitted):
		return http.StatusConflict, "not_submitted"
	case errors.Is(err, picks.ErrTimeLocked):
		return http.StatusConflict, "time_locked"
	case errors.Is(err, picks.ErrSettled):
		return http.StatusConflict, "settled"
	case errors.Is(err, service.ErrInvalidIdentity):
		return http.StatusBadRequest, "invalid_identity"
	case errors.Is(err, picks.ErrLoading):
		return http.StatusServiceUnavailable, "loading"
	case errors.Is(err, picks.ErrClosed), errors.Is(err, service.ErrSessionsClosed):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, service.ErrCatalogUnavailable):
		return http.StatusServiceUnavailable, "catalog_unavailable"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
