package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/taper/internal/domain"
)

// AuthHandler is the callback surface for the external auth layer. It turns
// sign-in and sign-out notifications into identity events.
type AuthHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(sessions SessionService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, logger: logger}
}

type sessionRequest struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
}

// SignIn binds a user to a device.
// POST /api/auth/session
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, domain.IdentitySignedIn)
}

// SignOut unbinds the device's user.
// DELETE /api/auth/session
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.publish(w, r, domain.IdentitySignedOut)
}

func (h *AuthHandler) publish(w http.ResponseWriter, r *http.Request, kind domain.IdentityKind) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	evt := domain.IdentityEvent{
		DeviceID: strings.TrimSpace(req.DeviceID),
		Kind:     kind,
		UserID:   strings.TrimSpace(req.UserID),
	}
	if evt.DeviceID == "" {
		evt.DeviceID = deviceID(r)
	}
	if kind == domain.IdentitySignedOut {
		evt.UserID = ""
	}

	if err := h.sessions.PublishIdentity(r.Context(), evt); err != nil {
		status, code := pickErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: publish identity failed",
				slog.String("device_id", evt.DeviceID),
				slog.String("error", err.Error()),
			)
		}
		writeCodedError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"device_id": evt.DeviceID,
		"kind":      string(kind),
	})
}
