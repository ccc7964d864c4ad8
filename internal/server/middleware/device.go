package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Device identity transport.
const (
	DeviceHeader = "X-Taper-Device"
	DeviceCookie = "taper_device"

	deviceCookieMaxAge = 400 * 24 * 60 * 60
	maxDeviceIDLen     = 128
)

type deviceKey struct{}

// DeviceID returns the device id attached by the Device middleware, or "".
func DeviceID(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey{}).(string)
	return id
}

// WithDeviceID attaches id to ctx.
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceKey{}, id)
}

// Device resolves the calling device from the X-Taper-Device header or the
// taper_device cookie. A device presenting neither is issued a fresh uuid
// cookie. The id is echoed in the response header.
func Device(secureCookie bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := cleanDeviceID(r.Header.Get(DeviceHeader))
			if id == "" {
				if c, err := r.Cookie(DeviceCookie); err == nil {
					id = cleanDeviceID(c.Value)
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     DeviceCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   deviceCookieMaxAge,
					HttpOnly: true,
					Secure:   secureCookie,
					SameSite: http.SameSiteLaxMode,
				})
			}
			w.Header().Set(DeviceHeader, id)
			next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), id)))
		})
	}
}

// cleanDeviceID rejects ids that are too long or contain characters that
// would break redis keys or bus channel names.
func cleanDeviceID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxDeviceIDLen {
		return ""
	}
	for _, r := range id {
		ok := r == '-' || r == '_' || r == '.' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !ok {
			return ""
		}
	}
	return id
}
