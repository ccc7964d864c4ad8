package domain

import "time"

// IdentityKind distinguishes sign-in from sign-out events.
type IdentityKind string

const (
	IdentitySignedIn  IdentityKind = "signed_in"
	IdentitySignedOut IdentityKind = "signed_out"
)

// IdentityEvent is published by the auth layer whenever the identity bound to
// a device changes.
type IdentityEvent struct {
	DeviceID string       `json:"device_id"`
	Kind     IdentityKind `json:"kind"`
	UserID   string       `json:"user_id,omitempty"`
	At       time.Time    `json:"at"`
}

// Identity is the acting owner of a pick set. UserID is empty for guests.
type Identity struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id,omitempty"`
}

// Guest reports whether the identity is an unauthenticated device.
func (i Identity) Guest() bool {
	return i.UserID == ""
}

// PickEventType names a pick transition broadcast to live clients.
type PickEventType string

const (
	PickEventSet       PickEventType = "pick_set"
	PickEventSubmitted PickEventType = "pick_submitted"
	PickEventUnlocked  PickEventType = "pick_unlocked"
	PickEventCleared   PickEventType = "picks_cleared"
	PickEventReloaded  PickEventType = "picks_reloaded"
	PickEventSettled   PickEventType = "market_settled"
)

// PickEvent is the payload published on a device's pick channel.
type PickEvent struct {
	Type     PickEventType `json:"type"`
	DeviceID string        `json:"device_id,omitempty"`
	MarketID string        `json:"market_id,omitempty"`
	Side     Side          `json:"side,omitempty"`
	Result   string        `json:"result,omitempty"`
	At       time.Time     `json:"at"`
}

// Bus channel names.
const (
	ChannelIdentity = "identity"
	ChannelSettled  = "markets:settled"
)

// PickChannel is the bus channel carrying pick events for one device.
func PickChannel(deviceID string) string {
	return "picks:" + deviceID
}
