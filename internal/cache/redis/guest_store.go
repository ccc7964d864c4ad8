package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/taper/internal/domain"
)

// guestStateVersion is the envelope version written by Save.
const guestStateVersion = 3

// guestEnvelope is the v3 document.
type guestEnvelope struct {
	Version   int               `json:"version"`
	Picks     map[string]string `json:"picks"`
	Submitted map[string]bool   `json:"submitted"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// GuestStore implements domain.GuestStateStore.
//
// Key schema:
//
//	{prefix}guest:{device}            - v3 JSON envelope (current)
//	{prefix}guest:{device}:picks      - v2 JSON map market -> side
//	{prefix}guest:{device}:submitted  - v2 JSON map market -> bool
//	{prefix}guest:{device}:picks_v1   - v1 JSON map market -> side
//
// Older layouts are read when no envelope exists and are removed on the next
// Save or Clear.
type GuestStore struct {
	c      *Client
	ttl    time.Duration
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewGuestStore creates a GuestStore. A zero ttl keeps state forever.
func NewGuestStore(c *Client, ttl time.Duration, clock clockwork.Clock, logger *slog.Logger) *GuestStore {
	return &GuestStore{c: c, ttl: ttl, clock: clock, logger: logger}
}

func (gs *GuestStore) keys(deviceID string) (current, picks, submitted, v1 string) {
	return gs.c.Key("guest", deviceID),
		gs.c.Key("guest", deviceID, "picks"),
		gs.c.Key("guest", deviceID, "submitted"),
		gs.c.Key("guest", deviceID, "picks_v1")
}

// Load returns the device's state. Missing or unreadable data yields an
// empty state; only transport errors are returned.
func (gs *GuestStore) Load(ctx context.Context, deviceID string) (domain.PickState, error) {
	current, picksKey, subKey, v1Key := gs.keys(deviceID)
	rdb := gs.c.Underlying()

	raw, err := rdb.Get(ctx, current).Bytes()
	switch {
	case err == nil:
		state, ok := DecodeGuestState(raw)
		if !ok {
			gs.logger.WarnContext(ctx, "redis: discarding unreadable guest state",
				slog.String("device_id", deviceID),
			)
		}
		return state, nil
	case !errors.Is(err, redis.Nil):
		return domain.NewPickState(), fmt.Errorf("redis: load guest %s: %w", deviceID, err)
	}

	vals, err := rdb.MGet(ctx, picksKey, subKey, v1Key).Result()
	if err != nil {
		return domain.NewPickState(), fmt.Errorf("redis: load legacy guest %s: %w", deviceID, err)
	}
	picksRaw, subRaw, v1Raw := mgetBytes(vals, 0), mgetBytes(vals, 1), mgetBytes(vals, 2)

	if picksRaw != nil || subRaw != nil {
		return decodeSplit(picksRaw, subRaw), nil
	}
	if v1Raw != nil {
		return decodePicksOnly(v1Raw), nil
	}
	return domain.NewPickState(), nil
}

// Save writes the v3 envelope and removes any legacy keys.
func (gs *GuestStore) Save(ctx context.Context, deviceID string, state domain.PickState) error {
	raw, err := EncodeGuestState(state, gs.clock.Now())
	if err != nil {
		return fmt.Errorf("redis: encode guest %s: %w", deviceID, err)
	}

	current, picksKey, subKey, v1Key := gs.keys(deviceID)
	pipe := gs.c.Underlying().TxPipeline()
	pipe.Set(ctx, current, raw, gs.ttl)
	pipe.Del(ctx, picksKey, subKey, v1Key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: save guest %s: %w", deviceID, err)
	}
	return nil
}

// Clear removes every stored layout for the device.
func (gs *GuestStore) Clear(ctx context.Context, deviceID string) error {
	current, picksKey, subKey, v1Key := gs.keys(deviceID)
	if err := gs.c.Underlying().Del(ctx, current, picksKey, subKey, v1Key).Err(); err != nil {
		return fmt.Errorf("redis: clear guest %s: %w", deviceID, err)
	}
	return nil
}

// EncodeGuestState renders state as a v3 envelope.
func EncodeGuestState(state domain.PickState, now time.Time) ([]byte, error) {
	env := guestEnvelope{
		Version:   guestStateVersion,
		Picks:     make(map[string]string, len(state.Picks)),
		Submitted: make(map[string]bool, len(state.Submitted)),
		UpdatedAt: now.UTC(),
	}
	for id, side := range state.Picks {
		env.Picks[id] = string(side)
	}
	for id, ok := range state.Submitted {
		if ok {
			env.Submitted[id] = true
		}
	}
	return json.Marshal(env)
}

// DecodeGuestState reads any stored guest document: a v3 envelope, a v2
// {"picks","submitted"} object without a version, or a v1 flat picks map.
// ok is false when raw could not be interpreted, in which case the returned
// state is empty.
func DecodeGuestState(raw []byte) (state domain.PickState, ok bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.NewPickState(), false
	}

	if v, has := fields["version"]; has {
		var version int
		if err := json.Unmarshal(v, &version); err != nil || version != guestStateVersion {
			return domain.NewPickState(), false
		}
		return decodeSplit(fields["picks"], fields["submitted"]), true
	}

	if _, has := fields["picks"]; has {
		return decodeSplit(fields["picks"], fields["submitted"]), true
	}
	return decodePicksOnly(raw), true
}

func decodeSplit(picksRaw, subRaw []byte) domain.PickState {
	state := decodePicksOnly(picksRaw)
	if len(subRaw) == 0 {
		return state
	}
	var submitted map[string]bool
	if err := json.Unmarshal(subRaw, &submitted); err != nil {
		return state
	}
	for id, ok := range submitted {
		// A submission without a side cannot be honoured.
		if ok && state.Picks[id] != "" {
			state.Submitted[id] = true
		}
	}
	return state
}

func decodePicksOnly(raw []byte) domain.PickState {
	state := domain.NewPickState()
	if len(raw) == 0 {
		return state
	}
	var picks map[string]string
	if err := json.Unmarshal(raw, &picks); err != nil {
		return state
	}
	for id, s := range picks {
		if side, ok := domain.ParseSide(s); ok && id != "" {
			state.Picks[id] = side
		}
	}
	return state
}

func mgetBytes(vals []any, i int) []byte {
	if i >= len(vals) {
		return nil
	}
	s, ok := vals[i].(string)
	if !ok {
		return nil
	}
	return []byte(s)
}

// Compile-time interface check.
var _ domain.GuestStateStore = (*GuestStore)(nil)
