package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/taper/internal/domain"
)

func TestDecodeGuestState(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantPicks map[string]domain.Side
		wantSub   map[string]bool
		wantOK    bool
	}{
		{
			name:      "v3 envelope",
			raw:       `{"version":3,"picks":{"a":"over","b":"under"},"submitted":{"a":true,"b":false},"updated_at":"2026-03-01T00:00:00Z"}`,
			wantPicks: map[string]domain.Side{"a": domain.SideOver, "b": domain.SideUnder},
			wantSub:   map[string]bool{"a": true},
			wantOK:    true,
		},
		{
			name:      "v2 split object",
			raw:       `{"picks":{"a":"under"},"submitted":{"a":true}}`,
			wantPicks: map[string]domain.Side{"a": domain.SideUnder},
			wantSub:   map[string]bool{"a": true},
			wantOK:    true,
		},
		{
			name:      "v1 picks map",
			raw:       `{"a":"over","b":"UNDER"}`,
			wantPicks: map[string]domain.Side{"a": domain.SideOver, "b": domain.SideUnder},
			wantSub:   map[string]bool{},
			wantOK:    true,
		},
		{
			name:      "invalid sides dropped",
			raw:       `{"version":3,"picks":{"a":"sideways","b":"over"},"submitted":{"a":true,"c":true}}`,
			wantPicks: map[string]domain.Side{"b": domain.SideOver},
			wantSub:   map[string]bool{},
			wantOK:    true,
		},
		{
			name:      "unknown version",
			raw:       `{"version":7,"picks":{"a":"over"}}`,
			wantPicks: map[string]domain.Side{},
			wantSub:   map[string]bool{},
		},
		{
			name:      "not json",
			raw:       `taper`,
			wantPicks: map[string]domain.Side{},
			wantSub:   map[string]bool{},
		},
		{
			name:      "json array",
			raw:       `["a"]`,
			wantPicks: map[string]domain.Side{},
			wantSub:   map[string]bool{},
		},
		{
			name:      "malformed submitted keeps picks",
			raw:       `{"picks":{"a":"over"},"submitted":"yes"}`,
			wantPicks: map[string]domain.Side{"a": domain.SideOver},
			wantSub:   map[string]bool{},
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, ok := DecodeGuestState([]byte(tt.raw))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPicks, state.Picks)
			assert.Equal(t, tt.wantSub, state.Submitted)
		})
	}
}

func TestEncodeGuestState_DecodesBack(t *testing.T) {
	state := domain.NewPickState()
	state.Picks["liendo"] = domain.SideUnder
	state.Picks["kos"] = domain.SideOver
	state.Submitted["liendo"] = true
	state.Submitted["kos"] = false

	raw, err := EncodeGuestState(state, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version":3`)

	got, ok := DecodeGuestState(raw)
	require.True(t, ok)
	assert.Equal(t, state.Clone(), got)
}

func TestDecodeSplit_Legacy(t *testing.T) {
	state := decodeSplit(nil, []byte(`{"a":true}`))
	assert.True(t, state.Empty())

	state = decodeSplit([]byte(`{"a":"over"}`), nil)
	assert.Equal(t, domain.SideOver, state.Picks["a"])
	assert.Empty(t, state.Submitted)
}

func TestClientKey(t *testing.T) {
	c := Wrap(nil, "taper:")
	assert.Equal(t, "taper:guest:dev-1:picks", c.Key("guest", "dev-1", "picks"))
	assert.Equal(t, "taper:lock:seed", c.Key("lock", "seed"))
}
