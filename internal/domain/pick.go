package domain

import "strings"

// Side is a user's over/under choice.
type Side string

const (
	SideOver  Side = "over"
	SideUnder Side = "under"
)

// Valid reports whether s is over or under.
func (s Side) Valid() bool {
	return s == SideOver || s == SideUnder
}

// ParseSide normalises raw input into a Side. The second return value is
// false for anything other than over/under.
func ParseSide(raw string) (Side, bool) {
	s := Side(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Outcome is the derived scoring result of a pick.
type Outcome string

const (
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomePending   Outcome = "pending"
)

// Pick is one identity's choice for one market.
type Pick struct {
	MarketID  string `json:"market_id"`
	Side      Side   `json:"side"`
	Submitted bool   `json:"submitted"`
}

// PickState is the full pick state of one identity: draft sides keyed by
// market and the set of submitted markets.
type PickState struct {
	Picks     map[string]Side `json:"picks"`
	Submitted map[string]bool `json:"submitted"`
}

// NewPickState returns an empty, non-nil state.
func NewPickState() PickState {
	return PickState{
		Picks:     make(map[string]Side),
		Submitted: make(map[string]bool),
	}
}

// Clone returns a deep copy of the state.
func (s PickState) Clone() PickState {
	out := NewPickState()
	for k, v := range s.Picks {
		out.Picks[k] = v
	}
	for k, v := range s.Submitted {
		if v {
			out.Submitted[k] = true
		}
	}
	return out
}

// Empty reports whether the state holds no drafts and no submissions.
func (s PickState) Empty() bool {
	return len(s.Picks) == 0 && len(s.Submitted) == 0
}

// List flattens the state into picks ordered as stored in the map; callers
// that need stable ordering sort the result.
func (s PickState) List() []Pick {
	out := make([]Pick, 0, len(s.Picks))
	for id, side := range s.Picks {
		out = append(out, Pick{MarketID: id, Side: side, Submitted: s.Submitted[id]})
	}
	return out
}

// RemotePick is the persisted (market, side) pair for an account.
type RemotePick struct {
	MarketID string
	Side     Side
}
