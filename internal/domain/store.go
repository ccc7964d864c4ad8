package domain

import "context"

// MarketFilter narrows market listings. Empty fields match everything.
type MarketFilter struct {
	MeetID string
	Gender Gender
}

// Match reports whether m passes the filter.
func (f MarketFilter) Match(m Market) bool {
	if f.MeetID != "" && m.MeetID != f.MeetID {
		return false
	}
	if f.Gender != "" && m.Gender != f.Gender {
		return false
	}
	return true
}

// MeetStore persists meet definitions.
type MeetStore interface {
	UpsertBatch(ctx context.Context, meets []Meet) error
	GetByID(ctx context.Context, id string) (Meet, error)
	List(ctx context.Context) ([]Meet, error)
}

// MarketStore persists market definitions.
type MarketStore interface {
	UpsertBatch(ctx context.Context, markets []Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, filter MarketFilter) ([]Market, error)
}

// ResultStore records official settlement times.
type ResultStore interface {
	SetResult(ctx context.Context, marketID, result string) error
}

// PickStore is the remote, per-account pick store. Only submitted picks are
// persisted remotely.
type PickStore interface {
	Load(ctx context.Context, userID string) ([]RemotePick, error)
	Upsert(ctx context.Context, userID, marketID string, side Side) error
	Delete(ctx context.Context, userID, marketID string) error
	DeleteAll(ctx context.Context, userID string) error
}
