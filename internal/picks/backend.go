package picks

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/taper/internal/domain"
)

// Backend persists one identity's picks. The manager calls exactly one
// backend at a time, chosen by the current identity, and always passes the
// post-transition state.
type Backend interface {
	Name() string
	Load(ctx context.Context) (domain.PickState, error)
	Drafted(ctx context.Context, state domain.PickState) error
	Submitted(ctx context.Context, state domain.PickState, marketID string, side domain.Side) error
	Unlocked(ctx context.Context, state domain.PickState, marketID string) error
	Cleared(ctx context.Context) error
}

// GuestBackend stores the full pick state of an unauthenticated device,
// drafts included, on every change.
type GuestBackend struct {
	store    domain.GuestStateStore
	deviceID string
}

// NewGuestBackend creates a backend for deviceID.
func NewGuestBackend(store domain.GuestStateStore, deviceID string) *GuestBackend {
	return &GuestBackend{store: store, deviceID: deviceID}
}

func (b *GuestBackend) Name() string { return "guest" }

func (b *GuestBackend) Load(ctx context.Context) (domain.PickState, error) {
	state, err := b.store.Load(ctx, b.deviceID)
	if err != nil {
		return domain.NewPickState(), fmt.Errorf("picks: load guest state %s: %w", b.deviceID, err)
	}
	return state.Clone(), nil
}

func (b *GuestBackend) Drafted(ctx context.Context, state domain.PickState) error {
	return b.store.Save(ctx, b.deviceID, state)
}

func (b *GuestBackend) Submitted(ctx context.Context, state domain.PickState, _ string, _ domain.Side) error {
	return b.store.Save(ctx, b.deviceID, state)
}

func (b *GuestBackend) Unlocked(ctx context.Context, state domain.PickState, _ string) error {
	return b.store.Save(ctx, b.deviceID, state)
}

func (b *GuestBackend) Cleared(ctx context.Context) error {
	return b.store.Clear(ctx, b.deviceID)
}

// RemoteBackend persists submitted picks per account. Drafts live only in
// memory for signed-in users.
type RemoteBackend struct {
	store  domain.PickStore
	userID string
}

// NewRemoteBackend creates a backend for userID.
func NewRemoteBackend(store domain.PickStore, userID string) *RemoteBackend {
	return &RemoteBackend{store: store, userID: userID}
}

func (b *RemoteBackend) Name() string { return "remote" }

// Load returns every stored pick as submitted. Rows with an unknown side are
// skipped.
func (b *RemoteBackend) Load(ctx context.Context) (domain.PickState, error) {
	rows, err := b.store.Load(ctx, b.userID)
	if err != nil {
		return domain.NewPickState(), fmt.Errorf("picks: load remote picks %s: %w", b.userID, err)
	}
	state := domain.NewPickState()
	for _, r := range rows {
		if r.MarketID == "" || !r.Side.Valid() {
			continue
		}
		state.Picks[r.MarketID] = r.Side
		state.Submitted[r.MarketID] = true
	}
	return state, nil
}

func (b *RemoteBackend) Drafted(context.Context, domain.PickState) error { return nil }

func (b *RemoteBackend) Submitted(ctx context.Context, _ domain.PickState, marketID string, side domain.Side) error {
	return b.store.Upsert(ctx, b.userID, marketID, side)
}

func (b *RemoteBackend) Unlocked(ctx context.Context, _ domain.PickState, marketID string) error {
	return b.store.Delete(ctx, b.userID, marketID)
}

func (b *RemoteBackend) Cleared(ctx context.Context) error {
	return b.store.DeleteAll(ctx, b.userID)
}
