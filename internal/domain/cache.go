package domain

import (
	"context"
	"time"
)

// GuestStateStore holds the pick state of unauthenticated devices. Load
// returns an empty state, not an error, for absent or unreadable data.
type GuestStateStore interface {
	Load(ctx context.Context, deviceID string) (PickState, error)
	Save(ctx context.Context, deviceID string, state PickState) error
	Clear(ctx context.Context, deviceID string) error
}

// CatalogCache provides fast market lookups shared across instances.
type CatalogCache interface {
	SetMarkets(ctx context.Context, markets []Market) error
	GetMarket(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between instances and live clients.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
