package handler

import (
	"context"

	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
	"github.com/alanyoungcy/taper/internal/service"
)

// CatalogService defines the methods the catalog handlers require from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type CatalogService interface {
	ListMeets(ctx context.Context) ([]domain.Meet, error)
	GetMeet(ctx context.Context, id string) (domain.Meet, error)
	ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	Spotlight(ctx context.Context, n int) ([]domain.Market, error)
	RecordResult(ctx context.Context, marketID, result string) (domain.Market, error)
}

// SessionService is the per-device pick session registry.
type SessionService interface {
	Manager(ctx context.Context, deviceID string) (*picks.Manager, error)
	SetPick(ctx context.Context, deviceID, marketID string, side domain.Side) error
	Submit(ctx context.Context, deviceID, marketID string) error
	Unlock(ctx context.Context, deviceID, marketID string) error
	ClearAll(ctx context.Context, deviceID string) error
	ClearDrafts(ctx context.Context, deviceID string) (int, error)
	PublishIdentity(ctx context.Context, evt domain.IdentityEvent) error
}

// ScoreboardBuilder scores a session snapshot.
type ScoreboardBuilder interface {
	Build(ctx context.Context, snap picks.Snapshot) (service.Scoreboard, error)
}

var (
	_ CatalogService    = (*service.CatalogService)(nil)
	_ SessionService    = (*service.SessionService)(nil)
	_ ScoreboardBuilder = (*service.ScoreboardService)(nil)
)
