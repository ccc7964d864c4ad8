package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/taper/internal/catalog"
	"github.com/alanyoungcy/taper/internal/config"
	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/picks"
	"github.com/alanyoungcy/taper/internal/server"
	"github.com/alanyoungcy/taper/internal/server/handler"
	"github.com/alanyoungcy/taper/internal/server/ws"
	"github.com/alanyoungcy/taper/internal/service"
)

// seedLockKey serialises concurrent seed runs.
const seedLockKey = "lock:seed"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeMode runs the HTTP API, the WebSocket hub, the identity listener and
// the catalog refresher until ctx is cancelled. With catalog.watch_dataset
// set, edits to the dataset file trigger an immediate refresh.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg

	source, err := a.catalogSource(deps)
	if err != nil {
		return err
	}
	// Runtime results only persist when the catalog itself lives in Postgres;
	// other sources have no market rows to update.
	var results domain.ResultStore
	if cfg.Catalog.Source == config.SourcePostgres {
		results = deps.MarketStore
	}

	catalogSvc := service.NewCatalogService(source, deps.CatalogCache, results, deps.SignalBus,
		deps.Clock, cfg.Catalog.RefreshInterval.Duration, a.logger)
	if err := catalogSvc.Refresh(ctx); err != nil {
		return fmt.Errorf("app: initial catalog load: %w", err)
	}

	sessions := service.NewSessionService(picks.Deps{
		Catalog:  catalogSvc,
		Guests:   deps.GuestStore,
		Remote:   deps.PickStore,
		Clock:    deps.Clock,
		Logger:   a.logger,
		Recorder: deps.Metrics,
	}, picks.Options{
		QueueSize:      cfg.Picks.EffectQueueSize,
		PersistTimeout: cfg.Picks.PersistTimeout.Duration,
	}, deps.SignalBus, cfg.Picks.SessionIdle.Duration, deps.Metrics, a.logger)
	defer sessions.Close()

	checks := map[string]handler.HealthCheck{
		"postgres": deps.Postgres.Ping,
		"redis":    deps.Redis.Ping,
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	if cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "app: server.api_key is empty; auth-callback and result endpoints are unprotected")
	}

	hub := ws.NewHub(deps.SignalBus, cfg.Server.CORSOrigins, a.logger)
	srv := server.NewServer(server.Config{
		Port:         cfg.Server.Port,
		CORSOrigins:  cfg.Server.CORSOrigins,
		APIKey:       cfg.Server.APIKey,
		CookieSecure: cfg.Server.CookieSecure,
		RateLimit: server.RateLimitConfig{
			Enabled:  cfg.Server.RateLimit.Enabled,
			Requests: cfg.Server.RateLimit.Requests,
			Window:   cfg.Server.RateLimit.Window.Duration,
		},
	}, server.Handlers{
		Health:  handler.NewHealthHandler(checks, deps.Clock, a.logger),
		Meets:   handler.NewMeetHandler(catalogSvc, sessions, deps.Clock, a.logger),
		Markets: handler.NewMarketHandler(catalogSvc, sessions, a.logger),
		Picks:   handler.NewPickHandler(sessions, service.NewScoreboardService(catalogSvc, deps.Metrics), a.logger),
		Auth:    handler.NewAuthHandler(sessions, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, server.Deps{
		Limiter:  deps.RateLimiter,
		Observer: deps.Metrics,
	}, hub, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return catalogSvc.Run(ctx) })
	g.Go(func() error { return sessions.Run(ctx) })
	if cfg.Catalog.WatchDataset {
		watcher := catalog.NewWatcher(cfg.Catalog.DatasetPath, catalog.DefaultDebounce, a.logger)
		g.Go(func() error {
			return watcher.Watch(ctx, func(ctx context.Context) {
				if err := catalogSvc.Refresh(ctx); err != nil {
					a.logger.WarnContext(ctx, "app: dataset reload rejected", slog.String("error", err.Error()))
				}
			})
		})
	}
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// SeedMode validates the dataset and loads it into Postgres under a
// distributed lock. With s3 enabled it can also export the dataset and
// archive settled results.
func (a *App) SeedMode(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg

	ds, err := a.loadDataset()
	if err != nil {
		return err
	}
	snap, err := ds.Snapshot()
	if err != nil {
		return fmt.Errorf("app: seed: %w", err)
	}
	for _, id := range snap.SuspectLabels() {
		a.logger.WarnContext(ctx, "app: seed market has no parseable target time", slog.String("market_id", id))
	}

	unlock, err := deps.LockManager.Acquire(ctx, seedLockKey, cfg.Seed.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("app: seed already running elsewhere: %w", err)
		}
		return fmt.Errorf("app: seed lock: %w", err)
	}
	defer unlock()

	if err := deps.MeetStore.UpsertBatch(ctx, snap.Meets); err != nil {
		return fmt.Errorf("app: seed meets: %w", err)
	}
	if err := deps.MarketStore.UpsertBatch(ctx, snap.Markets); err != nil {
		return fmt.Errorf("app: seed markets: %w", err)
	}
	a.logger.InfoContext(ctx, "app: catalog seeded",
		slog.Int("meets", len(snap.Meets)),
		slog.Int("markets", len(snap.Markets)),
	)

	if cfg.Seed.ExportDataset {
		out, err := catalog.FromSnapshot(snap).Marshal()
		if err != nil {
			return fmt.Errorf("app: seed export: %w", err)
		}
		replaced, err := deps.BlobReader.Exists(ctx, cfg.Catalog.DatasetKey)
		if err != nil {
			return fmt.Errorf("app: seed export: %w", err)
		}
		if err := deps.BlobWriter.Put(ctx, cfg.Catalog.DatasetKey, bytes.NewReader(out), "application/yaml"); err != nil {
			return fmt.Errorf("app: seed export: %w", err)
		}
		a.logger.InfoContext(ctx, "app: dataset exported",
			slog.String("key", cfg.Catalog.DatasetKey),
			slog.Bool("replaced", replaced),
		)
	}

	if cfg.Seed.ArchiveResults {
		path, n, err := deps.Archiver.ArchiveResults(ctx, snap.Markets, deps.Clock.Now())
		if err != nil {
			return fmt.Errorf("app: seed archive: %w", err)
		}
		a.logger.InfoContext(ctx, "app: results archived",
			slog.String("path", path),
			slog.Int("records", n),
		)
	}
	return nil
}

// catalogSource picks the configured catalog source.
func (a *App) catalogSource(deps *Dependencies) (catalog.Source, error) {
	switch a.cfg.Catalog.Source {
	case config.SourcePostgres:
		return catalog.NewStoreSource(deps.MeetStore, deps.MarketStore), nil
	case config.SourceS3:
		if deps.BlobReader == nil {
			return nil, errors.New("app: catalog source s3 requires s3.enabled")
		}
		return catalog.NewBlobSource(deps.BlobReader, a.cfg.Catalog.DatasetKey), nil
	default:
		if a.cfg.Catalog.DatasetPath != "" {
			return catalog.NewFileSource(a.cfg.Catalog.DatasetPath), nil
		}
		return catalog.NewStaticSource(nil), nil
	}
}

// loadDataset parses the configured dataset file, or the embedded dataset
// when none is set.
func (a *App) loadDataset() (*catalog.Dataset, error) {
	data, err := a.datasetFile()
	if err != nil {
		return nil, err
	}
	if data == nil {
		ds, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("app: embedded dataset: %w", err)
		}
		return ds, nil
	}
	ds, err := catalog.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("app: parse %s: %w", a.cfg.Catalog.DatasetPath, err)
	}
	return ds, nil
}

// datasetFile reads catalog.dataset_path, returning nil when unset.
func (a *App) datasetFile() ([]byte, error) {
	path := a.cfg.Catalog.DatasetPath
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("app: read dataset %s: %w", path, err)
	}
	return data, nil
}
