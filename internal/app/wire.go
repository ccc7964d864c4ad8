package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"

	s3blob "github.com/alanyoungcy/taper/internal/blob/s3"
	"github.com/alanyoungcy/taper/internal/cache/redis"
	"github.com/alanyoungcy/taper/internal/config"
	"github.com/alanyoungcy/taper/internal/domain"
	"github.com/alanyoungcy/taper/internal/metrics"
	"github.com/alanyoungcy/taper/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client // nil unless s3.enabled

	// Stores
	MeetStore   domain.MeetStore
	MarketStore *postgres.MarketStore // also the domain.ResultStore
	PickStore   domain.PickStore

	// Caches
	GuestStore   domain.GuestStateStore
	CatalogCache domain.CatalogCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.ResultArchiver

	Metrics *metrics.Metrics
	Clock   clockwork.Clock
}

// needsMigrations reports whether Wire should apply schema migrations.
func needsMigrations(cfg *config.Config) bool {
	return cfg.Supabase.RunMigrations || strings.EqualFold(cfg.Mode, "seed")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	clock := clockwork.NewRealClock()
	deps := &Dependencies{
		Metrics: metrics.New(),
		Clock:   clock,
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if needsMigrations(cfg) {
		applied, err := pgClient.RunMigrations(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.InfoContext(ctx, "wire: migrations applied", slog.Any("versions", applied))
		}
	}

	pool := pgClient.Pool()
	deps.MeetStore = postgres.NewMeetStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.PickStore = postgres.NewPickStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.GuestStore = redis.NewGuestStore(redisClient, cfg.Picks.GuestStateTTL.Duration, clock, logger)
	deps.CatalogCache = redis.NewCatalogCache(redisClient, cfg.Catalog.CacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, clock)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only when enabled) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewResultArchiver(deps.BlobWriter)
	}

	return deps, cleanup, nil
}
