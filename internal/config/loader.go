package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TAPER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TAPER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "TAPER_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "TAPER_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "TAPER_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "TAPER_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "TAPER_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "TAPER_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "TAPER_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "TAPER_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "TAPER_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "TAPER_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "TAPER_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TAPER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TAPER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TAPER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TAPER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TAPER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TAPER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TAPER_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TAPER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TAPER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TAPER_S3_REGION")
	setStr(&cfg.S3.Bucket, "TAPER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TAPER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TAPER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TAPER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TAPER_S3_FORCE_PATH_STYLE")

	// ── Catalog ──
	setStr(&cfg.Catalog.Source, "TAPER_CATALOG_SOURCE")
	setStr(&cfg.Catalog.DatasetPath, "TAPER_CATALOG_DATASET_PATH")
	setBool(&cfg.Catalog.WatchDataset, "TAPER_CATALOG_WATCH_DATASET")
	setStr(&cfg.Catalog.DatasetKey, "TAPER_CATALOG_DATASET_KEY")
	setDuration(&cfg.Catalog.CacheTTL, "TAPER_CATALOG_CACHE_TTL")
	setDuration(&cfg.Catalog.RefreshInterval, "TAPER_CATALOG_REFRESH_INTERVAL")

	// ── Picks ──
	setInt(&cfg.Picks.EffectQueueSize, "TAPER_PICKS_EFFECT_QUEUE_SIZE")
	setDuration(&cfg.Picks.PersistTimeout, "TAPER_PICKS_PERSIST_TIMEOUT")
	setDuration(&cfg.Picks.GuestStateTTL, "TAPER_PICKS_GUEST_STATE_TTL")
	setDuration(&cfg.Picks.SessionIdle, "TAPER_PICKS_SESSION_IDLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "TAPER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TAPER_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TAPER_SERVER_API_KEY")
	setBool(&cfg.Server.CookieSecure, "TAPER_SERVER_COOKIE_SECURE")
	setBool(&cfg.Server.RateLimit.Enabled, "TAPER_SERVER_RATE_LIMIT_ENABLED")
	setInt(&cfg.Server.RateLimit.Requests, "TAPER_SERVER_RATE_LIMIT_REQUESTS")
	setDuration(&cfg.Server.RateLimit.Window, "TAPER_SERVER_RATE_LIMIT_WINDOW")

	// ── Seed ──
	setBool(&cfg.Seed.ExportDataset, "TAPER_SEED_EXPORT_DATASET")
	setBool(&cfg.Seed.ArchiveResults, "TAPER_SEED_ARCHIVE_RESULTS")
	setDuration(&cfg.Seed.LockTTL, "TAPER_SEED_LOCK_TTL")

	// ── Top-level ──
	setStr(&cfg.Mode, "TAPER_MODE")
	setStr(&cfg.LogLevel, "TAPER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
