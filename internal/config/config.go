// Package config defines the top-level configuration for the taper service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TAPER_* environment variables.
type Config struct {
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Picks    PicksConfig    `toml:"picks"`
	Server   ServerConfig   `toml:"server"`
	Seed     SeedConfig     `toml:"seed"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters. Storage is only
// dialled when Enabled is set.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Catalog sources.
const (
	SourceStatic   = "static"
	SourcePostgres = "postgres"
	SourceS3       = "s3"
)

// CatalogConfig selects where meets and markets are loaded from.
type CatalogConfig struct {
	// Source is one of static, postgres or s3.
	Source string `toml:"source"`
	// DatasetPath overrides the embedded dataset for the static source.
	DatasetPath string `toml:"dataset_path"`
	// WatchDataset reloads the catalog when the dataset file changes.
	WatchDataset    bool     `toml:"watch_dataset"`
	DatasetKey      string   `toml:"dataset_key"`
	CacheTTL        duration `toml:"cache_ttl"`
	RefreshInterval duration `toml:"refresh_interval"`
}

// PicksConfig tunes per-session pick managers.
type PicksConfig struct {
	EffectQueueSize int      `toml:"effect_queue_size"`
	PersistTimeout  duration `toml:"persist_timeout"`
	GuestStateTTL   duration `toml:"guest_state_ttl"`
	SessionIdle     duration `toml:"session_idle"`
}

// SeedConfig controls the seed mode.
type SeedConfig struct {
	ExportDataset  bool     `toml:"export_dataset"`
	ArchiveResults bool     `toml:"archive_results"`
	LockTTL        duration `toml:"lock_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the auth-callback and result endpoints.
	APIKey       string          `toml:"api_key"`
	CookieSecure bool            `toml:"cookie_secure"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig is a per-client sliding window.
type RateLimitConfig struct {
	Enabled  bool     `toml:"enabled"`
	Requests int      `toml:"requests"`
	Window   duration `toml:"window"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "taper:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "taper-data",
			ForcePathStyle: true,
		},
		Catalog: CatalogConfig{
			Source:          SourceStatic,
			DatasetKey:      "catalog/dataset.yaml",
			CacheTTL:        duration{10 * time.Minute},
			RefreshInterval: duration{5 * time.Minute},
		},
		Picks: PicksConfig{
			EffectQueueSize: 64,
			PersistTimeout:  duration{10 * time.Second},
			GuestStateTTL:   duration{90 * 24 * time.Hour},
			SessionIdle:     duration{30 * time.Minute},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit: RateLimitConfig{
				Enabled:  true,
				Requests: 120,
				Window:   duration{time.Minute},
			},
		},
		Seed: SeedConfig{
			LockTTL: duration{2 * time.Minute},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"seed":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSources = map[string]bool{
	SourceStatic:   true,
	SourcePostgres: true,
	SourceS3:       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, seed)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Catalog
	if !validSources[c.Catalog.Source] {
		errs = append(errs, fmt.Sprintf("catalog: unknown source %q (valid: static, postgres, s3)", c.Catalog.Source))
	}
	if c.Catalog.RefreshInterval.Duration < 0 {
		errs = append(errs, "catalog: refresh_interval must be >= 0")
	}
	if c.Catalog.WatchDataset && (c.Catalog.Source != SourceStatic || c.Catalog.DatasetPath == "") {
		errs = append(errs, "catalog: watch_dataset requires source = \"static\" and a dataset_path")
	}

	// S3 is required by the s3 catalog source and by seed exports.
	needsS3 := c.Catalog.Source == SourceS3 || c.Seed.ExportDataset || c.Seed.ArchiveResults
	if needsS3 && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for catalog.source = \"s3\" or seed exports")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Catalog.DatasetKey == "" {
			errs = append(errs, "catalog: dataset_key must not be empty when s3 is enabled")
		}
	}

	// Picks
	if c.Picks.EffectQueueSize < 1 {
		errs = append(errs, "picks: effect_queue_size must be >= 1")
	}
	if c.Picks.PersistTimeout.Duration <= 0 {
		errs = append(errs, "picks: persist_timeout must be > 0")
	}
	if c.Picks.GuestStateTTL.Duration < 0 {
		errs = append(errs, "picks: guest_state_ttl must be >= 0")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.Requests < 1 {
			errs = append(errs, "server: rate_limit.requests must be >= 1")
		}
		if c.Server.RateLimit.Window.Duration <= 0 {
			errs = append(errs, "server: rate_limit.window must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
