// Package config defines the top-level configuration for the pricing engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BAZAAR_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Pricing  PricingConfig  `toml:"pricing"`
	Ingest   IngestConfig   `toml:"ingest"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
}

// S3Config holds S3-compatible object storage parameters. Only used when the
// ingest archive is enabled.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PricingConfig holds the band ratios, grade table and fallback baselines.
type PricingConfig struct {
	FloorRatio   float64            `toml:"floor_ratio"`
	StretchRatio float64            `toml:"stretch_ratio"`
	StaleAfter   duration           `toml:"stale_after"`
	CacheTTL     duration           `toml:"cache_ttl"`
	Grades       map[string]float64 `toml:"grades"`
	Fallback     FallbackConfig     `toml:"fallback"`
}

// FallbackConfig is the platform baseline table used when no mandi record
// exists. Categories are rupees per kg; Commodities maps names to categories.
type FallbackConfig struct {
	DefaultPerKg float64            `toml:"default_per_kg"`
	Categories   map[string]float64 `toml:"categories"`
	Commodities  map[string]string  `toml:"commodities"`
}

// IngestConfig holds the data.gov.in agmarknet feed parameters.
type IngestConfig struct {
	Enabled        bool     `toml:"enabled"`
	BaseURL        string   `toml:"base_url"`
	ResourceID     string   `toml:"resource_id"`
	APIKey         string   `toml:"api_key"`
	Commodities    []string `toml:"commodities"`
	PageLimit      int      `toml:"page_limit"`
	Interval       duration `toml:"interval"`
	RequestTimeout duration `toml:"request_timeout"`
	ArchiveEnabled bool     `toml:"archive_enabled"`
	LockTTL        duration `toml:"lock_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "12h", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "12h" or "30s".
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
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	APIKey          string   `toml:"api_key"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bazaar",
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
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "ap-south-1",
			Bucket:         "bazaar-mandi",
			ForcePathStyle: true,
		},
		Pricing: PricingConfig{
			FloorRatio:   0.85,
			StretchRatio: 1.10,
			StaleAfter:   duration{72 * time.Hour},
			CacheTTL:     duration{6 * time.Hour},
			Grades: map[string]float64{
				"A": 1.15,
				"B": 1.00,
				"C": 0.85,
			},
		},
		Ingest: IngestConfig{
			Enabled:        false,
			BaseURL:        "https://api.data.gov.in",
			ResourceID:     "9ef84268-d588-465a-a308-a864a43d0070",
			Commodities:    []string{"Tomato", "Onion", "Potato", "Wheat", "Rice"},
			PageLimit:      500,
			Interval:       duration{12 * time.Hour},
			RequestTimeout: duration{30 * time.Second},
			ArchiveEnabled: false,
			LockTTL:        duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"fallback_used", "stale_mandi_data", "ingest_failed", "error"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"ingest": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// IngestRuns reports whether the mode runs the ingestion loop.
func (c *Config) IngestRuns() bool {
	m := strings.ToLower(c.Mode)
	return m == "ingest" || (m == "full" && c.Ingest.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, ingest, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only dialled for the ingest archive.
	if c.Ingest.ArchiveEnabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when ingest.archive_enabled is set")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when ingest.archive_enabled is set")
		}
	}

	// Pricing
	p := c.Pricing
	if p.FloorRatio <= 0 || p.FloorRatio > 1 {
		errs = append(errs, fmt.Sprintf("pricing: floor_ratio must be in (0, 1], got %v", p.FloorRatio))
	}
	if p.StretchRatio < 1 {
		errs = append(errs, fmt.Sprintf("pricing: stretch_ratio must be >= 1, got %v", p.StretchRatio))
	}
	if p.StaleAfter.Duration <= 0 {
		errs = append(errs, "pricing: stale_after must be > 0")
	}
	if p.CacheTTL.Duration < 0 {
		errs = append(errs, "pricing: cache_ttl must be >= 0")
	}
	for g, f := range p.Grades {
		if strings.TrimSpace(g) == "" {
			errs = append(errs, "pricing: grades contains an empty grade name")
		}
		if f <= 0 {
			errs = append(errs, fmt.Sprintf("pricing: grade %q factor must be > 0, got %v", g, f))
		}
	}
	if p.Fallback.DefaultPerKg < 0 {
		errs = append(errs, "pricing: fallback.default_per_kg must be >= 0 (0 keeps the built-in table)")
	}
	for name, price := range p.Fallback.Categories {
		if price <= 0 {
			errs = append(errs, fmt.Sprintf("pricing: fallback category %q must be > 0, got %v", name, price))
		}
	}

	// Ingest
	if c.IngestRuns() {
		if c.Ingest.BaseURL == "" {
			errs = append(errs, "ingest: base_url must not be empty")
		}
		if c.Ingest.ResourceID == "" {
			errs = append(errs, "ingest: resource_id must not be empty")
		}
		if c.Ingest.APIKey == "" {
			errs = append(errs, "ingest: api_key is required to run ingestion")
		}
		if len(c.Ingest.Commodities) == 0 {
			errs = append(errs, "ingest: commodities must list at least one commodity")
		}
		if c.Ingest.Interval.Duration < time.Minute {
			errs = append(errs, "ingest: interval must be >= 1m")
		}
		if c.Ingest.PageLimit < 1 {
			errs = append(errs, "ingest: page_limit must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0 (0 disables it)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
