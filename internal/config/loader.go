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
// built-in defaults, applies BAZAAR_* environment variable overrides, and
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

// applyEnvOverrides reads well-known BAZAAR_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Secrets
// are meant to arrive this way rather than through the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BAZAAR_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "BAZAAR_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BAZAAR_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BAZAAR_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BAZAAR_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BAZAAR_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BAZAAR_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BAZAAR_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BAZAAR_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BAZAAR_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BAZAAR_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BAZAAR_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BAZAAR_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BAZAAR_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BAZAAR_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BAZAAR_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BAZAAR_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BAZAAR_S3_REGION")
	setStr(&cfg.S3.Bucket, "BAZAAR_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BAZAAR_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BAZAAR_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BAZAAR_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BAZAAR_S3_FORCE_PATH_STYLE")

	// ── Pricing ──
	setFloat64(&cfg.Pricing.FloorRatio, "BAZAAR_PRICING_FLOOR_RATIO")
	setFloat64(&cfg.Pricing.StretchRatio, "BAZAAR_PRICING_STRETCH_RATIO")
	setDuration(&cfg.Pricing.StaleAfter, "BAZAAR_PRICING_STALE_AFTER")
	setDuration(&cfg.Pricing.CacheTTL, "BAZAAR_PRICING_CACHE_TTL")

	// ── Ingest ──
	setBool(&cfg.Ingest.Enabled, "BAZAAR_INGEST_ENABLED")
	setStr(&cfg.Ingest.BaseURL, "BAZAAR_INGEST_BASE_URL")
	setStr(&cfg.Ingest.ResourceID, "BAZAAR_INGEST_RESOURCE_ID")
	setStr(&cfg.Ingest.APIKey, "BAZAAR_INGEST_API_KEY")
	setStr(&cfg.Ingest.APIKey, "DATA_GOV_API_KEY") // shared key name
	setStringSlice(&cfg.Ingest.Commodities, "BAZAAR_INGEST_COMMODITIES")
	setInt(&cfg.Ingest.PageLimit, "BAZAAR_INGEST_PAGE_LIMIT")
	setDuration(&cfg.Ingest.Interval, "BAZAAR_INGEST_INTERVAL")
	setDuration(&cfg.Ingest.RequestTimeout, "BAZAAR_INGEST_REQUEST_TIMEOUT")
	setBool(&cfg.Ingest.ArchiveEnabled, "BAZAAR_INGEST_ARCHIVE_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BAZAAR_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BAZAAR_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setStr(&cfg.Server.APIKey, "BAZAAR_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "BAZAAR_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "BAZAAR_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BAZAAR_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BAZAAR_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BAZAAR_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BAZAAR_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BAZAAR_MODE")
	setStr(&cfg.LogLevel, "BAZAAR_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses.
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
