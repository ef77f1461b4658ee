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
// built-in defaults, applies CPMORACLE_* environment variable overrides, fills
// token fields from the network presets, and returns the final Config. The
// returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	ApplyPresets(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CPMORACLE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "CPMORACLE_CHAIN_RPC_URL")
	setStr(&cfg.Chain.Network, "CPMORACLE_CHAIN_NETWORK")
	setInt(&cfg.Chain.ChainID, "CPMORACLE_CHAIN_CHAIN_ID")
	setFloat64(&cfg.Chain.RequestsPerSecond, "CPMORACLE_CHAIN_REQUESTS_PER_SECOND")
	setInt(&cfg.Chain.Burst, "CPMORACLE_CHAIN_BURST")
	setDuration(&cfg.Chain.CallTimeout, "CPMORACLE_CHAIN_CALL_TIMEOUT")
	setInt(&cfg.Chain.BreakerFailures, "CPMORACLE_CHAIN_BREAKER_FAILURES")
	setDuration(&cfg.Chain.BreakerCooldown, "CPMORACLE_CHAIN_BREAKER_COOLDOWN")
	setStr(&cfg.Chain.UniswapV1Factory, "CPMORACLE_CHAIN_UNISWAP_V1_FACTORY")
	setStr(&cfg.Chain.WETH, "CPMORACLE_CHAIN_WETH")

	// ── Oracle ──
	setDuration(&cfg.Oracle.PollInterval, "CPMORACLE_ORACLE_POLL_INTERVAL")
	setDuration(&cfg.Oracle.LockTTL, "CPMORACLE_ORACLE_LOCK_TTL")
	setDuration(&cfg.Oracle.CacheTTL, "CPMORACLE_ORACLE_CACHE_TTL")

	// ── Signer ──
	setStr(&cfg.Signer.PrivateKey, "CPMORACLE_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "CPMORACLE_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "CPMORACLE_SIGNER_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CPMORACLE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CPMORACLE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CPMORACLE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CPMORACLE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CPMORACLE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CPMORACLE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CPMORACLE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CPMORACLE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CPMORACLE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CPMORACLE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CPMORACLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CPMORACLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CPMORACLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CPMORACLE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CPMORACLE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CPMORACLE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CPMORACLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CPMORACLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "CPMORACLE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CPMORACLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CPMORACLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CPMORACLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CPMORACLE_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CPMORACLE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "CPMORACLE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "CPMORACLE_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CPMORACLE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CPMORACLE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CPMORACLE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CPMORACLE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "CPMORACLE_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CPMORACLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CPMORACLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CPMORACLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CPMORACLE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CPMORACLE_MODE")
	setStr(&cfg.LogLevel, "CPMORACLE_LOG_LEVEL")
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
