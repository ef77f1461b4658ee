// Package config defines the top-level configuration for the CPM oracle
// service and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CPMORACLE_* environment variables.
type Config struct {
	Chain    ChainConfig            `toml:"chain"`
	Tokens   map[string]TokenConfig `toml:"tokens"`
	Oracle   OracleConfig           `toml:"oracle"`
	Signer   SignerConfig           `toml:"signer"`
	Postgres PostgresConfig         `toml:"postgres"`
	Redis    RedisConfig            `toml:"redis"`
	S3       S3Config               `toml:"s3"`
	Archive  ArchiveConfig          `toml:"archive"`
	Server   ServerConfig           `toml:"server"`
	Notify   NotifyConfig           `toml:"notify"`
	Mode     string                 `toml:"mode"`
	LogLevel string                 `toml:"log_level"`
}

// ChainConfig holds the JSON-RPC endpoint and client protection settings.
type ChainConfig struct {
	RPCURL            string   `toml:"rpc_url"`
	Network           string   `toml:"network"`
	ChainID           int      `toml:"chain_id"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	CallTimeout       duration `toml:"call_timeout"`
	BreakerFailures   int      `toml:"breaker_failures"`
	BreakerCooldown   duration `toml:"breaker_cooldown"`
	UniswapV1Factory  string   `toml:"uniswap_v1_factory"`
	WETH              string   `toml:"weth"`
}

// TokenConfig describes one token the oracle answers for. Unset fields are
// filled from the network preset for the same symbol.
type TokenConfig struct {
	Pool         string `toml:"pool"`
	Token        string `toml:"token"`
	PeggedToBase *bool  `toml:"pegged_to_base"`
	DeviationBps int    `toml:"deviation_bps"`
	Topology     string `toml:"topology"`
	VenueID      int    `toml:"venue_id"`
	PrimaryFeed  string `toml:"primary_feed"`
	PrimaryKind  string `toml:"primary_kind"`
	FallbackFeed string `toml:"fallback_feed"`
	FallbackKind string `toml:"fallback_kind"`
}

// OracleConfig holds polling and caching parameters.
type OracleConfig struct {
	PollInterval duration `toml:"poll_interval"`
	LockTTL      duration `toml:"lock_ttl"`
	CacheTTL     duration `toml:"cache_ttl"`
	StreamLimit  int      `toml:"stream_limit"`
}

// SignerConfig holds the key used to attest answers. Leave both key fields
// empty to publish unsigned answers.
type SignerConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// Enabled reports whether a signing key is configured.
func (s SignerConfig) Enabled() bool {
	return s.PrivateKey != "" || s.EncryptedKeyPath != ""
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls moving old answers to cold storage.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"` // 5-field, UTC
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
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
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
		Chain: ChainConfig{
			RPCURL:            "http://localhost:8545",
			Network:           NetworkMain,
			RequestsPerSecond: 20,
			Burst:             10,
			CallTimeout:       duration{5 * time.Second},
			BreakerFailures:   5,
			BreakerCooldown:   duration{30 * time.Second},
		},
		Tokens: map[string]TokenConfig{},
		Oracle: OracleConfig{
			PollInterval: duration{15 * time.Second},
			LockTTL:      duration{10 * time.Second},
			CacheTTL:     duration{5 * time.Minute},
			StreamLimit:  10_000,
		},
		Postgres: PostgresConfig{
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
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cpmoracle-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"no_answer", "deviation", "snapshot_unavailable"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"poll":    true,
	"once":    true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// NeedsPostgres reports whether mode keeps an answer history.
func (c *Config) NeedsPostgres() bool {
	return c.Mode == "serve" || c.Mode == "poll" || c.Mode == "archive"
}

// NeedsRedis reports whether mode uses the cache, bus and locks.
func (c *Config) NeedsRedis() bool {
	return c.Mode == "serve" || c.Mode == "poll"
}

// NeedsS3 reports whether mode writes to the answer archive.
func (c *Config) NeedsS3() bool {
	return c.Mode == "archive" || (c.Mode == "serve" && c.Archive.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, poll, once, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Mode != "archive" {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty")
		}
		if c.Chain.CallTimeout.Duration <= 0 {
			errs = append(errs, "chain: call_timeout must be > 0")
		}
		if c.Chain.RequestsPerSecond < 0 {
			errs = append(errs, "chain: requests_per_second must be >= 0")
		}
		if c.Chain.UniswapV1Factory != "" && !common.IsHexAddress(c.Chain.UniswapV1Factory) {
			errs = append(errs, fmt.Sprintf("chain: uniswap_v1_factory %q is not an address", c.Chain.UniswapV1Factory))
		}
		if len(c.Tokens) == 0 {
			errs = append(errs, "tokens: at least one token must be configured")
		}
	}

	// Tokens
	symbols := make([]string, 0, len(c.Tokens))
	for sym := range c.Tokens {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		errs = append(errs, c.validateToken(sym, c.Tokens[sym])...)
	}

	// Signer
	if c.Signer.Enabled() && c.Chain.ChainID < 1 {
		errs = append(errs, "chain: chain_id must be set when signing answers")
	}
	if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
		errs = append(errs, "signer: key_password is required when encrypted_key_path is set")
	}

	// Oracle
	if c.Oracle.PollInterval.Duration <= 0 && (c.Mode == "serve" || c.Mode == "poll") {
		errs = append(errs, "oracle: poll_interval must be > 0")
	}

	// Postgres
	if c.NeedsPostgres() {
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
	}

	// Redis
	if c.NeedsRedis() {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.NeedsS3() {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Mode == "serve" && len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %q", c.Archive.Cron))
		}
	}

	// Server
	if c.Server.Enabled && c.Mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateToken(sym string, t TokenConfig) []string {
	var errs []string
	prefix := "tokens." + sym + ": "

	if topo, ok := domain.ParseTopology(t.Topology); !ok {
		errs = append(errs, prefix+fmt.Sprintf("unknown topology %q", t.Topology))
	} else if topo == domain.TopologyNone {
		errs = append(errs, prefix+"topology must be single_sided or multi_sided")
	}
	if t.DeviationBps < 0 || !domain.ValidDeviationTier(uint32(t.DeviationBps)) {
		errs = append(errs, prefix+fmt.Sprintf("deviation_bps must be %d or %d, got %d",
			domain.DeviationLow, domain.DeviationHigh, t.DeviationBps))
	}
	if t.VenueID != int(domain.VenueUniswapV1) && t.VenueID != int(domain.VenueUniswapV2) {
		errs = append(errs, prefix+fmt.Sprintf("unsupported venue_id %d", t.VenueID))
	}
	if !common.IsHexAddress(t.Token) {
		errs = append(errs, prefix+"token must be an address")
	}
	switch {
	case t.Pool != "" && !common.IsHexAddress(t.Pool):
		errs = append(errs, prefix+"pool must be an address")
	case t.Pool == "" && (t.VenueID != int(domain.VenueUniswapV1) || c.Chain.UniswapV1Factory == ""):
		errs = append(errs, prefix+"pool is required unless the uniswap v1 factory can resolve it")
	}
	pegged := t.PeggedToBase != nil && *t.PeggedToBase
	if !pegged && t.PrimaryFeed == "" && t.FallbackFeed == "" {
		errs = append(errs, prefix+"needs primary_feed or fallback_feed unless pegged_to_base")
	}
	for _, f := range []struct{ name, addr, kind string }{
		{"primary_feed", t.PrimaryFeed, t.PrimaryKind},
		{"fallback_feed", t.FallbackFeed, t.FallbackKind},
	} {
		if f.addr == "" {
			continue
		}
		if !common.IsHexAddress(f.addr) {
			errs = append(errs, prefix+f.name+" must be an address")
		}
		if k := domain.FeedKind(f.kind); k != domain.FeedChainlink && k != domain.FeedAssetOracle {
			errs = append(errs, prefix+fmt.Sprintf("%s kind %q unknown", f.name, f.kind))
		}
	}
	return errs
}
