// Package config defines the marketplace daemon's configuration and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/fees"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by MARKET_* environment variables.
type Config struct {
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	Chain       ChainConfig       `toml:"chain"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Archive     ArchiveConfig     `toml:"archive"`
	Backends    BackendsConfig    `toml:"backends"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int64  `toml:"stream_max_len"`
	Namespace    string `toml:"namespace"`
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

// MarketplaceConfig holds fee and locking settings.
type MarketplaceConfig struct {
	FeeBps       uint32   `toml:"fee_bps"`
	FeeRecipient string   `toml:"fee_recipient"`
	LockTTL      duration `toml:"lock_ttl"`
	LockWait     duration `toml:"lock_wait"`
	SignReceipts bool     `toml:"sign_receipts"`
}

// ChainConfig configures the EVM ledger and the operator key.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int64    `toml:"chain_id"`
	NFTContract      string   `toml:"nft_contract"`
	PaymentToken     string   `toml:"payment_token"`
	PaymentCurrency  string   `toml:"payment_currency"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	ReceiptTimeout   duration `toml:"receipt_timeout"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port           int      `toml:"port"`
	APIKey         string   `toml:"api_key"`
	HMACSecret     string   `toml:"hmac_secret"`
	HMACMaxSkew    duration `toml:"hmac_max_skew"`
	CORSOrigins    []string `toml:"cors_origins"`
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	IdempotencyTTL duration `toml:"idempotency_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls the cold-storage job.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Retention duration `toml:"retention"`
}

// BackendsConfig picks an implementation per concern.
type BackendsConfig struct {
	Store  string `toml:"store"`
	Locks  string `toml:"locks"`
	Events string `toml:"events"`
	Ledger string `toml:"ledger"`
}

// duration lets TOML carry strings like "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs entirely in memory.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nftmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10_000,
			Namespace:    "nftmarket",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftmarket-archive",
			ForcePathStyle: true,
		},
		Marketplace: MarketplaceConfig{
			FeeBps:       250,
			FeeRecipient: "marketplace",
			LockTTL:      duration{10 * time.Second},
			LockWait:     duration{2 * time.Second},
		},
		Chain: ChainConfig{
			ChainID:         1,
			PaymentCurrency: "USDC",
			ReceiptTimeout:  duration{2 * time.Minute},
		},
		Server: ServerConfig{
			Port:           8000,
			HMACMaxSkew:    duration{5 * time.Minute},
			CORSOrigins:    []string{"http://localhost:3000"},
			RateLimit:      120,
			RateWindow:     duration{time.Minute},
			IdempotencyTTL: duration{24 * time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{"listing_sold", "listing_expired"},
		},
		Archive: ArchiveConfig{
			Interval:  duration{time.Hour},
			Retention: duration{90 * 24 * time.Hour},
		},
		Backends: BackendsConfig{
			Store:  "memory",
			Locks:  "memory",
			Events: "memory",
			Ledger: "memory",
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var (
	validModes     = []string{"server", "archive", "full"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !oneOf(c.Mode, validModes...) {
		add("unknown mode %q (valid: %s)", c.Mode, strings.Join(validModes, ", "))
	}
	if !oneOf(c.LogLevel, validLogLevels...) {
		add("unknown log_level %q (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	b := c.Backends
	if !oneOf(b.Store, "memory", "postgres") {
		add("backends: store must be memory or postgres, got %q", b.Store)
	}
	if !oneOf(b.Locks, "memory", "redis") {
		add("backends: locks must be memory or redis, got %q", b.Locks)
	}
	if !oneOf(b.Events, "memory", "redis") {
		add("backends: events must be memory or redis, got %q", b.Events)
	}
	if !oneOf(b.Ledger, "memory", "evm") {
		add("backends: ledger must be memory or evm, got %q", b.Ledger)
	}

	m := c.Marketplace
	if m.FeeBps > fees.MaxBps {
		add("marketplace: fee_bps must be <= %d, got %d", fees.MaxBps, m.FeeBps)
	}
	if m.FeeBps > 0 && strings.TrimSpace(m.FeeRecipient) == "" {
		add("marketplace: fee_recipient is required when fee_bps > 0")
	}
	if m.LockTTL.Duration <= 0 {
		add("marketplace: lock_ttl must be > 0")
	}
	if m.LockWait.Duration < 0 {
		add("marketplace: lock_wait must be >= 0")
	}

	if strings.EqualFold(b.Store, "postgres") && strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			add("database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			add("database: port must be 1-65535, got %d", c.Database.Port)
		}
	}
	if strings.EqualFold(b.Store, "postgres") && c.Database.PoolMinConns > c.Database.PoolMaxConns {
		add("database: pool_min_conns must not exceed pool_max_conns")
	}

	if (strings.EqualFold(b.Locks, "redis") || strings.EqualFold(b.Events, "redis")) && c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}

	needsKey := strings.EqualFold(b.Ledger, "evm") || m.SignReceipts
	if needsKey && c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
		add("chain: private_key or encrypted_key_path is required for the evm ledger and receipt signing")
	}
	if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
		add("chain: key_password is required when encrypted_key_path is set")
	}
	if strings.EqualFold(b.Ledger, "evm") {
		if c.Chain.RPCURL == "" {
			add("chain: rpc_url is required for the evm ledger")
		}
		if c.Chain.PaymentToken == "" {
			add("chain: payment_token is required for the evm ledger")
		}
	}

	if c.servesHTTP() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			add("server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if c.Archive.Enabled || strings.EqualFold(c.Mode, "archive") {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archiving")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
		if c.Archive.Retention.Duration <= 0 {
			add("archive: retention must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) servesHTTP() bool {
	return oneOf(c.Mode, "server", "full")
}
