// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXARB_* environment variables.
type Config struct {
	Engine      EngineConfig      `toml:"engine"`
	Cache       CacheConfig       `toml:"cache"`
	Scan        ScanConfig        `toml:"scan"`
	QuoteSource QuoteSourceConfig `toml:"quote_source"`
	Gas         GasConfig         `toml:"gas"`
	Supabase    SupabaseConfig    `toml:"supabase"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// EngineConfig holds the pricing parameters of the opportunity finder.
type EngineConfig struct {
	PlatformFeeRate   float64 `toml:"platform_fee_rate"`
	ImpactModel       string  `toml:"impact_model"`
	ImpactCoefficient float64 `toml:"impact_coefficient"`
	MinProfitPct      float64 `toml:"min_profit_pct"`
	InvestmentAmount  float64 `toml:"investment_amount"`
	// FeeBps maps a venue name to its swap fee in basis points. Venues not
	// listed are charged DefaultFeeBps.
	FeeBps        map[string]float64 `toml:"fee_bps"`
	DefaultFeeBps float64            `toml:"default_fee_bps"`
}

// FeeRates converts FeeBps to fractional rates.
func (e EngineConfig) FeeRates() map[string]float64 {
	out := make(map[string]float64, len(e.FeeBps))
	for venue, bps := range e.FeeBps {
		out[venue] = bps / 10_000
	}
	return out
}

// DefaultFeeRate is DefaultFeeBps as a fraction.
func (e EngineConfig) DefaultFeeRate() float64 { return e.DefaultFeeBps / 10_000 }

// CacheConfig tunes the quote cache and its fallback chain.
type CacheConfig struct {
	Duration        duration `toml:"duration"`
	MaxRetries      int      `toml:"max_retries"`
	RetryDelay      duration `toml:"retry_delay"`
	FetchTimeout    duration `toml:"fetch_timeout"`
	ServeStale      bool     `toml:"serve_stale"`
	HistoricalLimit int      `toml:"historical_limit"`
	SyntheticVenues []string `toml:"synthetic_venues"`
}

// TokenConfig identifies one side of the scanned pair.
type TokenConfig struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
	ChainID  int64  `toml:"chain_id"`
}

// ScanConfig holds the scheduler parameters and the initial target pair.
type ScanConfig struct {
	Base          TokenConfig `toml:"base"`
	Quote         TokenConfig `toml:"quote"`
	Interval      duration    `toml:"interval"`
	MaxBackoff    duration    `toml:"max_backoff"`
	OverlapPolicy string      `toml:"overlap_policy"`
	ScanTimeout   duration    `toml:"scan_timeout"`
	LockEnabled   bool        `toml:"lock_enabled"`
	LockTTL       duration    `toml:"lock_ttl"`
}

// QuoteSourceConfig configures the DexScreener client.
type QuoteSourceConfig struct {
	BaseURL         string   `toml:"base_url"`
	Timeout         duration `toml:"timeout"`
	MinLiquidityUSD float64  `toml:"min_liquidity_usd"`
	// RateLimit is requests per RateWindow across every instance sharing
	// the Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// StaticGas is a fixed USD cost per operation.
type StaticGas struct {
	Swap     float64 `toml:"swap"`
	Approval float64 `toml:"approval"`
}

// GasConfig configures gas pricing. Networks with an RPC URL are priced
// from the node; the rest use the static table.
type GasConfig struct {
	RPCURLs         map[string]string    `toml:"rpc_urls"`
	SwapUnits       uint64               `toml:"swap_units"`
	ApprovalUnits   uint64               `toml:"approval_units"`
	NativeUSD       map[string]float64   `toml:"native_usd"`
	Static          map[string]StaticGas `toml:"static_usd"`
	IncludeApproval bool                 `toml:"include_approval"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled        bool     `toml:"enabled"`
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
	// SnapshotTTL is how long the latest live quote set stays readable.
	SnapshotTTL duration `toml:"snapshot_ttl"`
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

// ArchiveConfig controls moving old opportunity history to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// Retention returns RetentionDays as a duration.
func (a ArchiveConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
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
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// CORSMaxAge is how long browsers may cache a preflight answer.
	CORSMaxAge duration `toml:"cors_max_age"`
	APIKey     string   `toml:"api_key"`
	// RateLimit is requests per RateWindow per client IP. Zero disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinNetProfit      float64  `toml:"min_net_profit"`
	DedupTTL          duration `toml:"dedup_ttl"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			PlatformFeeRate:   0.005,
			ImpactModel:       "linear",
			ImpactCoefficient: 0.6,
			MinProfitPct:      0.5,
			InvestmentAmount:  1000,
			FeeBps: map[string]float64{
				"uniswap_v2":  30,
				"uniswap_v3":  30,
				"sushiswap":   30,
				"pancakeswap": 25,
				"curve":       4,
				"balancer":    20,
			},
			DefaultFeeBps: 30,
		},
		Cache: CacheConfig{
			Duration:        duration{20 * time.Second},
			MaxRetries:      2,
			RetryDelay:      duration{time.Second},
			FetchTimeout:    duration{15 * time.Second},
			ServeStale:      true,
			HistoricalLimit: 50,
		},
		Scan: ScanConfig{
			Base: TokenConfig{
				Address:  "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
				Symbol:   "WETH",
				Decimals: 18,
				ChainID:  1,
			},
			Quote: TokenConfig{
				Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				Symbol:   "USDC",
				Decimals: 6,
				ChainID:  1,
			},
			Interval:      duration{30 * time.Second},
			MaxBackoff:    duration{5 * time.Minute},
			OverlapPolicy: "queue",
			ScanTimeout:   duration{45 * time.Second},
			LockEnabled:   true,
			LockTTL:       duration{time.Minute},
		},
		QuoteSource: QuoteSourceConfig{
			BaseURL:         "https://api.dexscreener.com",
			Timeout:         duration{10 * time.Second},
			MinLiquidityUSD: 10_000,
			RateLimit:       60,
			RateWindow:      duration{time.Minute},
		},
		Gas: GasConfig{
			RPCURLs:       map[string]string{},
			SwapUnits:     180_000,
			ApprovalUnits: 46_000,
			NativeUSD: map[string]float64{
				"ethereum": 3000,
				"arbitrum": 3000,
				"optimism": 3000,
				"base":     3000,
				"polygon":  0.5,
				"bsc":      600,
			},
			Static:          map[string]StaticGas{},
			IncludeApproval: false,
		},
		Supabase: SupabaseConfig{
			Enabled:        true,
			Host:           "localhost",
			Port:           5432,
			Database:       "postgres",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Enabled:     true,
			Addr:        "localhost:6379",
			DB:          0,
			PoolSize:    20,
			MaxRetries:  3,
			KeyPrefix:   "dexarb:",
			SnapshotTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "dexarb-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			CORSMaxAge:  duration{10 * time.Minute},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:       []string{"opportunity", "degraded", "scan_failed"},
			MinNetProfit: 10,
			DedupTTL:     duration{10 * time.Minute},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":   true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validImpactModels = map[string]bool{
	"linear":           true,
	"constant_product": true,
}

// Scans reports whether the mode runs the scan orchestrator.
func (c *Config) Scans() bool {
	m := strings.ToLower(c.Mode)
	return m == "scan" || m == "full"
}

// Serves reports whether the mode runs the HTTP server.
func (c *Config) Serves() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || (m == "full" && c.Server.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.PlatformFeeRate < 0 || c.Engine.PlatformFeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("engine: platform_fee_rate must be in [0, 1), got %v", c.Engine.PlatformFeeRate))
	}
	if !validImpactModels[c.Engine.ImpactModel] {
		errs = append(errs, fmt.Sprintf("engine: unknown impact_model %q (valid: linear, constant_product)", c.Engine.ImpactModel))
	}
	if c.Engine.ImpactCoefficient < 0 {
		errs = append(errs, "engine: impact_coefficient must be >= 0")
	}
	if c.Engine.InvestmentAmount <= 0 {
		errs = append(errs, "engine: investment_amount must be > 0")
	}
	if c.Engine.MinProfitPct < 0 {
		errs = append(errs, "engine: min_profit_pct must be >= 0")
	}
	if c.Engine.DefaultFeeBps < 0 || c.Engine.DefaultFeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("engine: default_fee_bps must be in [0, 10000), got %v", c.Engine.DefaultFeeBps))
	}
	for venue, bps := range c.Engine.FeeBps {
		if bps < 0 || bps >= 10_000 {
			errs = append(errs, fmt.Sprintf("engine: fee_bps.%s must be in [0, 10000), got %v", venue, bps))
		}
	}

	// Cache
	if c.Cache.Duration.Duration <= 0 {
		errs = append(errs, "cache: duration must be > 0")
	}
	if c.Cache.MaxRetries < 0 {
		errs = append(errs, "cache: max_retries must be >= 0")
	}
	if c.Cache.RetryDelay.Duration < 0 {
		errs = append(errs, "cache: retry_delay must be >= 0")
	}

	// Scan
	if c.Scans() {
		errs = append(errs, validateToken("scan.base", c.Scan.Base)...)
		errs = append(errs, validateToken("scan.quote", c.Scan.Quote)...)
		if c.Scan.Base.ChainID != c.Scan.Quote.ChainID {
			errs = append(errs, "scan: base and quote must be on the same chain")
		}
		if c.Scan.Interval.Duration <= 0 {
			errs = append(errs, "scan: interval must be > 0")
		}
		if c.Scan.MaxBackoff.Duration < c.Scan.Interval.Duration {
			errs = append(errs, "scan: max_backoff must not be shorter than interval")
		}
		if p := c.Scan.OverlapPolicy; p != "skip" && p != "queue" {
			errs = append(errs, fmt.Sprintf("scan: unknown overlap_policy %q (valid: skip, queue)", p))
		}
		if c.Scan.LockEnabled && !c.Redis.Enabled {
			errs = append(errs, "scan: lock_enabled requires redis.enabled")
		}
	}

	// Quote source
	if c.QuoteSource.BaseURL == "" {
		errs = append(errs, "quote_source: base_url must not be empty")
	}
	if c.QuoteSource.RateLimit < 0 {
		errs = append(errs, "quote_source: rate_limit must be >= 0")
	}

	// Supabase
	if c.Supabase.Enabled {
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
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive / S3
	if c.Archive.Enabled {
		if !c.Supabase.Enabled {
			errs = append(errs, "archive: requires supabase.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Serves() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateToken(section string, t TokenConfig) []string {
	var errs []string
	if t.Address == "" && t.Symbol == "" {
		errs = append(errs, section+": address or symbol must be set")
	}
	if t.Address != "" && !common.IsHexAddress(t.Address) {
		errs = append(errs, fmt.Sprintf("%s: malformed address %q", section, t.Address))
	}
	if t.ChainID <= 0 {
		errs = append(errs, section+": chain_id must be positive")
	}
	return errs
}
