package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXARB_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEXARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setFloat64(&cfg.Engine.PlatformFeeRate, "DEXARB_ENGINE_PLATFORM_FEE_RATE")
	setStr(&cfg.Engine.ImpactModel, "DEXARB_ENGINE_IMPACT_MODEL")
	setFloat64(&cfg.Engine.ImpactCoefficient, "DEXARB_ENGINE_IMPACT_COEFFICIENT")
	setFloat64(&cfg.Engine.MinProfitPct, "DEXARB_ENGINE_MIN_PROFIT_PCT")
	setFloat64(&cfg.Engine.InvestmentAmount, "DEXARB_ENGINE_INVESTMENT_AMOUNT")
	setFloat64(&cfg.Engine.DefaultFeeBps, "DEXARB_ENGINE_DEFAULT_FEE_BPS")

	// ── Cache ──
	setDuration(&cfg.Cache.Duration, "DEXARB_CACHE_DURATION")
	setInt(&cfg.Cache.MaxRetries, "DEXARB_CACHE_MAX_RETRIES")
	setDuration(&cfg.Cache.RetryDelay, "DEXARB_CACHE_RETRY_DELAY")
	setDuration(&cfg.Cache.FetchTimeout, "DEXARB_CACHE_FETCH_TIMEOUT")
	setBool(&cfg.Cache.ServeStale, "DEXARB_CACHE_SERVE_STALE")
	setInt(&cfg.Cache.HistoricalLimit, "DEXARB_CACHE_HISTORICAL_LIMIT")
	setStringSlice(&cfg.Cache.SyntheticVenues, "DEXARB_CACHE_SYNTHETIC_VENUES")

	// ── Scan ──
	setStr(&cfg.Scan.Base.Address, "DEXARB_SCAN_BASE_ADDRESS")
	setStr(&cfg.Scan.Base.Symbol, "DEXARB_SCAN_BASE_SYMBOL")
	setInt64(&cfg.Scan.Base.ChainID, "DEXARB_SCAN_BASE_CHAIN_ID")
	setStr(&cfg.Scan.Quote.Address, "DEXARB_SCAN_QUOTE_ADDRESS")
	setStr(&cfg.Scan.Quote.Symbol, "DEXARB_SCAN_QUOTE_SYMBOL")
	setInt64(&cfg.Scan.Quote.ChainID, "DEXARB_SCAN_QUOTE_CHAIN_ID")
	setDuration(&cfg.Scan.Interval, "DEXARB_SCAN_INTERVAL")
	setDuration(&cfg.Scan.MaxBackoff, "DEXARB_SCAN_MAX_BACKOFF")
	setStr(&cfg.Scan.OverlapPolicy, "DEXARB_SCAN_OVERLAP_POLICY")
	setDuration(&cfg.Scan.ScanTimeout, "DEXARB_SCAN_TIMEOUT")
	setBool(&cfg.Scan.LockEnabled, "DEXARB_SCAN_LOCK_ENABLED")
	setDuration(&cfg.Scan.LockTTL, "DEXARB_SCAN_LOCK_TTL")

	// ── Quote source ──
	setStr(&cfg.QuoteSource.BaseURL, "DEXARB_QUOTE_SOURCE_BASE_URL")
	setDuration(&cfg.QuoteSource.Timeout, "DEXARB_QUOTE_SOURCE_TIMEOUT")
	setFloat64(&cfg.QuoteSource.MinLiquidityUSD, "DEXARB_QUOTE_SOURCE_MIN_LIQUIDITY_USD")
	setInt(&cfg.QuoteSource.RateLimit, "DEXARB_QUOTE_SOURCE_RATE_LIMIT")
	setDuration(&cfg.QuoteSource.RateWindow, "DEXARB_QUOTE_SOURCE_RATE_WINDOW")

	// ── Gas ──
	setStringMap(&cfg.Gas.RPCURLs, "DEXARB_GAS_RPC_URLS")
	setBool(&cfg.Gas.IncludeApproval, "DEXARB_GAS_INCLUDE_APPROVAL")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "DEXARB_SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "DEXARB_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DEXARB_DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "DEXARB_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "DEXARB_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "DEXARB_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "DEXARB_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "DEXARB_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "DEXARB_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "DEXARB_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "DEXARB_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "DEXARB_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEXARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEXARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DEXARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DEXARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DEXARB_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "DEXARB_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.SnapshotTTL, "DEXARB_REDIS_SNAPSHOT_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DEXARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DEXARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DEXARB_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DEXARB_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "DEXARB_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "DEXARB_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "DEXARB_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.CORSMaxAge, "DEXARB_SERVER_CORS_MAX_AGE")
	setStr(&cfg.Server.APIKey, "DEXARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DEXARB_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DEXARB_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DEXARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DEXARB_NOTIFY_EVENTS")
	setFloat64(&cfg.Notify.MinNetProfit, "DEXARB_NOTIFY_MIN_NET_PROFIT")
	setDuration(&cfg.Notify.DedupTTL, "DEXARB_NOTIFY_DEDUP_TTL")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXARB_MODE")
	setStr(&cfg.LogLevel, "DEXARB_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

// setStringMap parses "k1=v1,k2=v2" and merges it into dst.
func setStringMap(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if *dst == nil {
		*dst = make(map[string]string)
	}
	for _, part := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(part, "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if ok && k != "" && val != "" {
			(*dst)[k] = val
		}
	}
}
