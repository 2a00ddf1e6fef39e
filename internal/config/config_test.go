package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20*time.Second, cfg.Cache.Duration.Duration)
	assert.Equal(t, 2, cfg.Cache.MaxRetries)
	assert.Equal(t, time.Second, cfg.Cache.RetryDelay.Duration)
	assert.True(t, cfg.Cache.ServeStale, "stale entries are served while refreshing")
	assert.Equal(t, 10*time.Minute, cfg.Server.CORSMaxAge.Duration)
	assert.Equal(t, 30*time.Second, cfg.Scan.Interval.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Scan.MaxBackoff.Duration)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "scan"
log_level = "debug"

[engine]
min_profit_pct = 1.25
impact_model = "constant_product"

[engine.fee_bps]
curve = 5

[cache]
duration = "45s"
serve_stale = false

[scan]
interval = "1m"
max_backoff = "10m"

[gas.static_usd.ethereum]
swap = 6.5
approval = 1.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 1.25, cfg.Engine.MinProfitPct)
	assert.Equal(t, "constant_product", cfg.Engine.ImpactModel)
	assert.Equal(t, 5.0, cfg.Engine.FeeBps["curve"])
	assert.Equal(t, 45*time.Second, cfg.Cache.Duration.Duration)
	assert.False(t, cfg.Cache.ServeStale)
	assert.Equal(t, time.Minute, cfg.Scan.Interval.Duration)
	assert.Equal(t, StaticGas{Swap: 6.5, Approval: 1.5}, cfg.Gas.Static["ethereum"])

	// Untouched sections keep their defaults.
	assert.Equal(t, 2, cfg.Cache.MaxRetries)
	assert.Equal(t, "WETH", cfg.Scan.Base.Symbol)
	assert.Equal(t, 1000.0, cfg.Engine.InvestmentAmount)
	require.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: decode")
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "[cache]\nduration = \"soon\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEXARB_MODE", "server")
	t.Setenv("DEXARB_CACHE_DURATION", "1m")
	t.Setenv("DEXARB_CACHE_MAX_RETRIES", "5")
	t.Setenv("DEXARB_ENGINE_MIN_PROFIT_PCT", "0.75")
	t.Setenv("DEXARB_SCAN_BASE_CHAIN_ID", "42161")
	t.Setenv("DEXARB_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("DEXARB_SERVER_CORS_MAX_AGE", "90s")
	t.Setenv("DEXARB_GAS_RPC_URLS", "ethereum=https://eth.example/v2/key, arbitrum = https://arb.example,broken")
	t.Setenv("DEXARB_REDIS_ENABLED", "false")
	t.Setenv("DEXARB_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, time.Minute, cfg.Cache.Duration.Duration)
	assert.Equal(t, 5, cfg.Cache.MaxRetries)
	assert.Equal(t, 0.75, cfg.Engine.MinProfitPct)
	assert.Equal(t, int64(42161), cfg.Scan.Base.ChainID)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.Server.CORSMaxAge.Duration)
	assert.Equal(t, map[string]string{
		"ethereum": "https://eth.example/v2/key",
		"arbitrum": "https://arb.example",
	}, cfg.Gas.RPCURLs)
	assert.False(t, cfg.Redis.Enabled)
	// Unparseable values leave the default in place.
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.LogLevel = "verbose"
	cfg.Engine.PlatformFeeRate = 1
	cfg.Engine.ImpactModel = "quadratic"
	cfg.Engine.InvestmentAmount = 0
	cfg.Engine.FeeBps["bogus"] = -1
	cfg.Cache.Duration = duration{}
	cfg.Redis.Addr = ""
	cfg.Notify.TelegramToken = "token-only"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "verbose"`,
		"engine: platform_fee_rate",
		`engine: unknown impact_model "quadratic"`,
		"engine: investment_amount",
		"engine: fee_bps.bogus",
		"cache: duration",
		"redis: addr",
		"notify: telegram_token and telegram_chat_id",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateScanTarget(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "scan"
	cfg.Scan.Base.Address = "0x123"
	cfg.Scan.Quote = TokenConfig{ChainID: 10}
	cfg.Scan.OverlapPolicy = "drop"
	cfg.Scan.MaxBackoff = duration{time.Second}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `scan.base: malformed address "0x123"`)
	assert.Contains(t, msg, "scan.quote: address or symbol must be set")
	assert.Contains(t, msg, "scan: base and quote must be on the same chain")
	assert.Contains(t, msg, `scan: unknown overlap_policy "drop"`)
	assert.Contains(t, msg, "scan: max_backoff")
}

func TestValidateServerModeSkipsScanTarget(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "server"
	cfg.Scan.Base = TokenConfig{}
	assert.NoError(t, cfg.Validate())
}

func TestValidateArchiveNeedsPostgres(t *testing.T) {
	cfg := Defaults()
	cfg.Archive.Enabled = true
	cfg.Supabase.Enabled = false
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive: requires supabase.enabled")
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestModeHelpers(t *testing.T) {
	cfg := Defaults()
	assert.True(t, cfg.Scans())
	assert.True(t, cfg.Serves())

	cfg.Server.Enabled = false
	assert.False(t, cfg.Serves())

	cfg.Mode = "server"
	assert.False(t, cfg.Scans())
	assert.True(t, cfg.Serves())
}

func TestEngineFeeRates(t *testing.T) {
	e := EngineConfig{FeeBps: map[string]float64{"uniswap_v3": 5, "sushiswap": 30}, DefaultFeeBps: 25}
	rates := e.FeeRates()
	assert.InDelta(t, 0.0005, rates["uniswap_v3"], 1e-12)
	assert.InDelta(t, 0.003, rates["sushiswap"], 1e-12)
	assert.InDelta(t, 0.0025, e.DefaultFeeRate(), 1e-12)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.Password = "pg-secret"
	cfg.Supabase.DSN = "postgres://u:p@db/x"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-key"
	cfg.Notify.TelegramToken = "tg"
	cfg.Gas.RPCURLs = map[string]string{
		"ethereum": "https://eth-mainnet.example.com/v2/abc123",
		"arbitrum": "wss://user:pw@arb.example.com",
	}

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Supabase.Password)
	assert.Equal(t, redacted, out.Supabase.DSN)
	assert.Equal(t, redacted, out.Redis.Password)
	assert.Equal(t, redacted, out.S3.SecretKey)
	assert.Equal(t, "", out.S3.AccessKey)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Equal(t, "https://eth-mainnet.example.com/***", out.Gas.RPCURLs["ethereum"])
	assert.Equal(t, "wss://arb.example.com", out.Gas.RPCURLs["arbitrum"])

	// The original is untouched, including its maps and slices.
	assert.Equal(t, "pg-secret", cfg.Supabase.Password)
	assert.Equal(t, "https://eth-mainnet.example.com/v2/abc123", cfg.Gas.RPCURLs["ethereum"])
	out.Engine.FeeBps["curve"] = 99
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, 4.0, cfg.Engine.FeeBps["curve"])
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
