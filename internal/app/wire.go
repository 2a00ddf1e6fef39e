package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/dexarb/internal/blob/s3"
	"github.com/alanyoungcy/dexarb/internal/cache/redis"
	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/metrics"
	"github.com/alanyoungcy/dexarb/internal/notify"
	"github.com/alanyoungcy/dexarb/internal/platform/dexscreener"
	"github.com/alanyoungcy/dexarb/internal/platform/evm"
	"github.com/alanyoungcy/dexarb/internal/server/handler"
	"github.com/alanyoungcy/dexarb/internal/store/postgres"
)

// quoteSourceLimiterKey is the rate limiter key the quote source waits on.
const quoteSourceLimiterKey = "dexscreener"

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Optional dependencies are left nil when their backend is
// disabled.
type Dependencies struct {
	Clock    clock.Clock
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Stores
	QuoteStore       domain.HistoricalQuoteStore
	OpportunityStore domain.OpportunityStore
	AuditStore       domain.AuditStore

	// Caches
	Snapshots   domain.QuoteSnapshotCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Upstreams
	QuoteSource  domain.QuoteSource
	GasEstimator domain.GasEstimator

	// Notifications
	Notifier *notify.Notifier

	// HealthChecks probes every connected backend for /api/health.
	HealthChecks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := &Dependencies{
		Clock:        clock.System(),
		Registry:     reg,
		Metrics:      metrics.New(reg),
		HealthChecks: make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Supabase.DSN,
			Host:           cfg.Supabase.Host,
			Port:           cfg.Supabase.Port,
			Database:       cfg.Supabase.Database,
			User:           cfg.Supabase.User,
			Password:       cfg.Supabase.Password,
			SSLMode:        cfg.Supabase.SSLMode,
			MaxConns:       cfg.Supabase.PoolMaxConns,
			MinConns:       cfg.Supabase.PoolMinConns,
			ConnectTimeout: cfg.Supabase.ConnectTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.QuoteStore = postgres.NewQuoteStore(pool)
		deps.OpportunityStore = postgres.NewOpportunityStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "wire: postgres disabled; no quote history or opportunity persistence")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		limits := map[string]redis.Limit{}
		if cfg.QuoteSource.RateLimit > 0 {
			limits[quoteSourceLimiterKey] = redis.Limit{
				Requests: cfg.QuoteSource.RateLimit,
				Window:   cfg.QuoteSource.RateWindow.Duration,
			}
		}

		deps.Snapshots = redis.NewQuoteSnapshotCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, limits)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "wire: redis disabled; no snapshots, locks, rate limits or dashboard push")
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled && deps.OpportunityStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.OpportunityStore,
			deps.AuditStore,
			logger,
		)
	}

	// --- Quote source ---
	deps.QuoteSource = dexscreener.NewClient(dexscreener.Config{
		BaseURL:         cfg.QuoteSource.BaseURL,
		Timeout:         cfg.QuoteSource.Timeout.Duration,
		FeeBps:          cfg.Engine.FeeBps,
		DefaultFeeBps:   cfg.Engine.DefaultFeeBps,
		MinLiquidityUSD: cfg.QuoteSource.MinLiquidityUSD,
	}, deps.RateLimiter, deps.Clock, logger)

	// --- Gas ---
	gas, closeGas, err := wireGas(ctx, cfg.Gas, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, closeGas)
	deps.GasEstimator = gas

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, notify.Config{
		Events:       cfg.Notify.Events,
		MinNetProfit: cfg.Notify.MinNetProfit,
		DedupTTL:     cfg.Notify.DedupTTL.Duration,
	}, deps.Clock, logger)

	return deps, cleanup, nil
}

// wireGas dials the configured RPC endpoints and puts the static table
// behind them.
func wireGas(ctx context.Context, cfg config.GasConfig, logger *slog.Logger) (domain.GasEstimator, func(), error) {
	overrides := make(map[string]map[domain.GasOperation]float64, len(cfg.Static))
	for network, g := range cfg.Static {
		overrides[network] = map[domain.GasOperation]float64{
			domain.GasSwap:     g.Swap,
			domain.GasApproval: g.Approval,
		}
	}
	static := evm.NewStaticEstimator(overrides)
	if len(cfg.RPCURLs) == 0 {
		return static, func() {}, nil
	}

	clients, closeClients, err := evm.Dial(ctx, cfg.RPCURLs)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: evm rpc: %w", err)
	}
	units := map[domain.GasOperation]uint64{
		domain.GasSwap:     cfg.SwapUnits,
		domain.GasApproval: cfg.ApprovalUnits,
	}
	return evm.NewGasEstimator(clients, units, cfg.NativeUSD, static, logger), closeClients, nil
}
