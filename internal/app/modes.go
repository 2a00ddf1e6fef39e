package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/metrics"
	"github.com/alanyoungcy/dexarb/internal/pricing"
	"github.com/alanyoungcy/dexarb/internal/scanner"
	"github.com/alanyoungcy/dexarb/internal/server"
	"github.com/alanyoungcy/dexarb/internal/server/handler"
	"github.com/alanyoungcy/dexarb/internal/server/ws"
	"github.com/alanyoungcy/dexarb/internal/service"
)

// components are the engine-side objects shared by every mode.
type components struct {
	quotes   *pricing.QuoteCache
	engine   *service.Engine
	recorder *service.OpportunityService
	// orchestrator is nil in server mode.
	orchestrator *scanner.Orchestrator
}

// ScanMode runs the scan orchestrator, its recorder and the archiver.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	comps, err := a.buildComponents(deps, true)
	if err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}
	defer comps.quotes.Wait()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return comps.orchestrator.Run(ctx)
	})
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ServerMode serves the HTTP API over persisted history and the signal bus
// without scanning.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	comps, err := a.buildComponents(deps, false)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, comps)

	return g.Wait()
}

// FullMode runs scanning, archiving and, when enabled, the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	comps, err := a.buildComponents(deps, true)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	defer comps.quotes.Wait()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return comps.orchestrator.Run(ctx)
	})
	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, comps)
	}

	return g.Wait()
}

// buildComponents assembles the finder, the quote cache with its fallback
// chain, the engine and the recorder; withScanner adds the orchestrator.
func (a *App) buildComponents(deps *Dependencies, withScanner bool) (*components, error) {
	cfg := a.cfg
	clk := deps.Clock

	impact, err := arbitrage.NewImpactRegistry(cfg.Engine.ImpactCoefficient).Get(cfg.Engine.ImpactModel)
	if err != nil {
		return nil, err
	}
	finder := arbitrage.NewFinder(arbitrage.NewFeeModel(cfg.Engine.PlatformFeeRate), impact)

	tiers := []pricing.Tier{
		pricing.NewLiveTier(deps.QuoteSource, cfg.Cache.MaxRetries, cfg.Cache.RetryDelay.Duration, clk, a.logger, deps.Metrics),
	}
	if deps.QuoteStore != nil {
		tiers = append(tiers, pricing.NewHistoricalTier(deps.QuoteStore, cfg.Cache.HistoricalLimit))
	}
	tiers = append(tiers, pricing.NewSyntheticTier(cfg.Cache.SyntheticVenues, cfg.Engine.FeeRates(), cfg.Engine.DefaultFeeRate(), clk))

	quotes := pricing.NewQuoteCache(
		pricing.NewFallbackChain(clk, a.logger, deps.Metrics, tiers...),
		pricing.CacheConfig{
			Duration:     cfg.Cache.Duration.Duration,
			FetchTimeout: cfg.Cache.FetchTimeout.Duration,
			ServeStale:   cfg.Cache.ServeStale,
		},
		clk, a.logger, deps.Metrics,
	)

	engine := service.NewEngine(quotes, finder, deps.GasEstimator,
		service.EngineConfig{IncludeApprovalGas: cfg.Gas.IncludeApproval},
		clk, a.logger, deps.Metrics)

	var alerts service.Alerter
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		alerts = deps.Notifier
	}
	recorder := service.NewOpportunityService(
		deps.QuoteStore,
		deps.OpportunityStore,
		deps.AuditStore,
		deps.SignalBus,
		deps.Snapshots,
		alerts,
		service.RecorderConfig{SnapshotTTL: cfg.Redis.SnapshotTTL.Duration},
		a.logger,
		deps.Metrics,
	)

	comps := &components{quotes: quotes, engine: engine, recorder: recorder}
	if !withScanner {
		return comps, nil
	}

	target := scanTarget(cfg)
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("scan target: %w", err)
	}
	var locks domain.LockManager
	if cfg.Scan.LockEnabled {
		locks = deps.LockManager
	}
	comps.orchestrator = scanner.NewOrchestrator(engine, recorder, locks, target, scanner.Config{
		Interval:      cfg.Scan.Interval.Duration,
		MaxBackoff:    cfg.Scan.MaxBackoff.Duration,
		OverlapPolicy: cfg.Scan.OverlapPolicy,
		ScanTimeout:   cfg.Scan.ScanTimeout.Duration,
		LockTTL:       cfg.Scan.LockTTL.Duration,
	}, clk, a.logger)
	return comps, nil
}

// scanTarget builds the initial orchestrator target from config.
func scanTarget(cfg *config.Config) scanner.Target {
	return scanner.Target{
		Base:         tokenIdentity(cfg.Scan.Base),
		Quote:        tokenIdentity(cfg.Scan.Quote),
		Amount:       cfg.Engine.InvestmentAmount,
		MinProfitPct: cfg.Engine.MinProfitPct,
	}
}

func tokenIdentity(t config.TokenConfig) domain.TokenIdentity {
	return domain.TokenIdentity{
		Address:  t.Address,
		Symbol:   t.Symbol,
		Decimals: t.Decimals,
		ChainID:  t.ChainID,
	}
}

// startArchiver periodically moves opportunity history older than the
// retention window to object storage.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := a.cfg.Archive.Retention()
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	runOnce := func() {
		cutoff := deps.Clock.Now().UTC().Add(-retention)
		n, err := deps.Archiver.ArchiveOpportunities(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "archiver: run failed", slog.String("error", err.Error()))
			}
			return
		}
		a.logger.InfoContext(ctx, "archiver: run complete",
			slog.Int64("archived", n),
			slog.Time("cutoff", cutoff),
		)
	}

	g.Go(func() error {
		runOnce()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				a.logger.Info("archiver loop stopped")
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})
}

// startHTTPServer adds the API server and the websocket hub to the given
// errgroup. Scan endpoints answer 503 when comps has no orchestrator.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, comps *components) {
	// Typed nils must not leak into the handler interfaces.
	var (
		scans  handler.ScanController
		status handler.StatusSource
		latest handler.LatestSource
	)
	if comps.orchestrator != nil {
		scans, status, latest = comps.orchestrator, comps.orchestrator, comps.orchestrator
	}

	scanHandler := handler.NewScanHandler(scans, comps.recorder, a.logger).
		WithDefaultPair(scanTarget(a.cfg).Pair()).
		WithTargetListener(comps.recorder)

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.HealthChecks, deps.Clock, a.logger),
		Status:        handler.NewStatusHandler(a.cfg.Mode, status, deps.Clock).WithQuoteCache(comps.quotes),
		Scan:          scanHandler,
		Opportunities: handler.NewOpportunityHandler(comps.recorder, comps.engine, latest, a.logger),
		Audit:         handler.NewAuditHandler(deps.AuditStore, a.logger),
		Archive:       handler.NewArchiveHandler(deps.Archiver, a.logger),
		Metrics:       metrics.Handler(deps.Registry),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:           a.cfg.Mode,
			AllowedOrigins: a.cfg.Server.CORSOrigins,
			StartedAt:      deps.Clock.Now().UTC(),
		})
		g.Go(func() error {
			if err := hub.Run(ctx); ctx.Err() == nil {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		CORSMaxAge:  a.cfg.Server.CORSMaxAge.Duration,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
