package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/metrics"
)

// Alerter announces noteworthy scan outcomes to operators.
type Alerter interface {
	Opportunity(ctx context.Context, opp domain.ArbitrageOpportunity) error
	Degraded(ctx context.Context, pair string, prov domain.Provenance) error
	ScanFailed(ctx context.Context, pair string, scanErr string) error
}

// RecorderConfig tunes the recorder.
type RecorderConfig struct {
	// SnapshotTTL is how long a published quote snapshot stays readable.
	SnapshotTTL time.Duration
}

// OpportunityService records scan reports: it feeds the historical quote
// store, persists opportunities, publishes events for the dashboard and
// raises alerts. Optional collaborators may be nil.
type OpportunityService struct {
	quotes    domain.HistoricalQuoteStore
	opps      domain.OpportunityStore
	audit     domain.AuditStore
	bus       domain.SignalBus
	snapshots domain.QuoteSnapshotCache
	alerts    Alerter
	cfg       RecorderConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewOpportunityService creates the recorder.
func NewOpportunityService(
	quotes domain.HistoricalQuoteStore,
	opps domain.OpportunityStore,
	audit domain.AuditStore,
	bus domain.SignalBus,
	snapshots domain.QuoteSnapshotCache,
	alerts Alerter,
	cfg RecorderConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *OpportunityService {
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 5 * time.Minute
	}
	return &OpportunityService{
		quotes:    quotes,
		opps:      opps,
		audit:     audit,
		bus:       bus,
		snapshots: snapshots,
		alerts:    alerts,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "opportunity_service")),
		metrics:   m,
	}
}

// scanStatusEvent is the JSON shape published to the scan_status channel.
type scanStatusEvent struct {
	Event         string    `json:"event"`
	Pair          string    `json:"pair"`
	ChainID       int64     `json:"chain_id"`
	Provenance    string    `json:"provenance,omitempty"`
	Degraded      bool      `json:"degraded"`
	Opportunities int       `json:"opportunities"`
	Generation    uint64    `json:"generation"`
	Error         string    `json:"error,omitempty"`
	Failures      int       `json:"consecutive_failures"`
	ScannedAt     time.Time `json:"scanned_at"`
}

// Record handles one published scan report. Only the opportunity insert is
// fatal; every other side effect is logged and skipped on failure.
func (s *OpportunityService) Record(ctx context.Context, report domain.ScanReport) error {
	pair := report.Pair.Label()
	s.publishStatus(ctx, report)

	if report.Err != "" {
		if s.alerts != nil {
			if err := s.alerts.ScanFailed(ctx, pair, report.Err); err != nil {
				s.logger.WarnContext(ctx, "opportunity_service: scan failure alert failed",
					slog.String("pair", pair),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	}

	if report.Provenance == domain.ProvenanceLive {
		s.saveQuotes(ctx, report.Quotes)
	}

	if len(report.Opportunities) > 0 && s.opps != nil {
		if err := s.opps.InsertBatch(ctx, report.Opportunities); err != nil {
			return fmt.Errorf("opportunity_service: insert opportunities: %w", err)
		}
	}
	for _, opp := range report.Opportunities {
		s.metrics.OpportunityFound(opp.TokenPair, string(opp.Confidence))
	}

	payload := s.publish(ctx, domain.ChannelOpportunities, map[string]any{
		"event":         "opportunities",
		"pair":          pair,
		"provenance":    report.Provenance,
		"degraded":      report.Degraded,
		"generation":    report.Generation,
		"opportunities": report.Opportunities,
		"scanned_at":    report.ScannedAt,
	})
	if payload != nil && len(report.Opportunities) > 0 {
		if err := s.bus.StreamAppend(ctx, domain.StreamOpportunities, payload); err != nil {
			s.logger.WarnContext(ctx, "opportunity_service: stream append failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.audit != nil && len(report.Opportunities) > 0 {
		best := report.Opportunities[0]
		if err := s.audit.Log(ctx, domain.AuditOpportunitiesRecorded, map[string]any{
			"pair":         pair,
			"chain_id":     report.Pair.ChainID,
			"count":        len(report.Opportunities),
			"provenance":   string(report.Provenance),
			"best_id":      best.ID,
			"best_route":   best.Route(),
			"best_net_usd": best.NetProfit,
			"best_net_pct": best.NetProfitPct,
			"generation":   report.Generation,
		}); err != nil {
			s.logger.WarnContext(ctx, "opportunity_service: audit log failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
		}
	}

	s.alert(ctx, report)

	s.logger.InfoContext(ctx, "opportunity_service: scan recorded",
		slog.String("pair", pair),
		slog.String("provenance", string(report.Provenance)),
		slog.Int("opportunities", len(report.Opportunities)),
	)
	return nil
}

func (s *OpportunityService) saveQuotes(ctx context.Context, set domain.QuoteSet) {
	if len(set.Quotes) == 0 {
		return
	}
	if s.quotes != nil {
		if err := s.quotes.SaveQuotes(ctx, set); err != nil {
			s.logger.WarnContext(ctx, "opportunity_service: save quotes failed",
				slog.String("pair", set.Pair.Label()),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.snapshots != nil {
		if err := s.snapshots.SetSnapshot(ctx, set, s.cfg.SnapshotTTL); err != nil {
			s.logger.WarnContext(ctx, "opportunity_service: snapshot write failed",
				slog.String("pair", set.Pair.Label()),
				slog.String("error", err.Error()),
			)
		}
	}
	s.publish(ctx, domain.ChannelQuotes, map[string]any{
		"event":      "quotes",
		"pair":       set.Pair.Label(),
		"chain_id":   set.Pair.ChainID,
		"quotes":     set.Quotes,
		"fetched_at": set.FetchedAt,
	})
}

func (s *OpportunityService) alert(ctx context.Context, report domain.ScanReport) {
	if s.alerts == nil {
		return
	}
	pair := report.Pair.Label()
	if report.Degraded {
		if err := s.alerts.Degraded(ctx, pair, report.Provenance); err != nil {
			s.logger.WarnContext(ctx, "opportunity_service: degraded alert failed",
				slog.String("pair", pair),
				slog.String("error", err.Error()),
			)
		}
	}
	for _, opp := range report.Opportunities {
		if err := s.alerts.Opportunity(ctx, opp); err != nil {
			s.logger.WarnContext(ctx, "opportunity_service: opportunity alert failed",
				slog.String("opp_id", opp.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *OpportunityService) publishStatus(ctx context.Context, report domain.ScanReport) {
	s.publish(ctx, domain.ChannelScanStatus, scanStatusEvent{
		Event:         "scan_status",
		Pair:          report.Pair.Label(),
		ChainID:       report.Pair.ChainID,
		Provenance:    string(report.Provenance),
		Degraded:      report.Degraded,
		Opportunities: len(report.Opportunities),
		Generation:    report.Generation,
		Error:         report.Err,
		Failures:      report.ConsecutiveFailures,
		ScannedAt:     report.LastScanned,
	})
}

// publish encodes v and sends it on channel. It returns the encoded event,
// or nil when there is no bus or encoding failed.
func (s *OpportunityService) publish(ctx context.Context, channel string, v any) []byte {
	if s.bus == nil {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.WarnContext(ctx, "opportunity_service: marshal event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "opportunity_service: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	return payload
}

// TargetChanged drops the shared snapshot of the pair no longer scanned and
// records the switch in the audit log.
func (s *OpportunityService) TargetChanged(ctx context.Context, from, to domain.PairKey, generation uint64) {
	if s.snapshots != nil && from != to && from.Base != "" {
		if err := s.snapshots.Delete(ctx, from); err != nil {
			s.logger.WarnContext(ctx, "opportunity_service: drop snapshot failed",
				slog.String("pair", from.Label()),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, domain.AuditScanTargetChanged, map[string]any{
		"from":       from.String(),
		"to":         to.String(),
		"pair":       to.Label(),
		"generation": generation,
	}); err != nil {
		s.logger.WarnContext(ctx, "opportunity_service: audit log failed",
			slog.String("pair", to.Label()),
			slog.String("error", err.Error()),
		)
	}
}

// Recent returns persisted opportunity history, newest first.
func (s *OpportunityService) Recent(ctx context.Context, limit int) ([]domain.ArbitrageOpportunity, error) {
	if s.opps == nil {
		return []domain.ArbitrageOpportunity{}, nil
	}
	opps, err := s.opps.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("opportunity_service: list recent: %w", err)
	}
	return opps, nil
}

// Lookup returns one persisted opportunity.
func (s *OpportunityService) Lookup(ctx context.Context, id string) (domain.ArbitrageOpportunity, error) {
	if s.opps == nil {
		return domain.ArbitrageOpportunity{}, domain.ErrNotFound
	}
	opp, err := s.opps.GetByID(ctx, id)
	if err != nil {
		return domain.ArbitrageOpportunity{}, fmt.Errorf("opportunity_service: get %s: %w", id, err)
	}
	return opp, nil
}

// Snapshot returns the last published live quotes for pair.
func (s *OpportunityService) Snapshot(ctx context.Context, pair domain.PairKey) (domain.QuoteSet, error) {
	if s.snapshots == nil {
		return domain.QuoteSet{}, domain.ErrNotFound
	}
	return s.snapshots.GetSnapshot(ctx, pair)
}
