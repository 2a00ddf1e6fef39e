// Package metrics exposes engine counters and gauges to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine reports to.
type Metrics struct {
	scans            *prometheus.CounterVec
	scanFailures     *prometheus.CounterVec
	scanDuration     prometheus.Histogram
	opportunities    *prometheus.CounterVec
	bestNetPct       *prometheus.GaugeVec
	quoteResolutions *prometheus.CounterVec
	upstreamFetches  *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	gasUSD           *prometheus.GaugeVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexarb_scans_total",
			Help: "Completed scans by pair and provenance",
		}, []string{"pair", "provenance"}),
		scanFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexarb_scan_failures_total",
			Help: "Scans that returned an error",
		}, []string{"pair"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dexarb_scan_duration_seconds",
			Help:    "Wall time of one scan including quote resolution",
			Buckets: prometheus.DefBuckets,
		}),
		opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexarb_opportunities_found_total",
			Help: "Opportunities passing the profit filter",
		}, []string{"pair", "confidence"}),
		bestNetPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dexarb_best_net_profit_pct",
			Help: "Net profit percentage of the best opportunity in the last scan",
		}, []string{"pair"}),
		quoteResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexarb_quote_resolutions_total",
			Help: "Quote sets resolved, by fallback tier",
		}, []string{"tier"}),
		upstreamFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexarb_upstream_fetches_total",
			Help: "Calls to the live quote source, by outcome",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dexarb_quote_cache_lookups_total",
			Help: "Quote cache lookups by result",
		}, []string{"result"}),
		gasUSD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dexarb_gas_usd",
			Help: "Last gas estimate in USD",
		}, []string{"network", "operation"}),
	}
	reg.MustRegister(
		m.scans,
		m.scanFailures,
		m.scanDuration,
		m.opportunities,
		m.bestNetPct,
		m.quoteResolutions,
		m.upstreamFetches,
		m.cacheLookups,
		m.gasUSD,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (m *Metrics) ScanCompleted(pair, provenance string, d time.Duration, found int, bestNetPct float64) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(pair, provenance).Inc()
	m.scanDuration.Observe(d.Seconds())
	if found > 0 {
		m.bestNetPct.WithLabelValues(pair).Set(bestNetPct)
	} else {
		m.bestNetPct.WithLabelValues(pair).Set(0)
	}
}

func (m *Metrics) ScanFailed(pair string) {
	if m == nil {
		return
	}
	m.scanFailures.WithLabelValues(pair).Inc()
}

func (m *Metrics) OpportunityFound(pair, confidence string) {
	if m == nil {
		return
	}
	m.opportunities.WithLabelValues(pair, confidence).Inc()
}

// QuoteResolved counts a quote set served by tier (live, fallback, synthetic).
func (m *Metrics) QuoteResolved(tier string) {
	if m == nil {
		return
	}
	m.quoteResolutions.WithLabelValues(tier).Inc()
}

// UpstreamFetch counts one call to the live source; outcome is ok, error or empty.
func (m *Metrics) UpstreamFetch(outcome string) {
	if m == nil {
		return
	}
	m.upstreamFetches.WithLabelValues(outcome).Inc()
}

// CacheLookup counts a cache read; result is hit, miss or stale.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) GasEstimated(network, op string, usd float64) {
	if m == nil {
		return
	}
	m.gasUSD.WithLabelValues(network, op).Set(usd)
}
