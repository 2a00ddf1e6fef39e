package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ScanCompleted("WETH/USDC", "live", time.Second, 1, 0.5)
		m.ScanFailed("WETH/USDC")
		m.OpportunityFound("WETH/USDC", "high")
		m.QuoteResolved("live")
		m.UpstreamFetch("ok")
		m.CacheLookup("hit")
		m.GasEstimated("ethereum", "swap", 3)
	})
}

func TestCountersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.UpstreamFetch("ok")
	m.UpstreamFetch("ok")
	m.UpstreamFetch("error")
	m.ScanCompleted("WETH/USDC", "live", 250*time.Millisecond, 2, 1.25)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.upstreamFetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamFetches.WithLabelValues("error")))
	assert.Equal(t, 1.25, testutil.ToFloat64(m.bestNetPct.WithLabelValues("WETH/USDC")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "dexarb_upstream_fetches_total"))
}
