package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/dexarb/internal/clock"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/scanner"
)

// StatusSource exposes scheduler state. *scanner.Orchestrator implements it.
type StatusSource interface {
	Status() scanner.Status
}

// QuotePeeker reads the in-process quote cache without fetching.
// *pricing.QuoteCache implements it.
type QuotePeeker interface {
	Peek(pair domain.PairKey) (domain.QuoteSet, time.Time, bool)
}

// StatusHandler serves the backend status for the dashboard.
type StatusHandler struct {
	mode      string
	scanner   StatusSource
	quotes    QuotePeeker
	startedAt time.Time
	clock     clock.Clock
}

// NewStatusHandler creates a StatusHandler. scanner is nil in server mode.
func NewStatusHandler(mode string, scanner StatusSource, clk clock.Clock) *StatusHandler {
	return &StatusHandler{mode: mode, scanner: scanner, startedAt: clk.Now(), clock: clk}
}

// WithQuoteCache reports the cached quotes of the scanned pair.
func (h *StatusHandler) WithQuoteCache(q QuotePeeker) *StatusHandler {
	h.quotes = q
	return h
}

type quoteCacheStatus struct {
	Pair       string            `json:"pair"`
	Cached     bool              `json:"cached"`
	Provenance domain.Provenance `json:"provenance,omitempty"`
	Venues     int               `json:"venues,omitempty"`
	AgeSeconds float64           `json:"age_seconds,omitempty"`
}

// GetStatus responds with the mode, uptime and, when scanning, the
// scheduler state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(h.clock.Now().Sub(h.startedAt).Seconds()),
	}
	if h.scanner != nil {
		st := h.scanner.Status()
		resp["scanner"] = st
		if h.quotes != nil {
			resp["quote_cache"] = h.cacheStatus(st.Target.Pair())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) cacheStatus(pair domain.PairKey) quoteCacheStatus {
	out := quoteCacheStatus{Pair: pair.Label()}
	set, fetchedAt, ok := h.quotes.Peek(pair)
	if !ok {
		return out
	}
	out.Cached = true
	out.Provenance = set.Provenance
	out.Venues = len(set.Quotes)
	out.AgeSeconds = h.clock.Now().Sub(fetchedAt).Seconds()
	return out
}
