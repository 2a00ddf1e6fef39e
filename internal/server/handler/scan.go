package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/scanner"
)

// ScanController is the part of the orchestrator the API drives.
type ScanController interface {
	Latest() (domain.ScanReport, bool)
	Trigger()
	SetTarget(t scanner.Target) (uint64, error)
	Target() scanner.Target
}

// SnapshotReader reads the shared quote snapshot. *service.OpportunityService
// implements it.
type SnapshotReader interface {
	Snapshot(ctx context.Context, pair domain.PairKey) (domain.QuoteSet, error)
}

// TargetListener is told when the scanned pair changes.
// *service.OpportunityService implements it.
type TargetListener interface {
	TargetChanged(ctx context.Context, from, to domain.PairKey, generation uint64)
}

// ScanHandler serves the live scan endpoints.
type ScanHandler struct {
	scans     ScanController
	snapshots SnapshotReader
	listener  TargetListener
	pair      domain.PairKey
	logger    *slog.Logger
}

// NewScanHandler creates a ScanHandler. scans is nil when this process does
// not run the scanner; snapshots may be nil.
func NewScanHandler(scans ScanController, snapshots SnapshotReader, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{scans: scans, snapshots: snapshots, logger: logger}
}

// WithDefaultPair sets the pair whose snapshot is served when there is no
// scanner to ask for its target.
func (h *ScanHandler) WithDefaultPair(pair domain.PairKey) *ScanHandler {
	h.pair = pair
	return h
}

// WithTargetListener registers l to be called after a successful SetTarget.
func (h *ScanHandler) WithTargetListener(l TargetListener) *ScanHandler {
	h.listener = l
	return h
}

// Latest returns the most recent scan report.
// GET /api/opportunities
func (h *ScanHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not running in this mode")
		return
	}
	report, ok := h.scans.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no scan completed yet")
		return
	}
	if report.Opportunities == nil {
		report.Opportunities = []domain.ArbitrageOpportunity{}
	}
	writeJSON(w, http.StatusOK, report)
}

// Trigger queues an immediate rescan that bypasses the quote cache.
// POST /api/scan
func (h *ScanHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not running in this mode")
		return
	}
	h.scans.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "queued",
		"pair":   h.scans.Target().Pair().Label(),
	})
}

// targetRequest changes the active pair. Omitted amount and min profit keep
// the current values.
type targetRequest struct {
	Base         domain.TokenIdentity `json:"base"`
	Quote        domain.TokenIdentity `json:"quote"`
	Amount       *float64             `json:"amount"`
	MinProfitPct *float64             `json:"min_profit_pct"`
}

// SetTarget switches the scanned pair.
// PUT /api/scan/target
func (h *ScanHandler) SetTarget(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not running in this mode")
		return
	}
	var req targetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	target := h.scans.Target()
	from := target.Pair()
	target.Base, target.Quote = req.Base, req.Quote
	if req.Amount != nil {
		target.Amount = *req.Amount
	}
	if req.MinProfitPct != nil {
		target.MinProfitPct = *req.MinProfitPct
	}

	gen, err := h.scans.SetTarget(target)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	h.logger.InfoContext(r.Context(), "handler: scan target updated",
		slog.String("pair", target.Pair().Label()),
		slog.Uint64("generation", gen),
	)
	if h.listener != nil {
		h.listener.TargetChanged(r.Context(), from, target.Pair(), gen)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"target":     target,
		"generation": gen,
	})
}

// Quotes returns the quotes behind the latest scan, or the shared snapshot
// when this process has not scanned yet.
// GET /api/quotes
func (h *ScanHandler) Quotes(w http.ResponseWriter, r *http.Request) {
	if h.scans != nil {
		if report, ok := h.scans.Latest(); ok && len(report.Quotes.Quotes) > 0 {
			writeJSON(w, http.StatusOK, report.Quotes)
			return
		}
	}
	pair := h.pair
	if h.scans != nil {
		pair = h.scans.Target().Pair()
	}
	if h.snapshots == nil || pair.Base == "" {
		writeError(w, http.StatusNotFound, "no quotes available")
		return
	}

	set, err := h.snapshots.Snapshot(r.Context(), pair)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no quotes available")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: read quote snapshot failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read quotes")
		return
	}
	writeJSON(w, http.StatusOK, set)
}
