package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// OpportunityHistory reads persisted opportunities.
type OpportunityHistory interface {
	Recent(ctx context.Context, limit int) ([]domain.ArbitrageOpportunity, error)
	Lookup(ctx context.Context, id string) (domain.ArbitrageOpportunity, error)
}

// Simulator re-prices an opportunity at another amount.
type Simulator interface {
	Simulate(opp domain.ArbitrageOpportunity, amount float64) (domain.ArbitrageOpportunity, error)
}

// LatestSource returns the latest in-memory report. May be nil.
type LatestSource interface {
	Latest() (domain.ScanReport, bool)
}

// OpportunityHandler serves opportunity history and what-if simulation.
type OpportunityHandler struct {
	history OpportunityHistory
	sim     Simulator
	latest  LatestSource
	logger  *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler. latest may be nil.
func NewOpportunityHandler(history OpportunityHistory, sim Simulator, latest LatestSource, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{history: history, sim: sim, latest: latest, logger: logger}
}

type listOpportunitiesResponse struct {
	Opportunities []domain.ArbitrageOpportunity `json:"opportunities"`
}

// ListRecent returns persisted opportunities, newest first.
// GET /api/opportunities/recent?limit=20
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opps, err := h.history.Recent(r.Context(), parseLimit(r, 20, 200))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list opportunities failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []domain.ArbitrageOpportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps})
}

// simulateRequest accepts the amount as a JSON number or a decimal string.
type simulateRequest struct {
	OpportunityID string          `json:"opportunity_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// Simulate re-prices a known opportunity at a new investment amount.
// POST /api/simulate
func (h *OpportunityHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OpportunityID == "" {
		writeError(w, http.StatusBadRequest, "opportunity_id is required")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	opp, err := h.find(r.Context(), req.OpportunityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "opportunity not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: lookup opportunity failed",
			slog.String("id", req.OpportunityID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load opportunity")
		return
	}

	out, err := h.sim.Simulate(opp, req.Amount.InexactFloat64())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// find checks the latest report before the history store.
func (h *OpportunityHandler) find(ctx context.Context, id string) (domain.ArbitrageOpportunity, error) {
	if h.latest != nil {
		if report, ok := h.latest.Latest(); ok {
			for _, o := range report.Opportunities {
				if o.ID == id {
					return o, nil
				}
			}
		}
	}
	return h.history.Lookup(ctx, id)
}
