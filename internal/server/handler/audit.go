package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// AuditReader lists the audit trail. *postgres.AuditStore implements it.
type AuditReader interface {
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)
}

// AuditHandler serves the operator audit trail.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler. audit is nil when no database is
// configured.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// List returns audit entries, newest first.
// GET /api/audit?event=scan_target_changed&since=2024-05-01T00:00:00Z&limit=50
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := domain.AuditFilter{
		Event:    domain.AuditEvent(q.Get("event")),
		ListOpts: domain.ListOpts{Limit: parseLimit(r, 50, 500)},
	}
	if filter.Event != "" && !filter.Event.Valid() {
		writeError(w, http.StatusBadRequest, "unknown event "+string(filter.Event))
		return
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = &since
	}

	entries, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries})
}
