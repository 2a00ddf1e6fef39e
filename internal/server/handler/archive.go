package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// ArchiveReader reads archived opportunity history back from cold storage.
// *s3blob.Archiver implements it.
type ArchiveReader interface {
	ListArchives(ctx context.Context) ([]domain.BlobInfo, error)
	LoadArchive(ctx context.Context, day string) ([]domain.ArbitrageOpportunity, error)
}

// ArchiveHandler serves archived opportunities.
type ArchiveHandler struct {
	archive ArchiveReader
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. archive is nil when no
// object storage is configured.
func NewArchiveHandler(archive ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logger}
}

type archiveObject struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified,omitempty"`
}

// List returns the archive objects, oldest first.
// GET /api/archive
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	infos, err := h.archive.ListArchives(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	out := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		obj := archiveObject{Path: info.Path, Size: info.Size}
		if !info.LastModified.IsZero() {
			obj.LastModified = info.LastModified.UTC().Format("2006-01-02T15:04:05Z")
		}
		out = append(out, obj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}

// Day returns every opportunity archived for one UTC day.
// GET /api/archive/{day}
func (h *ArchiveHandler) Day(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive not configured")
		return
	}
	day := r.PathValue("day")
	opps, err := h.archive.LoadArchive(r.Context(), day)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "no archive for "+day)
		default:
			h.logger.ErrorContext(r.Context(), "handler: load archive failed",
				slog.String("day", day),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to load archive")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":           day,
		"opportunities": opps,
	})
}
