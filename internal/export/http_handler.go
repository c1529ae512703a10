package export

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/recoverops/intake/internal/domain"

	"github.com/google/uuid"
)

// Handler serves a run's landing rows as a CSV attachment.
type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ServeCSV writes the export for runID, honoring an optional ?status= filter.
func (h *Handler) ServeCSV(w http.ResponseWriter, r *http.Request, runID uuid.UUID) {
	status, ok := parseStatus(r.URL.Query().Get("status"))
	if !ok {
		http.Error(w, fmt.Sprintf("unknown status %q", r.URL.Query().Get("status")), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("run-%s.csv", runID)))

	if _, err := h.service.WriteRunCSV(r.Context(), w, runID, status); err != nil {
		// WriteRunCSV validates the run before emitting any bytes, so errors
		// surfacing here can still produce a clean error response unless the
		// stream itself broke mid-write.
		w.Header().Del("Content-Disposition")
		code := http.StatusInternalServerError
		if errors.Is(err, domain.ErrRunNotFound) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
	}
}

func parseStatus(raw string) (domain.RecordStatus, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", true
	}
	status := domain.RecordStatus(raw)
	switch status {
	case domain.RecordStatusPending,
		domain.RecordStatusProcessing,
		domain.RecordStatusPromoted,
		domain.RecordStatusSkipped,
		domain.RecordStatusParseError,
		domain.RecordStatusRolledBack:
		return status, true
	}
	return "", false
}
