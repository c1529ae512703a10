package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/recoverops/intake/internal/domain"
	"github.com/recoverops/intake/internal/promote"

	"github.com/google/uuid"
)

// Promoter promotes a completed run's pending rows. Wired in when the
// pipeline is configured for synchronous promotion.
type Promoter interface {
	PromoteRun(ctx context.Context, runID uuid.UUID) (promote.Result, error)
}

// Handler exposes ingestion as a multipart POST endpoint. It is a thin
// wrapper: it supplies the byte stream and declared metadata, nothing more.
type Handler struct {
	service  *Service
	promoter Promoter
}

// NewHTTPHandler wraps the service with a POST endpoint. A nil promoter
// leaves landed rows pending for a later promotion pass.
func NewHTTPHandler(service *Service, promoter Promoter) *Handler {
	return &Handler{service: service, promoter: promoter}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	sourceSystem := strings.TrimSpace(r.FormValue("sourceSystem"))
	if sourceSystem == "" {
		http.Error(w, "sourceSystem is required", http.StatusBadRequest)
		return
	}
	sourceBatchID := strings.TrimSpace(r.FormValue("sourceBatchId"))
	if sourceBatchID == "" {
		http.Error(w, "sourceBatchId is required", http.StatusBadRequest)
		return
	}
	kind := strings.TrimSpace(r.FormValue("kind"))
	if kind == "" {
		kind = "plaintiffs"
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	req := Request{
		SourceSystem:  sourceSystem,
		SourceBatchID: sourceBatchID,
		Filename:      header.Filename,
		Kind:          kind,
		Data:          bytes.NewReader(data),
	}

	dryRun := r.FormValue("dryRun") == "true"

	var result Result
	if dryRun {
		result, err = h.service.DryRun(r.Context(), req)
	} else {
		result, err = h.service.Ingest(r.Context(), req)
	}
	if err != nil {
		writeIngestError(w, result, err)
		return
	}

	if !dryRun && result.Status == StatusCompleted && h.promoter != nil {
		if _, promoteErr := h.promoter.PromoteRun(r.Context(), result.RunID); promoteErr != nil {
			// The run itself completed; rows stay pending for a retry pass.
			log.Printf("[INGEST] failed to promote run %s: %v", result.RunID, promoteErr)
		}
	}

	WriteJSON(w, http.StatusOK, result)
}

// writeIngestError still returns the structured summary: a failed run has a
// run id and partial counts the caller needs for triage.
func writeIngestError(w http.ResponseWriter, result Result, err error) {
	status := http.StatusInternalServerError

	var missing *domain.MissingColumnsError
	switch {
	case errors.As(err, &missing),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrEmptyFile),
		errors.Is(err, ErrMalformedFile):
		status = http.StatusUnprocessableEntity
	}

	payload := struct {
		Result
		Error string `json:"error"`
	}{Result: result, Error: err.Error()}

	WriteJSON(w, status, payload)
}

// WriteJSON renders a JSON response body.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
