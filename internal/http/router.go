// Package httpapi is the thin HTTP layer over the ingestion core. It
// delegates to the domain services without embedding business logic so
// transport concerns remain isolated.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/recoverops/intake/internal/domain"
	"github.com/recoverops/intake/internal/export"
	"github.com/recoverops/intake/internal/ingestion"
	"github.com/recoverops/intake/internal/middleware"
	"github.com/recoverops/intake/internal/promote"
	"github.com/recoverops/intake/internal/reconcile"
	"github.com/recoverops/intake/internal/repository"
	"github.com/recoverops/intake/internal/rollback"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Deps carries the wired services into the router.
type Deps struct {
	Ingest         http.Handler
	Runs           repository.ImportRunRepository
	Reconciler     *reconcile.Service
	Rollbacker     *rollback.Service
	Promoter       *promote.Service
	Exporter       *export.Handler
	AllowedOrigins []string
}

// NewRouter wires all endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Method(http.MethodPost, "/api/imports", deps.Ingest)

	r.Get("/api/runs", func(w http.ResponseWriter, req *http.Request) {
		runs, err := deps.Runs.List(req.Context(), 100, 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ingestion.WriteJSON(w, http.StatusOK, runs)
	})

	r.Get("/api/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, ok := runID(w, req)
		if !ok {
			return
		}
		run, err := deps.Runs.GetByID(req.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		ingestion.WriteJSON(w, http.StatusOK, run)
	})

	r.Get("/api/runs/{id}/reconcile", func(w http.ResponseWriter, req *http.Request) {
		id, ok := runID(w, req)
		if !ok {
			return
		}
		result, err := deps.Reconciler.Reconcile(req.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		ingestion.WriteJSON(w, http.StatusOK, result)
	})

	r.Post("/api/runs/{id}/rollback", func(w http.ResponseWriter, req *http.Request) {
		id, ok := runID(w, req)
		if !ok {
			return
		}
		var body struct {
			Reason  string `json:"reason"`
			Hard    bool   `json:"hard"`
			Confirm bool   `json:"confirm"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}

		if body.Hard {
			result, err := deps.Rollbacker.HardDelete(req.Context(), id, body.Confirm)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			ingestion.WriteJSON(w, http.StatusOK, result)
			return
		}

		result, err := deps.Rollbacker.Rollback(req.Context(), id, body.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		ingestion.WriteJSON(w, http.StatusOK, result)
	})

	r.Post("/api/runs/{id}/promote", func(w http.ResponseWriter, req *http.Request) {
		id, ok := runID(w, req)
		if !ok {
			return
		}
		result, err := deps.Promoter.PromoteRun(req.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		ingestion.WriteJSON(w, http.StatusOK, result)
	})

	r.Get("/api/runs/{id}/export", func(w http.ResponseWriter, req *http.Request) {
		id, ok := runID(w, req)
		if !ok {
			return
		}
		deps.Exporter.ServeCSV(w, req, id)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	return middleware.LoggingMiddleware(corsHandler.Handler(r))
}

func runID(w http.ResponseWriter, req *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(req, "id"))
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, rollback.ErrConfirmationRequired):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}
