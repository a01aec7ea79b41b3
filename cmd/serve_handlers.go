package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/ledger"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/review"
	"github.com/sells-group/enrich-cli/internal/store"
)

// newRouter builds the HTTP API. All endpoints speak JSON; run execution
// is asynchronous, so POST /runs returns as soon as the run is accepted
// and clients poll GET /status.
func newRouter(e *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	wf := review.New(e.Store, e.Registry)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/estimate", func(w http.ResponseWriter, r *http.Request) {
		var req model.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		est, err := e.Eval.Estimate(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, est)
	})

	r.Post("/runs", func(w http.ResponseWriter, r *http.Request) {
		var req model.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		runID, err := e.Scheduler.Start(r.Context(), req)
		if err != nil {
			if errors.Is(err, store.ErrActiveRun) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		zap.L().Info("run accepted via api", zap.String("run_id", runID))
		writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		tag := r.URL.Query().Get("tag")
		if tag == "" {
			writeError(w, http.StatusBadRequest, "tag is required")
			return
		}
		snap, err := ledger.Snapshot(r.Context(), e.Store, model.Scope{Tag: tag})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		runs, err := e.Store.ListRuns(r.Context(), store.RunFilter{
			Tag:    r.URL.Query().Get("tag"),
			Status: model.RunStatus(r.URL.Query().Get("status")),
			Limit:  limit,
			Offset: pageOffset(queryInt(r, "page", 1), limit),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := e.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Post("/runs/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")
		if err := e.Scheduler.Stop(r.Context(), runID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": "stopping"})
	})

	r.Get("/runs/{id}/entities", func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 200)
		outcomes, err := e.Store.RunOutcomes(r.Context(), chi.URLParam(r, "id"), store.OutcomeFilter{
			StageCode: r.URL.Query().Get("stage"),
			Status:    model.CompletionStatus(r.URL.Query().Get("status")),
			Limit:     limit,
			Offset:    pageOffset(queryInt(r, "page", 1), limit),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, outcomes)
	})

	r.Get("/review", func(w http.ResponseWriter, r *http.Request) {
		tag := r.URL.Query().Get("tag")
		stage := r.URL.Query().Get("stage")
		if tag == "" || stage == "" {
			writeError(w, http.StatusBadRequest, "tag and stage are required")
			return
		}
		items, err := wf.List(r.Context(), model.Scope{Tag: tag}, stage)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, items)
	})

	r.Post("/review/resolve", func(w http.ResponseWriter, r *http.Request) {
		var req review.ResolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := wf.Resolve(r.Context(), req); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
	})

	return r
}

// queryInt parses a positive integer query parameter, falling back to the
// default on absence or garbage.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// pageOffset converts a 1-based page number into a row offset.
func pageOffset(page, limit int) int {
	if page <= 1 {
		return 0
	}
	return (page - 1) * limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
