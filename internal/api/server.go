// Package api exposes the HTTP interface for the scout service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/growthdesk/scout/internal/config"
	"github.com/growthdesk/scout/internal/metrics"
	"github.com/growthdesk/scout/internal/priority"
	"github.com/growthdesk/scout/internal/reaper"
	"github.com/growthdesk/scout/internal/scout"
)

// Server wires HTTP handlers to the stores, classifier, and reaper.
type Server struct {
	router     chi.Router
	jobs       scout.JobStore
	pages      scout.PageStore
	reaper     *reaper.Reaper
	classifier *priority.Classifier
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs scout.JobStore,
	pages scout.PageStore,
	rp *reaper.Reaper,
	classifier *priority.Classifier,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		jobs:       jobs,
		pages:      pages,
		reaper:     rp,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	requestBudget := cfg.ServerTimeout()
	if requestBudget <= 0 {
		requestBudget = 60 * time.Second
	}
	r.Use(timeoutMiddleware(requestBudget))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/scrapes", func(r chi.Router) {
			r.Post("/", s.createScrape)
			r.Get("/", s.listScrapes)
			r.Get("/{job_id}", s.getScrape)
		})
		r.Route("/pages", func(r chi.Router) {
			r.Get("/", s.listPages)
			r.Get("/{username}", s.getPage)
			r.Patch("/{username}/operator", s.patchOperator)
		})
		r.Get("/targets/priority", s.priorityTargets)
		r.Post("/admin/reclaim", s.reclaimStale)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.jobs.ListJobs(r.Context(), nil, 1, 0); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createScrapeRequest struct {
	JobType    string   `json:"job_type"`
	TargetRefs []string `json:"target_refs"`
}

func (s *Server) createScrape(w http.ResponseWriter, r *http.Request) {
	var req createScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.jobs.Enqueue(r.Context(), scout.JobType(req.JobType), req.TargetRefs)
	switch {
	case errors.Is(err, scout.ErrInvalidType), errors.Is(err, scout.ErrInvalidTarget):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) listScrapes(w http.ResponseWriter, r *http.Request) {
	var status *scout.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := scout.JobStatus(raw)
		switch st {
		case scout.JobStatusPending, scout.JobStatusProcessing, scout.JobStatusCompleted, scout.JobStatusFailed:
			status = &st
		default:
			s.writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
	}
	limit, offset := pagination(r)
	jobs, err := s.jobs.ListJobs(r.Context(), status, limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list jobs failed")
		return
	}
	if jobs == nil {
		jobs = []scout.Job{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getScrape(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if errors.Is(err, scout.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	tier := 0
	if raw := r.URL.Query().Get("tier"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < int(priority.TierHotlistMultiClient) || v > int(priority.TierLongTail) {
			s.writeError(w, http.StatusBadRequest, "tier must be 1-4")
			return
		}
		tier = v
	}
	limit, offset := pagination(r)
	pages, err := s.pages.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list pages failed")
		return
	}
	if tier != 0 {
		// Tiers are computed on read, so the filter runs over the page.
		filtered := pages[:0]
		for _, page := range pages {
			if int(s.classifier.ClassifyPage(page)) == tier {
				filtered = append(filtered, page)
			}
		}
		pages = filtered
	}
	if pages == nil {
		pages = []scout.Page{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	page, err := s.pages.GetByUsername(r.Context(), chi.URLParam(r, "username"))
	if errors.Is(err, scout.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "page not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "get page failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"page": page})
}

func (s *Server) patchOperator(w http.ResponseWriter, r *http.Request) {
	var patch scout.OperatorPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if patch.Empty() {
		s.writeError(w, http.StatusBadRequest, "patch carries no fields")
		return
	}
	page, err := s.pages.UpdateOperator(r.Context(), chi.URLParam(r, "username"), patch)
	if errors.Is(err, scout.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "page not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "update operator failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"page": page})
}

type priorityTarget struct {
	Username    string     `json:"username"`
	Tier        int        `json:"tier"`
	ClientCount int        `json:"client_count"`
	Page        scout.Page `json:"page"`
}

func (s *Server) priorityTargets(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	pages, err := s.pages.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list pages failed")
		return
	}
	targets := make([]priorityTarget, 0, len(pages))
	for _, page := range pages {
		targets = append(targets, priorityTarget{
			Username:    page.Username,
			Tier:        int(s.classifier.ClassifyPage(page)),
			ClientCount: page.Linkage.ClientCount,
			Page:        page,
		})
	}
	// Stable bucket ordering: tier ascending, input order within a tier.
	ordered := make([]priorityTarget, 0, len(targets))
	for tier := int(priority.TierHotlistMultiClient); tier <= int(priority.TierLongTail); tier++ {
		for _, t := range targets {
			if t.Tier == tier {
				ordered = append(ordered, t)
			}
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"targets": ordered})
}

type reclaimRequest struct {
	StaleAfterMinutes int `json:"stale_after_minutes"`
}

// reclaimStale is the manual reclaim path. Unlike the periodic sweep it
// always sends stale jobs to failed, so an operator pressing the button
// gets a visible terminal result instead of a silent requeue.
func (s *Server) reclaimStale(w http.ResponseWriter, r *http.Request) {
	var req reclaimRequest
	if r.Body != nil {
		// An empty body means default threshold.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	staleAfter := s.cfg.StaleAfter()
	if req.StaleAfterMinutes > 0 {
		staleAfter = time.Duration(req.StaleAfterMinutes) * time.Minute
	}
	count := s.reaper.Sweep(r.Context(), staleAfter, true)
	s.writeJSON(w, http.StatusOK, map[string]any{"reclaimed": count})
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}
