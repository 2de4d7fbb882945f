// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terralab/landcrawler/internal/config"
	"github.com/terralab/landcrawler/internal/domain"
	"github.com/terralab/landcrawler/internal/land"
	"github.com/terralab/landcrawler/internal/metrics"
	"github.com/terralab/landcrawler/internal/pipeline"
)

// defaultCrawlLimit bounds a batch when the request does not name one.
const defaultCrawlLimit = 50

// enqueueTimeout bounds how long a submit handler blocks on a full queue.
const enqueueTimeout = 5 * time.Second

// Server wires HTTP handlers to the pipeline, store and domain crawler.
type Server struct {
	router     chi.Router
	store      land.UnitStore
	runner     *pipeline.Runner
	dispatcher *pipeline.Dispatcher
	domains    *domain.Crawler
	ids        land.IDGenerator
	clock      land.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The domain
// crawler may be nil, which disables the domain refresh endpoint.
func NewServer(
	store land.UnitStore,
	runner *pipeline.Runner,
	dispatcher *pipeline.Dispatcher,
	domains *domain.Crawler,
	ids land.IDGenerator,
	clock land.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		runner:     runner,
		dispatcher: dispatcher,
		domains:    domains,
		ids:        ids,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/lands/{land_id}", func(r chi.Router) {
			r.Post("/crawl", s.crawlLand)
			r.Post("/recrawl", s.recrawlLand)
			r.Post("/units", s.registerUnit)
		})
		r.Route("/units/{unit_id}", func(r chi.Router) {
			r.Get("/", s.getUnit)
			r.Get("/links", s.listLinks)
			r.Get("/media", s.listMedia)
			r.Post("/process", s.submitUnit(false))
			r.Post("/consolidate", s.submitUnit(true))
		})
		r.Post("/domains/{name}/refresh", s.refreshDomain)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency. The lookup targets a land that
	// never exists, so not-found means the backend answered; anything else
	// means it is unreachable.
	if _, err := s.store.GetLexicon(r.Context(), uuid.Nil); err != nil && !errors.Is(err, land.ErrLandNotFound) {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) crawlLand(w http.ResponseWriter, r *http.Request) {
	landID, ok := s.pathUUID(w, r, "land_id")
	if !ok {
		return
	}
	req := crawlRequest{Limit: defaultCrawlLimit}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = defaultCrawlLimit
	}

	outcomes, err := s.runner.CrawlLand(r.Context(), landID, req.Limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"land_id":  landID,
		"count":    len(outcomes),
		"outcomes": outcomes,
	})
}

type recrawlRequest struct {
	Statuses []int `json:"statuses"`
}

func (s *Server) recrawlLand(w http.ResponseWriter, r *http.Request) {
	landID, ok := s.pathUUID(w, r, "land_id")
	if !ok {
		return
	}
	var req recrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Statuses) == 0 {
		s.writeError(w, http.StatusBadRequest, "statuses required")
		return
	}
	touched, err := s.runner.MarkForRecrawl(r.Context(), landID, req.Statuses)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"land_id": landID, "touched": touched})
}

type registerUnitRequest struct {
	URL   string `json:"url"`
	Depth int    `json:"depth"`
}

// registerUnit seeds one URL into a land and queues it for processing. The
// upsert path is the same one link discovery uses, so registering an already
// known URL returns the existing unit.
func (s *Server) registerUnit(w http.ResponseWriter, r *http.Request) {
	landID, ok := s.pathUUID(w, r, "land_id")
	if !ok {
		return
	}
	var req registerUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if req.Depth < 0 {
		s.writeError(w, http.StatusBadRequest, "depth must be >= 0")
		return
	}
	normalized, err := land.NormalizeURL(req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.store.GetLand(r.Context(), landID); err != nil {
		s.writeError(w, http.StatusNotFound, "land not found")
		return
	}

	unit, err := s.upsertSeed(r.Context(), landID, normalized, req.Depth)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.enqueue(r.Context(), unit, false); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"unit_id": unit.ID,
		"url":     unit.URL,
		"depth":   unit.Depth,
	})
}

func (s *Server) upsertSeed(ctx context.Context, landID uuid.UUID, url string, depth int) (land.CrawlUnit, error) {
	unitID, err := s.ids.NewID()
	if err != nil {
		return land.CrawlUnit{}, fmt.Errorf("new unit id: %w", err)
	}
	domainID, err := s.ids.NewID()
	if err != nil {
		return land.CrawlUnit{}, fmt.Errorf("new domain id: %w", err)
	}
	dom, err := s.store.UpsertDomain(ctx, land.Domain{ID: domainID, Name: land.HostOf(url)})
	if err != nil {
		return land.CrawlUnit{}, fmt.Errorf("upsert domain: %w", err)
	}
	return s.store.UpsertUnit(ctx, land.CrawlUnit{
		ID:           unitID,
		LandID:       landID,
		DomainID:     dom.ID,
		URL:          url,
		Depth:        depth,
		DiscoveredAt: s.clock.Now(),
	})
}

// submitUnit queues one unit for asynchronous processing or consolidation.
func (s *Server) submitUnit(consolidate bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unitID, ok := s.pathUUID(w, r, "unit_id")
		if !ok {
			return
		}
		unit, err := s.store.GetUnit(r.Context(), unitID)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "unit not found")
			return
		}
		if err := s.enqueue(r.Context(), unit, consolidate); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]any{
			"unit_id":     unit.ID,
			"consolidate": consolidate,
		})
	}
}

func (s *Server) enqueue(ctx context.Context, unit land.CrawlUnit, consolidate bool) error {
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := land.QueueItem{
		UnitID:      unit.ID,
		LandID:      unit.LandID,
		Consolidate: consolidate,
		EnqueuedAt:  s.clock.Now(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return fmt.Errorf("enqueue unit: %w", err)
	}
	return nil
}

func (s *Server) getUnit(w http.ResponseWriter, r *http.Request) {
	unitID, ok := s.pathUUID(w, r, "unit_id")
	if !ok {
		return
	}
	unit, err := s.store.GetUnit(r.Context(), unitID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unit not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"unit": unit})
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	unitID, ok := s.pathUUID(w, r, "unit_id")
	if !ok {
		return
	}
	links, err := s.store.ListLinks(r.Context(), unitID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list links")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (s *Server) listMedia(w http.ResponseWriter, r *http.Request) {
	unitID, ok := s.pathUUID(w, r, "unit_id")
	if !ok {
		return
	}
	media, err := s.store.ListMediaRefs(r.Context(), unitID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list media")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"media": media})
}

func (s *Server) refreshDomain(w http.ResponseWriter, r *http.Request) {
	if s.domains == nil {
		s.writeError(w, http.StatusNotImplemented, "domain crawler disabled")
		return
	}
	name := chi.URLParam(r, "name")
	dom, err := s.domains.Refresh(r.Context(), name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domain": dom})
}

func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", param))
		return uuid.Nil, false
	}
	return id, true
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

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
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
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

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
