// Package api exposes the HTTP interface for the crawl coordinator.
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

	"github.com/camaradata/crawl-coordinator/internal/config"
	"github.com/camaradata/crawl-coordinator/internal/crawl"
	"github.com/camaradata/crawl-coordinator/internal/metrics"
)

// Coordinator is the scheduling surface the handlers call into.
type Coordinator interface {
	ClaimTasks(ctx context.Context) ([]crawl.Task, error)
	Report(ctx context.Context, areaCode, activityCode, searchText string, companies []crawl.Company) error
	SpawnRangeTasks(ctx context.Context, areaCode, street, minNumber, maxNumber string) error
	SpawnKeywordTasks(ctx context.Context, areaCode, keyword string) error
	MissingAreas() []string
}

// Server wires HTTP handlers to the coordinator.
type Server struct {
	router      chi.Router
	coordinator Coordinator
	logger      *zap.Logger
	cfg         config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(coordinator Coordinator, cfg config.Config, logger *zap.Logger) *Server {
	s := &Server{
		coordinator: coordinator,
		logger:      logger,
		cfg:         cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/areas/missing", s.missingAreas)
		r.Post("/results", s.reportResults)
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/claim", s.claimTasks)
			r.Post("/street-range", s.spawnStreetRange)
			r.Post("/keyword", s.spawnKeyword)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) claimTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.coordinator.ClaimTasks(r.Context())
	if err != nil {
		if errors.Is(err, crawl.ErrNoPendingWork) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

type reportRequest struct {
	PostalCode   string          `json:"postal_code"`
	ActivityCode string          `json:"activity_code"`
	SearchText   string          `json:"search_text"`
	Companies    []crawl.Company `json:"companies"`
}

func (s *Server) reportResults(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.PostalCode == "" || req.ActivityCode == "" {
		writeError(w, http.StatusBadRequest, "postal_code and activity_code are required")
		return
	}
	if err := s.coordinator.Report(r.Context(), req.PostalCode, req.ActivityCode, req.SearchText, req.Companies); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type streetRangeRequest struct {
	PostalCode string `json:"postal_code"`
	Street     string `json:"street"`
	MinNumber  string `json:"min_number"`
	MaxNumber  string `json:"max_number"`
}

func (s *Server) spawnStreetRange(w http.ResponseWriter, r *http.Request) {
	var req streetRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.coordinator.SpawnRangeTasks(r.Context(), req.PostalCode, req.Street, req.MinNumber, req.MaxNumber); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "spawned"})
}

type keywordRequest struct {
	PostalCode string `json:"postal_code"`
	Keyword    string `json:"keyword"`
}

func (s *Server) spawnKeyword(w http.ResponseWriter, r *http.Request) {
	var req keywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.coordinator.SpawnKeywordTasks(r.Context(), req.PostalCode, req.Keyword); err != nil {
		writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "spawned"})
}

func (s *Server) missingAreas(w http.ResponseWriter, _ *http.Request) {
	missing := s.coordinator.MissingAreas()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(missing),
		"codes": missing,
	})
}

func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawl.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, crawl.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, elapsed)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", elapsed.Milliseconds()))
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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
				writeError(w, http.StatusForbidden, "unauthorized")
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
