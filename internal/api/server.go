// Package api exposes the marketplace engine over HTTP: tool registration
// and lifecycle, semantic discovery, execution, the usage ledger with its
// settlement write-back, analytics, health probes, and Prometheus metrics.
//
// Caller identity is resolved upstream (gateway or reverse proxy) and arrives
// as an opaque X-Caller-ID header; the server trusts it without verification.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agoramesh/agora/internal/analytics"
	"github.com/agoramesh/agora/internal/discovery"
	"github.com/agoramesh/agora/internal/execution"
	"github.com/agoramesh/agora/internal/health"
	"github.com/agoramesh/agora/internal/observe"
	"github.com/agoramesh/agora/internal/registry"
	"github.com/agoramesh/agora/internal/resilience"
	"github.com/agoramesh/agora/pkg/market"
)

// callerHeader carries the externally resolved caller identity.
const callerHeader = "X-Caller-ID"

// Config holds API server configuration.
type Config struct {
	ListenAddr string

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// Deps are the services the server fronts.
type Deps struct {
	Registry  *registry.Registry
	Discovery *discovery.Service
	Engine    *execution.Engine
	Analytics *analytics.Service
	Usage     market.UsageStore
	Health    *health.Handler
	Metrics   *observe.Metrics
}

// Server is the marketplace REST API server.
type Server struct {
	deps Deps
	cfg  Config
	srv  *http.Server
}

// NewServer creates the API server and wires all routes.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{deps: deps, cfg: cfg}

	mux := http.NewServeMux()
	s.route(mux, "POST /v1/tools", s.requireCaller(s.handleRegisterTool))
	s.route(mux, "GET /v1/tools", s.handleListTools)
	s.route(mux, "GET /v1/tools/{id}", s.handleGetTool)
	s.route(mux, "PATCH /v1/tools/{id}", s.requireCaller(s.handleUpdateTool))
	s.route(mux, "DELETE /v1/tools/{id}", s.requireCaller(s.handleDeactivateTool))
	s.route(mux, "POST /v1/tools/{id}/execute", s.requireCaller(s.handleExecuteTool))

	s.route(mux, "GET /v1/search", s.handleSearch)
	s.route(mux, "GET /v1/search/own", s.requireCaller(s.handleSearchOwn))
	s.route(mux, "GET /v1/popular", s.handlePopular)
	s.route(mux, "GET /v1/categories", s.handleCategories)

	s.route(mux, "GET /v1/usage", s.requireCaller(s.handleUsage))
	s.route(mux, "POST /v1/usage/{id}/settle", s.handleSettle)

	s.route(mux, "GET /v1/analytics/summary", s.requireCaller(s.handleAnalyticsSummary))
	s.route(mux, "GET /v1/analytics/revenue", s.requireCaller(s.handleAnalyticsRevenue))
	s.route(mux, "GET /v1/analytics/performance", s.requireCaller(s.handleAnalyticsPerformance))

	if deps.Health != nil {
		deps.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// route registers pattern with the observability middleware applied.
func (s *Server) route(mux *http.ServeMux, pattern string, handler http.HandlerFunc) {
	mux.Handle(pattern, observe.HTTPMiddleware(s.deps.Metrics, pattern, handler))
}

// Start begins listening and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	slog.Info("api server starting", "addr", s.srv.Addr, "tls", s.cfg.CertFile != "")
	var err error
	if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
		err = s.srv.ListenAndServeTLS(s.cfg.CertFile, s.cfg.KeyFile)
	} else {
		err = s.srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

// requireCaller rejects requests without a caller identity header.
func (s *Server) requireCaller(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(callerHeader) == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: callerHeader + " header is required"})
			return
		}
		next(w, r)
	}
}

func caller(r *http.Request) string {
	return r.Header.Get(callerHeader)
}

// --- Helpers ---

type errorBody struct {
	Error  string   `json:"error"`
	Issues []string `json:"issues,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDomainError maps domain failures onto HTTP statuses. Unexpected errors
// become opaque 500s; their detail goes to the log, not the caller.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *market.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation failed", Issues: ve.Issues})
	case errors.Is(err, market.ErrEmptyQuery):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "query must not be empty"})
	case errors.Is(err, market.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, market.ErrToolInactive):
		writeJSON(w, http.StatusGone, errorBody{Error: "tool is deactivated"})
	case errors.Is(err, market.ErrDuplicateID):
		writeJSON(w, http.StatusConflict, errorBody{Error: "id already exists"})
	case errors.Is(err, market.ErrEmbeddingUnavailable), errors.Is(err, resilience.ErrCircuitOpen):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "embedding service unavailable"})
	case errors.Is(err, market.ErrExecutionFailed):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: err.Error()})
	default:
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
