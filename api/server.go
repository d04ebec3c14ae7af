// Package api provides the HTTP REST API server for fraudlens.
//
// It exposes endpoints for scoring statements, browsing stored analyses,
// rendering reports, extracting figures from filings, listing regulator
// filings, and WebSocket streaming of new results.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/fraudlens/internal/config"
	"github.com/seenimoa/fraudlens/internal/infra"
	"github.com/seenimoa/fraudlens/internal/screening"
	"github.com/seenimoa/fraudlens/internal/store"
	"github.com/seenimoa/fraudlens/internal/watch"
)

const (
	maxJSONBody = 1 << 20 // 1 MiB
	maxHTMLBody = 8 << 20 // 8 MiB
)

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Service *screening.Service
	Store   store.Store
	Filings watch.FilingSource // optional; /filings answers 503 without it
	Hub     *WSHub             // optional; created when nil
	Metrics *infra.Metrics     // optional
	Logger  *slog.Logger       // optional
	Version string
}

// Server is the HTTP API server.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	svc     *screening.Service
	store   store.Store
	filings watch.FilingSource
	hub     *WSHub
	metrics *infra.Metrics
	logger  *slog.Logger
	version string
	started time.Time
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("api: nil config")
	}
	if deps.Service == nil || deps.Store == nil {
		return nil, errors.New("api: screening service and store are required")
	}
	srv := &Server{
		cfg:     cfg,
		svc:     deps.Service,
		store:   deps.Store,
		filings: deps.Filings,
		hub:     deps.Hub,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		version: deps.Version,
		started: time.Now(),
	}
	if srv.hub == nil {
		srv.hub = NewWSHub()
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.version == "" {
		srv.version = "dev"
	}

	srv.router = srv.buildRouter()
	return srv, nil
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Hub returns the WebSocket hub, which doubles as the event notifier.
func (s *Server) Hub() *WSHub {
	return s.hub
}

// ListenAndServe starts the HTTP server and the hub, and shuts both down
// gracefully once ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", ln.Addr().String())
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)

		// Health (also available at /health)
		r.Get("/health", s.handleHealth)

		// WebSocket push; long-lived, so kept outside the request timeout
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			// Model parameters
			r.Get("/model", s.handleModel)

			// Scoring
			r.Post("/score", s.handleScore)

			// Analyses
			r.Post("/analyses", s.handleCreateAnalysis)
			r.Post("/analyses/batch", s.handleBatch)
			r.Get("/analyses", s.handleListAnalyses)
			r.Get("/analyses/{id}", s.handleGetAnalysis)
			r.Delete("/analyses/{id}", s.handleDeleteAnalysis)
			r.Get("/analyses/{id}/report", s.handleReport)

			// Extraction
			r.Post("/extract", s.handleExtract)

			// Filings
			r.Get("/filings/{cik}", s.handleFilings)

			// Config
			r.Get("/config", s.handleGetConfig)
			r.Get("/config/keys", s.handleGetConfigKeys)
		})
	})

	return r
}

// instrument logs every request and counts it by route pattern and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// ============================================================
// Response helpers
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	// Encode first so an unencodable value becomes a 500 instead of a
	// truncated body behind a success status.
	body, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(APIResponse{Success: false, Error: "response could not be encoded"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}

func writeErrorDetails(w http.ResponseWriter, status int, msg string, details any) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
		Details: details,
	})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
