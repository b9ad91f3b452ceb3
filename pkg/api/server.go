// Package api serves the intent lifecycle, health checks and metrics over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/intentmesh/pkg/logger"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server
const ShutdownTimeout = 10 * time.Second

// Server is the intentmesh HTTP server
type Server struct {
	port          string
	service       Service
	logger        logger.Logger
	metricsAPIKey string
	staleAfter    time.Duration
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetricsAPIKey requires "Authorization: Bearer <key>" on /metrics
func WithMetricsAPIKey(key string) Option {
	return func(s *Server) {
		s.metricsAPIKey = key
	}
}

// WithStaleAfter sets the default age reported by GET /api/v1/matched/stale
func WithStaleAfter(d time.Duration) Option {
	return func(s *Server) {
		s.staleAfter = d
	}
}

// NewServer creates a server listening on port
func NewServer(port string, service Service, opts ...Option) *Server {
	s := &Server{
		port:       port,
		service:    service,
		logger:     &logger.EmptyLogger{},
		staleAfter: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := s.service.Ping(r.Context()); err != nil {
			s.logger.ErrorWithComponent(logger.API, "Readiness check failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	r.Method(http.MethodGet, "/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	r.Route("/api/v1", func(r chi.Router) {
		NewHandler(s.service, s.logger, s.staleAfter).Register(r)
	})

	return r
}

// metricsAuthMiddleware checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.DebugWithComponent(logger.API, "%s %s -> %d in %v (request %s)",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoWithComponent(logger.API, "Starting API and metrics server on port %s", s.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.InfoWithComponent(logger.API, "Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
