// Package server exposes a workflow.Manager over HTTP so runs can be
// started, inspected, signalled and cancelled from other processes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/netbyu/ump-sub000/internal/buildinfo"
	"github.com/netbyu/ump-sub000/internal/metrics"
	"github.com/netbyu/ump-sub000/internal/provider"
	"github.com/netbyu/ump-sub000/internal/workflow"
)

// DefaultShutdownTimeout bounds graceful HTTP shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server routes API requests to a Manager.
type Server struct {
	manager  *workflow.Manager
	lister   provider.Lister
	recorder *metrics.Recorder
	logger   *log.Logger

	shutdownTimeout time.Duration
	router          *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics serves rec on /metrics and counts requests into it.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Server) { s.recorder = rec }
}

// WithWorkflowLister enables GET /api/v1/workflows.
func WithWorkflowLister(l provider.Lister) Option {
	return func(s *Server) { s.lister = l }
}

// WithShutdownTimeout overrides DefaultShutdownTimeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// New builds a Server for manager.
func New(manager *workflow.Manager, opts ...Option) *Server {
	s := &Server{
		manager:         manager,
		logger:          log.Default(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/runs", s.handleCreateRun).Methods(http.MethodPost)
	v1.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.handleDeleteRun).Methods(http.MethodDelete)
	v1.HandleFunc("/runs/{id}/signals", s.handleSignal).Methods(http.MethodPost)
	v1.HandleFunc("/workflows", s.handleListWorkflows).Methods(http.MethodGet)
	v1.HandleFunc("/workflows/{id}/plan", s.handlePlan).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.recorder != nil {
		r.Handle("/metrics", s.recorder.Handler()).Methods(http.MethodGet)
	}
	s.router = r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	s.logger.Info("api stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api server: listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.recorder != nil {
			s.recorder.ObserveRequest(r.Method, route, rec.code)
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"code", rec.code,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.GetInfo().Version,
	})
}
