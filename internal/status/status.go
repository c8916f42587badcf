// Package status serves the watcher's health, state and metrics over HTTP.
//
// Routes:
//
//	GET /healthz      200 while watching (or as a peer), 503 otherwise
//	GET /status       JSON snapshot of the coordinator
//	GET /metrics      Prometheus exposition
//	GET /_hotreload   WebSocket reload stream, when a broadcaster is set
package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/hotreload/internal/coordinator"
)

// ReloadPath is where the broadcaster is mounted.
const ReloadPath = "/_hotreload"

// Source provides the status snapshot.
type Source interface {
	Status() coordinator.Status
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:7070" or ":0".
	Addr string

	// Source is required.
	Source Source

	// Gatherer backs /metrics. Nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Broadcaster is mounted at ReloadPath when set.
	Broadcaster http.Handler

	Logger *slog.Logger
}

// Server is the status HTTP server.
type Server struct {
	opts   Options
	router chi.Router
	logger *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	errCh    chan error
}

// New builds the router. Nothing listens until Start.
func New(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{opts: opts, logger: opts.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	if opts.Broadcaster != nil {
		r.Handle(ReloadPath, opts.Broadcaster)
	}
	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Source.Status()
	if st.Role == coordinator.RoleCoordinator.String() && st.State == coordinator.StateUninitialized.String() {
		http.Error(w, "not watching", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.opts.Source.Status()); err != nil {
		s.logger.Debug("status write failed", "error", err)
	}
}

// Start listens on Addr and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.errCh = make(chan error, 1)

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server stopped", "error", err)
			s.errCh <- err
			return
		}
		s.errCh <- nil
	}()

	s.logger.Info("status server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Err delivers the serve result once the server stops: nil after
// Shutdown, the error otherwise.
func (s *Server) Err() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errCh
}
