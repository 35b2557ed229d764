package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/fabsync/internal/connection"
	"github.com/rickgao/fabsync/internal/version"
)

// ConnectionReporter reports the push connection. *connection.Manager
// satisfies it.
type ConnectionReporter interface {
	Snapshot() connection.Stats
}

// Reporter returns a JSON-encodable view of a component.
type Reporter func() any

// Response is the /status body.
type Response struct {
	Status     string           `json:"status"` // ok while the push connection is open, degraded otherwise
	Version    string           `json:"version"`
	Uptime     string           `json:"uptime"`
	Timestamp  string           `json:"timestamp"`
	Connection connection.Stats `json:"connection"`
	Components map[string]any   `json:"components,omitempty"`
}

// Server serves /healthz and /status.
type Server struct {
	addr    string
	conn    ConnectionReporter
	logger  *slog.Logger
	started time.Time

	mu        sync.RWMutex
	reporters map[string]Reporter

	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a status server. Start binds addr.
func New(addr string, conn ConnectionReporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		conn:      conn,
		logger:    logger.With("component", "status"),
		started:   time.Now(),
		reporters: make(map[string]Reporter),
	}
}

// Register adds a component reporter. A later registration under the same
// name replaces the earlier one.
func (s *Server) Register(name string, fn Reporter) {
	s.mu.Lock()
	s.reporters[name] = fn
	s.mu.Unlock()
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

// Start listens on the configured address and serves in the background.
// Bind errors are returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("status listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server error", "error", err)
		}
	}()

	s.logger.Info("status server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("status shutdown: %w", err)
	}
	<-s.done
	s.logger.Info("status server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := Response{
		Status:    "degraded",
		Version:   version.Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.conn != nil {
		resp.Connection = s.conn.Snapshot()
		if resp.Connection.State == connection.StateOpen.String() {
			resp.Status = "ok"
		}
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.reporters))
	for name := range s.reporters {
		names = append(names, name)
	}
	reporters := make([]Reporter, len(names))
	sort.Strings(names)
	for i, name := range names {
		reporters[i] = s.reporters[name]
	}
	s.mu.RUnlock()

	if len(names) > 0 {
		resp.Components = make(map[string]any, len(names))
		for i, name := range names {
			resp.Components[name] = reporters[i]()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("encode status response", "error", err)
	}
}
