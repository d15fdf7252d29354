// Package server exposes live views over HTTP and WebSocket.
//
// Every route gets two renditions of the same view: a disconnected HTTP
// render that seals the mount data into a signed session token, and a
// connected WebSocket session that verifies the token and spawns the
// view process tree.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vivid-go/vivid/pkg/live"
	"github.com/vivid-go/vivid/pkg/token"
)

// LivePath is the WebSocket endpoint all connected sessions attach to.
const LivePath = "/live/ws"

// Server hosts a route table of live views.
type Server struct {
	config  *Config
	logger  *slog.Logger
	signer  *token.Signer
	runtime *live.Runtime
	routes  *live.Routes
	mux     chi.Router

	mu    sync.Mutex
	http  *http.Server
	conns map[string]*conn
}

// New creates a Server for the given route table. A nil config uses
// DefaultConfig.
func New(routes *live.Routes, cfg *Config) (*Server, error) {
	if routes == nil || len(routes.All()) == 0 {
		return nil, errors.New("server: no routes registered")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg = cfg.Clone()
	}
	applyDefaults(cfg)

	if len(cfg.Secret) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("server: generate secret: %w", err)
		}
		cfg.Secret = secret
		cfg.Logger.Warn("no token secret configured, using ephemeral secret; sessions will not survive restarts")
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger.With("component", "server"),
		signer: token.NewSigner(cfg.Secret, cfg.TokenSalt),
		routes: routes,
		conns:  make(map[string]*conn),
	}

	s.runtime = live.NewRuntime(live.RuntimeConfig{
		Routes:    routes,
		Telemetry: cfg.Telemetry,
		Logger:    cfg.Logger,
	})

	mux := chi.NewRouter()
	mux.Use(chimiddleware.RealIP)
	mux.Use(chimiddleware.Recoverer)

	mux.Get(LivePath, s.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	for _, route := range routes.All() {
		mux.Get(route.Pattern, s.handleStatic)
	}

	s.mux = mux
	return s, nil
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.TokenSalt == "" {
		cfg.TokenSalt = def.TokenSalt
	}
	if cfg.TokenMaxAge <= 0 {
		cfg.TokenMaxAge = def.TokenMaxAge
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = def.WriteBufferSize
	}
	if cfg.CheckOrigin == nil {
		cfg.CheckOrigin = def.CheckOrigin
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// Handler returns the HTTP handler for the server. Useful for mounting
// under an existing mux or for httptest.
func (s *Server) Handler() http.Handler { return s.mux }

// Runtime returns the live runtime backing this server.
func (s *Server) Runtime() *live.Runtime { return s.runtime }

// ListenAndServe starts the HTTP listener and blocks until Shutdown or a
// listener error.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:    s.config.Address,
		Handler: s.mux,
	}

	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("listening", "address", s.config.Address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown stops the listener and terminates all live sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close(closeGoingAway, "shutdown")
	}

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// trackConn registers a live connection for shutdown bookkeeping.
func (s *Server) trackConn(c *conn) {
	s.mu.Lock()
	s.conns[c.transportID] = c
	s.mu.Unlock()
}

// untrackConn removes a finished connection.
func (s *Server) untrackConn(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.transportID)
	s.mu.Unlock()
}

// ConnCount returns the number of attached live connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
