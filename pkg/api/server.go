package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/lobby/pkg/alerts"
	"github.com/cuemby/lobby/pkg/auth"
	"github.com/cuemby/lobby/pkg/content"
	"github.com/cuemby/lobby/pkg/engine"
	"github.com/cuemby/lobby/pkg/log"
	"github.com/cuemby/lobby/pkg/metrics"
	"github.com/cuemby/lobby/pkg/push"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// maxInboundFrame bounds client frames; the channel only carries pings
const maxInboundFrame = 4096

// Config holds HTTP server settings
type Config struct {
	Addr        string
	CORSOrigins []string
}

// Deps are the components the API fronts
type Deps struct {
	Engine  *engine.Engine
	Push    *push.Manager
	Alerts  *alerts.Service
	Content *content.Catalog
	Auth    *auth.Authenticator
}

// Server serves the visitor and operator HTTP API and both push channels
type Server struct {
	cfg      Config
	engine   *engine.Engine
	push     *push.Manager
	alerts   *alerts.Service
	content  *content.Catalog
	auth     *auth.Authenticator
	router   *mux.Router
	upgrader websocket.Upgrader
	http     *http.Server
	logger   zerolog.Logger
}

// NewServer creates the API server and registers its routes
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		push:    deps.Push,
		alerts:  deps.Alerts,
		content: deps.Content,
		auth:    deps.Auth,
		router:  mux.NewRouter(),
		logger:  log.WithComponent("api"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(metricsMiddleware)
	s.router.Use(corsMiddleware(s.cfg.CORSOrigins))

	// Preflight for every route; corsMiddleware writes the response
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	s.router.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Visitor-facing
	s.router.HandleFunc("/api/visitors/register", s.handleRegister).Methods(http.MethodPost)
	s.router.HandleFunc("/api/visitors/{id}/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/ws/visitor/{id}", s.handleVisitorSocket).Methods(http.MethodGet)

	// Operator login
	s.router.HandleFunc("/api/auth/admin", s.handleLogin).Methods(http.MethodPost)

	// Operator-facing, authenticated
	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(s.auth.Middleware)

	protected.HandleFunc("/ws/admin", s.handleAdminSocket).Methods(http.MethodGet)
	protected.HandleFunc("/visitors", s.handleListVisitors).Methods(http.MethodGet)
	protected.HandleFunc("/visitors/{id}", s.handleGetVisitor).Methods(http.MethodGet)
	protected.HandleFunc("/visitors/{id}/approve", s.handleApprove).Methods(http.MethodPut)
	protected.HandleFunc("/visitors/{id}/block", s.handleBlock).Methods(http.MethodPut)
	protected.HandleFunc("/visitors/{id}", s.handleDelete).Methods(http.MethodDelete)
	protected.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	protected.HandleFunc("/pages", s.handlePages).Methods(http.MethodGet)

	protected.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	protected.HandleFunc("/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	protected.HandleFunc("/alerts/read-all", s.handleReadAllAlerts).Methods(http.MethodPut)
	protected.HandleFunc("/alerts/{id}/read", s.handleReadAlert).Methods(http.MethodPut)
	protected.HandleFunc("/alerts/{id}", s.handleDeleteAlert).Methods(http.MethodDelete)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP on the configured address until Shutdown
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. Hijacked
// websocket connections are not tracked by net/http; the push manager closes
// them.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return originAllowed(s.cfg.CORSOrigins, origin)
}
