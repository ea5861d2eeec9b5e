// Package gateway serves the assistant over HTTP: the streaming /agent
// endpoint (Server-Sent Events), its WebSocket twin, transcript reads and
// the operational endpoints.
package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/lucai/internal/config"
	"github.com/soyeahso/lucai/internal/domain"
	"github.com/soyeahso/lucai/internal/logging"
	"github.com/soyeahso/lucai/internal/metrics"
	"github.com/soyeahso/lucai/internal/transcript"
	"github.com/soyeahso/lucai/internal/version"
)

// Agent runs one exchange, emitting its events in order.
type Agent interface {
	RunStream(ctx context.Context, req domain.ChatRequest, emit domain.Emitter) error
}

// Server is the LucAI gateway HTTP + WebSocket server.
type Server struct {
	cfg     config.GatewayConfig
	auth    ResolvedAuth
	log     *logging.Logger
	clients *ClientRegistry
	version string

	agent       Agent
	transcripts transcript.Store
	metrics     *metrics.Metrics
	loc         *time.Location

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithAgent sets the agent that answers /agent and /agent/ws.
func WithAgent(a Agent) ServerOption {
	return func(s *Server) {
		s.agent = a
	}
}

// WithTranscripts sets the store behind the history endpoints.
func WithTranscripts(st transcript.Store) ServerOption {
	return func(s *Server) {
		s.transcripts = st
	}
}

// WithMetrics enables /metrics and request instrumentation.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLocation sets the timezone used to group history by day.
func WithLocation(loc *time.Location) ServerOption {
	return func(s *Server) {
		s.loc = loc
	}
}

// New creates a new gateway server.
func New(cfg config.GatewayConfig, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		version:     version.Version,
		loc:         time.Local,
		startedAt:   time.Now(),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.CORSOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.SSEKeepAlive <= 0 {
		s.cfg.SSEKeepAlive = config.DefaultSSEKeepAlive
	}
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin or non-browser clients
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.metrics, s.cfg.CORSOrigins)
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Streams last as long as the agent timeout; handlers bound them.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln = tls.NewListener(ln, tlsCfg)
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Bind != "loopback" && s.auth.Mode != "none" {
		s.log.Warn().Msg("TLS is not enabled, the bearer token travels in cleartext")
	}

	s.startedAt = time.Now()
	stopLimiter := make(chan struct{})
	go s.authLimiter.run(stopLimiter)

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Bind).
		Str("auth", s.auth.Mode).
		Bool("agent", s.agent != nil).
		Msg("gateway server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		close(stopLimiter)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
// Authentication happens before the upgrade in requireAuth.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, "no LLM provider configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxBodyBytes)

	client := NewClient(conn, r.RemoteAddr, s.log.Sub("ws"))
	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	client.serve(r.Context(), s.agent)
}
