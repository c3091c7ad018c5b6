// Package gateway is the HTTP and WebSocket front door of dialtask. Twilio
// opens media streams and posts call status here; operators place calls
// through it.
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
	"github.com/soyeahso/dialtask/internal/calllog"
	"github.com/soyeahso/dialtask/internal/config"
	"github.com/soyeahso/dialtask/internal/hooks"
	"github.com/soyeahso/dialtask/internal/logging"
	"github.com/soyeahso/dialtask/internal/twilio"
)

// maxStreamMessage bounds a single Media Streams frame.
const maxStreamMessage = 1 << 20

// Caller places outbound calls and renders answer TwiML.
// *twilio.Service satisfies it.
type Caller interface {
	MakeCall(ctx context.Context, to, phrase string) (string, error)
	StreamTwiML(phrase string) (string, error)
}

// StatusBroadcaster publishes call status changes. *calllog.Recorder
// satisfies it.
type StatusBroadcaster interface {
	Broadcast(ctx context.Context, s calllog.Status)
}

// WebhookValidator checks X-Twilio-Signature on status callbacks.
type WebhookValidator interface {
	Validate(url string, params map[string]string, signature string) bool
}

// Server accepts Twilio media streams and webhooks.
type Server struct {
	cfg        config.GatewayConfig
	log        *logging.Logger
	streams    *StreamRegistry
	streamCfg  twilio.StreamConfig
	streamDeps twilio.StreamDeps

	caller    Caller
	status    StatusBroadcaster
	hooks     *hooks.Manager
	validator WebhookValidator
	// webhookURL is the public URL Twilio signs status callbacks against.
	webhookURL string

	limiter      *ipLimiter
	authFailures *ipLimiter

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithCaller enables POST /calls and ringing TwiML.
func WithCaller(c Caller) ServerOption {
	return func(s *Server) { s.caller = c }
}

// WithStatusBroadcaster routes status callbacks into the call log.
func WithStatusBroadcaster(b StatusBroadcaster) ServerOption {
	return func(s *Server) { s.status = b }
}

// WithHooks sets the hook manager for lifecycle events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// WithWebhookValidation rejects status callbacks whose signature does not
// match url.
func WithWebhookValidation(v WebhookValidator, url string) ServerOption {
	return func(s *Server) {
		s.validator = v
		s.webhookURL = url
	}
}

// New creates a gateway server. Every accepted media stream is served with
// streamCfg and streamDeps.
func New(cfg config.GatewayConfig, streamCfg twilio.StreamConfig, streamDeps twilio.StreamDeps, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:          cfg,
		log:          log.Sub("gateway"),
		streams:      NewStreamRegistry(log.Sub("streams")),
		streamCfg:    streamCfg,
		streamDeps:   streamDeps,
		limiter:      newIPLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		authFailures: newIPLimiter(authFailureRate, authFailureBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Twilio is not a browser and sends no Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return withMiddleware(mux, s.log)
}

// Streams returns the registry of live media streams.
func (s *Server) Streams() *StreamRegistry { return s.streams }

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", addr, err)
	}

	if s.cfg.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertPath, s.cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("gateway: loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	}

	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is cancelled. Live streams are
// closed before it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Bool("calls_api", s.cfg.Token != "" && s.caller != nil).
		Msg("gateway ready")
	s.emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": ln.Addr().String()})

	go func() {
		<-ctx.Done()
		s.log.Info().Int("streams", s.streams.Count()).Msg("shutting down gateway")
		s.emit(context.Background(), hooks.EventGatewayStop, nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.streams.CloseAll()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Uptime reports how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

func (s *Server) emit(ctx context.Context, event string, data map[string]any) {
	if s.hooks != nil {
		s.hooks.Emit(ctx, event, data)
	}
}
