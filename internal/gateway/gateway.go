// ABOUTME: Gateway orchestrator that wires the relay components to an HTTP server
// ABOUTME: Manages the store, session registry, listeners, and shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-relay/internal/builtins"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/conversation"
	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/mail"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/model"
	"github.com/2389/coven-relay/internal/packs"
	"github.com/2389/coven-relay/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Gateway orchestrates the coven-relay server components.
type Gateway struct {
	config      *config.Config
	store       *store.SQLiteStore
	sessions    *conversation.Registry
	tools       *packs.Registry
	metrics     *metrics.Metrics
	dedupe      *dedupe.Cache
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	upgrader    websocket.Upgrader
	logger      *slog.Logger

	// transports holds live websocket connections so shutdown can close them
	transportsMu sync.Mutex
	transports   map[*wsTransport]struct{}
}

// deps are the collaborators that New derives from configuration.
type deps struct {
	generator  conversation.Generator
	mailSender mail.Sender
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gen, err := newGenerator(cfg.Model, logger)
	if err != nil {
		return nil, err
	}

	return newGateway(cfg, logger, deps{
		generator:  gen,
		mailSender: newMailSender(cfg.Mail, logger),
	})
}

func newGateway(cfg *config.Config, logger *slog.Logger, d deps) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	m := metrics.New()

	tools := packs.NewRegistry(logger)
	if err := registerBuiltinPacks(tools, cfg.Mail, d.mailSender); err != nil {
		_ = s.Close()
		return nil, err
	}

	sessions := conversation.NewRegistry(conversation.Options{
		Config: conversation.Config{
			SystemPrompt: cfg.Session.SystemPrompt,
			Greeting:     cfg.Session.Greeting,
			QueueSize:    cfg.Session.QueueSize,
		},
		Generator: d.generator,
		Tools:     tools,
		Metrics:   m,
		Logger:    logger,
	}, s, cfg.Mail.Domain)

	gw := &Gateway{
		config:   cfg,
		store:    s,
		sessions: sessions,
		tools:    tools,
		metrics:  m,
		dedupe:   dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		logger:     logger.With("component", "gateway"),
		transports: make(map[*wsTransport]struct{}),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// newGenerator selects the model backend.
func newGenerator(cfg config.ModelConfig, logger *slog.Logger) (conversation.Generator, error) {
	switch cfg.Provider {
	case config.ProviderEcho:
		return model.NewEcho(), nil
	case config.ProviderOpenAI:
		return model.NewOpenAI(model.OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Name,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// newMailSender returns an SMTP sender, or a log-only sender when no host is configured.
func newMailSender(cfg config.MailConfig, logger *slog.Logger) mail.Sender {
	if cfg.SMTP.Host == "" {
		return mail.NewLogSender(logger)
	}
	return mail.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
}

func registerBuiltinPacks(registry *packs.Registry, cfg config.MailConfig, sender mail.Sender) error {
	mailTools := builtins.MailPack(sender, builtins.MailConfig{
		From:               cfg.From,
		FromName:           cfg.FromName,
		Domain:             cfg.Domain,
		SimulateReplyAfter: cfg.SimulateReplyAfter,
		SimulatedReply:     cfg.SimulatedReply,
	})
	if err := registry.Register(mailTools...); err != nil {
		return fmt.Errorf("registering mail pack: %w", err)
	}
	if err := registry.Register(builtins.ReminderPack()...); err != nil {
		return fmt.Errorf("registering reminder pack: %w", err)
	}
	return nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /agents/{name}/ws", g.handleWebSocket)
	mux.HandleFunc("GET /agents/{name}/history", g.handleHistory)
	mux.HandleFunc("POST /inbound/email", g.handleInboundEmail)
	mux.HandleFunc("GET /inbound/replies", g.handleListReplies)

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, g.metrics.Handler())
	}

	return mux
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The run context is already canceled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-relay", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and listens on its port 80.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) trackTransport(t *wsTransport) {
	g.transportsMu.Lock()
	g.transports[t] = struct{}{}
	g.transportsMu.Unlock()
}

func (g *Gateway) untrackTransport(t *wsTransport) {
	g.transportsMu.Lock()
	delete(g.transports, t)
	g.transportsMu.Unlock()
}

func (g *Gateway) closeTransports() {
	g.transportsMu.Lock()
	open := make([]*wsTransport, 0, len(g.transports))
	for t := range g.transports {
		open = append(open, t)
	}
	g.transportsMu.Unlock()

	for _, t := range open {
		t.close()
	}
}

// Shutdown stops the HTTP server, closes websocket connections, stops every
// session, and releases the dedupe cache and store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.closeTransports()
	g.sessions.Close()
	g.dedupe.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
