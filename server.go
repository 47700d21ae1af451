package mcpbridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"pkt.systems/mcpbridge/client"
	"pkt.systems/mcpbridge/internal/apikey"
	"pkt.systems/mcpbridge/internal/httpapi"
	"pkt.systems/mcpbridge/internal/svcfields"
	"pkt.systems/mcpbridge/internal/sysmon"
	"pkt.systems/mcpbridge/internal/version"
	"pkt.systems/pslog"
)

// Server wraps the HTTP gateway, the upstream MCP client, and supporting
// components.
type Server struct {
	cfg           Config
	logger        pslog.Logger
	upstream      httpapi.Upstream
	ownedClient   *client.Client
	keySource     *apikey.Source
	handler       *httpapi.Handler
	httpSrv       *http.Server
	listener      net.Listener
	telemetry     *telemetryBundle
	monitor       *sysmon.Observer
	monitorCancel context.CancelFunc
	lastServeErr  error

	mu        sync.Mutex
	shutdown  bool
	readyOnce sync.Once
	readyCh   chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Upstream     httpapi.Upstream
	OTLPEndpoint string
	configHooks  []func(*Config)
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithUpstream injects a pre-built upstream (useful for tests). When set,
// the server does not construct or manage its own MCP client.
func WithUpstream(u httpapi.Upstream) Option {
	return func(o *options) {
		o.Upstream = u
	}
}

// WithOTLPEndpoint overrides the OTLP collector endpoint used for telemetry.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) {
		o.OTLPEndpoint = endpoint
	}
}

// WithSysmonLogInterval overrides the cadence for sysmon.sample logs; use 0
// to disable logging while keeping sampling.
func WithSysmonLogInterval(interval time.Duration) Option {
	return func(o *options) {
		o.configHooks = append(o.configHooks, func(cfg *Config) {
			cfg.SysmonLogInterval = interval
		})
	}
}

// NewServer constructs a mcpbridge server according to cfg.
// Example:
//
//	cfg := mcpbridge.Config{UpstreamURL: "http://localhost:3001/mcp", Listen: ":8000"}
//	srv, err := mcpbridge.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	cfgCopy := cfg
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	for _, hook := range o.configHooks {
		hook(&cfgCopy)
	}
	if err := cfgCopy.Validate(); err != nil {
		return nil, err
	}
	cfg = cfgCopy
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if o.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = o.OTLPEndpoint
	}
	telemetry, err := setupTelemetry(context.Background(), cfg, svcfields.WithSubsystem(logger, "control.telemetry"))
	if err != nil {
		return nil, err
	}
	stopTelemetry := func() {
		if telemetry == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = telemetry.Shutdown(shutdownCtx)
		cancel()
	}

	upstream := o.Upstream
	var ownedClient *client.Client
	if upstream == nil {
		ownedClient, err = client.New(cfg.UpstreamURL,
			client.WithAuthToken(cfg.UpstreamToken),
			client.WithTimeout(cfg.UpstreamTimeout),
			client.WithTLSVerify(cfg.UpstreamTLSVerify),
			client.WithPayloadLogging(cfg.LogPayloads),
			client.WithLogger(logger),
		)
		if err != nil {
			stopTelemetry()
			return nil, err
		}
		upstream = ownedClient
	}

	var keySource *apikey.Source
	switch {
	case strings.TrimSpace(cfg.APIKeyFile) != "":
		keySource, err = apikey.FromFile(cfg.APIKeyFile, logger)
		if err != nil {
			stopTelemetry()
			return nil, err
		}
	case strings.TrimSpace(cfg.APIKey) != "":
		keySource = apikey.Static(cfg.APIKey)
	}

	var monitor *sysmon.Observer
	var monitorCancel context.CancelFunc
	if cfg.SysmonEnabled {
		monitor = sysmon.NewObserver(sysmon.Config{
			Enabled:        true,
			SampleInterval: cfg.SysmonSampleInterval,
			LogInterval:    cfg.SysmonLogInterval,
		}, logger)
		monCtx, cancel := context.WithCancel(context.Background())
		monitorCancel = cancel
		monitor.Start(monCtx)
	}

	handler := httpapi.New(httpapi.Config{
		Upstream:           upstream,
		Logger:             logger,
		Monitor:            monitor,
		JSONMaxBytes:       cfg.MaxBodyBytes,
		ServiceName:        "mcpbridge",
		Version:            version.Current(),
		DisableHTTPTracing: cfg.DisableHTTPTracing || strings.TrimSpace(cfg.OTLPEndpoint) == "",
	})
	mux := http.NewServeMux()
	handler.Register(mux)

	authGate := httpapi.NewAuthGate(keySource, logger)
	audit := httpapi.NewAuditInterceptor(logger, cfg.LogPayloads, cfg.MaxBodyBytes)
	cors := httpapi.NewCORSPolicy(cfg.CORSOriginList())

	// Auth sits outside the audit interceptor so rejected requests are never
	// buffered; CORS is outermost so preflights skip both.
	chain := cors.Wrap(authGate.Wrap(audit.Wrap(mux)))

	serverLogger := svcfields.WithSubsystem(logger, "server")
	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: chain,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}
	httpSrv.ErrorLog = log.New(httpErrorLogWriter{logger: svcfields.WithSubsystem(logger, "api.http.server")}, "", 0)

	if !authGate.Enabled() {
		serverLogger.Warn("auth.disabled", "impact", "tool and resource endpoints are reachable without an API key")
	}

	return &Server{
		cfg:           cfg,
		logger:        serverLogger,
		upstream:      upstream,
		ownedClient:   ownedClient,
		keySource:     keySource,
		handler:       handler,
		httpSrv:       httpSrv,
		telemetry:     telemetry,
		monitor:       monitor,
		monitorCancel: monitorCancel,
		readyCh:       make(chan struct{}),
	}, nil
}

// Handler returns the underlying HTTP handler so the gateway can be mounted
// inside an existing mux when embedding the server into another program.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s): %w", s.cfg.Listen, err)
	}
	s.listener = ln
	if s.ownedClient != nil {
		if err := s.probeUpstream(); err != nil {
			s.logger.Warn("upstream.connect_failed",
				"error", err,
				"detail", "bridge will connect on first request",
			)
		}
	}
	s.signalReady()
	s.logger.Info("listening",
		"address", ln.Addr().String(),
		"upstream", s.upstream.ServerURL(),
		"auth", s.keySource.Enabled(),
		"payload_audit", s.cfg.LogPayloads,
	)
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// probeUpstream performs one tools/list round trip so operators learn at
// startup whether the upstream is reachable. Failures are non-fatal; the
// client connects on demand when the first request arrives.
func (s *Server) probeUpstream() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.UpstreamTimeout)
	defer cancel()
	if err := s.ownedClient.Connect(); err != nil {
		return err
	}
	_, err := s.ownedClient.ListTools(ctx)
	return err
}

// Shutdown gracefully stops the server and returns any fatal serve/shutdown
// error. The returned error will be nil for clean shutdowns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.logger.Info("server.shutdown.begin")
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if s.monitorCancel != nil {
		s.monitorCancel()
		s.monitorCancel = nil
	}
	if s.monitor != nil {
		s.monitor.Wait()
	}
	if l := s.listener; l != nil {
		_ = l.Close()
		s.listener = nil
	}
	if s.ownedClient != nil {
		if err := s.ownedClient.Close(); err != nil {
			s.logger.Warn("upstream.disconnect_failed", "error", err)
		}
	}
	if s.keySource != nil {
		_ = s.keySource.Close()
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			return err
		}
		s.telemetry = nil
	}
	if err := s.LastServeError(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server.shutdown.complete")
	return nil
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.Shutdown(context.Background())
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server is about to serve requests or the
// context ends. The listener is bound and the startup upstream probe has
// completed by the time this returns.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	if l := s.listener; l != nil {
		return l.Addr()
	}
	return nil
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the underlying HTTP
// server. It is primarily useful for diagnostics; Shutdown already reports any
// fatal serve/shutdown errors to callers.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// httpErrorLogWriter feeds net/http server error lines into the structured
// logger.
type httpErrorLogWriter struct {
	logger pslog.Logger
}

func (w httpErrorLogWriter) Write(p []byte) (int, error) {
	w.logger.Error("http.server.error", "message", strings.TrimSpace(string(p)))
	return len(p), nil
}

// StartServer starts a mcpbridge server in a background goroutine and waits
// until it is ready to accept connections. It returns the running server
// alongside a stop function that gracefully shuts it down.
// Example:
//
//	cfg := mcpbridge.Config{UpstreamURL: "http://localhost:3001/mcp", Listen: "127.0.0.1:0"}
//	srv, stop, err := mcpbridge.StartServer(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stop(context.Background())
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	if err := srv.WaitUntilReady(waitCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil, nil, err
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				stopErr = err
			}
		})
		return stopErr
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}
