package mcpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/mcpbridge/api"
	"pkt.systems/mcpbridge/internal/httpapi"
	"pkt.systems/pslog"
)

// TestServer wraps a running mcpbridge.Server with convenient handles for tests.
type TestServer struct {
	Server   *Server
	BaseURL  string
	Listener net.Addr
	Config   Config
	// Upstream is the stub MCP server the gateway forwards to. Nil when the
	// test supplied its own upstream.
	Upstream *MCPStub

	stop func(context.Context) error
}

type testingWriter struct {
	t  testing.TB
	mu sync.Mutex
	// closed guards against writes after the associated test has finished.
	closed bool
}

func (w *testingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return len(p), nil
	}
	lines := bytes.Split(p, []byte{'\n'})
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		w.t.Helper()
		func(entry string) {
			defer func() {
				if r := recover(); r != nil {
					msg := fmt.Sprint(r)
					if strings.Contains(msg, "Log in goroutine after") {
						return
					}
					if strings.Contains(msg, "Log in goroutine during concurrent Cleanups") {
						return
					}
					panic(r)
				}
			}()
			w.t.Log(entry)
		}(string(line))
	}
	w.mu.Unlock()
	return len(p), nil
}

func (w *testingWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// Stop shuts down the server using the provided context.
func (ts *TestServer) Stop(ctx context.Context) error {
	if ts == nil || ts.stop == nil {
		return nil
	}
	err := ts.stop(ctx)
	if ts.Upstream != nil {
		ts.Upstream.Close()
		ts.Upstream = nil
	}
	return err
}

// NewTestingLogger creates a pslog logger that writes through testing.TB.
func NewTestingLogger(t testing.TB, level pslog.Level) pslog.Logger {
	writer := &testingWriter{t: t}
	t.Cleanup(writer.close)
	logger := pslog.NewStructured(context.Background(), writer)
	if level != pslog.NoLevel {
		logger = logger.LogLevel(level)
	}
	return logger.With("app", "testserver")
}

// URL returns the base URL clients should use to reach the gateway.
func (ts *TestServer) URL() string {
	if ts == nil {
		return ""
	}
	return ts.BaseURL
}

// Addr returns the listener address the server is bound to.
func (ts *TestServer) Addr() net.Addr {
	if ts == nil {
		return nil
	}
	if ts.Listener != nil {
		return ts.Listener
	}
	if ts.Server != nil {
		return ts.Server.ListenerAddr()
	}
	return nil
}

type testServerOptions struct {
	cfg          Config
	mutators     []func(*Config)
	upstream     httpapi.Upstream
	logger       pslog.Logger
	startTimeout time.Duration
	testTB       testing.TB
	testLogLevel pslog.Level
}

// TestServerOption customises NewTestServer/StartTestServer behaviour.
type TestServerOption func(*testServerOptions)

// WithTestConfig provides an explicit Config to use. Missing fields will be
// defaulted during validation.
func WithTestConfig(cfg Config) TestServerOption {
	return func(o *testServerOptions) {
		o.cfg = cfg
	}
}

// WithTestConfigFunc applies a mutation to the server configuration before start.
func WithTestConfigFunc(fn func(*Config)) TestServerOption {
	return func(o *testServerOptions) {
		if fn != nil {
			o.mutators = append(o.mutators, fn)
		}
	}
}

// WithTestListener overrides the listen address.
func WithTestListener(address string) TestServerOption {
	return WithTestConfigFunc(func(cfg *Config) {
		cfg.Listen = address
	})
}

// WithTestAPIKey arms the auth gate with the given key.
func WithTestAPIKey(key string) TestServerOption {
	return WithTestConfigFunc(func(cfg *Config) {
		cfg.APIKey = key
	})
}

// WithTestUpstream injects an upstream implementation instead of the stub MCP
// server.
func WithTestUpstream(u httpapi.Upstream) TestServerOption {
	return func(o *testServerOptions) {
		o.upstream = u
	}
}

// WithTestLogger supplies a custom logger.
func WithTestLogger(logger pslog.Logger) TestServerOption {
	return func(o *testServerOptions) {
		o.logger = logger
	}
}

// WithTestStartTimeout overrides the wait timeout when starting the server.
func WithTestStartTimeout(d time.Duration) TestServerOption {
	return func(o *testServerOptions) {
		o.startTimeout = d
	}
}

// WithTestLoggerFromTB routes server logs to the provided testing logger at the supplied level.
func WithTestLoggerFromTB(t testing.TB, level pslog.Level) TestServerOption {
	return func(o *testServerOptions) {
		o.testTB = t
		o.testLogLevel = level
	}
}

// WithTestLoggerTB uses the testing logger with Debug level.
func WithTestLoggerTB(t testing.TB) TestServerOption {
	return WithTestLoggerFromTB(t, pslog.DebugLevel)
}

// NewTestServer starts a mcpbridge server suitable for tests. Unless the test
// injects its own upstream or configures an upstream URL, a stub MCP server is
// started and torn down with the gateway. Call Stop to clean up resources.
func NewTestServer(ctx context.Context, opts ...TestServerOption) (*TestServer, error) {
	options := testServerOptions{
		cfg: Config{
			Listen: "127.0.0.1:0",
		},
		startTimeout: 5 * time.Second,
		testLogLevel: pslog.DebugLevel,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := options.cfg
	for _, mut := range options.mutators {
		mut(&cfg)
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}

	var stub *MCPStub
	if options.upstream == nil && cfg.UpstreamURL == "" {
		stub = NewMCPStub()
		cfg.UpstreamURL = stub.URL()
	}

	logger := options.logger
	if logger == nil {
		if options.testTB != nil {
			logger = NewTestingLogger(options.testTB, options.testLogLevel)
		} else {
			logger = pslog.NoopLogger()
		}
	}

	ctxServer, cancel := context.WithCancel(context.Background())
	type startResult struct {
		srv  *Server
		stop func(context.Context) error
		err  error
	}
	resultCh := make(chan startResult, 1)
	go func() {
		startOpts := []Option{WithLogger(logger)}
		if options.upstream != nil {
			startOpts = append(startOpts, WithUpstream(options.upstream))
		}
		srv, stop, err := StartServer(ctxServer, cfg, startOpts...)
		resultCh <- startResult{srv: srv, stop: stop, err: err}
	}()

	var (
		res     startResult
		timeout <-chan time.Time
		ctxDone <-chan struct{}
	)
	if options.startTimeout > 0 {
		timeout = time.After(options.startTimeout)
	}
	if ctx != nil {
		ctxDone = ctx.Done()
	}

	select {
	case res = <-resultCh:
	case <-timeout:
		cancel()
		res = <-resultCh
		if res.err == nil {
			res.err = fmt.Errorf("test server start timeout after %s", options.startTimeout)
		}
	case <-ctxDone:
		cancel()
		res = <-resultCh
		if res.err == nil {
			res.err = ctx.Err()
		}
	}
	if res.err != nil {
		if stub != nil {
			stub.Close()
		}
		cancel()
		return nil, res.err
	}
	srv := res.srv
	originalStop := res.stop
	stop := func(stopCtx context.Context) error {
		cancel()
		return originalStop(stopCtx)
	}

	addr := srv.ListenerAddr()
	if addr == nil {
		_ = stop(context.Background())
		if stub != nil {
			stub.Close()
		}
		return nil, fmt.Errorf("test server: listener not initialised")
	}

	return &TestServer{
		Server:   srv,
		BaseURL:  "http://" + addr.String(),
		Listener: addr,
		Config:   cfg,
		Upstream: stub,
		stop:     stop,
	}, nil
}

// StartTestServer is a convenience wrapper that fails the test on error and registers cleanup.
func StartTestServer(t testing.TB, opts ...TestServerOption) *TestServer {
	t.Helper()
	ts, err := NewTestServer(context.Background(), opts...)
	if err != nil {
		t.Fatalf("start test server: %v", err)
	}
	t.Cleanup(func() {
		if err := ts.Stop(context.Background()); err != nil {
			t.Fatalf("stop test server: %v", err)
		}
	})
	return ts
}

// MCPStub is an in-process JSON-RPC endpoint that stands in for an MCP server
// during tests. It answers the method families the gateway forwards and
// records every envelope it receives.
type MCPStub struct {
	srv *httptest.Server

	mu         sync.Mutex
	tools      []api.Tool
	resources  []api.Resource
	toolOut    map[string]json.RawMessage
	contents   map[string][]api.ResourceContent
	calls      []StubCall
	failStatus int
	failBody   string
	rpcErrCode int
	rpcErrMsg  string
	delay      time.Duration
}

// StubCall is one JSON-RPC envelope received by the stub.
type StubCall struct {
	Method        string
	ID            int64
	Params        map[string]any
	Authorization string
}

// NewMCPStub starts the stub on an ephemeral listener.
func NewMCPStub() *MCPStub {
	stub := &MCPStub{
		toolOut:  make(map[string]json.RawMessage),
		contents: make(map[string][]api.ResourceContent),
	}
	stub.srv = httptest.NewServer(http.HandlerFunc(stub.handle))
	return stub
}

// URL returns the stub's base URL.
func (m *MCPStub) URL() string {
	return m.srv.URL
}

// Close shuts the stub down.
func (m *MCPStub) Close() {
	m.srv.Close()
}

// SetTools replaces the advertised tool catalogue.
func (m *MCPStub) SetTools(tools ...api.Tool) {
	m.mu.Lock()
	m.tools = tools
	m.mu.Unlock()
}

// SetResources replaces the advertised resource catalogue.
func (m *MCPStub) SetResources(resources ...api.Resource) {
	m.mu.Lock()
	m.resources = resources
	m.mu.Unlock()
}

// SetToolResult scripts the raw JSON-RPC result object returned for
// tools/call invocations of the named tool.
func (m *MCPStub) SetToolResult(name string, result json.RawMessage) {
	m.mu.Lock()
	m.toolOut[name] = result
	m.mu.Unlock()
}

// SetResourceContents scripts the content sequence returned for
// resources/read of the given URI.
func (m *MCPStub) SetResourceContents(uri string, contents ...api.ResourceContent) {
	m.mu.Lock()
	m.contents[uri] = contents
	m.mu.Unlock()
}

// FailWith makes every subsequent call answer with the given HTTP status and
// raw body.
func (m *MCPStub) FailWith(status int, body string) {
	m.mu.Lock()
	m.failStatus = status
	m.failBody = body
	m.mu.Unlock()
}

// RespondError makes every subsequent call answer HTTP 200 with a JSON-RPC
// error member carrying the given code and message.
func (m *MCPStub) RespondError(code int, message string) {
	m.mu.Lock()
	m.rpcErrCode = code
	m.rpcErrMsg = message
	m.mu.Unlock()
}

// Delay makes the stub sleep before answering. Pair with a short upstream
// timeout to provoke transport failures.
func (m *MCPStub) Delay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// Reset clears failure injections and recorded calls.
func (m *MCPStub) Reset() {
	m.mu.Lock()
	m.failStatus = 0
	m.failBody = ""
	m.rpcErrCode = 0
	m.rpcErrMsg = ""
	m.delay = 0
	m.calls = nil
	m.mu.Unlock()
}

// Calls returns a copy of every envelope received so far.
func (m *MCPStub) Calls() []StubCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StubCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastCall returns the most recent envelope, if any.
func (m *MCPStub) LastCall() (StubCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return StubCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

func (m *MCPStub) handle(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var env struct {
		JSONRPC string         `json:"jsonrpc"`
		ID      int64          `json:"id"`
		Method  string         `json:"method"`
		Params  map[string]any `json:"params"`
	}
	_ = json.NewDecoder(r.Body).Decode(&env)

	m.mu.Lock()
	m.calls = append(m.calls, StubCall{
		Method:        env.Method,
		ID:            env.ID,
		Params:        env.Params,
		Authorization: r.Header.Get("Authorization"),
	})
	delay := m.delay
	failStatus, failBody := m.failStatus, m.failBody
	rpcCode, rpcMsg := m.rpcErrCode, m.rpcErrMsg
	tools := m.tools
	resources := m.resources
	var toolResult json.RawMessage
	if env.Method == "tools/call" {
		if name, ok := env.Params["name"].(string); ok {
			toolResult = m.toolOut[name]
		}
	}
	var readContents []api.ResourceContent
	if env.Method == "resources/read" {
		if uri, ok := env.Params["uri"].(string); ok {
			readContents = m.contents[uri]
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failStatus != 0 {
		w.WriteHeader(failStatus)
		_, _ = io.WriteString(w, failBody)
		return
	}
	if rpcMsg != "" {
		m.writeEnvelope(w, env.ID, nil, map[string]any{"code": rpcCode, "message": rpcMsg})
		return
	}

	switch env.Method {
	case "tools/list":
		if tools == nil {
			tools = []api.Tool{}
		}
		m.writeEnvelope(w, env.ID, map[string]any{"tools": tools}, nil)
	case "tools/call":
		if toolResult == nil {
			toolResult = json.RawMessage(`{"content":[],"isError":false}`)
		}
		m.writeRawResult(w, env.ID, toolResult)
	case "resources/list":
		if resources == nil {
			resources = []api.Resource{}
		}
		m.writeEnvelope(w, env.ID, map[string]any{"resources": resources}, nil)
	case "resources/read":
		if readContents == nil {
			readContents = []api.ResourceContent{}
		}
		m.writeEnvelope(w, env.ID, map[string]any{"contents": readContents}, nil)
	default:
		m.writeEnvelope(w, env.ID, nil, map[string]any{"code": -32601, "message": "method not found"})
	}
}

func (m *MCPStub) writeEnvelope(w http.ResponseWriter, id int64, result any, rpcErr any) {
	payload := map[string]any{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		payload["error"] = rpcErr
	} else {
		payload["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (m *MCPStub) writeRawResult(w http.ResponseWriter, id int64, result json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result)
}
