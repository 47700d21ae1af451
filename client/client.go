package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/mcpbridge/api"
	"pkt.systems/mcpbridge/internal/jsonutil"
	"pkt.systems/mcpbridge/internal/svcfields"
)

// Methods for the four upstream MCP call families.
const (
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
)

// Defaults applied when options omit a value.
const (
	DefaultTimeout             = 30 * time.Second
	DefaultMaxIdleConns        = 64
	DefaultMaxIdleConnsPerHost = 32
)

const headerCorrelationID = "X-Correlation-Id"

// Request ids are scoped per method family. The upstream treats every HTTP
// exchange as one self-contained call, so ids only need to disambiguate
// within a single exchange's logs.
var methodIDs = map[string]int64{
	MethodToolsList:     1,
	MethodToolsCall:     2,
	MethodResourcesList: 3,
	MethodResourcesRead: 4,
}

func requestID(method string) int64 {
	if id, ok := methodIDs[method]; ok {
		return id
	}
	return 1
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Result is the result mapping of a successful JSON-RPC exchange.
type Result map[string]json.RawMessage

// Get returns the raw JSON value stored under key.
func (r Result) Get(key string) (json.RawMessage, bool) {
	raw, ok := r[key]
	return raw, ok
}

// Bool returns the boolean stored under key, defaulting to false when the key
// is absent or not a boolean.
func (r Result) Bool(key string) bool {
	raw, ok := r[key]
	if !ok {
		return false
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return v
}

// Array returns the array stored under key, defaulting to empty when the key
// is absent or not an array.
func (r Result) Array(key string) []json.RawMessage {
	raw, ok := r[key]
	if !ok {
		return []json.RawMessage{}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return []json.RawMessage{}
	}
	return items
}

// Decode unmarshals the value stored under key into out. An absent key leaves
// out untouched and returns nil.
func (r Result) Decode(key string, out any) error {
	raw, ok := r[key]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Client owns the connection to one upstream MCP server and forwards
// JSON-RPC 2.0 calls to it over HTTP.
type Client struct {
	serverURL   string
	authToken   string
	timeout     time.Duration
	tlsVerify   bool
	logPayloads bool
	logger      pslog.Base
	httpClient  *http.Client

	mu   sync.Mutex
	conn *connContext
}

// connContext is the lazily established connection state: the resolved POST
// target and the HTTP client used to reach it.
type connContext struct {
	endpoint   *url.URL
	httpClient *http.Client
}

// Option customises client construction.
type Option func(*Client)

// WithAuthToken sends Authorization: Bearer <token> on every upstream call.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// WithTimeout overrides the per-call timeout. Zero or negative values keep
// the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTLSVerify toggles upstream certificate verification. Verification is on
// by default; disabling it is intended for lab setups with self-signed
// upstream certificates.
func WithTLSVerify(verify bool) Option {
	return func(c *Client) {
		c.tlsVerify = verify
	}
}

// WithPayloadLogging toggles audit logging of the full outbound envelope and
// inbound body on every call.
func WithPayloadLogging(enabled bool) Option {
	return func(c *Client) {
		c.logPayloads = enabled
	}
}

// WithLogger supplies a logger for client diagnostics.
// Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Base) Option {
	return func(c *Client) {
		if logger == nil {
			c.logger = pslog.NoopLogger()
			return
		}
		if full, ok := logger.(pslog.Logger); ok {
			c.logger = svcfields.WithSubsystem(full, "client.mcp")
			return
		}
		c.logger = logger
	}
}

// WithHTTPClient supplies a custom HTTP client/transport stack. Use this for
// custom TLS roots, proxies, or test doubles.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// New creates a client for the MCP server at serverURL
// (e.g. http://localhost:3001/mcp). The URL is resolved lazily; Connect or
// the first call reports a malformed URL.
func New(serverURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(serverURL)
	if trimmed == "" {
		return nil, fmt.Errorf("mcpbridge: server URL required")
	}
	c := &Client{
		serverURL: trimmed,
		timeout:   DefaultTimeout,
		tlsVerify: true,
		logger:    pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ServerURL returns the configured upstream URL.
func (c *Client) ServerURL() string {
	return c.serverURL
}

// Connect establishes the connection context. It is idempotent, performs no
// network round trip, and fails only when the configured URL cannot be
// resolved into one.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.ensureConnLocked()
	return err
}

// Disconnect releases the connection context. Idempotent; safe to call when
// never connected. A later call transparently reconnects.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.httpClient.CloseIdleConnections()
		c.logInfo("client.disconnect", "url", c.serverURL)
	}
	return nil
}

// Close releases the connection context. It implements io.Closer.
func (c *Client) Close() error {
	return c.Disconnect()
}

func (c *Client) ensureConn() (*connContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureConnLocked()
}

func (c *Client) ensureConnLocked() (*connContext, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	endpoint, err := resolveEndpoint(c.serverURL)
	if err != nil {
		return nil, err
	}
	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = newHTTPClient(c.tlsVerify)
	}
	c.conn = &connContext{endpoint: endpoint, httpClient: httpClient}
	connectKV := []any{"url", c.serverURL, "timeout", c.timeout}
	if c.authToken != "" {
		connectKV = append(connectKV, "auth", "bearer")
	}
	c.logInfo("client.connect", connectKV...)
	return c.conn, nil
}

// resolveEndpoint validates base and resolves the root-path POST target.
// JSON-RPC envelopes always go to the root path of the upstream host, even
// when the configured URL carries a path component.
func resolveEndpoint(base string) (*url.URL, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: parse server URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("mcpbridge: server URL %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("mcpbridge: server URL %q: missing host", base)
	}
	return u.ResolveReference(&url.URL{Path: "/"}), nil
}

func newHTTPClient(tlsVerify bool) *http.Client {
	var transport *http.Transport
	if base, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = base.Clone()
	} else {
		transport = &http.Transport{}
	}
	if transport.MaxIdleConns < DefaultMaxIdleConns {
		transport.MaxIdleConns = DefaultMaxIdleConns
	}
	if transport.MaxIdleConnsPerHost < DefaultMaxIdleConnsPerHost {
		transport.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	if !tlsVerify {
		cfg := transport.TLSClientConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			cfg = cfg.Clone()
		}
		cfg.InsecureSkipVerify = true
		transport.TLSClientConfig = cfg
	}
	return &http.Client{Transport: transport}
}

func (c *Client) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if c.timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, c.timeout)
}

// Call forwards one JSON-RPC request and returns its result mapping.
//
// The connection context is (re)established on demand, so calls never fail
// merely because Connect was not invoked. The response body is parsed before
// the HTTP status is inspected so structured upstream error bodies stay
// attached to the failure. A 4xx/5xx status yields a *TransportError carrying
// status and body; an error member in the parsed envelope yields a
// *ProtocolError regardless of status; otherwise the result member is
// returned, defaulting to an empty mapping. Calls are never retried.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (Result, error) {
	conn, err := c.ensureConn()
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if params == nil {
		params = map[string]any{}
	}
	request := rpcRequest{JSONRPC: "2.0", ID: requestID(method), Method: method, Params: params}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("encode envelope: %w", err)}
	}
	if c.logPayloads {
		text := string(payload)
		if pretty, ok := jsonutil.Pretty(payload); ok {
			text = pretty
		}
		c.logInfoCtx(ctx, "client.audit.request", "method", method, "id", request.ID, "url", conn.endpoint.String(), "payload", text)
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, conn.endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if cid := CorrelationIDFromContext(ctx); cid != "" {
		req.Header.Set(headerCorrelationID, cid)
	}

	start := time.Now()
	c.logTraceCtx(ctx, "client.call.start", "method", method, "id", request.ID)
	resp, err := conn.httpClient.Do(req)
	if err != nil {
		c.logWarnCtx(ctx, "client.call.transport_error", "method", method, "error", err, "duration", time.Since(start))
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logWarnCtx(ctx, "client.call.read_error", "method", method, "status", resp.StatusCode, "error", err)
		return nil, &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var parsed map[string]json.RawMessage
	parseErr := json.Unmarshal(body, &parsed)

	if c.logPayloads {
		text := string(body)
		if pretty, ok := jsonutil.Pretty(body); ok {
			text = pretty
		}
		c.logInfoCtx(ctx, "client.audit.response", "method", method, "id", request.ID, "status", resp.StatusCode, "duration", time.Since(start), "payload", text)
	}

	if parseErr != nil {
		if resp.StatusCode >= 400 {
			c.logWarnCtx(ctx, "client.call.status_error", "method", method, "status", resp.StatusCode)
			return nil, &TransportError{Status: resp.StatusCode, Body: body}
		}
		// Synthesize the error member so the failure stays diagnosable
		// instead of silently dropping the upstream payload.
		raw, _ := json.Marshal(string(body))
		perr := &ProtocolError{
			Status:  resp.StatusCode,
			Message: "non-JSON response from upstream MCP server",
			Data:    raw,
		}
		c.logWarnCtx(ctx, "client.call.parse_error", "method", method, "status", resp.StatusCode)
		return nil, perr
	}
	if resp.StatusCode >= 400 {
		c.logWarnCtx(ctx, "client.call.status_error", "method", method, "status", resp.StatusCode)
		return nil, &TransportError{Status: resp.StatusCode, Body: body}
	}
	if raw, ok := parsed["error"]; ok {
		perr := newProtocolError(resp.StatusCode, raw)
		c.logWarnCtx(ctx, "client.call.mcp_error", "method", method, "error", perr)
		return nil, perr
	}

	result := Result{}
	if raw, ok := parsed["result"]; ok {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, &TransportError{Status: resp.StatusCode, Body: body, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	c.logTraceCtx(ctx, "client.call.success", "method", method, "status", resp.StatusCode, "duration", time.Since(start))
	return result, nil
}

// ListTools fetches the upstream tool catalog.
func (c *Client) ListTools(ctx context.Context) ([]api.Tool, error) {
	res, err := c.Call(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	tools := []api.Tool{}
	if err := res.Decode("tools", &tools); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode tools list: %w", err)}
	}
	c.logDebugCtx(ctx, "client.tools.listed", "count", len(tools))
	return tools, nil
}

// CallTool executes one tool and returns the raw tool result.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (Result, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return c.Call(ctx, MethodToolsCall, map[string]any{
		"name":      name,
		"arguments": arguments,
	})
}

// ListResources fetches the upstream resource catalog.
func (c *Client) ListResources(ctx context.Context) ([]api.Resource, error) {
	res, err := c.Call(ctx, MethodResourcesList, nil)
	if err != nil {
		return nil, err
	}
	resources := []api.Resource{}
	if err := res.Decode("resources", &resources); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decode resources list: %w", err)}
	}
	c.logDebugCtx(ctx, "client.resources.listed", "count", len(resources))
	return resources, nil
}

// ReadResource reads one resource and returns the raw read result.
func (c *Client) ReadResource(ctx context.Context, uri string) (Result, error) {
	return c.Call(ctx, MethodResourcesRead, map[string]any{"uri": uri})
}

func hasKey(keyvals []any, target string) bool {
	for i := 0; i+1 < len(keyvals); i += 2 {
		if key, ok := keyvals[i].(string); ok && key == target {
			return true
		}
	}
	return false
}

func (c *Client) enrichKeyvals(ctx context.Context, keyvals []any) []any {
	if ctx == nil {
		return keyvals
	}
	cid := CorrelationIDFromContext(ctx)
	if cid == "" || hasKey(keyvals, "cid") {
		return keyvals
	}
	enriched := append([]any(nil), keyvals...)
	enriched = append(enriched, "cid", cid)
	return enriched
}

func (c *Client) logTraceCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Trace(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logDebugCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logInfoCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Info(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logWarnCtx(ctx context.Context, msg string, keyvals ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, c.enrichKeyvals(ctx, keyvals)...)
}

func (c *Client) logInfo(msg string, keyvals ...any) {
	c.logInfoCtx(context.Background(), msg, keyvals...)
}
