package mcpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/mcpbridge/api"
	"pkt.systems/mcpbridge/client"
	"pkt.systems/pslog"
)

// fakeUpstream satisfies the handler's upstream surface without network
// traffic so middleware behaviour can be tested in isolation.
type fakeUpstream struct {
	tools     []api.Tool
	resources []api.Resource
	toolRes   client.Result
	readRes   client.Result
	err       error

	mu    sync.Mutex
	calls int
}

func (f *fakeUpstream) record() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeUpstream) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeUpstream) ListTools(context.Context) ([]api.Tool, error) {
	f.record()
	if f.err != nil {
		return nil, f.err
	}
	return f.tools, nil
}

func (f *fakeUpstream) CallTool(_ context.Context, _ string, _ map[string]any) (client.Result, error) {
	f.record()
	if f.err != nil {
		return nil, f.err
	}
	if f.toolRes != nil {
		return f.toolRes, nil
	}
	return client.Result{
		"content": json.RawMessage(`[]`),
		"isError": json.RawMessage(`false`),
	}, nil
}

func (f *fakeUpstream) ListResources(context.Context) ([]api.Resource, error) {
	f.record()
	if f.err != nil {
		return nil, f.err
	}
	return f.resources, nil
}

func (f *fakeUpstream) ReadResource(_ context.Context, _ string) (client.Result, error) {
	f.record()
	if f.err != nil {
		return nil, f.err
	}
	if f.readRes != nil {
		return f.readRes, nil
	}
	return client.Result{"contents": json.RawMessage(`[]`)}, nil
}

func (f *fakeUpstream) ServerURL() string {
	return "http://fake-upstream"
}

// syncBuffer lets tests read captured log output while server goroutines are
// still writing.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger(buf *syncBuffer) pslog.Logger {
	return pslog.NewWithOptions(context.Background(), buf, pslog.Options{
		Mode:             pslog.ModeStructured,
		DisableTimestamp: true,
		NoColor:          true,
		MinLevel:         pslog.DebugLevel,
	})
}

func waitFor(t *testing.T, timeout, interval time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if fn() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(interval)
	}
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	if _, err := NewServer(Config{UpstreamURL: "ftp://mcp.internal"}); err == nil {
		t.Fatal("expected config validation error")
	}
	if _, err := NewServer(Config{APIKey: "a", APIKeyFile: "/run/secrets/key"}); err == nil {
		t.Fatal("expected error for conflicting auth settings")
	}
}

func TestNewServerWarnsWhenAuthDisabled(t *testing.T) {
	var open syncBuffer
	srv, err := NewServer(Config{}, WithLogger(captureLogger(&open)), WithUpstream(&fakeUpstream{}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()
	if !strings.Contains(open.String(), "auth.disabled") {
		t.Fatalf("expected open-mode warning, logs:\n%s", open.String())
	}

	var armed syncBuffer
	srv2, err := NewServer(Config{APIKey: "sekrit"}, WithLogger(captureLogger(&armed)), WithUpstream(&fakeUpstream{}))
	if err != nil {
		t.Fatalf("new server with key: %v", err)
	}
	defer srv2.Close()
	if strings.Contains(armed.String(), "auth.disabled") {
		t.Fatalf("did not expect open-mode warning with api key set, logs:\n%s", armed.String())
	}
}

func TestServerHandlerServesBanner(t *testing.T) {
	fake := &fakeUpstream{}
	srv, err := NewServer(Config{}, WithUpstream(fake), WithLogger(pslog.NoopLogger()))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var banner api.RootResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &banner); err != nil {
		t.Fatalf("decode banner: %v", err)
	}
	if banner.Service != "mcpbridge" {
		t.Fatalf("expected service mcpbridge, got %q", banner.Service)
	}
	if banner.Status != "running" {
		t.Fatalf("expected status running, got %q", banner.Status)
	}
	if banner.MCPServer != fake.ServerURL() {
		t.Fatalf("expected upstream %q, got %q", fake.ServerURL(), banner.MCPServer)
	}
	if banner.Version == "" {
		t.Fatal("expected version in banner")
	}
}

func TestServerAuthGateRunsBeforeAudit(t *testing.T) {
	fake := &fakeUpstream{}
	var buf syncBuffer
	srv, err := NewServer(Config{APIKey: "sekrit", LogPayloads: true},
		WithLogger(captureLogger(&buf)),
		WithUpstream(fake),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/tools/search", strings.NewReader(`{"arguments":{}}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without key, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Detail != "Could not validate credentials" {
		t.Fatalf("expected generic rejection detail, got %q", errResp.Detail)
	}
	if fake.Calls() != 0 {
		t.Fatalf("expected no upstream traffic for rejected request, got %d calls", fake.Calls())
	}
	if strings.Contains(buf.String(), "audit.request.incoming") {
		t.Fatalf("rejected request must not reach the audit interceptor, logs:\n%s", buf.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/tools/search", strings.NewReader(`{"arguments":{"query":"x"}}`))
	req.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d: %s", rec.Code, rec.Body.String())
	}
	if fake.Calls() != 1 {
		t.Fatalf("expected one upstream call, got %d", fake.Calls())
	}
	logs := buf.String()
	if !strings.Contains(logs, "audit.request.incoming") || !strings.Contains(logs, "audit.response.outgoing") {
		t.Fatalf("expected audit entries for admitted request, logs:\n%s", logs)
	}
}

func TestServerCORSPreflightSkipsAuth(t *testing.T) {
	fake := &fakeUpstream{}
	srv, err := NewServer(Config{APIKey: "sekrit"}, WithUpstream(fake), WithLogger(pslog.NoopLogger()))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer srv.Close()

	req := httptest.NewRequest(http.MethodOptions, "/tools/search", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
	if fake.Calls() != 0 {
		t.Fatalf("preflight must not reach the upstream, got %d calls", fake.Calls())
	}
}

func TestStartServerLifecycle(t *testing.T) {
	stub := NewMCPStub()
	defer stub.Close()
	stub.SetTools(api.Tool{Name: "search", Description: "run a search"})

	srv, stop, err := StartServer(context.Background(), Config{
		Listen:      "127.0.0.1:0",
		UpstreamURL: stub.URL(),
	})
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	addr := srv.ListenerAddr()
	if addr == nil {
		t.Fatal("listener address not available")
	}

	resp, err := http.Get("http://" + addr.String() + "/tools")
	if err != nil {
		t.Fatalf("get tools: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var list api.ToolListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if len(list.Tools) != 1 || list.Tools[0].Name != "search" {
		t.Fatalf("unexpected tool list: %+v", list.Tools)
	}

	if err := stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStartServerToleratesUnreachableUpstream(t *testing.T) {
	stub := NewMCPStub()
	target := stub.URL()
	stub.Close()

	var buf syncBuffer
	srv, stop, err := StartServer(context.Background(), Config{
		Listen:          "127.0.0.1:0",
		UpstreamURL:     target,
		UpstreamTimeout: time.Second,
	}, WithLogger(captureLogger(&buf)))
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer func() { _ = stop(context.Background()) }()

	waitFor(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return strings.Contains(buf.String(), "upstream.connect_failed")
	})
	if !strings.Contains(buf.String(), "bridge will connect on first request") {
		t.Fatalf("expected lazy-connect notice, logs:\n%s", buf.String())
	}

	base := "http://" + srv.ListenerAddr().String()
	resp, err := http.Get(base + "/tools")
	if err != nil {
		t.Fatalf("get tools: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 with upstream down, got %d", resp.StatusCode)
	}
	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.ErrorCode != "bad_gateway" {
		t.Fatalf("expected bad_gateway, got %q", errResp.ErrorCode)
	}

	respHealth, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer respHealth.Body.Close()
	if respHealth.StatusCode != http.StatusOK {
		t.Fatalf("health must answer 200 even when degraded, got %d", respHealth.StatusCode)
	}
	var health api.HealthResponse
	if err := json.NewDecoder(respHealth.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "degraded" || health.MCPConnection != "disconnected" {
		t.Fatalf("expected degraded health, got %+v", health)
	}
	if health.Error == "" {
		t.Fatal("expected failure reason in degraded health")
	}
}
