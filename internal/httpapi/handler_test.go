package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pkt.systems/pslog"

	"pkt.systems/mcpbridge/api"
	"pkt.systems/mcpbridge/client"
)

// stubUpstream satisfies Upstream in-process and records what the handler
// forwards.
type stubUpstream struct {
	tools      []api.Tool
	resources  []api.Resource
	toolResult client.Result
	readResult client.Result
	listErr    error
	callErr    error
	readErr    error

	mu       sync.Mutex
	toolName string
	toolArgs map[string]any
	readURI  string
}

func (s *stubUpstream) ListTools(context.Context) ([]api.Tool, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.tools, nil
}

func (s *stubUpstream) CallTool(_ context.Context, name string, arguments map[string]any) (client.Result, error) {
	s.mu.Lock()
	s.toolName = name
	s.toolArgs = arguments
	s.mu.Unlock()
	if s.callErr != nil {
		return nil, s.callErr
	}
	if s.toolResult != nil {
		return s.toolResult, nil
	}
	return client.Result{
		"content": json.RawMessage(`[]`),
		"isError": json.RawMessage(`false`),
	}, nil
}

func (s *stubUpstream) ListResources(context.Context) ([]api.Resource, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.resources, nil
}

func (s *stubUpstream) ReadResource(_ context.Context, uri string) (client.Result, error) {
	s.mu.Lock()
	s.readURI = uri
	s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.readResult != nil {
		return s.readResult, nil
	}
	return client.Result{"contents": json.RawMessage(`[]`)}, nil
}

func (s *stubUpstream) ServerURL() string {
	return "http://mcp.test"
}

func newTestHandler(up Upstream, maxBytes int64) http.Handler {
	h := New(Config{
		Upstream:           up,
		Logger:             pslog.NoopLogger(),
		JSONMaxBytes:       maxBytes,
		ServiceName:        "mcpbridge",
		Version:            "v1.2.3-test",
		DisableHTTPTracing: true,
	})
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestRootBanner(t *testing.T) {
	h := newTestHandler(&stubUpstream{}, 0)
	rec := doRequest(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var banner api.RootResponse
	decodeBody(t, rec, &banner)
	if banner.Service != "mcpbridge" || banner.Status != "running" {
		t.Fatalf("unexpected banner: %+v", banner)
	}
	if banner.Version != "v1.2.3-test" {
		t.Fatalf("expected injected version, got %q", banner.Version)
	}
	if banner.MCPServer != "http://mcp.test" {
		t.Fatalf("expected upstream url in banner, got %q", banner.MCPServer)
	}
}

func TestHealthProbe(t *testing.T) {
	up := &stubUpstream{}
	h := newTestHandler(up, 0)
	rec := doRequest(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var health api.HealthResponse
	decodeBody(t, rec, &health)
	if health.Status != "healthy" || health.MCPConnection != "connected" {
		t.Fatalf("expected healthy, got %+v", health)
	}

	up.listErr = &client.TransportError{Err: context.DeadlineExceeded}
	rec = doRequest(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded health must still answer 200, got %d", rec.Code)
	}
	decodeBody(t, rec, &health)
	if health.Status != "degraded" || health.MCPConnection != "disconnected" {
		t.Fatalf("expected degraded, got %+v", health)
	}
	if !strings.Contains(health.Error, "deadline exceeded") {
		t.Fatalf("expected probe failure reason, got %q", health.Error)
	}
}

func TestToolsListEmptyCatalogue(t *testing.T) {
	h := newTestHandler(&stubUpstream{}, 0)
	rec := doRequest(t, h, http.MethodGet, "/tools", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	// A nil catalogue must serialize as [], not null.
	if !strings.Contains(rec.Body.String(), `"tools":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestToolsListUpstreamFailure(t *testing.T) {
	up := &stubUpstream{listErr: &client.TransportError{Err: context.DeadlineExceeded}}
	h := newTestHandler(up, 0)
	rec := doRequest(t, h, http.MethodGet, "/tools", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var errResp api.ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.ErrorCode != "bad_gateway" {
		t.Fatalf("expected bad_gateway, got %q", errResp.ErrorCode)
	}
	if !strings.HasPrefix(errResp.Detail, "Failed to communicate with MCP server") {
		t.Fatalf("expected upstream failure detail, got %q", errResp.Detail)
	}
}

func TestToolCallForwardsArguments(t *testing.T) {
	up := &stubUpstream{
		toolResult: client.Result{
			"content": json.RawMessage(`[{"type":"text","text":"3 events"}]`),
			"isError": json.RawMessage(`false`),
		},
	}
	h := newTestHandler(up, 0)
	rec := doRequest(t, h, http.MethodPost, "/tools/search",
		`{"arguments":{"query":"index=main","count":5}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if up.toolName != "search" {
		t.Fatalf("expected tool name search, got %q", up.toolName)
	}
	if up.toolArgs["query"] != "index=main" {
		t.Fatalf("expected arguments forwarded, got %v", up.toolArgs)
	}
	var out api.ToolExecutionResponse
	decodeBody(t, rec, &out)
	if out.IsError {
		t.Fatal("expected isError false")
	}
	if len(out.Content) != 1 || string(out.Content[0]) != `{"type":"text","text":"3 events"}` {
		t.Fatalf("expected content passed through verbatim, got %v", out.Content)
	}
}

func TestToolCallEmptyBodyMeansNoArguments(t *testing.T) {
	up := &stubUpstream{}
	h := newTestHandler(up, 0)
	rec := doRequest(t, h, http.MethodPost, "/tools/search", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty body, got %d: %s", rec.Code, rec.Body.String())
	}
	var out api.ToolExecutionResponse
	decodeBody(t, rec, &out)
	if out.IsError || len(out.Content) != 0 {
		t.Fatalf("expected empty default result, got %+v", out)
	}
}

func TestToolCallRelaysToolError(t *testing.T) {
	up := &stubUpstream{
		toolResult: client.Result{
			"content": json.RawMessage(`[{"type":"text","text":"unknown index"}]`),
			"isError": json.RawMessage(`true`),
		},
	}
	h := newTestHandler(up, 0)
	rec := doRequest(t, h, http.MethodPost, "/tools/search", `{"arguments":{}}`)
	// Tool-level failures are data, not HTTP errors.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out api.ToolExecutionResponse
	decodeBody(t, rec, &out)
	if !out.IsError {
		t.Fatal("expected isError relayed as true")
	}
}

func TestToolCallBodyValidation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown field", `{"arguments":{},"extra":1}`, http.StatusBadRequest, "invalid_body"},
		{"malformed json", `{"arguments":`, http.StatusBadRequest, "invalid_body"},
		{"trailing data", `{"arguments":{}}{}`, http.StatusBadRequest, "invalid_body"},
		{"oversized", `{"arguments":{"pad":"` + strings.Repeat("x", 128) + `"}}`, http.StatusRequestEntityTooLarge, "payload_too_large"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			up := &stubUpstream{}
			h := newTestHandler(up, 64)
			rec := doRequest(t, h, http.MethodPost, "/tools/search", tc.body)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			var errResp api.ErrorResponse
			decodeBody(t, rec, &errResp)
			if errResp.ErrorCode != tc.wantCode {
				t.Fatalf("expected %q, got %q", tc.wantCode, errResp.ErrorCode)
			}
			if up.toolName != "" {
				t.Fatalf("rejected body must not reach the upstream, forwarded %q", up.toolName)
			}
		})
	}
}

func TestToolCallUpstreamProtocolError(t *testing.T) {
	up := &stubUpstream{callErr: &client.ProtocolError{Code: -32601, Message: "method not found"}}
	h := newTestHandler(up, 0)
	rec := doRequest(t, h, http.MethodPost, "/tools/search", `{"arguments":{}}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for protocol error, got %d", rec.Code)
	}
	var errResp api.ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.ErrorCode != "bad_gateway" {
		t.Fatalf("expected bad_gateway, got %q", errResp.ErrorCode)
	}
	if !strings.Contains(errResp.Detail, "mcp error -32601: method not found") {
		t.Fatalf("expected upstream reason in detail, got %q", errResp.Detail)
	}
}

func TestResourcesList(t *testing.T) {
	up := &stubUpstream{resources: []api.Resource{{URI: "splunk://indexes/main", Name: "main"}}}
	h := newTestHandler(up, 0)
	rec := doRequest(t, h, http.MethodGet, "/resources", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list api.ResourceListResponse
	decodeBody(t, rec, &list)
	if len(list.Resources) != 1 || list.Resources[0].URI != "splunk://indexes/main" {
		t.Fatalf("unexpected resources: %+v", list.Resources)
	}

	up.resources = nil
	rec = doRequest(t, h, http.MethodGet, "/resources", "")
	if !strings.Contains(rec.Body.String(), `"resources":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestResourceReadDecodesURI(t *testing.T) {
	up := &stubUpstream{
		readResult: client.Result{
			"contents": json.RawMessage(`[{"uri":"splunk://indexes/main","mimeType":"application/json","text":"{}"}]`),
		},
	}
	h := newTestHandler(up, 0)
	rec := doRequest(t, h, http.MethodGet, "/resources/splunk%3A%2F%2Findexes%2Fmain", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if up.readURI != "splunk://indexes/main" {
		t.Fatalf("expected decoded uri forwarded, got %q", up.readURI)
	}
	var read api.ResourceReadResponse
	decodeBody(t, rec, &read)
	if len(read.Contents) != 1 || read.Contents[0].URI != "splunk://indexes/main" {
		t.Fatalf("unexpected contents: %+v", read.Contents)
	}
}

func TestResourceReadMissingURI(t *testing.T) {
	h := newTestHandler(&stubUpstream{}, 0)
	rec := doRequest(t, h, http.MethodGet, "/resources/", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var errResp api.ErrorResponse
	decodeBody(t, rec, &errResp)
	if errResp.ErrorCode != "missing_uri" {
		t.Fatalf("expected missing_uri, got %q", errResp.ErrorCode)
	}
}

func TestCorrelationIDEcho(t *testing.T) {
	h := newTestHandler(&stubUpstream{}, 0)

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.Header.Set(headerCorrelationID, "trace-me-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(headerCorrelationID); got != "trace-me-42" {
		t.Fatalf("expected correlation id echoed, got %q", got)
	}

	rec = doRequest(t, h, http.MethodGet, "/tools", "")
	if rec.Header().Get(headerCorrelationID) == "" {
		t.Fatal("expected generated correlation id on response")
	}
}

func TestNilUpstreamAnswers503(t *testing.T) {
	h := newTestHandler(nil, 0)
	for _, target := range []string{"/health", "/tools", "/resources"} {
		rec := doRequest(t, h, http.MethodGet, target, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503 for %s, got %d", target, rec.Code)
		}
		var errResp api.ErrorResponse
		decodeBody(t, rec, &errResp)
		if errResp.ErrorCode != "upstream_unconfigured" {
			t.Fatalf("expected upstream_unconfigured, got %q", errResp.ErrorCode)
		}
	}
}

func TestOpenAPIDocumentServed(t *testing.T) {
	h := newTestHandler(&stubUpstream{}, 0)
	rec := doRequest(t, h, http.MethodGet, "/openapi.json", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}
	var doc map[string]any
	decodeBody(t, rec, &doc)
	if doc["swagger"] != "2.0" {
		t.Fatalf("expected swagger 2.0, got %v", doc["swagger"])
	}
	info, _ := doc["info"].(map[string]any)
	if info["title"] != "mcpbridge API" {
		t.Fatalf("expected document title, got %v", info["title"])
	}

	rec = doRequest(t, h, http.MethodGet, "/docs", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "/openapi.json") {
		t.Fatal("expected docs page to reference the openapi document")
	}
}
