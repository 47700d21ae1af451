package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuditDisabledIsIdentity(t *testing.T) {
	mux := http.NewServeMux()
	got := NewAuditInterceptor(nil, false, 0).Wrap(mux)
	if sm, ok := got.(*http.ServeMux); !ok || sm != mux {
		t.Fatal("disabled interceptor must return the handler unchanged")
	}
}

func TestAuditPassesBodiesByteIdentical(t *testing.T) {
	var buf bytes.Buffer
	interceptor := NewAuditInterceptor(newCaptureLogger(&buf), true, 0)

	const reqBody = "plain text ping"
	const respBody = "plain text pong"
	var seen []byte
	h := interceptor.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		seen, err = io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if r.ContentLength != int64(len(reqBody)) {
			t.Errorf("expected restated content length %d, got %d", len(reqBody), r.ContentLength)
		}
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(respBody))
	}))

	req := httptest.NewRequest(http.MethodPost, "/tools/search", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if string(seen) != reqBody {
		t.Fatalf("handler saw %q, want %q", seen, reqBody)
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected buffered status replayed, got %d", rec.Code)
	}
	if rec.Body.String() != respBody {
		t.Fatalf("caller saw %q, want %q", rec.Body.String(), respBody)
	}

	logs := buf.String()
	for _, want := range []string{"audit.request.incoming", "audit.response.outgoing", reqBody, respBody} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %q in audit log, got %s", want, logs)
		}
	}
}

func TestAuditRejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	interceptor := NewAuditInterceptor(newCaptureLogger(&buf), true, 16)

	h := interceptor.Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("oversized request must not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodPost, "/tools/search", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "payload_too_large") {
		t.Fatalf("expected payload_too_large envelope, got %s", rec.Body.String())
	}
	if !strings.Contains(buf.String(), "audit.request.rejected") {
		t.Fatalf("expected rejection log, got %s", buf.String())
	}
}

func TestAuditSeedsCorrelationID(t *testing.T) {
	interceptor := NewAuditInterceptor(nil, true, 0)

	var seen string
	h := interceptor.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(headerCorrelationID)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen == "" {
		t.Fatal("expected audit id seeded as correlation id")
	}

	req = httptest.NewRequest(http.MethodGet, "/tools", nil)
	req.Header.Set(headerCorrelationID, "keep-me")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "keep-me" {
		t.Fatalf("expected caller correlation id preserved, got %q", seen)
	}
}

func TestFormatHeadersRedactsCredentials(t *testing.T) {
	h := http.Header{}
	h.Set("X-Api-Key", "super-secret")
	h.Set("Authorization", "Bearer token-123")
	h.Set("Cookie", "session=abc")
	h.Set("Content-Type", "application/json")

	line := formatHeaders(h)
	for _, secret := range []string{"super-secret", "token-123", "session=abc"} {
		if strings.Contains(line, secret) {
			t.Fatalf("header line leaked %q: %s", secret, line)
		}
	}
	for _, want := range []string{"X-Api-Key: [redacted]", "Authorization: [redacted]", "Cookie: [redacted]", "Content-Type: application/json"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %s", want, line)
		}
	}
}
