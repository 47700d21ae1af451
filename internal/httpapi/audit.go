package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/xid"

	"pkt.systems/mcpbridge/internal/jsonutil"
	"pkt.systems/mcpbridge/internal/svcfields"
	"pkt.systems/pslog"
)

// AuditInterceptor logs full request and response payloads. Bodies are
// single-read streams, so it buffers them completely and hands byte-identical
// copies to the downstream handler and the caller.
type AuditInterceptor struct {
	logger       pslog.Logger
	enabled      bool
	maxBodyBytes int64
}

// NewAuditInterceptor builds the interceptor. maxBodyBytes bounds how much of
// a request body is buffered; larger requests are refused before any
// forwarding happens.
func NewAuditInterceptor(logger pslog.Logger, enabled bool, maxBodyBytes int64) *AuditInterceptor {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultJSONMaxBytes
	}
	return &AuditInterceptor{
		logger:       svcfields.WithSubsystem(logger, "api.http.audit"),
		enabled:      enabled,
		maxBodyBytes: maxBodyBytes,
	}
}

// Wrap installs the interceptor around next. When auditing is disabled the
// original handler is returned untouched, so the off switch costs nothing.
func (a *AuditInterceptor) Wrap(next http.Handler) http.Handler {
	if a == nil || !a.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		auditID := xid.New().String()
		if strings.TrimSpace(r.Header.Get(headerCorrelationID)) == "" {
			// Lets the audit id double as the correlation id downstream.
			r.Header.Set(headerCorrelationID, auditID)
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxBodyBytes))
		if err != nil {
			httpErr := bodyError(err)
			a.logger.Warn("audit.request.rejected",
				"audit_id", auditID,
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
			writeErrorResponse(w, httpErr.Status, httpErr.Code, httpErr.Detail)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))

		a.logger.Info("audit.request.incoming",
			"audit_id", auditID,
			"method", r.Method,
			"path", r.URL.Path,
			"headers", formatHeaders(r.Header),
			"payload", renderPayload(body),
		)

		rec := &auditRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		a.logger.Info("audit.response.outgoing",
			"audit_id", auditID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode(),
			"elapsed", time.Since(start),
			"payload", renderPayload(rec.body.Bytes()),
		)
		rec.flush()
	})
}

// auditRecorder buffers the handler's response so it can be logged and then
// replayed byte for byte. Headers go straight to the real writer; status and
// body are held back until flush.
type auditRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *auditRecorder) WriteHeader(status int) {
	if rec.status == 0 {
		rec.status = status
	}
}

func (rec *auditRecorder) Write(p []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	return rec.body.Write(p)
}

func (rec *auditRecorder) statusCode() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

func (rec *auditRecorder) flush() {
	rec.ResponseWriter.WriteHeader(rec.statusCode())
	if rec.body.Len() > 0 {
		_, _ = rec.ResponseWriter.Write(rec.body.Bytes())
	}
}

func renderPayload(body []byte) string {
	if len(body) == 0 {
		return "(empty body)"
	}
	if pretty, ok := jsonutil.Pretty(body); ok {
		return pretty
	}
	return string(body)
}

var redactedHeaders = map[string]struct{}{
	"X-Api-Key":     {},
	"Authorization": {},
	"Cookie":        {},
}

// formatHeaders renders headers as one sorted line. Credential-bearing values
// are redacted; an admitted request carries the real API key and that must
// never land in the log sink.
func formatHeaders(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		if _, secret := redactedHeaders[name]; secret {
			fmt.Fprintf(&b, "%s: [redacted]", name)
			continue
		}
		fmt.Fprintf(&b, "%s: %s", name, strings.Join(h[name], ", "))
	}
	return b.String()
}
