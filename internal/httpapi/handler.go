package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/mcpbridge/api"
	"pkt.systems/mcpbridge/client"
	"pkt.systems/mcpbridge/internal/correlation"
	"pkt.systems/mcpbridge/internal/svcfields"
	"pkt.systems/mcpbridge/internal/sysmon"
	"pkt.systems/pslog"
)

const defaultJSONMaxBytes = 10 << 20 // 10 MiB request/response buffering ceiling

const (
	headerAPIKey        = "X-API-Key"
	headerCorrelationID = "X-Correlation-Id"
)

// Upstream is the JSON-RPC client surface the handler forwards to. It is an
// interface so tests can substitute a fake without a live MCP server.
type Upstream interface {
	ListTools(ctx context.Context) ([]api.Tool, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (client.Result, error)
	ListResources(ctx context.Context) ([]api.Resource, error)
	ReadResource(ctx context.Context, uri string) (client.Result, error)
	ServerURL() string
}

// Handler translates REST endpoints into upstream MCP calls.
type Handler struct {
	upstream           Upstream
	logger             pslog.Logger
	monitor            *sysmon.Observer
	jsonMaxBytes       int64
	serviceName        string
	version            string
	tracer             trace.Tracer
	httpTracingEnabled bool
}

// Config groups the dependencies required by Handler.
type Config struct {
	Upstream           Upstream
	Logger             pslog.Logger
	Monitor            *sysmon.Observer
	JSONMaxBytes       int64
	ServiceName        string
	Version            string
	DisableHTTPTracing bool
}

// New constructs a Handler using the supplied configuration.
func New(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	maxBytes := cfg.JSONMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultJSONMaxBytes
	}
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "mcpbridge"
	}
	return &Handler{
		upstream:           cfg.Upstream,
		logger:             logger,
		monitor:            cfg.Monitor,
		jsonMaxBytes:       maxBytes,
		serviceName:        serviceName,
		version:            cfg.Version,
		tracer:             otel.Tracer("pkt.systems/mcpbridge/httpapi"),
		httpTracingEnabled: !cfg.DisableHTTPTracing,
	}
}

// Register wires the gateway routes and health endpoints. Tool and resource
// routes carry path parameters, so patterns use the method-qualified form.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /{$}", h.wrap("root", h.handleRoot))
	mux.Handle("GET /health", h.wrap("health", h.handleHealth))
	mux.Handle("GET /openapi.json", h.wrap("openapi", h.handleOpenAPI))
	mux.Handle("GET /docs", h.wrap("docs", h.handleDocs))
	mux.Handle("GET /tools", h.wrap("tools.list", h.handleToolsList))
	mux.Handle("POST /tools/{name}", h.wrap("tools.call", h.handleToolCall))
	mux.Handle("GET /resources", h.wrap("resources.list", h.handleResourcesList))
	mux.Handle("GET /resources/{uri...}", h.wrap("resources.read", h.handleResourceRead))
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := routerSys(operation)
	httpSpanName := "mcpbridge.http." + operation
	txSpanName := "mcpbridge.tx." + operation

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		finishRequest := h.beginRequest()
		defer finishRequest()
		reqID := newRequestID()
		instrument := h.httpTracingEnabled
		var span trace.Span
		if instrument {
			ctx, span = h.tracer.Start(ctx, txSpanName,
				trace.WithSpanKind(trace.SpanKindInternal),
				trace.WithAttributes(attribute.String("mcpbridge.sys", sys)),
			)
			span.SetAttributes(
				attribute.String("mcpbridge.operation", operation),
				attribute.String("mcpbridge.route", r.URL.Path),
			)
			span.AddEvent("mcpbridge.tx.begin")
			defer span.End()
		} else {
			span = trace.SpanFromContext(ctx)
		}

		ctx = correlation.Ensure(ctx)

		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = pslog.ContextWithLogger(ctx, logger)

		if corr := strings.TrimSpace(r.Header.Get(headerCorrelationID)); corr != "" {
			if normalized, ok := correlation.Normalize(corr); ok {
				ctx = correlation.Set(ctx, normalized)
			}
		}
		if !correlation.Has(ctx) {
			ctx = correlation.Set(ctx, correlation.Generate())
		}
		ctx, logger = applyCorrelation(ctx, logger, span)
		if corr := correlation.ID(ctx); corr != "" {
			// Before the handler writes anything, so the echo survives.
			w.Header().Set(headerCorrelationID, corr)
			ctx = client.WithCorrelationID(ctx, corr)
		}

		r = r.WithContext(ctx)

		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)

		result := "ok"
		status := codes.Ok
		statusMsg := ""
		defer func() {
			if instrument {
				duration := time.Since(start).Milliseconds()
				span.SetStatus(status, statusMsg)
				span.AddEvent("mcpbridge.tx.end", trace.WithAttributes(
					attribute.String("mcpbridge.result", result),
					attribute.Int64("mcpbridge.duration_ms", duration),
				))
			}
		}()

		if err := fn(w, r); err != nil {
			result = "error"
			status = codes.Error
			statusMsg = "handler_error"
			if instrument {
				span.RecordError(err)
			}
			var httpErr httpError
			if errors.As(err, &httpErr) {
				if instrument {
					span.SetAttributes(
						attribute.String("mcpbridge.error_code", httpErr.Code),
						attribute.Int("mcpbridge.error_status", httpErr.Status),
					)
				}
			} else if instrument {
				span.SetAttributes(attribute.String("mcpbridge.error_code", "internal"))
			}
			logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
			h.handleError(r.Context(), w, err)
			return
		}
		logger.Trace("http.request.complete", "elapsed", time.Since(start))
	})

	if !h.httpTracingEnabled {
		return handler
	}
	return otelhttp.NewHandler(handler, httpSpanName,
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}

func (h *Handler) beginRequest() func() {
	if h.monitor == nil {
		return func() {}
	}
	return h.monitor.BeginRequest()
}

func (h *Handler) beginUpstreamCall() func() {
	if h.monitor == nil {
		return func() {}
	}
	return h.monitor.BeginUpstreamCall()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	writeJSON(w, status, payload, headers)
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		logger.Debug("http.request.failure",
			"status", httpErr.Status,
			"code", httpErr.Code,
			"detail", httpErr.Detail,
		)
		writeJSON(w, httpErr.Status, api.ErrorResponse{
			ErrorCode: httpErr.Code,
			Detail:    httpErr.Detail,
		}, nil)
		return
	}
	logger.Error("http.request.internal", "error", err)
	writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{
		ErrorCode: "internal_error",
		Detail:    "internal server error",
	}, nil)
}

type httpError struct {
	Status int
	Code   string
	Detail string
}

func (h httpError) Error() string {
	if h.Detail != "" {
		return fmt.Sprintf("%s: %s", h.Code, h.Detail)
	}
	return h.Code
}

func routerSys(operation string) string {
	parts := strings.FieldsFunc(operation, func(r rune) bool {
		switch r {
		case '.', '/', '-', '_':
			return true
		}
		return false
	})
	if len(parts) == 0 {
		return "api.http.router"
	}
	return "api.http.router." + strings.Join(parts, ".")
}

type correlationAppliedKey struct{}

func applyCorrelation(ctx context.Context, logger pslog.Logger, span trace.Span) (context.Context, pslog.Logger) {
	if id := correlation.ID(ctx); id != "" {
		if ctx.Value(correlationAppliedKey{}) == nil {
			logger = logger.With("cid", id)
			ctx = context.WithValue(ctx, correlationAppliedKey{}, struct{}{})
		} else if existing := pslog.LoggerFromContext(ctx); existing != nil {
			logger = existing
		}
		ctx = pslog.ContextWithLogger(ctx, logger)
		if span != nil {
			span.SetAttributes(attribute.String("mcpbridge.correlation_id", id))
		}
	}
	return ctx, logger
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
