package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"pkt.systems/mcpbridge/internal/apikey"
	"pkt.systems/mcpbridge/internal/svcfields"
	"pkt.systems/pslog"
)

// AuthGate admits or rejects requests based on the X-API-Key header. It runs
// before the audit interceptor so rejected requests are never buffered and
// never reach the upstream client.
type AuthGate struct {
	source *apikey.Source
	logger pslog.Logger
}

// NewAuthGate builds the gate around an API key source. A nil source or a
// source without a key leaves the gateway in open mode.
func NewAuthGate(source *apikey.Source, logger pslog.Logger) *AuthGate {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &AuthGate{
		source: source,
		logger: svcfields.WithSubsystem(logger, "api.http.auth"),
	}
}

// Enabled reports whether a key is currently configured.
func (g *AuthGate) Enabled() bool {
	return g != nil && g.source.Enabled()
}

// Wrap guards the tool and resource routes. The banner and health endpoints
// stay open so probes work without credentials.
func (g *AuthGate) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requiresAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		configured := ""
		if g != nil && g.source != nil {
			configured = g.source.Current()
		}
		if configured == "" {
			// Open mode. The server warns once at startup.
			next.ServeHTTP(w, r)
			return
		}
		supplied := r.Header.Get(headerAPIKey)
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(configured)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		// Deliberately generic. Neither the reason nor any key material
		// belongs in the response or the log line.
		g.logger.Warn("auth.rejected", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		writeErrorResponse(w, http.StatusForbidden, "forbidden", "Could not validate credentials")
	})
}

func requiresAuth(path string) bool {
	switch {
	case path == "/tools", strings.HasPrefix(path, "/tools/"):
		return true
	case path == "/resources", strings.HasPrefix(path, "/resources/"):
		return true
	}
	return false
}
