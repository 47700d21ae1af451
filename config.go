package mcpbridge

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint the gateway binds to.
	DefaultListen = "0.0.0.0:8000"
	// DefaultUpstreamURL points the gateway at a local MCP server when no
	// upstream is configured.
	DefaultUpstreamURL = "http://localhost:3001/mcp"
	// DefaultUpstreamTimeout bounds each forwarded JSON-RPC call.
	DefaultUpstreamTimeout = 30 * time.Second
	// DefaultMaxBodyBytes bounds buffered request payloads.
	DefaultMaxBodyBytes = int64(10 << 20)
	// DefaultShutdownTimeout caps graceful HTTP shutdown plus upstream teardown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultLogLevel is the minimum level emitted when none is configured.
	DefaultLogLevel = "info"
	// DefaultCORSOrigins admits every browser origin, matching the open
	// posture of the service the gateway fronts.
	DefaultCORSOrigins = "*"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultSysmonSampleInterval controls load observer sampling cadence.
	DefaultSysmonSampleInterval = 10 * time.Second
	// DefaultSysmonLogInterval controls how often the load observer logs a summary.
	DefaultSysmonLogInterval = time.Minute
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// Config captures the tunables for a mcpbridge.Server instance.
type Config struct {
	// Listen is the gateway bind address (for example "0.0.0.0:8000").
	Listen string
	// UpstreamURL is the MCP server base URL; requests post to its root path.
	UpstreamURL string
	// UpstreamToken is sent as Authorization: Bearer on upstream calls when set.
	UpstreamToken string
	// UpstreamTimeout bounds each upstream JSON-RPC round trip.
	UpstreamTimeout time.Duration
	// UpstreamTLSVerify controls upstream certificate verification (default on).
	UpstreamTLSVerify bool
	// UpstreamTLSVerifySet reports whether UpstreamTLSVerify was explicitly set by caller/flags/env.
	UpstreamTLSVerifySet bool
	// APIKey is the shared secret expected in X-API-Key; empty disables the gate.
	APIKey string
	// APIKeyFile reads the shared secret from a file and follows rotations.
	APIKeyFile string
	// LogLevel is the minimum pslog level (trace/debug/info/warn/error).
	LogLevel string
	// LogPayloads enables full request/response payload auditing.
	LogPayloads bool
	// CORSOrigins is a comma-separated origin allowlist; "*" admits every origin.
	CORSOrigins string
	// MaxBodyBytes caps buffered request payloads; larger requests get 413.
	MaxBodyBytes int64
	// ShutdownTimeout caps total graceful shutdown duration.
	ShutdownTimeout time.Duration
	// OTLPEndpoint enables OTLP export to the given collector endpoint.
	OTLPEndpoint string
	// DisableHTTPTracing disables OpenTelemetry spans for HTTP handlers.
	DisableHTTPTracing bool
	// MetricsListen is the metrics endpoint bind address; empty disables metrics.
	MetricsListen string
	// PprofListen is the pprof endpoint bind address; empty disables pprof.
	PprofListen string
	// EnableProfilingMetrics enables runtime profiling metrics on the metrics endpoint.
	EnableProfilingMetrics bool
	// SysmonEnabled starts the periodic load observer.
	SysmonEnabled bool
	// SysmonSampleInterval controls load observer sampling cadence.
	SysmonSampleInterval time.Duration
	// SysmonLogInterval controls load observer summary logging cadence.
	SysmonLogInterval time.Duration
}

// AuthEnabled reports whether the gateway will demand an API key.
func (c Config) AuthEnabled() bool {
	return strings.TrimSpace(c.APIKey) != "" || strings.TrimSpace(c.APIKeyFile) != ""
}

// Validate applies defaults and rejects combinations the server cannot run with.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	c.UpstreamURL = strings.TrimSpace(c.UpstreamURL)
	if c.UpstreamURL == "" {
		c.UpstreamURL = DefaultUpstreamURL
	}
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("config: upstream url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("config: upstream url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("config: upstream url %q has no host", c.UpstreamURL)
	}
	if c.UpstreamTimeout < 0 {
		return fmt.Errorf("config: upstream timeout must be >= 0")
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if !c.UpstreamTLSVerifySet {
		c.UpstreamTLSVerify = true
	}
	if strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.APIKeyFile) != "" {
		return fmt.Errorf("config: api-key and api-key-file are mutually exclusive")
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.CORSOrigins == "" {
		c.CORSOrigins = DefaultCORSOrigins
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown timeout must be >= 0")
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	if c.SysmonSampleInterval <= 0 {
		c.SysmonSampleInterval = DefaultSysmonSampleInterval
	}
	if c.SysmonLogInterval <= 0 {
		c.SysmonLogInterval = DefaultSysmonLogInterval
	}
	return nil
}

// CORSOriginList splits the configured comma-separated origins. Entries are
// trimmed; empty entries are dropped.
func (c Config) CORSOriginList() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// DefaultConfigDir returns the default configuration directory ($HOME/.mcpbridge).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("MCPBRIDGE_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mcpbridge"), nil
}
