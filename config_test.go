package mcpbridge

import (
	"testing"
	"time"
)

func TestConfigValidateDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Fatalf("expected listen default %q, got %q", DefaultListen, cfg.Listen)
	}
	if cfg.UpstreamURL != DefaultUpstreamURL {
		t.Fatalf("expected upstream default %q, got %q", DefaultUpstreamURL, cfg.UpstreamURL)
	}
	if cfg.UpstreamTimeout != DefaultUpstreamTimeout {
		t.Fatalf("expected upstream timeout default %v, got %v", DefaultUpstreamTimeout, cfg.UpstreamTimeout)
	}
	if !cfg.UpstreamTLSVerify {
		t.Fatal("expected upstream tls verification default enabled")
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("expected log level default %q, got %q", DefaultLogLevel, cfg.LogLevel)
	}
	if cfg.CORSOrigins != DefaultCORSOrigins {
		t.Fatalf("expected cors default %q, got %q", DefaultCORSOrigins, cfg.CORSOrigins)
	}
	if cfg.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("expected max body default %d, got %d", DefaultMaxBodyBytes, cfg.MaxBodyBytes)
	}
	if cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Fatalf("expected shutdown timeout default %v, got %v", DefaultShutdownTimeout, cfg.ShutdownTimeout)
	}
	if cfg.SysmonSampleInterval != DefaultSysmonSampleInterval {
		t.Fatalf("expected sysmon sample default %v, got %v", DefaultSysmonSampleInterval, cfg.SysmonSampleInterval)
	}
	if cfg.SysmonLogInterval != DefaultSysmonLogInterval {
		t.Fatalf("expected sysmon log default %v, got %v", DefaultSysmonLogInterval, cfg.SysmonLogInterval)
	}
	if cfg.AuthEnabled() {
		t.Fatal("expected auth disabled by default")
	}
}

func TestConfigUpstreamTLSVerifyExplicitFalse(t *testing.T) {
	cfg := Config{
		UpstreamTLSVerify:    false,
		UpstreamTLSVerifySet: true,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.UpstreamTLSVerify {
		t.Fatal("expected tls verification to stay disabled when explicitly set")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	cfg := Config{UpstreamURL: "ftp://mcp.internal"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-http upstream scheme")
	}
	cfg = Config{UpstreamURL: "http://"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for upstream url without host")
	}
	cfg = Config{UpstreamTimeout: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative upstream timeout")
	}
	cfg = Config{APIKey: "sekrit", APIKeyFile: "/run/secrets/bridge-key"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for api-key and api-key-file together")
	}
	cfg = Config{ShutdownTimeout: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative shutdown timeout")
	}
	cfg = Config{EnableProfilingMetrics: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for profiling metrics without metrics listener")
	}
}

func TestConfigAuthEnabled(t *testing.T) {
	cfg := Config{APIKey: "   "}
	if cfg.AuthEnabled() {
		t.Fatal("expected whitespace api key to count as unset")
	}
	cfg = Config{APIKey: "sekrit"}
	if !cfg.AuthEnabled() {
		t.Fatal("expected auth enabled with api key")
	}
	cfg = Config{APIKeyFile: "/run/secrets/bridge-key"}
	if !cfg.AuthEnabled() {
		t.Fatal("expected auth enabled with api key file")
	}
}

func TestConfigCORSOriginList(t *testing.T) {
	cfg := Config{CORSOrigins: "https://a.example, https://b.example ,,"}
	got := cfg.CORSOriginList()
	want := []string{"https://a.example", "https://b.example"}
	if len(got) != len(want) {
		t.Fatalf("expected %d origins, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("origin %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	cfg = Config{CORSOrigins: "*"}
	list := cfg.CORSOriginList()
	if len(list) != 1 || list[0] != "*" {
		t.Fatalf("expected wildcard list, got %v", list)
	}
}
