// Package mcpbridge exposes the Go APIs behind the REST gateway that bridges
// plain HTTP clients to a Model Context Protocol (MCP) server speaking
// JSON-RPC 2.0 over HTTP. The gateway is designed to run cleanly as PID 1,
// but the package also makes it easy to embed the bridge in existing
// processes or talk to an MCP server directly from Go.
//
// Copyright (C) 2025 Michel Blomgren <https://pkt.systems>
//
// # Running a gateway
//
// The gateway listens on `Config.Listen` and forwards every tool and resource
// operation to the single upstream configured via `Config.UpstreamURL`:
//
//	cfg := mcpbridge.Config{
//	    Listen:      "0.0.0.0:8000",
//	    UpstreamURL: "http://localhost:3001/mcp",
//	    APIKey:      os.Getenv("BRIDGE_KEY"),
//	    LogPayloads: true,
//	}
//	srv, err := mcpbridge.NewServer(cfg, mcpbridge.WithLogger(logger))
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("mcpbridge: %v", err)
//	    }
//	}()
//	defer func() {
//	    if err := srv.Shutdown(context.Background()); err != nil {
//	        log.Printf("mcpbridge shutdown: %v", err)
//	    }
//	}()
//
// `StartServer` wraps the same sequence for embedding: it launches the server
// in a goroutine, waits for the listener, and returns a stop function.
//
// # REST surface
//
// Six routes cover the bridged MCP operations:
//
//   - `GET /` – service banner (name, version, upstream URL)
//   - `GET /health` – live upstream probe; always 200, body reports healthy/degraded
//   - `GET /tools` – tool catalog (upstream tools/list)
//   - `POST /tools/{name}` – execute a tool (upstream tools/call)
//   - `GET /resources` – resource catalog (upstream resources/list)
//   - `GET /resources/{uri}` – read a resource (upstream resources/read); the
//     URI path segment is URL-encoded since resource URIs carry scheme separators
//
// The generated OpenAPI document is served at `/openapi.json` with an
// interactive reference at `/docs`. Upstream failures map to 502 with a
// stable `{"error":..., "detail":...}` envelope; the detail keeps the
// upstream reason so operators can diagnose from the REST side alone.
//
// # Authentication and key rotation
//
// When `Config.APIKey` (or `Config.APIKeyFile`) is set, tool and resource
// routes require the shared secret in the `X-API-Key` header; comparisons are
// constant-time and rejections answer 403 before any request buffering or
// upstream traffic. Metadata routes (`/`, `/health`) stay open for probes.
// `APIKeyFile` follows file rotations (atomic rename included) without a
// restart. Leaving both empty runs the gateway open, which is logged loudly
// at startup.
//
// # Payload auditing
//
// With `Config.LogPayloads` enabled, an interceptor buffers each request and
// response (up to `Config.MaxBodyBytes`, default 10 MiB) and logs both in
// full, before and after the handler, under a shared audit id. Forwarded
// bytes are exactly the bytes received; JSON payloads are pretty-printed in
// the log only. Oversized request bodies answer 413 without reaching the
// handler.
//
// # Upstream client
//
// The Go client (`pkt.systems/mcpbridge/client`) speaks JSON-RPC 2.0 to the
// MCP server and can be used standalone:
//
//	cli, err := client.New("http://localhost:3001/mcp",
//	    client.WithTimeout(10*time.Second),
//	    client.WithAuthToken(token),
//	)
//	if err != nil { log.Fatal(err) }
//	defer cli.Close()
//	tools, err := cli.ListTools(ctx)
//	if err != nil { log.Fatal(err) }
//
// Connections are established lazily; `Connect` only validates the endpoint,
// and the first call performs the round trip. Failures are typed:
// `*client.TransportError` for network, timeout, and HTTP-status failures,
// `*client.ProtocolError` when the JSON-RPC envelope carries an error member
// (regardless of HTTP status). Calls are never retried by the client.
//
// # Observability
//
// Structured logs go through pslog with dot-delimited subsystem tags.
// Setting `Config.OTLPEndpoint` exports traces via OTLP (gRPC or HTTP);
// `Config.MetricsListen` serves a Prometheus scrape endpoint and
// `Config.PprofListen` the standard pprof handlers. An optional system load
// observer (`Config.SysmonEnabled`) samples host memory, load averages, and
// in-flight request counts, publishing them as OpenTelemetry gauges and
// periodic log summaries.
//
// # CLI
//
// The `mcpbridge` binary runs the gateway by default and ships operator
// subcommands that talk to the upstream directly: `tools`, `call`,
// `resources`, and `ping`, plus `config gen` for a starter YAML config and
// `version`. Every flag can also be set via `MCPBRIDGE_*` environment
// variables or the config file.
package mcpbridge
