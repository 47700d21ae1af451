// Package client talks JSON-RPC 2.0 to a single upstream MCP server over
// HTTP. It owns the persistent connection context, builds the request
// envelopes, and maps upstream failures onto two typed error classes:
// *TransportError for exchanges that never produced a usable JSON-RPC
// response, and *ProtocolError for well-formed responses carrying an error
// member.
//
// Copyright (C) 2025 Michel Blomgren <https://pkt.systems>
//
// # Quick start
//
//	cli, err := client.New("http://localhost:3001/mcp",
//	    client.WithAuthToken(os.Getenv("MCP_TOKEN")),
//	    client.WithTimeout(30*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cli.Close()
//
//	tools, err := cli.ListTools(ctx)
//	if err != nil {
//	    var perr *client.ProtocolError
//	    if errors.As(err, &perr) {
//	        log.Fatalf("upstream rejected the call: %v", perr)
//	    }
//	    log.Fatal(err)
//	}
//
// Connect is optional: the first call establishes the connection context on
// demand, and a client that has been Disconnect()ed reconnects transparently.
// Envelopes are always POSTed to the root path of the upstream host; the path
// component of the configured URL only documents where the MCP endpoint
// lives.
//
// # Audit logging
//
// With client.WithPayloadLogging(true) every call logs the full outbound
// envelope before sending and the full inbound body after receiving,
// pretty-printed when the payload is valid JSON. The log lines carry the
// method, the envelope id, the HTTP status, and the call duration, so one
// exchange can be reconstructed end to end from the log alone.
package client
