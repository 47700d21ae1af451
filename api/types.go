package api

import "encoding/json"

// RootResponse is returned by GET / and carries static service metadata.
type RootResponse struct {
	// Service is the human-readable service name.
	Service string `json:"service"`
	// Version is the running gateway version.
	Version string `json:"version"`
	// Status is always "running" while the process serves requests.
	Status string `json:"status"`
	// MCPServer is the configured upstream MCP endpoint URL.
	MCPServer string `json:"mcp_server"`
}

// HealthResponse is returned by GET /health after probing the upstream.
type HealthResponse struct {
	// Status is "healthy" when the upstream answered the probe, "degraded" otherwise.
	Status string `json:"status"`
	// MCPConnection is "connected" or "disconnected".
	MCPConnection string `json:"mcp_connection"`
	// Error carries the upstream failure reason when degraded.
	Error string `json:"error,omitempty"`
}

// Tool describes one tool advertised by the upstream MCP server.
type Tool struct {
	// Name is the tool identifier used in POST /tools/{name}.
	Name string `json:"name"`
	// Description is the upstream-provided tool description.
	Description string `json:"description"`
	// InputSchema is the JSON Schema for the tool's arguments, passed through verbatim.
	InputSchema json.RawMessage `json:"inputSchema,omitempty" swaggertype:"object"`
}

// ToolListResponse is returned by GET /tools.
type ToolListResponse struct {
	// Tools enumerates the tools advertised by the upstream.
	Tools []Tool `json:"tools"`
}

// ToolExecutionRequest is the JSON payload for POST /tools/{name}.
type ToolExecutionRequest struct {
	// Arguments is the argument object handed to the tool unchanged.
	Arguments map[string]any `json:"arguments"`
}

// ToolExecutionResponse is returned by POST /tools/{name}.
type ToolExecutionResponse struct {
	// Content is the content sequence from the upstream tool result, passed through verbatim.
	Content []json.RawMessage `json:"content" swaggertype:"array,object"`
	// IsError mirrors the upstream isError flag on the tool result.
	IsError bool `json:"isError"`
}

// Resource describes one resource advertised by the upstream MCP server.
type Resource struct {
	// URI identifies the resource and is used in GET /resources/{uri}.
	URI string `json:"uri"`
	// Name is the human-readable resource name.
	Name string `json:"name"`
	// Description is the upstream-provided resource description.
	Description string `json:"description,omitempty"`
	// MIMEType is the resource content type when the upstream declares one.
	MIMEType string `json:"mimeType,omitempty"`
}

// ResourceListResponse is returned by GET /resources.
type ResourceListResponse struct {
	// Resources enumerates the resources advertised by the upstream.
	Resources []Resource `json:"resources"`
}

// ResourceContent is one entry of a resource read result.
type ResourceContent struct {
	// URI identifies the resource this content belongs to.
	URI string `json:"uri"`
	// MIMEType is the content type when the upstream declares one.
	MIMEType string `json:"mimeType,omitempty"`
	// Text carries textual resource content.
	Text string `json:"text,omitempty"`
	// Blob carries base64-encoded binary resource content.
	Blob string `json:"blob,omitempty"`
}

// ResourceReadResponse is returned by GET /resources/{uri}.
type ResourceReadResponse struct {
	// Contents is the content sequence from the upstream read result.
	Contents []ResourceContent `json:"contents"`
}

// ErrorResponse is the canonical error envelope for API errors.
type ErrorResponse struct {
	// ErrorCode is the stable gateway error identifier.
	ErrorCode string `json:"error"`
	// Detail provides human-readable diagnostic context for the error.
	Detail string `json:"detail,omitempty"`
}
