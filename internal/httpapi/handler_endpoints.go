package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"pkt.systems/mcpbridge/api"
	"pkt.systems/mcpbridge/client"
)

func (h *Handler) requireUpstream() (Upstream, error) {
	if h.upstream == nil {
		return nil, httpError{
			Status: http.StatusServiceUnavailable,
			Code:   "upstream_unconfigured",
			Detail: "no upstream MCP server configured",
		}
	}
	return h.upstream, nil
}

// upstreamError converts a failed upstream exchange into the gateway's
// bad-gateway envelope. The prefix is route specific so operators can tell
// which operation failed from the detail alone.
func upstreamError(prefix string, err error) error {
	return httpError{
		Status: http.StatusBadGateway,
		Code:   "bad_gateway",
		Detail: fmt.Sprintf("%s: %v", prefix, err),
	}
}

// handleRoot godoc
// @Summary      Service banner
// @Description  Returns the service name, version, and the configured upstream MCP server URL.
// @Tags         system
// @Produce      json
// @Success      200  {object}  api.RootResponse
// @Router       / [get]
func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) error {
	serverURL := ""
	if h.upstream != nil {
		serverURL = h.upstream.ServerURL()
	}
	h.writeJSON(w, http.StatusOK, api.RootResponse{
		Service:   h.serviceName,
		Version:   h.version,
		Status:    "running",
		MCPServer: serverURL,
	}, nil)
	return nil
}

// handleHealth godoc
// @Summary      Health probe
// @Description  Probes the upstream MCP server with a tools/list round trip. Always answers 200; the body reports healthy or degraded.
// @Tags         system
// @Produce      json
// @Success      200  {object}  api.HealthResponse
// @Router       /health [get]
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) error {
	upstream, err := h.requireUpstream()
	if err != nil {
		return err
	}
	finish := h.beginUpstreamCall()
	_, probeErr := upstream.ListTools(r.Context())
	finish()
	if probeErr != nil {
		h.writeJSON(w, http.StatusOK, api.HealthResponse{
			Status:        "degraded",
			MCPConnection: "disconnected",
			Error:         probeErr.Error(),
		}, nil)
		return nil
	}
	h.writeJSON(w, http.StatusOK, api.HealthResponse{
		Status:        "healthy",
		MCPConnection: "connected",
	}, nil)
	return nil
}

// handleToolsList godoc
// @Summary      List available tools
// @Description  Forwards a tools/list call to the upstream MCP server and returns the advertised tools.
// @Tags         tools
// @Produce      json
// @Success      200  {object}  api.ToolListResponse
// @Failure      403  {object}  api.ErrorResponse
// @Failure      502  {object}  api.ErrorResponse
// @Security     ApiKeyAuth
// @Router       /tools [get]
func (h *Handler) handleToolsList(w http.ResponseWriter, r *http.Request) error {
	upstream, err := h.requireUpstream()
	if err != nil {
		return err
	}
	finish := h.beginUpstreamCall()
	tools, err := upstream.ListTools(r.Context())
	finish()
	if err != nil {
		return upstreamError("Failed to communicate with MCP server", err)
	}
	if tools == nil {
		tools = []api.Tool{}
	}
	h.writeJSON(w, http.StatusOK, api.ToolListResponse{Tools: tools}, nil)
	return nil
}

// handleToolCall godoc
// @Summary      Execute a tool
// @Description  Forwards a tools/call request for the named tool. The body carries the tool arguments as a JSON object; the response relays the upstream content blocks and isError flag unchanged.
// @Tags         tools
// @Accept       json
// @Produce      json
// @Param        name     path      string                    true  "Tool name"
// @Param        request  body      api.ToolExecutionRequest  true  "Tool arguments"
// @Success      200      {object}  api.ToolExecutionResponse
// @Failure      400      {object}  api.ErrorResponse
// @Failure      403      {object}  api.ErrorResponse
// @Failure      413      {object}  api.ErrorResponse
// @Failure      502      {object}  api.ErrorResponse
// @Security     ApiKeyAuth
// @Router       /tools/{name} [post]
func (h *Handler) handleToolCall(w http.ResponseWriter, r *http.Request) error {
	upstream, err := h.requireUpstream()
	if err != nil {
		return err
	}
	name := r.PathValue("name")
	reqBody := http.MaxBytesReader(w, r.Body, h.jsonMaxBytes)
	defer reqBody.Close()
	var payload api.ToolExecutionRequest
	if err := decodeJSONBody(reqBody, &payload, jsonDecodeOptions{
		allowEmpty:       true,
		disallowUnknowns: true,
	}); err != nil {
		return bodyError(err)
	}
	finish := h.beginUpstreamCall()
	res, err := upstream.CallTool(r.Context(), name, payload.Arguments)
	finish()
	if err != nil {
		return upstreamError("Failed to execute tool on MCP server", err)
	}
	content, isError, err := toolOutcome(res)
	if err != nil {
		return upstreamError("Failed to execute tool on MCP server", err)
	}
	h.writeJSON(w, http.StatusOK, api.ToolExecutionResponse{
		Content: content,
		IsError: isError,
	}, nil)
	return nil
}

// handleResourcesList godoc
// @Summary      List available resources
// @Description  Forwards a resources/list call to the upstream MCP server and returns the advertised resources.
// @Tags         resources
// @Produce      json
// @Success      200  {object}  api.ResourceListResponse
// @Failure      403  {object}  api.ErrorResponse
// @Failure      502  {object}  api.ErrorResponse
// @Security     ApiKeyAuth
// @Router       /resources [get]
func (h *Handler) handleResourcesList(w http.ResponseWriter, r *http.Request) error {
	upstream, err := h.requireUpstream()
	if err != nil {
		return err
	}
	finish := h.beginUpstreamCall()
	resources, err := upstream.ListResources(r.Context())
	finish()
	if err != nil {
		return upstreamError("Failed to communicate with MCP server", err)
	}
	if resources == nil {
		resources = []api.Resource{}
	}
	h.writeJSON(w, http.StatusOK, api.ResourceListResponse{Resources: resources}, nil)
	return nil
}

// handleResourceRead godoc
// @Summary      Read a resource
// @Description  Forwards a resources/read call for the given URI. Resource URIs contain scheme separators, so the path segment should be URL-encoded (GET /resources/splunk%3A%2F%2Findexes%2Fmain reads splunk://indexes/main).
// @Tags         resources
// @Produce      json
// @Param        uri  path      string  true  "URL-encoded resource URI"
// @Success      200  {object}  api.ResourceReadResponse
// @Failure      400  {object}  api.ErrorResponse
// @Failure      403  {object}  api.ErrorResponse
// @Failure      502  {object}  api.ErrorResponse
// @Security     ApiKeyAuth
// @Router       /resources/{uri} [get]
func (h *Handler) handleResourceRead(w http.ResponseWriter, r *http.Request) error {
	upstream, err := h.requireUpstream()
	if err != nil {
		return err
	}
	uri := r.PathValue("uri")
	if uri == "" {
		return httpError{
			Status: http.StatusBadRequest,
			Code:   "missing_uri",
			Detail: "resource uri required",
		}
	}
	finish := h.beginUpstreamCall()
	res, err := upstream.ReadResource(r.Context(), uri)
	finish()
	if err != nil {
		return upstreamError("Failed to read resource from MCP server", err)
	}
	contents, err := resourceContents(res)
	if err != nil {
		return upstreamError("Failed to read resource from MCP server", err)
	}
	h.writeJSON(w, http.StatusOK, api.ResourceReadResponse{Contents: contents}, nil)
	return nil
}

func toolOutcome(res client.Result) ([]json.RawMessage, bool, error) {
	var content []json.RawMessage
	if err := res.Decode("content", &content); err != nil {
		return nil, false, fmt.Errorf("malformed content member: %w", err)
	}
	if content == nil {
		content = []json.RawMessage{}
	}
	return content, res.Bool("isError"), nil
}

func resourceContents(res client.Result) ([]api.ResourceContent, error) {
	var contents []api.ResourceContent
	if err := res.Decode("contents", &contents); err != nil {
		return nil, fmt.Errorf("malformed contents member: %w", err)
	}
	if contents == nil {
		contents = []api.ResourceContent{}
	}
	return contents, nil
}
