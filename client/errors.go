package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const errorBodySnippetLimit = 256

// TransportError reports an upstream exchange that never produced a usable
// JSON-RPC response: request construction or network failures, timeouts, and
// non-2xx HTTP statuses.
type TransportError struct {
	// Status is the HTTP status code, or zero when no response was received.
	Status int
	// Body contains the raw response body when one was read.
	Body []byte
	// Err is the underlying error, when any.
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil && e.Status == 0:
		return fmt.Sprintf("upstream request: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("upstream status %d: %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("upstream status %d: %s", e.Status, bodySnippet(e.Body))
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a JSON-RPC response whose envelope carried an error
// member. The member short-circuits to a failure regardless of HTTP status.
type ProtocolError struct {
	// Status is the HTTP status code of the response carrying the error.
	Status int
	// Code is the JSON-RPC error code when the error member was an object.
	Code int
	// Message is the JSON-RPC error message when the error member was an object.
	Message string
	// Data carries the JSON-RPC error data member, when present.
	Data json.RawMessage
	// Raw is the error member exactly as received.
	Raw json.RawMessage
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 || e.Message != "" {
		if e.Code != 0 {
			return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
		}
		return fmt.Sprintf("mcp error: %s", e.Message)
	}
	return fmt.Sprintf("mcp error: %s", bodySnippet(e.Raw))
}

func newProtocolError(status int, raw json.RawMessage) *ProtocolError {
	perr := &ProtocolError{Status: status, Raw: raw}
	var obj struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		perr.Code = obj.Code
		perr.Message = obj.Message
		perr.Data = obj.Data
	} else {
		var msg string
		if err := json.Unmarshal(raw, &msg); err == nil {
			perr.Message = msg
		}
	}
	return perr
}

func bodySnippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "(empty body)"
	}
	if len(text) <= errorBodySnippetLimit {
		return text
	}
	cut := errorBodySnippetLimit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
