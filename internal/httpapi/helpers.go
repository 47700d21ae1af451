package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"pkt.systems/mcpbridge/api"
)

type jsonDecodeOptions struct {
	allowEmpty       bool
	disallowUnknowns bool
}

func decodeJSONBody(body io.Reader, dst any, opts jsonDecodeOptions) error {
	if body == nil {
		if opts.allowEmpty {
			return nil
		}
		return io.EOF
	}
	dec := json.NewDecoder(body)
	if opts.disallowUnknowns {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if opts.allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unexpected trailing JSON value")
}

// bodyError classifies a request-body read or decode failure. Oversized
// payloads keep their own status so callers can distinguish them from
// malformed JSON.
func bodyError(err error) httpError {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return httpError{
			Status: http.StatusRequestEntityTooLarge,
			Code:   "payload_too_large",
			Detail: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
		}
	}
	return httpError{
		Status: http.StatusBadRequest,
		Code:   "invalid_body",
		Detail: fmt.Sprintf("failed to parse request: %v", err),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any, headers map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

func writeErrorResponse(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, api.ErrorResponse{ErrorCode: code, Detail: detail}, nil)
}
