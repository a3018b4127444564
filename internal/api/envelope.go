package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is the normalized outcome of a request that reached the backend.
// Success mirrors a 2xx status.
type Envelope struct {
	Success bool
	Status  int
	Data    json.RawMessage
	Error   string
	// Local is true when the envelope was produced without a network call.
	Local bool
}

// Decode unmarshals the body into v.
func (e *Envelope) Decode(v any) error {
	if len(bytes.TrimSpace(e.Data)) == 0 {
		return fmt.Errorf("empty response body")
	}

	return json.Unmarshal(e.Data, v)
}

// Err converts a failed envelope into a *BackendError; nil on success.
func (e *Envelope) Err(op string) error {
	if e == nil || e.Success {
		return nil
	}

	kind := classifyStatus(e.Status)

	be := &BackendError{
		Op:      op,
		Status:  e.Status,
		Kind:    kind,
		Message: e.Error,
		Detail:  e.Error,
	}

	switch kind {
	case KindServerError:
		be.Message = genericServerMessage
	case KindUnauthorized:
		be.Message = "Please sign in again to continue."
	case KindRateLimited:
		be.Message = "Too many requests. Please slow down and try again shortly."
	}

	if be.Message == "" {
		be.Message = "The request could not be completed."
	}

	return be
}

// errorMessage pulls a human message from the error body shapes the backend uses:
// {"message": ...}, {"error": "..."}, {"error": {"message": ...}}, {"errors": [{"message": ...}]}.
func errorMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
		Errors  []struct {
			Message string `json:"message"`
			Msg     string `json:"msg"`
		} `json:"errors"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(truncate(string(body), 200))
	}

	if payload.Message != "" {
		return payload.Message
	}

	if len(payload.Error) > 0 {
		var s string
		if err := json.Unmarshal(payload.Error, &s); err == nil && s != "" {
			return s
		}

		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}

	for _, e := range payload.Errors {
		if e.Message != "" {
			return e.Message
		}

		if e.Msg != "" {
			return e.Msg
		}
	}

	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}
