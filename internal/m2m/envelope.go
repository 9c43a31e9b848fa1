package m2m

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	statusOK           = 200
	statusUnauthorized = 401
	statusForbidden    = 403
)

// decodeEnvelope checks a {data, errorCode, errorMessage} response and
// returns its data member.
//
// Any status other than 200, a non-null errorCode, or a body without a
// data member yields an *APIError. Authentication failures are returned
// as an *AuthError wrapping the *APIError.
func decodeEnvelope(endpoint string, status int, body []byte) (json.RawMessage, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil || env == nil {
		return nil, classify(&APIError{
			Endpoint: endpoint,
			Status:   status,
			Message:  snippet(body),
		})
	}

	code := rawString(env["errorCode"])
	message := rawString(env["errorMessage"])

	if status != statusOK || code != "" {
		return nil, classify(&APIError{
			Endpoint: endpoint,
			Status:   status,
			Code:     code,
			Message:  message,
		})
	}

	data, ok := env["data"]
	if !ok {
		return nil, &APIError{
			Endpoint: endpoint,
			Status:   status,
			Message:  "response has no data member",
		}
	}
	return data, nil
}

func classify(e *APIError) error {
	if e.Status == statusUnauthorized || e.Status == statusForbidden || strings.HasPrefix(e.Code, "AUTH_") {
		return &AuthError{Err: e}
	}
	return e
}

// rawString renders a JSON scalar as a string. null and absent are "".
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}
