package m2m

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotAuthenticated is wrapped by the AuthError returned when a request
// is made before login or after logout.
var ErrNotAuthenticated = errors.New("m2m: not authenticated")

// APIError is a response the service rejected: a status other than 200,
// an error code in the envelope, or a body that is not an envelope at all.
// It is never retried.
type APIError struct {
	Endpoint string
	Status   int
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "m2m: %s: %d", e.Endpoint, e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " - %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " - %s", e.Message)
	}
	return b.String()
}

// AuthError reports missing, rejected or expired credentials.
// Err is ErrNotAuthenticated, an *APIError from the service, or a
// credential store/prompt failure.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "m2m: authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError reports a parameter rejected before any network call.
type ValidationError struct {
	Field   string
	Value   string
	Allowed []string
}

func (e *ValidationError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("m2m: invalid %s %q", e.Field, e.Value)
	}
	return fmt.Sprintf("m2m: %s %q not one of the available values %v", e.Field, e.Value, e.Allowed)
}

// TransportError reports a request that never produced a response,
// typically after every retry timed out.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("m2m: %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsAuth reports whether err is or wraps an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
