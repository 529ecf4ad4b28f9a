package errors

import (
	"fmt"
	"net/http"
)

// SessionError is a bootstrap failure rendered verbatim as the HTTP error
// body. Status selects the response code and is not serialized.
type SessionError struct {
	Status  int            `json:"-"`
	Message string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// NewUnauthorized signals a request with no authenticated identity.
func NewUnauthorized() *SessionError {
	return &SessionError{
		Status:  http.StatusUnauthorized,
		Message: "Unauthorized",
	}
}

// NewServerMisconfigured signals a missing server-side credential. The
// variable name is surfaced so operators can tell which one.
func NewServerMisconfigured(envVar string) *SessionError {
	return &SessionError{
		Status:  http.StatusInternalServerError,
		Message: fmt.Sprintf("Missing %s environment variable", envVar),
	}
}

// NewMissingWorkflowID signals that no workflow id could be resolved from
// the request body, the chatbot catalog or the server default.
func NewMissingWorkflowID() *SessionError {
	return &SessionError{
		Status:  http.StatusBadRequest,
		Message: "Missing workflow id",
	}
}

// NewUpstreamFailure mirrors an upstream provider error: same status, the
// extracted message, and the raw payload for diagnostics.
func NewUpstreamFailure(status int, message string, payload map[string]any) *SessionError {
	return &SessionError{
		Status:  status,
		Message: message,
		Details: payload,
	}
}

// NewUnexpected is the catch-all for uncaught failures, persistence
// errors included.
func NewUnexpected() *SessionError {
	return &SessionError{
		Status:  http.StatusInternalServerError,
		Message: "Unexpected error",
	}
}

// NewMethodNotAllowed rejects any verb other than POST on the bootstrap
// endpoint.
func NewMethodNotAllowed() *SessionError {
	return &SessionError{
		Status:  http.StatusMethodNotAllowed,
		Message: "Method Not Allowed",
	}
}
