package errors

import (
	"encoding/json"
	"net/http"
)

// HTTPError is the body of every error response.
type HTTPError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the JSON error envelope.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// Error codes used in HTTPError.Code.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeUnavailable      = "SERVICE_UNAVAILABLE"
	CodeInternal         = "INTERNAL_ERROR"
)

// RequestIDHeader carries the request id on requests and responses.
const RequestIDHeader = "X-Request-ID"

// StatusFor maps err to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	switch {
	case IsInvalidInput(err):
		return http.StatusBadRequest, CodeBadRequest
	case IsForbidden(err):
		return http.StatusUnauthorized, CodeUnauthorized
	case IsNotFound(err):
		return http.StatusNotFound, CodeNotFound
	case IsRemote(err), IsStore(err):
		return http.StatusServiceUnavailable, CodeUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

// RespondWithError writes err as a JSON envelope with the mapped status.
// Hints become the message; internal errors never expose their text.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)

	msg := http.StatusText(status)
	if hints := GetAllHints(err); len(hints) > 0 {
		msg = hints[0]
	}

	WriteError(w, r, status, HTTPError{Code: code, Message: msg})
}

// WriteError writes body with status, filling the request id from r.
func WriteError(w http.ResponseWriter, r *http.Request, status int, body HTTPError) {
	if body.RequestID == "" && r != nil {
		body.RequestID = r.Header.Get(RequestIDHeader)
		if body.RequestID == "" {
			body.RequestID = w.Header().Get(RequestIDHeader)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}
