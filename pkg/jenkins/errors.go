package jenkins

import (
	"errors"
	"fmt"
)

// Sentinel errors for CI API operations.
var (
	// ErrNotFound indicates the job, folder or endpoint does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the credentials were rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable indicates the server is overloaded or down.
	ErrUnavailable = errors.New("ci server unavailable")

	// ErrUnexpectedStatus indicates any other non-2xx response.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Error wraps a failed CI API call with context.
type Error struct {
	// Op is the operation that failed (e.g., "list", "crumb", "build").
	Op string

	// Path is the job path, if applicable.
	Path string

	// StatusCode is the HTTP status, zero for transport errors.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.StatusCode != 0:
		return fmt.Sprintf("jenkins %s %s: status %d: %v", e.Op, e.Path, e.StatusCode, e.Err)
	case e.Path != "":
		return fmt.Sprintf("jenkins %s %s: %v", e.Op, e.Path, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("jenkins %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("jenkins %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing job or endpoint.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized returns true if the credentials were rejected.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsUnavailable returns true if the server could not serve the request.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func statusError(status int) error {
	switch {
	case status == 404:
		return ErrNotFound
	case status == 401 || status == 403:
		return ErrUnauthorized
	case status == 429 || status >= 500:
		return ErrUnavailable
	}
	return ErrUnexpectedStatus
}
