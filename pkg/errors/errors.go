// Package errors defines the engine's error taxonomy: sentinel errors for the
// recoverable request-level conditions, an AppError wrapper carrying an HTTP
// status, and the mapping used by the transport layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSnapshotIntegrity marks a malformed or internally inconsistent
	// snapshot; it is fatal at startup and never returned after load.
	ErrSnapshotIntegrity = errors.New("snapshot integrity violation")
	// ErrUnknownConcept marks a request referencing a concept code that is not
	// in the catalog.
	ErrUnknownConcept = errors.New("unknown concept")
	// ErrNoCohort marks an aggregate request for a session with no evaluated
	// cohort.
	ErrNoCohort = errors.New("no cohort evaluated for session")
	// ErrMalformedQuery marks a term sequence that does not alternate
	// term/connector or uses a connector outside {and, or}.
	ErrMalformedQuery = errors.New("malformed query")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInternal       = errors.New("internal error")
)

// AppError wraps a sentinel with a human-readable message and an HTTP status.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status the transport layer should
// return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNoCohort):
		return http.StatusNotFound
	case errors.Is(err, ErrMalformedQuery), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
