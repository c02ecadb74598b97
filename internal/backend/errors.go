package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBackendUnavailable wraps transport failures: refused connections,
	// DNS errors, timeouts, truncated bodies.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInvalidArtifactName is returned for empty or path-like artifact names.
	ErrInvalidArtifactName = errors.New("invalid artifact name")

	// ErrNoFiles is returned when ProcessFiles is called with nothing to send.
	ErrNoFiles = errors.New("no files to process")
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string // backend "error" field, if the body carried one
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend %s %s: %d %s: %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("backend %s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// AppError is returned when a 2xx response reports success=false.
type AppError struct {
	Path    string
	Message string
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend %s reported failure", e.Path)
	}
	return fmt.Sprintf("backend %s: %s", e.Path, e.Message)
}
