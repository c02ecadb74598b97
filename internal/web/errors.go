package web

// errors.go provides unified error response handling for the web layer.
//
// Errors are logged with their technical details and the request id, then
// returned as the user message from core.MapError. Slot routes answer HTMX
// requests with the slot panel carrying the message as an alert, so the
// staged files stay visible after a failed submission.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/bridgette/internal/backend"
	"github.com/JonMunkholm/bridgette/internal/core"
	"github.com/JonMunkholm/bridgette/internal/logging"
	"github.com/JonMunkholm/bridgette/internal/staging"
	"github.com/JonMunkholm/bridgette/internal/web/templates"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError handles error responses with user-friendly messages.
// It logs the technical error server-side and returns an appropriate response
// based on the request type (HTMX, JSON, or HTML).
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := logError(r, err, statusCode)

	switch {
	case isHTMX(r):
		renderErrorPartial(w, r, userMsg, statusCode)
	case wantsJSON(r):
		respondErrorJSON(w, userMsg, statusCode)
	default:
		respondErrorHTML(w, userMsg, statusCode)
	}
}

// logError logs err against the request and returns its user message.
func logError(r *http.Request, err error, statusCode int) core.UserMessage {
	userMsg := core.MapError(err)

	level := slog.LevelWarn
	if statusCode >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	)
	return userMsg
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// respondErrorHTML writes a plain text error response.
func respondErrorHTML(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	http.Error(w, msg.Message+" ("+msg.Code+")", statusCode)
}

// renderErrorPartial renders an HTMX-compatible error fragment.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w)
}

// statusFor picks the HTTP status for an error from the staging or
// submission path.
func statusFor(err error) int {
	var (
		rej    *staging.RejectionError
		appErr *backend.AppError
		stErr  *backend.StatusError
	)
	switch {
	case errors.Is(err, staging.ErrUnknownSlot), errors.Is(err, staging.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.As(err, &rej), errors.Is(err, core.ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrEmptySelection), errors.Is(err, backend.ErrInvalidArtifactName):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManySubmissions):
		return http.StatusServiceUnavailable
	case errors.As(err, &appErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &stErr):
		if stErr.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case errors.Is(err, backend.ErrBackendUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON checks if the client prefers JSON response.
func wantsJSON(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		return true
	}
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return true
	}
	// API routes default to JSON
	return strings.HasPrefix(r.URL.Path, "/api/")
}
