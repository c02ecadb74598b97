package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/JonMunkholm/bridgette/internal/backend"
	"github.com/JonMunkholm/bridgette/internal/staging"
)

func TestMapError(t *testing.T) {
	tooLarge := staging.MultiBoxPolicy.Check("big.csv", 60*staging.MB)
	badType := staging.MultiBoxPolicy.Check("notes.txt", 10)

	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "oversized rejection",
			err:         &staging.RejectionError{Name: "big.csv", Size: 60 * staging.MB, Policy: staging.MultiBoxPolicy, Reason: tooLarge},
			wantCode:    "STG001",
			wantMessage: `file "big.csv" is too large, maximum size is 50 MB`,
		},
		{
			name:        "unsupported rejection",
			err:         &staging.RejectionError{Name: "notes.txt", Size: 10, Policy: staging.MultiBoxPolicy, Reason: badType},
			wantCode:    "STG002",
			wantMessage: `file "notes.txt" is not supported, allowed types: .csv, .xlsx, .xls`,
		},
		{
			name:        "index out of range",
			err:         fmt.Errorf("remove box1[3]: %w", staging.ErrIndexOutOfRange),
			wantCode:    "STG003",
			wantMessage: "That file is no longer in the list",
		},
		{
			name:        "invalid upload form",
			err:         fmt.Errorf("%w: no files part", ErrInvalidUpload),
			wantCode:    "STG006",
			wantMessage: "The upload could not be read",
		},
		{
			name:        "empty selection",
			err:         ErrEmptySelection,
			wantCode:    "SUB001",
			wantMessage: "Please select at least one file",
		},
		{
			name:        "in flight",
			err:         fmt.Errorf("submit box2: %w", ErrSubmissionInFlight),
			wantCode:    "SUB002",
			wantMessage: "These files are already being submitted",
		},
		{
			name:        "busy",
			err:         ErrTooManySubmissions,
			wantCode:    "SUB003",
			wantMessage: "System is busy processing other submissions",
		},
		{
			name:        "deadline",
			err:         fmt.Errorf("%w: POST /api/process-files: %w", backend.ErrBackendUnavailable, context.DeadlineExceeded),
			wantCode:    "SUB004",
			wantMessage: "The submission timed out",
		},
		{
			name:        "backend unreachable",
			err:         fmt.Errorf("%w: POST /api/process-files: dial tcp: connection refused", backend.ErrBackendUnavailable),
			wantCode:    "NET001",
			wantMessage: "The processing service could not be reached",
		},
		{
			name:        "backend reported failure is verbatim",
			err:         &backend.AppError{Path: "/api/process-files", Message: "bad format"},
			wantCode:    "APP001",
			wantMessage: "bad format",
		},
		{
			name:        "status error carries backend message",
			err:         &backend.StatusError{Method: "POST", Path: "/api/process-files", StatusCode: http.StatusBadRequest, Message: "Please upload at least 1 file"},
			wantCode:    "NET002",
			wantMessage: "Please upload at least 1 file",
		},
		{
			name:        "status error without message",
			err:         &backend.StatusError{StatusCode: http.StatusBadGateway},
			wantCode:    "NET002",
			wantMessage: "The processing service returned an error (502)",
		},
		{
			name:        "missing artifact",
			err:         &backend.StatusError{StatusCode: http.StatusNotFound},
			wantCode:    "APP002",
			wantMessage: "The requested file was not found",
		},
		{
			name:        "untyped connection refused",
			err:         errors.New("dial tcp 127.0.0.1:5000: connection refused"),
			wantCode:    "NET001",
			wantMessage: "The processing service could not be reached",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("CONNECTION REFUSED"),
			wantCode:    "NET001",
			wantMessage: "The processing service could not be reached",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrEmptySelection)

	expected := "Please select at least one file (Code: SUB001). Add files to this box before submitting"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}
