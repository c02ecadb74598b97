package core

// # Error Codes Reference
//
// User-facing messages carry a code that can be quoted to support staff.
//
// # Staging Errors (STG001-STG099)
//
//	STG001 - File too large: the file exceeds the slot's size limit
//	         Action: Split the file or compress it before uploading
//	STG002 - Unsupported type: the extension is not allowed for the slot
//	         Action: Save the file as CSV or Excel (.csv, .xlsx, .xls)
//	STG003 - Index out of range: the file is no longer in the list
//	         Action: Refresh the page to see the current file list
//	STG004 - Unknown slot: the upload area does not exist
//	         Action: Refresh the page and try again
//	STG005 - Invalid artifact name: a download was requested with a bad name
//	         Action: Pick the file from the list of generated artifacts
//	STG006 - Invalid upload: the multipart form could not be read
//	         Action: Choose the files again and retry
//
// # Submission Errors (SUB001-SUB099)
//
//	SUB001 - Empty selection: submit was pressed with no files selected
//	SUB002 - In flight: this slot is already being submitted
//	SUB003 - System busy: too many submissions are running
//	SUB004 - Timed out: the submission took too long
//	SUB005 - Cancelled: the request was cancelled
//
// # Transport Errors (NET001-NET099)
//
//	NET001 - Backend unavailable: the processing service could not be reached
//	NET002 - Backend error status: the service answered with a non-success status
//
// # Backend-Reported Errors (APP001-APP099)
//
//	APP001 - Processing failed: success=false, the backend message is shown verbatim
//	APP002 - Artifact not found: the requested file does not exist on the backend
//
// # Other
//
//	RATE001 - Rate limited
//	ERR000  - Unknown error, check the logs for the technical error
//
// Typed and sentinel errors are matched first with errors.As and errors.Is.
// Anything left is matched case-insensitively against substring patterns;
// the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/bridgette/internal/backend"
	"github.com/JonMunkholm/bridgette/internal/staging"
)

// ErrEmptySelection is returned when a slot with no files is submitted.
var ErrEmptySelection = errors.New("please select at least one file")

// ErrInvalidUpload is returned when an upload request carries no readable files.
var ErrInvalidUpload = errors.New("invalid upload form")

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// sentinelMessages maps sentinel errors to user messages. errors.Is is used,
// so wrapped sentinels match.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{staging.ErrUnknownSlot, UserMessage{
		Message: "This upload area does not exist",
		Action:  "Refresh the page and try again",
		Code:    "STG004",
	}},
	{staging.ErrIndexOutOfRange, UserMessage{
		Message: "That file is no longer in the list",
		Action:  "Refresh the page to see the current file list",
		Code:    "STG003",
	}},
	{backend.ErrInvalidArtifactName, UserMessage{
		Message: "Invalid file name",
		Action:  "Pick the file from the list of generated artifacts",
		Code:    "STG005",
	}},
	{ErrInvalidUpload, UserMessage{
		Message: "The upload could not be read",
		Action:  "Choose the files again and retry",
		Code:    "STG006",
	}},
	{ErrEmptySelection, UserMessage{
		Message: "Please select at least one file",
		Action:  "Add files to this box before submitting",
		Code:    "SUB001",
	}},
	{ErrSubmissionInFlight, UserMessage{
		Message: "These files are already being submitted",
		Action:  "Wait for the current submission to finish",
		Code:    "SUB002",
	}},
	{ErrTooManySubmissions, UserMessage{
		Message: "System is busy processing other submissions",
		Action:  "Please wait a moment and try again",
		Code:    "SUB003",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "The submission timed out",
		Action:  "Try submitting fewer or smaller files",
		Code:    "SUB004",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "SUB005",
	}},
	{backend.ErrBackendUnavailable, UserMessage{
		Message: "The processing service could not be reached",
		Action:  "Check that the backend is running and try again",
		Code:    "NET001",
	}},
}

// errorPattern defines a substring to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are the fallback for errors that lost their type, for
// example after crossing a process boundary.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "The processing service could not be reached",
			Action:  "Check that the backend is running and try again",
			Code:    "NET001",
		},
	},
	{
		pattern: "no such host",
		msg: UserMessage{
			Message: "The processing service could not be reached",
			Action:  "Check the backend address and try again",
			Code:    "NET001",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "The submission timed out",
			Action:  "Try submitting fewer or smaller files",
			Code:    "SUB004",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The submission timed out",
			Action:  "Try submitting fewer or smaller files",
			Code:    "SUB004",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Messages reported by the backend are passed through verbatim.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var rej *staging.RejectionError
	if errors.As(err, &rej) {
		return rejectionMessage(rej)
	}

	var appErr *backend.AppError
	if errors.As(err, &appErr) {
		msg := appErr.Message
		if msg == "" {
			msg = "The processing service could not process the files"
		}
		return UserMessage{
			Message: msg,
			Action:  "Check the files and try again",
			Code:    "APP001",
		}
	}

	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		return statusMessage(statusErr)
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

func rejectionMessage(rej *staging.RejectionError) UserMessage {
	if errors.Is(rej, staging.ErrFileTooLarge) {
		return UserMessage{
			Message: rej.Error(),
			Action:  "Split the file or compress it before uploading",
			Code:    "STG001",
		}
	}
	return UserMessage{
		Message: rej.Error(),
		Action:  "Save the file in one of the allowed formats",
		Code:    "STG002",
	}
}

func statusMessage(se *backend.StatusError) UserMessage {
	if se.StatusCode == http.StatusNotFound {
		msg := "The requested file was not found"
		if se.Message != "" {
			msg = se.Message
		}
		return UserMessage{
			Message: msg,
			Action:  "Run processing first, then download the result",
			Code:    "APP002",
		}
	}

	msg := fmt.Sprintf("The processing service returned an error (%d)", se.StatusCode)
	if se.Message != "" {
		msg = se.Message
	}
	return UserMessage{
		Message: msg,
		Action:  "Check the files and try again",
		Code:    "NET002",
	}
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

