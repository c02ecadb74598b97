package staging

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownSlot is returned for slot ids that are not registered.
	ErrUnknownSlot = errors.New("unknown slot")

	// ErrFileTooLarge marks a file rejected for exceeding the slot's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedType marks a file rejected for its extension.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrIndexOutOfRange is returned by RemoveFile for a position the slot does not hold.
	ErrIndexOutOfRange = errors.New("file index out of range")
)

// RejectionError describes a single file that failed the slot policy.
type RejectionError struct {
	Slot   Slot
	Name   string
	Size   int64
	Policy Policy
	Reason error // ErrFileTooLarge or ErrUnsupportedType
}

func (e *RejectionError) Error() string {
	switch {
	case errors.Is(e.Reason, ErrFileTooLarge):
		return fmt.Sprintf("file %q is too large, maximum size is %s", e.Name, FormatSize(e.Policy.MaxFileSize))
	case errors.Is(e.Reason, ErrUnsupportedType):
		return fmt.Sprintf("file %q is not supported, allowed types: %s", e.Name, strings.Join(e.Policy.AllowedExtensions, ", "))
	default:
		return fmt.Sprintf("file %q rejected: %v", e.Name, e.Reason)
	}
}

func (e *RejectionError) Unwrap() error { return e.Reason }
