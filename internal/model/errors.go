package model

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes surfaced to callers.
const (
	CodeValidation          = "validation_error"
	CodeUnsupportedFileType = "unsupported_file_type"
	CodeProfileNotFound     = "profile_not_found"
	CodeProviderError       = "provider_error"
	CodeDocumentError       = "document_error"
)

// ErrProfileNotFound reports an unresolvable profile path.
var ErrProfileNotFound = errors.New("profile not found")

// ValidationError is a terminal request-shape failure. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
	}
	return "validation: " + e.Message
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UnsupportedFileTypeError rejects an entire request before any model
// call: one disallowed MIME type fails the whole batch.
type UnsupportedFileTypeError struct {
	MIMEType  string
	FileName  string
	AllowList []string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("file type %q is not supported (file %q); supported: %s",
		e.MIMEType, e.FileName, strings.Join(e.AllowList, ", "))
}
