// Package errors provides the structured error taxonomy shared by the build
// pipeline, the object store and the derivation service.
//
// Every error that crosses a package boundary is an *Error carrying a Type so
// that callers can branch on "never computed" (NotFound), "try again later"
// (Contention) and "consistency bug" (Validation) without string matching.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	// ErrorTypeNotFound is an expected miss that drives fallback logic.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeContention means someone else holds the work; retried with backoff.
	ErrorTypeContention ErrorType = "contention"
	// ErrorTypeValidation is a consistency failure. Never retried.
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error is a structured error type with context.
type Error struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}
	// Path is the input path or object key the error is about, if any.
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path+":")
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same type and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the path or key the error refers to.
func (e *Error) WithPath(path string) *Error {
	e.Path = path

	return e
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(code, message string) *Error {
	return &Error{Type: ErrorTypeNotFound, Code: code, Message: message}
}

// NewContentionError creates a contention error.
func NewContentionError(code, message string) *Error {
	return &Error{Type: ErrorTypeContention, Code: code, Message: message}
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *Error {
	return &Error{Type: ErrorTypeValidation, Code: code, Message: message}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *Error {
	return &Error{Type: ErrorTypeIO, Code: code, Message: message, Cause: cause}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(code, message string) *Error {
	return &Error{Type: ErrorTypeTimeout, Code: code, Message: message}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *Error {
	return &Error{Type: ErrorTypeConfig, Code: code, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return &Error{Type: ErrorTypeInternal, Code: code, Message: message, Cause: cause}
}

// TypeOf returns the type of the outermost *Error in the chain, or
// ErrorTypeInternal for foreign errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}

	return ErrorTypeInternal
}

func hasType(err error, t ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == t {
			return true
		}
		err = e.Cause
	}

	return false
}

// IsNotFound reports whether any *Error in the chain is a NotFound.
func IsNotFound(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsContention reports whether err asks the caller to back off and retry.
func IsContention(err error) bool {
	return hasType(err, ErrorTypeContention)
}

// IsValidation reports whether err is a consistency failure.
func IsValidation(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsTimeout reports whether err is a retry or drain bound being exceeded.
func IsTimeout(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

// IsRetryable reports whether err is worth retrying at all.
func IsRetryable(err error) bool {
	return TypeOf(err) == ErrorTypeContention
}

// Common error codes.
const (
	ErrCodeObjectNotFound    = "ERR_OBJECT_NOT_FOUND"
	ErrCodeRevisionNotFound  = "ERR_REVISION_NOT_FOUND"
	ErrCodeRouteNotFound     = "ERR_ROUTE_NOT_FOUND"
	ErrCodeUnmappedPath      = "ERR_UNMAPPED_PATH"
	ErrCodeHashMismatch      = "ERR_HASH_MISMATCH"
	ErrCodeDeriveKeyMismatch = "ERR_DERIVE_KEY_MISMATCH"
	ErrCodeAlreadyInProgress = "ERR_ALREADY_IN_PROGRESS"
	ErrCodeTooManyRequests   = "ERR_TOO_MANY_REQUESTS"
	ErrCodeRetriesExhausted  = "ERR_RETRIES_EXHAUSTED"
	ErrCodeDrainTimeout      = "ERR_DRAIN_TIMEOUT"
	ErrCodeRangeUnsupported  = "ERR_RANGE_UNSUPPORTED"
	ErrCodeUnsupportedKind   = "ERR_UNSUPPORTED_KIND"
	ErrCodeInvalidInput      = "ERR_INVALID_INPUT"
	ErrCodeReadFailed        = "ERR_READ_FAILED"
	ErrCodeWriteFailed       = "ERR_WRITE_FAILED"
	ErrCodeProbeFailed       = "ERR_PROBE_FAILED"
	ErrCodeTranscodeFailed   = "ERR_TRANSCODE_FAILED"
	ErrCodeRenderFailed      = "ERR_RENDER_FAILED"
	ErrCodeCommandRejected   = "ERR_COMMAND_REJECTED"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeSerialization     = "ERR_SERIALIZATION"
	ErrCodeRemoteUnavailable = "ERR_REMOTE_UNAVAILABLE"
	ErrCodeWatchFailed       = "ERR_WATCH_FAILED"
	ErrCodeInternalError     = "ERR_INTERNAL"
)
