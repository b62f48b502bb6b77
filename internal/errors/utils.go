package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating an *Error if the input is not already one.
func Wrap(err error, errType ErrorType, code, message string) *Error {
	if err == nil {
		return nil
	}

	// Keep the path of an inner *Error so the outermost message still names the file.
	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Type:    errType,
			Code:    code,
			Message: message,
			Cause:   err,
			Context: e.Context,
			Path:    e.Path,
		}
	}

	return &Error{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapIO wraps an error as an I/O error.
func WrapIO(err error, code, message string) *Error {
	return Wrap(err, ErrorTypeIO, code, message)
}

// WrapValidation wraps an error as a validation error.
func WrapValidation(err error, code, message string) *Error {
	return Wrap(err, ErrorTypeValidation, code, message)
}

// WrapInternal wraps an error as an internal error.
func WrapInternal(err error, code, message string) *Error {
	return Wrap(err, ErrorTypeInternal, code, message)
}

// WrapConfig wraps an error as a configuration error.
func WrapConfig(err error, code, message string) *Error {
	return Wrap(err, ErrorTypeConfig, code, message)
}

// Propagate wraps err keeping its type, so a NotFound stays a NotFound after
// another layer adds its message. Foreign errors become internal errors.
func Propagate(err error, message string) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Type:    e.Type,
			Code:    e.Code,
			Message: message,
			Cause:   err,
			Path:    e.Path,
		}
	}

	return Wrap(err, ErrorTypeInternal, ErrCodeInternalError, message)
}

// ErrObjectNotFound creates the distinguished store miss error.
func ErrObjectNotFound(key string) *Error {
	return NewNotFoundError(ErrCodeObjectNotFound, "object not found").WithPath(key)
}

// ErrUnmappedPath creates the error returned when no path mapping applies.
func ErrUnmappedPath(path string) *Error {
	return NewValidationError(ErrCodeUnmappedPath, "no path mapping matches").WithPath(path)
}

// ErrHashMismatch creates the error returned when bytes do not hash to what the manifest says.
func ErrHashMismatch(path, expected, actual string) *Error {
	return NewValidationError(ErrCodeHashMismatch, "content hash mismatch").
		WithPath(path).
		WithContext("expected", expected).
		WithContext("actual", actual)
}
