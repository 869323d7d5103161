// Package apperr carries operation failures as (HTTP status code, message)
// pairs. Engine operations report their failures as *Error; StatusCode
// also finds an *Error or a sentinel inside a wrapped chain, and maps any
// other error to 500.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the failure classes the engine distinguishes.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrNotFound      = errors.New("not found")
	ErrUnprocessable = errors.New("unprocessable")
	ErrCorruption    = errors.New("storage corruption")
)

// Error pairs an HTTP-style status code with a human-readable message.
type Error struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps a sentinel with a status code and message.
func New(sentinel error, statusCode int, message string) *Error {
	return &Error{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// BadRequest returns a 400 error with a formatted message.
func BadRequest(format string, args ...any) *Error {
	return &Error{
		Err:        ErrBadRequest,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: http.StatusBadRequest,
	}
}

// NotFound returns a 404 error with a formatted message.
func NotFound(format string, args ...any) *Error {
	return &Error{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: http.StatusNotFound,
	}
}

// Unprocessable returns a 422 error with a formatted message.
func Unprocessable(format string, args ...any) *Error {
	return &Error{
		Err:        ErrUnprocessable,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: http.StatusUnprocessableEntity,
	}
}

// Corruption returns a 500 error for unreadable stored state.
func Corruption(format string, args ...any) *Error {
	return &Error{
		Err:        ErrCorruption,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: http.StatusInternalServerError,
	}
}

// StatusCode extracts the HTTP status carried by err, falling back to the
// sentinel mapping and finally to 500.
func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnprocessable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
