package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Wrap them with fmt.Errorf("%w: ...") or the helpers below
// and test with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Error carries a kind plus a message that is safe to show to clients.
type Error struct {
	Kind    error
	Message string
}

// Error returns the message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the kind so errors.Is matches the sentinel.
func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed or rule-breaking input.
func Validation(format string, args ...any) error {
	return newError(ErrValidation, format, args...)
}

// Unauthorized reports a missing or rejected credential.
func Unauthorized(format string, args ...any) error {
	return newError(ErrUnauthorized, format, args...)
}

// Forbidden reports an authenticated caller acting outside its rights.
func Forbidden(format string, args ...any) error {
	return newError(ErrForbidden, format, args...)
}

// NotFound reports a record that does not exist.
func NotFound(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

// Conflict reports a clash with existing state, such as a taken email.
func Conflict(format string, args ...any) error {
	return newError(ErrConflict, format, args...)
}

// InsufficientStock reports a line asking for more units than are available.
func InsufficientStock(format string, args ...any) error {
	return newError(ErrInsufficientStock, format, args...)
}

// InvalidTransition reports an order status change the status graph forbids.
func InvalidTransition(format string, args ...any) error {
	return newError(ErrInvalidTransition, format, args...)
}

// HTTPStatus maps an error to the status code returned to clients.
// Unknown errors are internal.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the client-facing message for err. Internal errors
// collapse to a generic message.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	switch HTTPStatus(err) {
	case http.StatusInternalServerError:
		return "internal server error"
	default:
		return err.Error()
	}
}
