package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the console session core
var (
	// Authentication errors
	ErrAuthentication = errors.New("authentication failed")
	ErrOTPRequired    = fmt.Errorf("one-time password required: %w", ErrAuthentication)

	// Session errors
	ErrSessionExpired = errors.New("session expired")
	ErrNoSession      = errors.New("no active session")
	ErrStaleSession   = errors.New("session changed while request was in flight")

	// Transport errors
	ErrNetwork = errors.New("network error")

	// Token errors
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenRevoked        = errors.New("token revoked")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// General errors
	ErrNotFound = errors.New("not found")
)

// Category is the human readable class of a backend HTTP failure.
type Category string

const (
	CategoryUnauthorized Category = "unauthorized"
	CategoryForbidden    Category = "forbidden"
	CategoryNotFound     Category = "not-found"
	CategoryServerError  Category = "server-error"
	CategoryUnavailable  Category = "unavailable"
	CategoryOther        Category = "other"
)

// CategoryFromStatus maps an HTTP status code onto a Category.
func CategoryFromStatus(status int) Category {
	switch {
	case status == http.StatusUnauthorized:
		return CategoryUnauthorized
	case status == http.StatusForbidden:
		return CategoryForbidden
	case status == http.StatusNotFound:
		return CategoryNotFound
	case status == http.StatusServiceUnavailable:
		return CategoryUnavailable
	case status >= 500 && status <= 599:
		return CategoryServerError
	default:
		return CategoryOther
	}
}

// BackendError is returned for any non-2xx response from the backend.
type BackendError struct {
	Status   int
	Category Category
	Code     string // "error" field of the response body, if any
	Message  string // "error_description" field of the response body, if any
}

func NewBackendError(status int, code, message string) *BackendError {
	return &BackendError{
		Status:   status,
		Category: CategoryFromStatus(status),
		Code:     code,
		Message:  message,
	}
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("backend %s (%d)", e.Category, e.Status)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += " - " + e.Message
	}
	return msg
}

// IsCategory reports whether err is a BackendError of the given category
func IsCategory(err error, category Category) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	return be.Category == category
}

// IsUnauthorized reports whether err is a 401 from the backend
func IsUnauthorized(err error) bool {
	return IsCategory(err, CategoryUnauthorized)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}
