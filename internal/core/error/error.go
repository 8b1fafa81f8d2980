package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// StorageErrorMessage describes session store failures other than Redis.
	StorageErrorMessage = "session store operation failed"
	// CompletionErrorMessage describes a failed call to the completion service.
	CompletionErrorMessage = "completion service call failed"
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Validation reports missing or invalid user input. No completion call is
// made when one of these is returned.
func Validation(message string) *AppError {
	return &AppError{
		Status:  http.StatusUnprocessableEntity,
		Message: message,
	}
}

// NotFound reports a missing resource.
func NotFound(message string) *AppError {
	return &AppError{
		Status:  http.StatusNotFound,
		Message: message,
	}
}

// WrapCompletion wraps a completion-service failure (network, auth, quota).
// message is shown to the user; an empty message falls back to a generic one.
func WrapCompletion(err error, message string) error {
	if err == nil {
		return nil
	}
	if message == "" {
		message = CompletionErrorMessage
	}
	return &AppError{
		Err:     err,
		Status:  http.StatusBadGateway,
		Message: message,
	}
}

// WrapStorage wraps a non-Redis session store error.
func WrapStorage(err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Err:     err,
		Status:  http.StatusInternalServerError,
		Message: StorageErrorMessage,
	}
}

// StatusOf returns the HTTP status carried by err, or 500 when err is not an AppError.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the safe message carried by err. Errors that are not
// AppErrors map to SystemErrorMessage so internals are not leaked.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return SystemErrorMessage
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Status == http.StatusUnprocessableEntity
}

// Is reports whether the target matches the underlying error.
func (e *AppError) Is(target error) bool {
	return e.Err != nil && errors.Is(e.Err, target)
}
