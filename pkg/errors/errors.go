// Package errors defines the platform error taxonomy and its mapping to HTTP
// status codes. Row-local error kinds (validation, reference, conflict) are
// captured into batch outcomes and never abort a batch; only store
// unavailability terminates ingestion early.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrUnknownReference = errors.New("unknown reference")
	ErrRefMismatch      = errors.New("reference mismatch")
	ErrConflict         = errors.New("duplicate identifier")
	ErrHasDependents    = errors.New("dependent records exist")
	ErrNotFound         = errors.New("record not found")
	ErrStoreUnavailable = errors.New("record store unavailable")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInternal         = errors.New("internal error")
)

// AppError pairs a sentinel with a human-readable message and an explicit
// HTTP status, for cases where the default sentinel mapping is not enough.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status code the gateway should return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrHasDependents):
		return http.StatusConflict
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownReference), errors.Is(err, ErrRefMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
