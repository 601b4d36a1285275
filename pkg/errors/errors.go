package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrValidation         = errors.New("validation failed")
	ErrMapEvaluation      = errors.New("map evaluation failed")
	ErrReduceEvaluation   = errors.New("reduce evaluation failed")
	ErrCommit             = errors.New("commit failed")
	ErrDisposed           = errors.New("index disposed")
	ErrConcurrencyTimeout = errors.New("concurrency timeout")
	ErrInternal           = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
)

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

// Validation builds a 400-class error for malformed input such as unknown
// query fields or oversized binary values.
func Validation(format string, args ...any) *AppError {
	return Newf(ErrValidation, http.StatusBadRequest, format, args...)
}

// Disposed reports an operation attempted on a disposed index.
func Disposed(index string) *AppError {
	return Newf(ErrDisposed, http.StatusGone, "index %q has been disposed", index)
}

// Commit wraps a failure raised while committing a write session.
func Commit(index string, err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrCommit, err),
		Message:    fmt.Sprintf("index %q", index),
		StatusCode: http.StatusInternalServerError,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrDisposed):
		return http.StatusGone
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrConcurrencyTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
