// Package errors defines the sentinel errors shared across the engine and
// an AppError wrapper that carries an HTTP status for the API layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSchemaViolation  = errors.New("schema violation")
	ErrUnknownField     = errors.New("unknown field")
	ErrTimeout          = errors.New("operation timed out")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrCorruptSnapshot  = errors.New("corrupt index snapshot")
	ErrInternal         = errors.New("internal error")
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

// SchemaViolation builds an ErrSchemaViolation for one document.
func SchemaViolation(format string, args ...any) *AppError {
	return Newf(ErrSchemaViolation, http.StatusUnprocessableEntity, format, args...)
}

// UnknownField builds an ErrUnknownField for a field name.
func UnknownField(name string) *AppError {
	return Newf(ErrUnknownField, http.StatusBadRequest, "field %q is not declared in the schema", name)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, ErrSchemaViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}

}
