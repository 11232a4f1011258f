// Package errors defines the typed application error and its mapping to
// RFC 7807 problem responses.
package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// ErrorType classifies an AppError. It is stable and safe to expose to
// clients.
type ErrorType string

const (
	ErrTypeValidation   ErrorType = "VALIDATION"
	ErrTypeConfig       ErrorType = "CONFIG"
	ErrTypeStorage      ErrorType = "STORAGE"
	ErrTypeNotFound     ErrorType = "NOT_FOUND"
	ErrTypePrecondition ErrorType = "PRECONDITION"
	ErrTypeModelBackend ErrorType = "MODEL_BACKEND"
	ErrTypeUnknownTask  ErrorType = "UNKNOWN_TASK"
	ErrTypeCorruption   ErrorType = "CORRUPTION"
)

// AppError is the error every component returns for expected failures.
// Context carries structured detail that ends up in logs and problem
// responses; it is nil until WithContext is called.
type AppError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *AppError) Error() string {
	msg := "[" + string(e.Type) + "] " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another AppError of the same type with an empty message, so
// errors.Is(err, &AppError{Type: ErrTypeNotFound}) works as a kind check.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Message == "" && t.Cause == nil && t.Type == e.Type
}

// WithContext attaches a key/value pair and returns e for chaining.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	e.Context[key] = value
	return e
}

// LogValue renders the error as a slog group.
func (e *AppError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("type", string(e.Type)),
		slog.String("message", e.Message),
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, e.Context[k]))
	}
	return slog.GroupValue(attrs...)
}

// NewAppError builds an AppError of any type.
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{Type: errType, Message: message, Cause: cause}
}

// NewValidationError reports a structural or schema problem with the input.
func NewValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewConfigError reports an invalid configuration value.
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// NewStorageError reports an I/O failure on checkpoints, datasets or reports.
func NewStorageError(message string, cause error) *AppError {
	return NewAppError(ErrTypeStorage, message, cause)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, resource+" not found", nil)
}

// NewPreconditionError reports an operation invoked in a state that does
// not allow it.
func NewPreconditionError(message string) *AppError {
	return NewAppError(ErrTypePrecondition, message, nil)
}

// NewModelBackendError wraps an inference or training failure.
func NewModelBackendError(message string, cause error) *AppError {
	return NewAppError(ErrTypeModelBackend, message, cause)
}

// NewUnknownTaskError reports a delegated task kind nobody handles.
func NewUnknownTaskError(kind string) *AppError {
	return NewAppError(ErrTypeUnknownTask, fmt.Sprintf("unrecognized task %q", kind), nil).
		WithContext("task", kind)
}

// NewCorruptionError reports divergence between persisted state and its index.
func NewCorruptionError(message string, cause error) *AppError {
	return NewAppError(ErrTypeCorruption, message, cause)
}

// TypeOf returns the type of the first AppError in err's chain, or "".
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsType reports whether err's chain contains an AppError of errType.
func IsType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}
