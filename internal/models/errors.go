package models

import (
	"errors"
	"fmt"
)

// AppError is a structured application error with HTTP status code.
type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string { return e.Message }

// Unwrap exposes the underlying backend error, if any.
func (e *AppError) Unwrap() error { return e.Err }

// Error codes.
const (
	CodeNoActiveSource       = "NO_ACTIVE_SOURCE"
	CodeBackendNotConnected  = "BACKEND_NOT_CONNECTED"
	CodeBackendCommandFailed = "BACKEND_COMMAND_FAILED"
	CodeInvalidVolume        = "INVALID_VOLUME"
	CodeShuttingDown         = "SHUTTING_DOWN"
	CodeUnknownBackend       = "UNKNOWN_BACKEND"
	CodeUnsupported          = "UNSUPPORTED"
)

// Error constructors.
var (
	ErrNotFound = func(msg string) *AppError {
		return &AppError{Code: "NOT_FOUND", Message: msg, Status: 404}
	}
	ErrBadRequest = func(msg string) *AppError {
		return &AppError{Code: "BAD_REQUEST", Message: msg, Status: 400}
	}
	ErrInternal = func(msg string) *AppError {
		return &AppError{Code: "INTERNAL", Message: msg, Status: 500}
	}
	ErrConflict = func(msg string) *AppError {
		return &AppError{Code: "CONFLICT", Message: msg, Status: 409}
	}
	ErrNoActiveSource = func() *AppError {
		return &AppError{Code: CodeNoActiveSource, Message: "no active source", Status: 409}
	}
	ErrBackendNotConnected = func(b BackendType) *AppError {
		return &AppError{Code: CodeBackendNotConnected, Message: fmt.Sprintf("%s is not connected", b), Field: string(b), Status: 503}
	}
	ErrInvalidVolume = func(v int) *AppError {
		return &AppError{Code: CodeInvalidVolume, Message: fmt.Sprintf("volume %d out of range [0, 100]", v), Field: "volume", Status: 400}
	}
	ErrShuttingDown = func() *AppError {
		return &AppError{Code: CodeShuttingDown, Message: "shutting down", Status: 503}
	}
	ErrUnknownBackend = func(name string) *AppError {
		return &AppError{Code: CodeUnknownBackend, Message: fmt.Sprintf("unknown backend %q", name), Field: "source", Status: 404}
	}
	ErrUnsupported = func(b BackendType, op string) *AppError {
		return &AppError{Code: CodeUnsupported, Message: fmt.Sprintf("%s does not support %s", b, op), Field: string(b), Status: 400}
	}
)

// ErrBackendCommandFailed wraps an adapter error. The cause stays reachable
// through errors.Is / errors.As.
func ErrBackendCommandFailed(b BackendType, op string, err error) *AppError {
	return &AppError{
		Code:    CodeBackendCommandFailed,
		Message: fmt.Sprintf("%s %s: %v", b, op, err),
		Field:   string(b),
		Status:  502,
		Err:     err,
	}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
