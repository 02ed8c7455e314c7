// Package errs implements the orchestrator's error taxonomy: a small
// set of six-digit kind codes split across an internal/external axis.
// Internal errors represent invariant violations and are logged with
// a correlation id; external errors are safe to hand back to an API
// caller.
package errs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Code is a six-digit kind code grouping an error family.
type Code string

const (
	InternalUnexpected               Code = "100000"
	InternalInvariantViolation       Code = "100001"
	ExternalFirmwareSameVersion      Code = "200100"
	ExternalFirmwareFailed           Code = "200101"
	ExternalFirmwareTimeout          Code = "200102"
	ExternalDeploymentFailed         Code = "200200"
	ExternalDeploymentTimeout        Code = "200201"
	ExternalDeploymentInvalidAppFile Code = "200202"
	ExternalDeviceNotFound           Code = "200300"
	ExternalInvalidMethodDuringState Code = "200400"
	ExternalFileNotFound             Code = "200500"
	ExternalDisconnected             Code = "200600"
	ExternalTimeout                  Code = "200601"
	ExternalStorageLimit             Code = "200700"
)

// Error is a tagged error: a Code plus a human message and an
// optional wrapped cause.
type Error struct {
	Code          Code
	Message       string
	Cause         error
	CorrelationID string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Internal builds an internal error and stamps it with a fresh
// correlation id for log correlation. Callers in business logic
// should return this rather than panicking; only cmd/ entry points
// decide whether an internal error should abort the process.
func Internal(format string, args ...any) *Error {
	return &Error{
		Code:          InternalInvariantViolation,
		Message:       fmt.Sprintf(format, args...),
		CorrelationID: uuid.NewString(),
	}
}

// External builds an externally-facing tagged error.
func External(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Code to an existing error without discarding it.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err, if any.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Is reports whether err (or a wrapped error) carries the given Code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
