// Package apperr defines the typed error taxonomy shared by every core
// component, so the HTTP layer can map failures to problem+json without
// inspecting provider-specific error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Code classifies an Error for propagation and HTTP mapping purposes.
type Code string

const (
	NotFound     Code = "not_found"
	Conflict     Code = "conflict"
	Validation   Code = "validation"
	Unauthorised Code = "unauthorised"
	External     Code = "external"
	Crypto       Code = "crypto"
	Timeout      Code = "timeout"
	Cancelled    Code = "cancelled"
	Internal     Code = "internal"
)

// Error is a typed error that can be surfaced to API clients without leaking
// provider-specific internals.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e Error) Unwrap() error {
	return e.Err
}

// New constructs a typed Error.
func New(code Code, message string, err error) Error {
	return Error{Code: code, Message: message, Err: err}
}

func NotFoundf(format string, args ...any) Error {
	return Error{Code: NotFound, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) Error {
	return Error{Code: Conflict, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) Error {
	return Error{Code: Validation, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) Error {
	return Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Is reports whether err (or anything it wraps) is an Error with the given
// code.
func Is(err error, code Code) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
