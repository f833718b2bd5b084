// Package coreerr defines the error taxonomy surfaced across the
// conversation core (spec §7), in the same sentinel + wrapper shape the
// teacher uses to distinguish persistence.ErrNotFound from ErrForbidden.
package coreerr

import (
	"errors"
	"fmt"
)

// Code identifies a taxonomy bucket. Errors are compared with errors.Is
// against the sentinels below; httpapi also reads Code directly to map an
// error to an HTTP status.
type Code string

const (
	CodeNotFound     Code = "NotFound"
	CodeConflict     Code = "Conflict"
	CodeInputTooLarge Code = "InputTooLarge"
	CodeRateLimited  Code = "RateLimited"
	CodeTransient    Code = "Transient"
	CodePolicyBlocked Code = "PolicyBlocked"
	CodeCancelled    Code = "Cancelled"
	CodeInternal     Code = "Internal"
)

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound      = &CoreError{Code: CodeNotFound, Message: "not found"}
	ErrConflict      = &CoreError{Code: CodeConflict, Message: "conflict"}
	ErrInputTooLarge = &CoreError{Code: CodeInputTooLarge, Message: "input too large"}
	ErrRateLimited   = &CoreError{Code: CodeRateLimited, Retryable: true, Message: "rate limited"}
	ErrTransient     = &CoreError{Code: CodeTransient, Retryable: true, Message: "transient failure"}
	ErrPolicyBlocked = &CoreError{Code: CodePolicyBlocked, Message: "blocked by safety policy"}
	ErrCancelled     = &CoreError{Code: CodeCancelled, Message: "cancelled"}
	ErrInternal      = &CoreError{Code: CodeInternal, Message: "internal error"}
)

// CoreError is the wrapper type every taxonomy error is expressed as.
type CoreError struct {
	Code      Code
	Message   string
	Retryable bool
	Cause     error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Is lets errors.Is match against a sentinel by Code, ignoring Message/Cause.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Wrap builds a new CoreError of the given sentinel's code, wrapping cause.
func Wrap(sentinel *CoreError, cause error, format string, args ...any) *CoreError {
	return &CoreError{
		Code:      sentinel.Code,
		Message:   fmt.Sprintf(format, args...),
		Retryable: sentinel.Retryable,
		Cause:     cause,
	}
}

// IsRetryable reports whether err (or any error it wraps) is marked retryable.
func IsRetryable(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
