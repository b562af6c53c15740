package errors

import (
	stderrors "errors"
	"fmt"
)

// Is reports whether err matches target, re-exported so callers of this
// package do not need a second errors import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

type ErrorCode string

const (
	LockTimeout      ErrorCode = "lock_timeout"
	LockExpired      ErrorCode = "lock_expired"
	PermissionDenied ErrorCode = "permission_denied"
	InvalidValue     ErrorCode = "invalid_value"
	InvalidType      ErrorCode = "invalid_type"
	MalformedKey     ErrorCode = "malformed_key"
	NotFound         ErrorCode = "not_found"
	InternalError    ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any AppError with the same code, so callers can test
// errors.Is(err, ErrLockTimeout) against errors built with NewAppErrorf.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}
}

// Predefined errors for common cases
var (
	ErrLockTimeout      = NewAppError(LockTimeout, "lock not acquired within timeout")
	ErrLockExpired      = NewAppError(LockExpired, "lease expired before release")
	ErrPermissionDenied = NewAppError(PermissionDenied, "operation not permitted")
	ErrInvalidValue     = NewAppError(InvalidValue, "invalid value")
	ErrInvalidType      = NewAppError(InvalidType, "invalid collaborator type")
	ErrMalformedKey     = NewAppError(MalformedKey, "ledger key does not match expected format")
	ErrNotFound         = NewAppError(NotFound, "object not found")
)
