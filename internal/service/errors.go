package service

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	CodeLedgerUnavailable   ErrorCode = "LEDGER_UNAVAILABLE"
	CodeBadProviderResponse ErrorCode = "BAD_PROVIDER_RESPONSE"
	CodeGenerationFailed    ErrorCode = "GENERATION_FAILED"
	CodeSessionCreateFailed ErrorCode = "SESSION_CREATE_FAILED"
	CodeNoActiveSession     ErrorCode = "NO_ACTIVE_SESSION"
	CodeHardwareUnavailable ErrorCode = "HARDWARE_UNAVAILABLE"
	CodeBusy                ErrorCode = "BUSY"
	CodeNotPrepared         ErrorCode = "NOT_PREPARED"
)

// Error carries a taxonomy code, a short machine-readable reason and the cause.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" && e.Err == nil {
		return fmt.Sprintf("service: %s", e.Code)
	}
	if e.Err == nil {
		return fmt.Sprintf("service: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("service: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code, so the sentinels below work with
// errors.Is regardless of reason or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// NewError is exported for packages that report taxonomy errors of their own.
func NewError(code ErrorCode, reason string, err error) *Error {
	return newError(code, reason, err)
}

var (
	ErrInvalidInput        = &Error{Code: CodeInvalidInput}
	ErrInsufficientFunds   = &Error{Code: CodeInsufficientFunds}
	ErrLedgerUnavailable   = &Error{Code: CodeLedgerUnavailable}
	ErrBadProviderResponse = &Error{Code: CodeBadProviderResponse}
	ErrGenerationFailed    = &Error{Code: CodeGenerationFailed}
	ErrSessionCreateFailed = &Error{Code: CodeSessionCreateFailed}
	ErrNoActiveSession     = &Error{Code: CodeNoActiveSession}
	ErrHardwareUnavailable = &Error{Code: CodeHardwareUnavailable}
	ErrBusy                = &Error{Code: CodeBusy}
	ErrNotPrepared         = &Error{Code: CodeNotPrepared}
)

// CodeOf returns the taxonomy code of err, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
