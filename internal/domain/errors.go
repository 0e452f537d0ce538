package domain

import (
	"errors"
	"fmt"
)

// Code classifies engine errors. Terminal codes end a run; the rest are
// absorbed into stage output and the run continues.
type Code string

const (
	CodeInvalidFormat      Code = "invalid_format"
	CodeTooLarge           Code = "too_large"
	CodeInsufficientCredit Code = "insufficient_credit"
	CodeTaggingDegraded    Code = "tagging_degraded"
	CodeRepairPartial      Code = "repair_partial"
	CodeRepairFailed       Code = "repair_failed"
	CodeSuggestionFailed   Code = "suggestion_failed"
	CodeCancelled          Code = "cancelled"
	CodeUnhandledFailure   Code = "unhandled_failure"
)

// Terminal reports whether the code ends a run.
func (c Code) Terminal() bool {
	switch c {
	case CodeInvalidFormat, CodeTooLarge, CodeInsufficientCredit, CodeCancelled, CodeUnhandledFailure:
		return true
	}
	return false
}

// Error is a coded engine error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a coded error.
func NewError(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// InvalidFormatError marks a document that fails container validation.
func InvalidFormatError(message string, err error) *Error {
	return NewError(CodeInvalidFormat, message, err)
}

// TooLargeError marks a document over the configured size ceiling.
func TooLargeError(message string) *Error {
	return NewError(CodeTooLarge, message, nil)
}

// InsufficientCreditError marks a reservation the ledger cannot cover.
func InsufficientCreditError(message string) *Error {
	return NewError(CodeInsufficientCredit, message, nil)
}

// CancelledError marks a run ended by a cancellation request.
func CancelledError(message string) *Error {
	return NewError(CodeCancelled, message, nil)
}

// UnhandledError wraps an unexpected failure.
func UnhandledError(message string, err error) *Error {
	return NewError(CodeUnhandledFailure, message, err)
}

// CodeOf extracts the Code from an error chain, or CodeUnhandledFailure if
// the chain carries no coded error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnhandledFailure
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
