package journal

import (
	"errors"
	"fmt"
)

// ErrorCode defines error classification codes for structured error handling.
type ErrorCode string

// Error codes for different error categories.
const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeDuplicate    ErrorCode = "DUPLICATE"
	ErrCodeDatabase     ErrorCode = "DATABASE_ERROR"
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnsupported  ErrorCode = "UNSUPPORTED"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeFetch        ErrorCode = "FETCH_ERROR"
	ErrCodeSubscription ErrorCode = "SUBSCRIPTION_ERROR"
	ErrCodeWrite        ErrorCode = "WRITE_ERROR"
	ErrCodeDecode       ErrorCode = "DECODE_ERROR"
)

// Error represents a structured error with classification code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with classification code and additional context.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsErrorCode reports whether any error in err's chain carries the given code.
// A *DecodeError matches ErrCodeDecode.
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	for cur := err; cur != nil; {
		var e *Error
		if !errors.As(cur, &e) {
			break
		}
		if e.Code == code {
			return true
		}
		cur = e.Err
	}
	if code == ErrCodeDecode {
		var de *DecodeError
		return errors.As(err, &de)
	}
	return false
}

// ErrorCodeOf returns the code of the outermost *Error in err's chain, or "".
func ErrorCodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var de *DecodeError
	if errors.As(err, &de) {
		return ErrCodeDecode
	}
	return ""
}

// DecodeError reports a wire row that could not be turned into a TradeRecord.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "decode row: " + e.Reason
	}
	return fmt.Sprintf("decode row: field %q: %s", e.Field, e.Reason)
}
