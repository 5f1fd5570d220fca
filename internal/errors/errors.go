package errors

import (
	"errors"
	"fmt"
)

// Re-exported standard library helpers so callers only import one errors package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)

// ErrorCode is a unique identifier for each error type. Domain packages
// declare their own codes alongside the shared ones below.
type ErrorCode string

// Error is a domain error carrying a code, an optional message override and
// an optional wrapped cause.
type Error interface {
	error
	Code() ErrorCode
	Unwrap() error
}

type appError struct {
	code    ErrorCode
	message string
	err     error
	data    any
}

func (e *appError) Error() string {
	msg := e.message
	if msg == "" {
		msg = GetErrorMessage(e.code)
	}

	if e.data != nil {
		return fmt.Sprintf("%s: %v", msg, e.data)
	}

	if e.err != nil {
		return fmt.Sprintf("%s: %v", msg, e.err)
	}

	return msg
}

func (e *appError) Code() ErrorCode {
	return e.code
}

func (e *appError) Unwrap() error {
	return e.err
}

// New creates an error for the given code.
func New(code ErrorCode) Error {
	return &appError{code: code}
}

// Wrap creates an error for the given code with an underlying cause.
func Wrap(code ErrorCode, err error) Error {
	return &appError{code: code, err: err}
}

// WithMessage creates an error for the given code with a custom message.
func WithMessage(code ErrorCode, msg string) Error {
	return &appError{code: code, message: msg}
}

// WithData creates an error for the given code carrying structured context.
func WithData(code ErrorCode, data any) Error {
	return &appError{code: code, data: data}
}

// CodeOf returns the error code of err, or ErrInternal when err carries none.
func CodeOf(err error) ErrorCode {
	var appErr Error
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return ErrInternal
}
