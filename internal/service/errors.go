package service

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation      ErrorKind = "VALIDATION_ERROR"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindUnauthorized    ErrorKind = "UNAUTHORIZED"
	KindOperationFailed ErrorKind = "OPERATION_FAILED"
	KindUnknown         ErrorKind = "UNKNOWN"
)

// Error carries the operation that failed so callers can log and map it
// without losing the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newValidation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func newNotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

func newUnauthorized(op, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Op: op, Msg: msg}
}

func wrapOperation(op, msg string, err error) *Error {
	return &Error{Kind: KindOperationFailed, Op: op, Msg: msg, Err: err}
}

// KindOf classifies any error; non-engine errors map to UNKNOWN.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
