package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

// ErrorKind classifies domain failures so that callers can map them to a transport status.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindAlreadyTerminal
	KindUnavailable
	KindPolicyViolation
	KindStorage
)

var kindNames = map[ErrorKind]string{
	KindUnknown:         "unknown",
	KindNotFound:        "not found",
	KindAlreadyTerminal: "already terminal",
	KindUnavailable:     "unavailable",
	KindPolicyViolation: "policy violation",
	KindStorage:         "storage",
}

func (k ErrorKind) String() string { return kindNames[k] }

// Error is a domain error tagged with its ErrorKind.
// Packages declare their sentinels with NewError; storage adapters wrap driver failures with NewStorageError.
type Error struct {
	Kind ErrorKind
	msg  string
	Err  error
}

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func NewStorageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindStorage, msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.msg + ": " + e.Err.Error()
	}
	return e.msg
}

// Unwrap exposes the driver error of storage failures.
// There is no Cause method: errors.Cause must stop at the tagged error.
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, looking through pkg/errors wrappers and validation errors.
func KindOf(err error) ErrorKind {
	switch e := errors.Cause(err).(type) {
	case *Error:
		return e.Kind
	case *ValidationError:
		if e.Err != nil {
			return KindOf(e.Err)
		}
	}
	return KindUnknown
}

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
