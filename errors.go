package dochost

import (
	"errors"
	"strings"
)

// Error is the dochost error domain type.
//
// Errors coming from dochost components should be inspectable as
// ([errors.As]) an *Error at some point in the error chain.
//
// Components should create an Error at the system boundary (e.g. a database
// client or a file read) and intermediate layers should not wrap in another
// Error except to refine its [ErrorKind]; prefer [fmt.Errorf] with "%w" to
// add context without hiding the original Kind.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrNotFound, ErrBadRequest, ErrInternal, ErrConflict, ErrTransient, ErrTerminal:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// Callers should compare against a declared [ErrorKind], not a specific
// error value.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind classifies an Error and maps to an HTTP status and cache
// policy at the router boundary.
type ErrorKind string

// Defined error kinds. The router answers NotFound and BadRequest with the
// matching HTTP status and every other kind as an internal error; a
// canonicalization redirect is written by the router directly and has no
// kind. Transient and Terminal label build-pipeline failures, and Internal
// is the catch-all.
var (
	ErrNotFound   = ErrorKind("not-found")   // crate, version, or resource absent
	ErrBadRequest = ErrorKind("bad-request") // malformed input
	ErrConflict   = ErrorKind("conflict")    // e.g. duplicate queue claim
	ErrInternal   = ErrorKind("internal")    // non-specific internal error
	ErrTransient  = ErrorKind("transient")   // build-pipeline: retry up to max_attempts
	ErrTerminal   = ErrorKind("terminal")    // build-pipeline: never retry
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
