// Package apperr classifies errors crossing the API boundary. Handlers map a
// kind to an HTTP status and return only the attached message, never the
// wrapped store error, to untrusted callers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthFailure
	KindNotFound
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports a malformed or empty request (HTTP 400).
func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }

// AuthFailure reports a caller acting on a resource it does not own (HTTP 403).
func AuthFailure(msg string) error { return &Error{Kind: KindAuthFailure, Msg: msg} }

// NotFound reports an absent chat, message or blob (HTTP 404).
func NotFound(msg string) error { return &Error{Kind: KindNotFound, Msg: msg} }

// Internal wraps an unexpected failure (HTTP 500). The wrapped error stays in
// server logs only.
func Internal(msg string, err error) error { return &Error{Kind: KindInternal, Msg: msg, Err: err} }

// Internalf is Internal with formatting.
func Internalf(format string, v ...any) error {
	return &Error{Kind: KindInternal, Msg: fmt.Sprintf(format, v...)}
}

// KindOf extracts the kind from an error chain; unknown errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal server error"
}

// HTTPStatus maps an error to its response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthFailure:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
