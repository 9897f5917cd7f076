// Package apperr defines the error taxonomy shared by the meeting lifecycle
// components and the result type used for best-effort sub-steps.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the HTTP layer.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUpstream     Kind = "upstream_failure"
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
)

// Error is a classified error with a client-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing meeting, agent or call.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a lost race or a state that forbids the operation.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized reports a failed credential or signature check.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a failure of the call provider, the voice backend or the store.
func Upstream(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUpstream, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
// Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-facing message for err. Unclassified errors
// do not leak details.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timeout"
	}
	return "internal error"
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return statusFromKind(KindOf(err))
}

func statusFromKind(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
