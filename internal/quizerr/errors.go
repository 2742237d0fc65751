// Package quizerr defines the error taxonomy shared by the lobby manager,
// the game engine, and the HTTP/WS surfaces. Callers classify failures by
// Kind rather than by matching message strings.
package quizerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	KindUnknown       Kind = "unknown"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindState         Kind = "state"
	KindCapacity      Kind = "capacity"
	KindAuthorization Kind = "authorization"
	KindDuplicate     Kind = "duplicate"
	KindPrecondition  Kind = "precondition"
	KindUpstream      Kind = "upstream"
	KindTransport     Kind = "transport"
)

// Error is a classified error. Upstream and transport errors may wrap a
// cause; caller-facing kinds carry only a message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error, keeping it reachable via errors.Is/As.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

func State(format string, args ...interface{}) *Error {
	return New(KindState, format, args...)
}

func Capacity(format string, args ...interface{}) *Error {
	return New(KindCapacity, format, args...)
}

func Authorization(format string, args ...interface{}) *Error {
	return New(KindAuthorization, format, args...)
}

func Duplicate(format string, args ...interface{}) *Error {
	return New(KindDuplicate, format, args...)
}

func Precondition(format string, args ...interface{}) *Error {
	return New(KindPrecondition, format, args...)
}

func Upstream(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindUpstream, cause, format, args...)
}

func Transport(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindTransport, cause, format, args...)
}

// KindOf extracts the Kind from err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error kind to the status code the REST surface returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindState, KindDuplicate:
		return http.StatusConflict
	case KindCapacity:
		return http.StatusConflict
	case KindAuthorization:
		return http.StatusForbidden
	case KindPrecondition:
		return http.StatusUnprocessableEntity
	case KindUpstream, KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
