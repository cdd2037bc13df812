package model

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure for status mapping and caching policy.
type ErrorKind string

const (
	ErrValidation          ErrorKind = "validation"
	ErrNotFound            ErrorKind = "not_found"
	ErrUnsupported         ErrorKind = "unsupported_representation"
	ErrLimitExceeded       ErrorKind = "limit_exceeded"
	ErrRangeNotSatisfiable ErrorKind = "range_not_satisfiable"
	ErrOperation           ErrorKind = "operation"
	ErrUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrUpstreamTimeout     ErrorKind = "upstream_timeout"
	ErrOverloaded          ErrorKind = "overloaded"
	ErrInternal            ErrorKind = "internal"
)

// Error is the gateway error type carried from the parser, processor and storage up to the handler.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Errorf creates an Error with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error kind.
func (k ErrorKind) Status() int {
	switch k {
	case ErrValidation, ErrUnsupported, ErrOperation:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case ErrRangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case ErrUpstreamUnavailable:
		return http.StatusBadGateway
	case ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case ErrOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a later attempt may succeed.
func (k ErrorKind) Retryable() bool {
	return k == ErrUpstreamUnavailable || k == ErrUpstreamTimeout || k == ErrOverloaded
}

// KindOf extracts the kind of err. Context deadlines map to ErrUpstreamTimeout,
// anything unclassified to ErrInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	return ErrInternal
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
