// Package apperr defines the error kinds shared by the processing pipeline and
// maps remote failures onto them.
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups errors by how a caller should react to them.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindConflict        Kind = "conflict"
	KindTransientRemote Kind = "transient_remote"
	KindPermanentRemote Kind = "permanent_remote"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindInternal        Kind = "internal"
)

// Error codes.
const (
	CodeNoContent         = "NO_CONTENT"
	CodeEmptyText         = "EMPTY_TEXT"
	CodeTooLarge          = "TOO_LARGE"
	CodeUnsupported       = "UNSUPPORTED_TYPE"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeInvalidState      = "INVALID_TRANSITION"
	CodeStaleWrite        = "STALE_WRITE"
	CodeInProgress        = "IN_PROGRESS"
	CodeAlreadyExists     = "ALREADY_EXISTS"
	CodeExpired           = "EXPIRED"
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeRateLimit         = "RATE_LIMIT"
	CodeTimeout           = "TIMEOUT"
	CodeUnavailable       = "SERVICE_UNAVAILABLE"
	CodeAuthFailed        = "AUTH_FAILED"
	CodeContentRejected   = "CONTENT_REJECTED"
	CodeEmptyResponse     = "EMPTY_RESPONSE"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeInternal          = "INTERNAL"
)

// Error is the typed error returned across package boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind and code so sentinels compare equal to errors built
// from them with a different message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithCause returns a copy of e carrying cause.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

var (
	// ErrNoContent is returned when a session has no user speech to analyze.
	ErrNoContent = &Error{Kind: KindValidation, Code: CodeNoContent, Message: "no user responses in transcript"}

	// ErrExpired is returned for ratings past their retention window.
	ErrExpired = &Error{Kind: KindNotFound, Code: CodeExpired, Message: "rating has expired"}

	ErrNotFound  = &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "resource not found"}
	ErrForbidden = &Error{Kind: KindForbidden, Code: CodeForbidden, Message: "resource belongs to another user"}
	ErrStale     = &Error{Kind: KindConflict, Code: CodeStaleWrite, Message: "record was modified concurrently"}
)

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// InvalidTransition reports an illegal state change, naming both ends.
func InvalidTransition(entity, from, to string) *Error {
	return &Error{
		Kind:    KindConflict,
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("cannot transition %s from %s to %s", entity, from, to),
	}
}

func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

func Transient(code string, cause error) *Error {
	return &Error{Kind: KindTransientRemote, Code: code, Message: "remote service temporarily failed", Cause: cause}
}

func Permanent(code string, cause error) *Error {
	return &Error{Kind: KindPermanentRemote, Code: code, Message: "remote service rejected the request", Cause: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransientRemote
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
