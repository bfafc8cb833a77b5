// Package apperr carries the error taxonomy shared by the request and worker
// tiers. Handlers translate kinds to HTTP status codes at the boundary; the
// job executor uses kinds to decide between retry and immediate failure.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary translation and retry decisions.
type Kind string

const (
	Validation      Kind = "validation"
	Unauthenticated Kind = "unauthenticated"
	Authorization   Kind = "authorization"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	Transient       Kind = "transient"
	BudgetExceeded  Kind = "budget_exceeded"
	Extraction      Kind = "extraction"
	EmptyDocument   Kind = "empty_document"
	Classifier      Kind = "classifier"
	Permanent       Kind = "permanent"
)

// Error is an error with a Kind tag. Msg is safe to surface to API clients.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a tagged error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error while keeping it unwrappable.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or Permanent for untagged errors.
// A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Permanent
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return KindOf(err) == Transient
}

// Retryable reports whether the job executor may requeue a task that
// failed with err. Budget, extraction and validation failures are final.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error to the response status of the API contract.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case Validation:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case Authorization:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case BudgetExceeded:
		return http.StatusTooManyRequests
	case Transient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
