// Package errdefs defines the error taxonomy shared by every identity
// service. Callers distinguish outcomes by Kind rather than by matching
// message text.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error outcome
type Kind string

const (
	// KindValidation indicates malformed or out-of-range input
	KindValidation Kind = "validation"
	// KindNotFound indicates a referenced id is absent within the domain
	KindNotFound Kind = "not_found"
	// KindNotUnique indicates a uniqueness constraint violation
	KindNotUnique Kind = "not_unique"
	// KindConflict indicates a state conflict (self-parenting, cycles,
	// duplicate membership)
	KindConflict Kind = "conflict"
	// KindResourceInUse indicates a delete blocked by dependents
	KindResourceInUse Kind = "resource_in_use"
	// KindForbidden indicates a permission match failure
	KindForbidden Kind = "forbidden"
	// KindInternal indicates an unexpected failure in a collaborator
	KindInternal Kind = "internal"
)

// Error is a classified error with optional resource context
type Error struct {
	Kind     Kind
	Resource string // entity type, e.g. "user", "project_group"
	Key      string // offending id or field, if known
	Message  string
	cause    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (%s=%s)", e.Kind, e.Message, e.Resource, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports kind equality so sentinel comparisons work through errors.Is
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// WithCause attaches an underlying error
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Validation creates a VALIDATION error
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a NOT_FOUND error for a resource/key pair
func NotFound(resource, key string) *Error {
	return &Error{
		Kind:     KindNotFound,
		Resource: resource,
		Key:      key,
		Message:  resource + " not found",
	}
}

// NotUnique creates a NOT_UNIQUE error for a duplicated key
func NotUnique(resource, key string) *Error {
	return &Error{
		Kind:     KindNotUnique,
		Resource: resource,
		Key:      key,
		Message:  resource + " key is not unique",
	}
}

// Conflict creates a CONFLICT_STATE error
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// ResourceInUse creates a RESOURCE_IN_USE error
func ResourceInUse(resource, key string) *Error {
	return &Error{
		Kind:     KindResourceInUse,
		Resource: resource,
		Key:      key,
		Message:  resource + " has dependent resources",
	}
}

// Forbidden creates a FORBIDDEN error for a denied action
func Forbidden(action string) *Error {
	return &Error{
		Kind:    KindForbidden,
		Key:     action,
		Message: "permission denied for " + action,
	}
}

// Internal wraps an unexpected collaborator failure
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: err}
}

// KindOf extracts the Kind from any error; unknown errors are internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to an HTTP status code
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindNotUnique, KindConflict, KindResourceInUse:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
