// Package httperr defines the error kinds the HTTP boundary maps to
// response statuses. Services return these; handlers never invent
// status codes themselves.
package httperr

import "errors"

type UnauthenticatedError struct {
	msg string
}

func (e *UnauthenticatedError) Error() string { return e.msg }

func NewUnauthenticated(msg string) error { return &UnauthenticatedError{msg: msg} }

func IsUnauthenticated(err error) bool {
	var t *UnauthenticatedError
	return errors.As(err, &t)
}

type ForbiddenError struct {
	msg string
}

func (e *ForbiddenError) Error() string { return e.msg }

func NewForbidden(msg string) error { return &ForbiddenError{msg: msg} }

func IsForbidden(err error) bool {
	var t *ForbiddenError
	return errors.As(err, &t)
}

type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

func NewNotFound(msg string) error { return &NotFoundError{msg: msg} }

func IsNotFound(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

// ValidationError carries a field-keyed message map. It is never
// partially applied: the write it rejects did not happen.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	for f, m := range e.Fields {
		return "validation: " + f + ": " + m
	}
	return "validation failed"
}

func NewValidation(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

func NewFieldError(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func AsValidation(err error) (*ValidationError, bool) {
	var t *ValidationError
	ok := errors.As(err, &t)
	return t, ok
}

// RateLimitedError carries a retry hint in seconds.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string { return "rate limited" }

func NewRateLimited(retryAfterSeconds int) error {
	return &RateLimitedError{RetryAfterSeconds: retryAfterSeconds}
}

func AsRateLimited(err error) (*RateLimitedError, bool) {
	var t *RateLimitedError
	ok := errors.As(err, &t)
	return t, ok
}

// ConflictError marks consistency violations: cross-tenant references,
// role self-mutation, invalid enum transitions.
type ConflictError struct {
	msg string
}

func (e *ConflictError) Error() string { return e.msg }

func NewConflict(msg string) error { return &ConflictError{msg: msg} }

func IsConflict(err error) bool {
	var t *ConflictError
	return errors.As(err, &t)
}

// UnavailableError marks an external collaborator (classifier, model
// artifact, OIDC discovery) being down. Callers degrade, never abort.
type UnavailableError struct {
	msg string
}

func (e *UnavailableError) Error() string { return e.msg }

func NewUnavailable(msg string) error { return &UnavailableError{msg: msg} }

func IsUnavailable(err error) bool {
	var t *UnavailableError
	return errors.As(err, &t)
}
