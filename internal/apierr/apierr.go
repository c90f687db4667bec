// Package apierr defines the terminal error kinds surfaced by the request
// pipeline and their HTTP status mapping.
package apierr

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
)

// Kind classifies an error for status signalling.
type Kind string

const (
	KindUnknownResource Kind = "unknown_resource"
	KindNotFound        Kind = "not_found"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindTenantNotFound  Kind = "tenant_not_found"
	KindValidation      Kind = "validation_failed"
	KindBatchValidation Kind = "batch_validation_failed"
	KindReference       Kind = "reference_resolution_failed"
	KindStorage         Kind = "storage_failure"
	KindConflict        Kind = "conflict"
	KindBadRequest      Kind = "bad_request"
)

// notFoundMessage is shared by every 404 so that a missing organization
// reads exactly like a missing record or a missing membership.
const notFoundMessage = "resource not found"

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string][]string
	Step    *int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for the error kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindUnknownResource, KindNotFound, KindTenantNotFound:
		return http.StatusNotFound
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation, KindBatchValidation, KindReference:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicKind is the kind reported to callers. Tenant failures are reported
// as plain not-found.
func (e *Error) PublicKind() Kind {
	switch e.Kind {
	case KindTenantNotFound, KindUnknownResource:
		return KindNotFound
	default:
		return e.Kind
	}
}

// PublicMessage is the message reported to callers.
func (e *Error) PublicMessage() string {
	switch e.Kind {
	case KindTenantNotFound, KindUnknownResource, KindNotFound:
		return notFoundMessage
	case KindStorage:
		return "storage operation failed"
	}
	return e.Error()
}

// WithStep annotates the error with the batch step that caused it.
func (e *Error) WithStep(i int) *Error {
	e.Step = &i
	return e
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFound() *Error { return New(KindNotFound, notFoundMessage) }

// Validation builds a field-level validation error.
func Validation(fields map[string][]string) *Error {
	return &Error{Kind: KindValidation, Message: summarize(fields), Fields: fields}
}

// BatchValidation builds a path-qualified validation error for a batch.
func BatchValidation(fields map[string][]string) *Error {
	return &Error{Kind: KindBatchValidation, Message: summarize(fields), Fields: fields}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func summarize(fields map[string][]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if msgs := fields[k]; len(msgs) > 0 {
			if len(keys) > 1 {
				return msgs[0] + " (and " + plural(len(keys)-1) + ")"
			}
			return msgs[0]
		}
	}
	return "the given data was invalid"
}

func plural(n int) string {
	if n == 1 {
		return "1 more error"
	}
	return strconv.Itoa(n) + " more errors"
}
