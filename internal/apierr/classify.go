package apierr

import (
	"errors"

	"restgen.dev/internal/auth"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
	"restgen.dev/internal/tenant"
	"restgen.dev/internal/validation"
)

// From classifies any error returned by the pipeline's components.
// Unrecognised errors are storage failures.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	var verrs validation.Errors
	switch {
	case errors.As(err, &verrs):
		return &Error{Kind: KindValidation, Message: summarize(verrs), Fields: verrs, Err: err}
	case errors.Is(err, registry.ErrUnknownResource):
		return Wrap(KindUnknownResource, "", err)
	case errors.Is(err, tenant.ErrTenantNotFound):
		return Wrap(KindTenantNotFound, "", err)
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		return Wrap(KindUnauthenticated, "unauthenticated", err)
	case errors.Is(err, auth.ErrForbidden):
		return Wrap(KindForbidden, err.Error(), err)
	case errors.Is(err, validation.ErrNoRoleContract):
		return Wrap(KindForbidden, "this action is unauthorized", err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		return Wrap(KindNotFound, "", err)
	case errors.Is(err, store.ErrConflict):
		return Wrap(KindConflict, err.Error(), err)
	}
	return Wrap(KindStorage, "", err)
}
