package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantNotFoundIsIndistinguishableFromNotFound(t *testing.T) {
	tenant := Wrap(KindTenantNotFound, "organization acme has no member u1", errors.New("no assignment"))
	missing := NotFound()

	assert.Equal(t, missing.Status(), tenant.Status())
	assert.Equal(t, missing.PublicKind(), tenant.PublicKind())
	assert.Equal(t, missing.PublicMessage(), tenant.PublicMessage())
}

func TestStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		KindUnauthenticated: http.StatusUnauthorized,
		KindForbidden:       http.StatusForbidden,
		KindValidation:      http.StatusUnprocessableEntity,
		KindBatchValidation: http.StatusUnprocessableEntity,
		KindReference:       http.StatusUnprocessableEntity,
		KindConflict:        http.StatusConflict,
		KindStorage:         http.StatusInternalServerError,
		KindUnknownResource: http.StatusNotFound,
	}
	for kind, want := range cases {
		assert.Equal(t, want, New(kind, "x").Status(), string(kind))
	}
}

func TestAsThroughWrapping(t *testing.T) {
	base := Validation(map[string][]string{"title": {"The title field is required."}})
	wrapped := fmt.Errorf("create post: %w", base)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "The title field is required.", got.Message)

	multi := Validation(map[string][]string{"a": {"first"}, "b": {"second"}})
	assert.Equal(t, "first (and 1 more error)", multi.Message)
}
