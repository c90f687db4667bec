package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"restgen.dev/internal/auth"
	"restgen.dev/internal/registry"
)

type stubDirectory struct {
	orgs  []*Organization
	roles map[string]*auth.Role // userID|orgID
	err   error
}

func (d *stubDirectory) FindOrganization(_ context.Context, by Identifier, value string) (*Organization, error) {
	if d.err != nil {
		return nil, d.err
	}
	for _, o := range d.orgs {
		if (by == IdentifierID && o.ID == value) || (by == IdentifierSlug && o.Slug == value) {
			return o, nil
		}
	}
	return nil, ErrTenantNotFound
}

func (d *stubDirectory) RoleFor(_ context.Context, userID, orgID string) (*auth.Role, error) {
	if r, ok := d.roles[userID+"|"+orgID]; ok {
		return r, nil
	}
	return nil, auth.ErrNotFound
}

func fixtureDirectory() *stubDirectory {
	return &stubDirectory{
		orgs: []*Organization{
			{ID: "org-1", Slug: "acme", Name: "Acme", Active: true},
			{ID: "org-2", Slug: "dormant", Name: "Dormant", Active: false},
		},
		roles: map[string]*auth.Role{
			"u1|org-1": {Slug: "admin", Permissions: []string{"*"}},
			"u1|":      {Slug: "viewer", Permissions: []string{"posts.index"}},
		},
	}
}

func TestResolveMembership(t *testing.T) {
	r, err := NewResolver(fixtureDirectory(), Config{})
	require.NoError(t, err)
	ctx := context.Background()

	scope, err := r.Resolve(ctx, "acme", &auth.User{ID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "org-1", scope.OrganizationID())
	require.Equal(t, "admin", scope.Role.Slug)

	p := scope.Principal(&auth.User{ID: "u1"})
	require.Equal(t, "org-1", p.OrganizationID)
	require.True(t, p.Can("posts", registry.ActionDestroy))

	guest, err := r.Resolve(ctx, "acme", nil)
	require.NoError(t, err)
	require.Nil(t, guest.Role)
	require.Nil(t, guest.Principal(nil))
}

func TestResolveFailuresAreIndistinguishable(t *testing.T) {
	r, err := NewResolver(fixtureDirectory(), Config{Identifier: IdentifierSlug})
	require.NoError(t, err)
	ctx := context.Background()

	_, missing := r.Resolve(ctx, "nope", &auth.User{ID: "u1"})
	_, inactive := r.Resolve(ctx, "dormant", &auth.User{ID: "u1"})
	_, nonMember := r.Resolve(ctx, "acme", &auth.User{ID: "u2"})
	_, empty := r.Resolve(ctx, "", nil)

	for _, err := range []error{missing, inactive, nonMember, empty} {
		require.ErrorIs(t, err, ErrTenantNotFound)
		require.Equal(t, ErrTenantNotFound.Error(), err.Error())
	}
}

func TestResolveStorageErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	r, err := NewResolver(&stubDirectory{err: boom}, Config{})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "acme", nil)
	require.ErrorIs(t, err, boom)
}

func TestResolveByID(t *testing.T) {
	r, err := NewResolver(fixtureDirectory(), Config{Identifier: IdentifierID})
	require.NoError(t, err)
	scope, err := r.Resolve(context.Background(), "org-1", nil)
	require.NoError(t, err)
	require.Equal(t, "acme", scope.Organization.Slug)
}

func TestFromHost(t *testing.T) {
	r, err := NewResolver(fixtureDirectory(), Config{Strategy: StrategySubdomain, BaseDomain: "api.example.com"})
	require.NoError(t, err)

	cases := map[string]struct {
		label string
		ok    bool
	}{
		"acme.api.example.com":      {"acme", true},
		"ACME.api.example.com:8080": {"acme", true},
		"api.example.com":           {"", false},
		"a.b.api.example.com":       {"", false},
		"acme.other.com":            {"", false},
	}
	for host, want := range cases {
		label, ok := r.FromHost(host)
		require.Equal(t, want.ok, ok, host)
		require.Equal(t, want.label, label, host)
	}

	_, err = NewResolver(fixtureDirectory(), Config{Strategy: StrategySubdomain})
	require.Error(t, err)
}

func TestGlobalScope(t *testing.T) {
	r, err := NewResolver(fixtureDirectory(), Config{})
	require.NoError(t, err)
	scope, err := r.Global(context.Background(), &auth.User{ID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "viewer", scope.Role.Slug)

	scope, err = r.Global(context.Background(), &auth.User{ID: "u2"})
	require.NoError(t, err)
	require.Nil(t, scope.Role)
}

func TestStamp(t *testing.T) {
	m := &registry.Model{Slug: "blogs", OrganizationField: "organization_id"}
	scope := &Scope{Organization: &Organization{ID: "org-1"}}
	rec := map[string]any{"organization_id": "org-evil", "name": "x"}
	scope.Stamp(m, rec)
	require.Equal(t, "org-1", rec["organization_id"])

	var none *Scope
	rec = map[string]any{}
	none.Stamp(m, rec)
	require.Empty(t, rec)
}
