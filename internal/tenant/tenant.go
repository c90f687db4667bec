// Package tenant resolves the active organization of a request and the
// caller's role inside it.
package tenant

import (
	"context"
	"errors"

	"restgen.dev/internal/auth"
	"restgen.dev/internal/registry"
)

// ErrTenantNotFound covers a missing organization, an inactive one and a
// caller without membership. The three cases are reported identically.
var ErrTenantNotFound = errors.New("tenant: organization not found")

// Organization is the root of tenant scoping.
type Organization struct {
	ID     string
	Slug   string
	Name   string
	Active bool
}

// Strategy selects where the organization identifier is read from.
type Strategy string

const (
	StrategyRoute     Strategy = "route"
	StrategySubdomain Strategy = "subdomain"
)

// Identifier selects which organization column the identifier is matched on.
type Identifier string

const (
	IdentifierID   Identifier = "id"
	IdentifierSlug Identifier = "slug"
)

// Directory looks up organizations and role assignments. FindOrganization
// returns ErrTenantNotFound when nothing matches; RoleFor returns
// auth.ErrNotFound when the user holds no role in the organization. An empty
// organization id asks for the user's global role.
type Directory interface {
	FindOrganization(ctx context.Context, by Identifier, value string) (*Organization, error)
	RoleFor(ctx context.Context, userID, organizationID string) (*auth.Role, error)
}

// Scope is the resolved tenant context of one request.
type Scope struct {
	Organization *Organization
	Role         *auth.Role
}

// OrganizationID returns the active organization id, or "" outside tenancy.
func (s *Scope) OrganizationID() string {
	if s == nil || s.Organization == nil {
		return ""
	}
	return s.Organization.ID
}

// Principal combines the scope with the authenticated user. A nil user is a guest.
func (s *Scope) Principal(user *auth.User) *auth.Principal {
	if user == nil {
		return nil
	}
	var role *auth.Role
	if s != nil {
		role = s.Role
	}
	return auth.NewPrincipal(user, s.OrganizationID(), role)
}

// Stamp sets the direct organization reference on a record being created.
// Client supplied values are overwritten.
func (s *Scope) Stamp(m *registry.Model, rec map[string]any) {
	if s == nil || s.Organization == nil || m.OrganizationField == "" {
		return
	}
	rec[m.OrganizationField] = s.Organization.ID
}

type scopeContextKey struct{}

func ContextWithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// FromContext returns the request scope, or nil when tenancy is off.
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeContextKey{}).(*Scope)
	return s
}
