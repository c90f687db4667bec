package auth

import (
	"context"
	"fmt"

	"restgen.dev/internal/registry"
)

// Principal is an authenticated user together with the role resolved for
// the active organization. A nil *Principal is a guest.
type Principal struct {
	User           *User
	OrganizationID string
	Role           *Role
	Permissions    PermissionSet
}

// NewPrincipal constructs a principal with its permission set precomputed.
func NewPrincipal(user *User, organizationID string, role *Role) *Principal {
	p := &Principal{User: user, OrganizationID: organizationID, Role: role}
	if role != nil {
		p.Permissions = NewPermissionSet(role.Permissions...)
	}
	return p
}

// UserID returns the user id, or "" for a guest.
func (p *Principal) UserID() string {
	if p == nil || p.User == nil {
		return ""
	}
	return p.User.ID
}

// RoleSlug returns the resolved role slug, or "" when there is none.
func (p *Principal) RoleSlug() string {
	if p == nil || p.Role == nil {
		return ""
	}
	return p.Role.Slug
}

// Can reports whether the principal holds the permission for action on resource.
func (p *Principal) Can(resource string, action registry.Action) bool {
	if p == nil {
		return false
	}
	return p.Permissions.Allows(resource, string(action))
}

// Policy is a per-model hook consulted after the permission check. target is
// nil for actions that do not operate on a loaded record.
type Policy interface {
	Allow(ctx context.Context, p *Principal, action registry.Action, target map[string]any) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, p *Principal, action registry.Action, target map[string]any) bool

func (f PolicyFunc) Allow(ctx context.Context, p *Principal, action registry.Action, target map[string]any) bool {
	return f(ctx, p, action, target)
}

// Authorizer evaluates resource policies.
type Authorizer struct {
	policies map[string]Policy
	onDeny   func(resource string, action registry.Action)
}

type AuthorizerOption func(*Authorizer)

// WithPolicy registers a custom policy for a model slug.
func WithPolicy(slug string, p Policy) AuthorizerOption {
	return func(a *Authorizer) { a.policies[slug] = p }
}

// WithDenialHook installs a callback invoked on every denial.
func WithDenialHook(fn func(resource string, action registry.Action)) AuthorizerOption {
	return func(a *Authorizer) { a.onDeny = fn }
}

func NewAuthorizer(opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{policies: map[string]Policy{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Check runs the permission check alone. It precedes any data access; the
// policy needs the loaded record and runs in Authorize.
func (a *Authorizer) Check(p *Principal, m *registry.Model, action registry.Action) error {
	if m.IsPublic(action) {
		return nil
	}
	if p == nil {
		a.denied(m.Slug, action)
		return fmt.Errorf("%w: %s", ErrUnauthenticated, Permission(m.Slug, string(action)))
	}
	if !p.Can(m.Slug, action) {
		a.denied(m.Slug, action)
		return fmt.Errorf("%w: %s", ErrForbidden, Permission(m.Slug, string(action)))
	}
	return nil
}

// Authorize returns nil, ErrUnauthenticated or ErrForbidden. Public actions
// skip every check.
func (a *Authorizer) Authorize(ctx context.Context, p *Principal, m *registry.Model, action registry.Action, target map[string]any) error {
	if m.IsPublic(action) {
		return nil
	}
	if err := a.Check(p, m, action); err != nil {
		return err
	}
	if pol, ok := a.policies[m.Slug]; ok && !pol.Allow(ctx, p, action, target) {
		a.denied(m.Slug, action)
		return fmt.Errorf("%w: %s denied by policy", ErrForbidden, Permission(m.Slug, string(action)))
	}
	return nil
}

func (a *Authorizer) denied(resource string, action registry.Action) {
	if a.onDeny != nil {
		a.onDeny(resource, action)
	}
}
