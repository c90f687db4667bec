package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"restgen.dev/internal/auth"
)

// Resolver derives the active organization for a request.
type Resolver struct {
	dir        Directory
	strategy   Strategy
	identifier Identifier
	baseDomain string
}

type Config struct {
	Strategy   Strategy
	Identifier Identifier
	BaseDomain string
}

func NewResolver(dir Directory, cfg Config) (*Resolver, error) {
	r := &Resolver{
		dir:        dir,
		strategy:   cfg.Strategy,
		identifier: cfg.Identifier,
		baseDomain: strings.ToLower(strings.Trim(cfg.BaseDomain, ".")),
	}
	if r.strategy == "" {
		r.strategy = StrategyRoute
	}
	if r.identifier == "" {
		r.identifier = IdentifierSlug
	}
	switch r.strategy {
	case StrategyRoute:
	case StrategySubdomain:
		if r.baseDomain == "" {
			return nil, errors.New("tenant: subdomain strategy requires a base domain")
		}
	default:
		return nil, fmt.Errorf("tenant: unknown strategy %q", r.strategy)
	}
	if r.identifier != IdentifierID && r.identifier != IdentifierSlug {
		return nil, fmt.Errorf("tenant: unknown identifier %q", r.identifier)
	}
	return r, nil
}

func (r *Resolver) Strategy() Strategy { return r.strategy }

// FromHost extracts the organization label from host under the base domain.
// "acme.api.example.com" with base "api.example.com" yields "acme".
func (r *Resolver) FromHost(host string) (string, bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	suffix := "." + r.baseDomain
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	label := strings.TrimSuffix(host, suffix)
	if label == "" || strings.Contains(label, ".") {
		return "", false
	}
	return label, true
}

// Resolve loads the organization named by identifier and the role user holds
// in it. Every way of failing to find either yields ErrTenantNotFound.
func (r *Resolver) Resolve(ctx context.Context, identifier string, user *auth.User) (*Scope, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrTenantNotFound
	}
	org, err := r.dir.FindOrganization(ctx, r.identifier, identifier)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) || errors.Is(err, auth.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	if org == nil || !org.Active {
		return nil, ErrTenantNotFound
	}
	scope := &Scope{Organization: org}
	if user == nil {
		return scope, nil
	}
	role, err := r.dir.RoleFor(ctx, user.ID, org.ID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) || errors.Is(err, ErrTenantNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	scope.Role = role
	return scope, nil
}

// Global resolves the user's organization-independent role when tenancy is
// disabled. A user without a global role gets an empty scope.
func (r *Resolver) Global(ctx context.Context, user *auth.User) (*Scope, error) {
	return GlobalScope(ctx, r.dir, user)
}

// GlobalScope is Global without a configured resolver.
func GlobalScope(ctx context.Context, dir Directory, user *auth.User) (*Scope, error) {
	scope := &Scope{}
	if user == nil {
		return scope, nil
	}
	role, err := dir.RoleFor(ctx, user.ID, "")
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return scope, nil
		}
		return nil, err
	}
	scope.Role = role
	return scope, nil
}
