package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"restgen.dev/internal/auth"
	"restgen.dev/internal/tenant"
)

type directory struct{ s *Store }

func (d directory) FindOrganization(ctx context.Context, by tenant.Identifier, value string) (*tenant.Organization, error) {
	col := "slug"
	if by == tenant.IdentifierID {
		col = "id"
	}
	var org tenant.Organization
	err := d.s.q.QueryRowContext(ctx, `
		select id, slug, name, active
		from organizations
		where `+col+` = $1
	`, value).Scan(&org.ID, &org.Slug, &org.Name, &org.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (d directory) RoleFor(ctx context.Context, userID, organizationID string) (*auth.Role, error) {
	var (
		role  auth.Role
		perms []byte
	)
	err := d.s.q.QueryRowContext(ctx, `
		select r.id, r.slug, r.name, r.permissions
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1 and coalesce(ur.organization_id, '') = $2
	`, userID, organizationID).Scan(&role.ID, &role.Slug, &role.Name, &perms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &role.Permissions); err != nil {
			return nil, fmt.Errorf("role %s permissions: %w", role.Slug, err)
		}
	}
	return &role, nil
}

const userColumns = `id, email, name, password_hash, active`

func (d directory) FindUser(ctx context.Context, id string) (*auth.User, error) {
	return d.scanUser(d.s.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (d directory) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return d.scanUser(d.s.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email) = lower($1)`, strings.TrimSpace(email)))
}

func (d directory) scanUser(row *sql.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d directory) CreateOrganization(ctx context.Context, org *tenant.Organization) error {
	_, err := d.s.q.ExecContext(ctx, `
		insert into organizations (id, slug, name, active, created_at)
		values ($1, $2, $3, $4, now())
	`, org.ID, org.Slug, org.Name, org.Active)
	return mapError(err)
}

func (d directory) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := d.s.q.ExecContext(ctx, `
		insert into users (id, email, name, password_hash, active, created_at)
		values ($1, $2, $3, $4, $5, now())
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.Active)
	return mapError(err)
}

func (d directory) CreateRole(ctx context.Context, r *auth.Role) error {
	perms := r.Permissions
	if perms == nil {
		perms = []string{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	_, err = d.s.q.ExecContext(ctx, `
		insert into roles (id, slug, name, permissions)
		values ($1, $2, $3, $4::jsonb)
	`, r.ID, r.Slug, r.Name, string(raw))
	return mapError(err)
}

// Assign replaces any existing role of the user in the same organization.
func (d directory) Assign(ctx context.Context, a auth.Assignment) error {
	_, err := d.s.q.ExecContext(ctx, `
		insert into user_roles (user_id, organization_id, role_id)
		values ($1, $2, $3)
		on conflict (user_id, (coalesce(organization_id, ''))) do update
		set role_id = excluded.role_id
	`, a.UserID, nullIfEmpty(a.OrganizationID), a.RoleID)
	return mapError(err)
}
