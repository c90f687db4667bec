package store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"restgen.dev/internal/auth"
	"restgen.dev/internal/ids"
	"restgen.dev/internal/tenant"
)

type seedDoc struct {
	Organizations []struct {
		ID     string `yaml:"id"`
		Slug   string `yaml:"slug"`
		Name   string `yaml:"name"`
		Active *bool  `yaml:"active"`
	} `yaml:"organizations"`
	Roles []struct {
		ID          string   `yaml:"id"`
		Slug        string   `yaml:"slug"`
		Name        string   `yaml:"name"`
		Permissions []string `yaml:"permissions"`
	} `yaml:"roles"`
	Users []struct {
		ID       string `yaml:"id"`
		Email    string `yaml:"email"`
		Name     string `yaml:"name"`
		Password string `yaml:"password"`
		Active   *bool  `yaml:"active"`
	} `yaml:"users"`
	Assignments []struct {
		User         string `yaml:"user"`
		Organization string `yaml:"organization"`
		Role         string `yaml:"role"`
	} `yaml:"assignments"`
}

// SeedSummary counts what Seed created.
type SeedSummary struct {
	Organizations int
	Roles         int
	Users         int
	Assignments   int
}

// Seed loads organizations, roles, users and assignments from a YAML
// document. Assignments reference users by email, organizations by slug
// (empty for a global role) and roles by slug.
func Seed(ctx context.Context, w DirectoryWriter, r io.Reader) (SeedSummary, error) {
	var sum SeedSummary
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc seedDoc
	if err := dec.Decode(&doc); err != nil {
		return sum, fmt.Errorf("seed: decode: %w", err)
	}

	orgBySlug := map[string]string{}
	for _, o := range doc.Organizations {
		org := &tenant.Organization{ID: o.ID, Slug: o.Slug, Name: o.Name, Active: o.Active == nil || *o.Active}
		if org.ID == "" {
			org.ID = ids.New()
		}
		if err := w.CreateOrganization(ctx, org); err != nil {
			return sum, fmt.Errorf("seed: organization %s: %w", o.Slug, err)
		}
		orgBySlug[org.Slug] = org.ID
		sum.Organizations++
	}

	roleBySlug := map[string]string{}
	for _, rd := range doc.Roles {
		role := &auth.Role{ID: rd.ID, Slug: rd.Slug, Name: rd.Name, Permissions: rd.Permissions}
		if role.ID == "" {
			role.ID = ids.New()
		}
		if err := w.CreateRole(ctx, role); err != nil {
			return sum, fmt.Errorf("seed: role %s: %w", rd.Slug, err)
		}
		roleBySlug[role.Slug] = role.ID
		sum.Roles++
	}

	userByEmail := map[string]string{}
	for _, ud := range doc.Users {
		hash, err := auth.HashPassword(ud.Password)
		if err != nil {
			return sum, fmt.Errorf("seed: user %s: %w", ud.Email, err)
		}
		u := &auth.User{
			ID:           ud.ID,
			Email:        strings.ToLower(strings.TrimSpace(ud.Email)),
			Name:         ud.Name,
			PasswordHash: hash,
			Active:       ud.Active == nil || *ud.Active,
		}
		if u.ID == "" {
			u.ID = ids.New()
		}
		if err := w.CreateUser(ctx, u); err != nil {
			return sum, fmt.Errorf("seed: user %s: %w", ud.Email, err)
		}
		userByEmail[u.Email] = u.ID
		sum.Users++
	}

	for _, ad := range doc.Assignments {
		userID, ok := userByEmail[strings.ToLower(ad.User)]
		if !ok {
			return sum, fmt.Errorf("seed: assignment references unknown user %q", ad.User)
		}
		roleID, ok := roleBySlug[ad.Role]
		if !ok {
			return sum, fmt.Errorf("seed: assignment references unknown role %q", ad.Role)
		}
		orgID := ""
		if ad.Organization != "" {
			if orgID, ok = orgBySlug[ad.Organization]; !ok {
				return sum, fmt.Errorf("seed: assignment references unknown organization %q", ad.Organization)
			}
		}
		if err := w.Assign(ctx, auth.Assignment{UserID: userID, OrganizationID: orgID, RoleID: roleID}); err != nil {
			return sum, fmt.Errorf("seed: assignment %s/%s: %w", ad.User, ad.Organization, err)
		}
		sum.Assignments++
	}
	return sum, nil
}
