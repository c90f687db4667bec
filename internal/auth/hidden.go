package auth

import "restgen.dev/internal/registry"

// baseHidden are never serialised for any model.
var baseHidden = []string{"password", "password_hash", "remember_token", "api_token", "secret", "token"}

// HiddenColumns returns the columns to strip from responses for p.
func HiddenColumns(p *Principal, m *registry.Model) []string {
	set := registry.NewSet(baseHidden...)
	for _, c := range m.Hidden {
		set[c] = struct{}{}
	}
	if p == nil {
		for _, c := range m.HiddenFor.Guest {
			set[c] = struct{}{}
		}
	} else if slug := p.RoleSlug(); slug != "" {
		for _, c := range m.HiddenFor.Roles[slug] {
			set[c] = struct{}{}
		}
	}
	return set.Sorted()
}

// StripHidden removes hidden columns from rec and from every nested record.
func StripHidden(rec map[string]any, hidden []string) {
	if rec == nil {
		return
	}
	for _, c := range hidden {
		delete(rec, c)
	}
	for _, v := range rec {
		stripValue(v, hidden)
	}
}

func stripValue(v any, hidden []string) {
	switch t := v.(type) {
	case map[string]any:
		StripHidden(t, hidden)
	case []map[string]any:
		for _, item := range t {
			StripHidden(item, hidden)
		}
	case []any:
		for _, item := range t {
			stripValue(item, hidden)
		}
	}
}
