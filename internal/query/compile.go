package query

import (
	"context"
	"fmt"
	"strings"

	"restgen.dev/internal/auth"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
	"restgen.dev/internal/tenant"
)

// IncludeKind distinguishes loaded relations from aggregates.
type IncludeKind int

const (
	IncludeRelation IncludeKind = iota
	IncludeCount
	IncludeExists
)

// Include is one accepted include directive.
type Include struct {
	Path string
	Hops []registry.Hop
	Kind IncludeKind
}

// Key is the attribute the include is attached under on its parent record.
func (i Include) Key() string {
	rel := i.Hops[len(i.Hops)-1].Relation
	switch i.Kind {
	case IncludeCount:
		return rel + "_count"
	case IncludeExists:
		return rel + "_exists"
	}
	return rel
}

// parent is the relation path the include hangs off ("" for the root).
func (i Include) parent() string {
	if j := strings.LastIndex(i.Path, "."); j >= 0 {
		return i.Path[:j]
	}
	return ""
}

// Plan is a compiled read. Fields maps a model slug to its selected
// columns; models without an entry keep every column.
type Plan struct {
	Model     *registry.Model
	Query     store.Query
	Paginate  bool
	Page      int
	PerPage   int
	Includes  []Include
	Fields    map[string]registry.Set
	Scope     *tenant.Scope
	Principal *auth.Principal
}

// IncludeDeniedError aborts a read whose include names a relation the
// caller may not list.
type IncludeDeniedError struct {
	Relation string
	Err      error
}

func (e *IncludeDeniedError) Error() string {
	return fmt.Sprintf("include %s: %v", e.Relation, e.Err)
}

func (e *IncludeDeniedError) Unwrap() error { return e.Err }

// Compiler turns directives into plans against one registry.
type Compiler struct {
	reg   *registry.Registry
	authz *auth.Authorizer
}

func NewCompiler(reg *registry.Registry, authz *auth.Authorizer) *Compiler {
	return &Compiler{reg: reg, authz: authz}
}

// Compile builds the plan for a list or show request. Directives naming
// anything outside the model's allow-lists are ignored.
func (c *Compiler) Compile(ctx context.Context, p *auth.Principal, scope *tenant.Scope, m *registry.Model, d Directives) (Plan, error) {
	plan := Plan{
		Model:     m,
		Paginate:  m.Paginate,
		Fields:    map[string]registry.Set{},
		Scope:     scope,
		Principal: p,
	}
	q := store.Query{Model: m, Where: c.ScopeConditions(m, scope)}

	for _, f := range sortedFilterKeys(d.Filters) {
		if !m.Filters.Has(f) {
			continue
		}
		values := dedupe(d.Filters[f])
		if len(values) == 0 {
			continue
		}
		q.Where = append(q.Where, store.Condition{Field: f, Values: values})
	}

	q.Sorts = c.sorts(m, d.Sort)

	if term := strings.TrimSpace(d.Search); term != "" && len(m.Search) > 0 {
		s := &store.Search{Term: term}
		for _, f := range m.Search.Sorted() {
			rels, field := registry.SplitFieldPath(f)
			hops, err := c.reg.Hops(m, rels)
			if err != nil {
				return Plan{}, err
			}
			s.Fields = append(s.Fields, store.SearchField{Path: hops, Field: field})
		}
		q.Search = s
	}

	includes, err := c.includes(ctx, p, m, d.Include)
	if err != nil {
		return Plan{}, err
	}
	plan.Includes = includes

	selectFields(plan.Fields, m, d.Fields, true)
	for _, inc := range includes {
		if inc.Kind == IncludeRelation {
			selectFields(plan.Fields, c.reg.Target(m, inc.Hops), d.Fields, false)
		}
	}

	if plan.Paginate {
		plan.PerPage = d.PerPage
		if plan.PerPage <= 0 {
			plan.PerPage = m.PerPage
		}
		if plan.PerPage > m.MaxPerPage {
			plan.PerPage = m.MaxPerPage
		}
		plan.Page = d.Page
		if plan.Page < 1 {
			plan.Page = 1
		}
		q.Limit = plan.PerPage
		q.Offset = Offset(plan.Page, plan.PerPage)
	}
	plan.Query = q
	return plan, nil
}

// ScopeConditions restricts m to the scope's organization: directly through
// the organization field or through the owner path. It returns nil outside
// tenancy and for models that are not tenanted.
func (c *Compiler) ScopeConditions(m *registry.Model, scope *tenant.Scope) []store.Condition {
	orgID := scope.OrganizationID()
	if orgID == "" {
		return nil
	}
	if m.OrganizationField != "" {
		return []store.Condition{{Field: m.OrganizationField, Values: []string{orgID}}}
	}
	if len(m.Owner) == 0 {
		return nil
	}
	owner := c.reg.Target(m, m.Owner)
	return []store.Condition{{Path: m.Owner, Field: owner.OrganizationField, Values: []string{orgID}}}
}

// sorts keeps allowed sort fields, falls back to the default sort and adds
// the primary key as a final tiebreak.
func (c *Compiler) sorts(m *registry.Model, requested []string) []registry.SortSpec {
	var out []registry.SortSpec
	seen := registry.Set{}
	for _, raw := range requested {
		s := registry.ParseSort(raw)
		if !m.Sorts.Has(s.Field) || seen.Has(s.Field) {
			continue
		}
		seen[s.Field] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		for _, s := range m.DefaultSort {
			seen[s.Field] = struct{}{}
			out = append(out, s)
		}
	}
	if !seen.Has(m.PrimaryKey) {
		out = append(out, registry.SortSpec{Field: m.PrimaryKey})
	}
	return out
}

func (c *Compiler) includes(ctx context.Context, p *auth.Principal, m *registry.Model, requested []string) ([]Include, error) {
	var out []Include
	seen := map[string]bool{}
	add := func(path string, kind IncludeKind) error {
		key := fmt.Sprintf("%s#%d", path, kind)
		if seen[key] {
			return nil
		}
		hops, err := c.reg.Hops(m, path)
		if err != nil {
			return err
		}
		for i, hop := range hops {
			target, err := c.reg.Resolve(hop.To)
			if err != nil {
				return err
			}
			if err := c.authz.Authorize(ctx, p, target, registry.ActionIndex, nil); err != nil {
				rel := hops[0].Relation
				for _, h := range hops[1 : i+1] {
					rel += "." + h.Relation
				}
				return &IncludeDeniedError{Relation: rel, Err: err}
			}
		}
		seen[key] = true
		out = append(out, Include{Path: path, Hops: hops, Kind: kind})
		return nil
	}

	for _, raw := range requested {
		base, suffix := registry.IncludeBase(raw)
		if !m.Includes.Has(base) {
			continue
		}
		// Parents of a nested include are loaded too.
		parts := strings.Split(base, ".")
		last := len(parts)
		if suffix != "" {
			last--
		}
		for i := 1; i <= last; i++ {
			if err := add(strings.Join(parts[:i], "."), IncludeRelation); err != nil {
				return nil, err
			}
		}
		switch suffix {
		case "Count":
			if err := add(base, IncludeCount); err != nil {
				return nil, err
			}
		case "Exists":
			if err := add(base, IncludeExists); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// selectFields records the allowed column selection for m, keyed by its
// slug. An unqualified fields= applies to the root model.
func selectFields(into map[string]registry.Set, m *registry.Model, requested map[string][]string, root bool) {
	if len(m.Selectable) == 0 {
		return
	}
	var cols []string
	for _, key := range []string{m.Slug, m.Table} {
		cols = append(cols, requested[key]...)
	}
	if root {
		cols = append(cols, requested[""]...)
	}
	keep := registry.Set{}
	for _, col := range cols {
		if m.Selectable.Has(col) {
			keep[col] = struct{}{}
		}
	}
	if len(keep) == 0 {
		return
	}
	keep[m.PrimaryKey] = struct{}{}
	into[m.Slug] = keep
}

func sortedFilterKeys(filters map[string][]string) []string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	return registry.NewSet(keys...).Sorted()
}

func dedupe(values []string) []string {
	seen := registry.Set{}
	var out []string
	for _, v := range values {
		if v == "" || seen.Has(v) {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
