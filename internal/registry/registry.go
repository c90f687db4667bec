// Package registry holds the model descriptors that drive route generation,
// query compilation, validation and tenant scoping.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"restgen.dev/internal/validation"
)

const (
	DefaultPerPage    = 15
	DefaultMaxPerPage = 100
)

var (
	ErrUnknownResource = errors.New("registry: unknown resource")
	ErrUnknownRelation = errors.New("registry: unknown relation")
	ErrOwnerCycle      = errors.New("registry: owner path revisits a model")
	ErrInvalidModel    = errors.New("registry: invalid model")
)

// Registry is the frozen set of model descriptors.
type Registry struct {
	models map[string]*Model
	order  []string
}

// New validates the descriptors, resolves their relation graph and freezes them.
func New(models ...*Model) (*Registry, error) {
	r := &Registry{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		if m == nil {
			continue
		}
		if strings.TrimSpace(m.Slug) == "" {
			return nil, fmt.Errorf("%w: empty slug", ErrInvalidModel)
		}
		if _, dup := r.models[m.Slug]; dup {
			return nil, fmt.Errorf("%w: duplicate slug %q", ErrInvalidModel, m.Slug)
		}
		applyDefaults(m)
		r.models[m.Slug] = m
		r.order = append(r.order, m.Slug)
	}
	sort.Strings(r.order)

	for _, slug := range r.order {
		if err := r.checkRelations(r.models[slug]); err != nil {
			return nil, err
		}
	}
	for _, slug := range r.order {
		m := r.models[slug]
		if err := r.resolveOwner(m); err != nil {
			return nil, err
		}
		if err := r.checkModel(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Resolve returns the descriptor registered under slug.
func (r *Registry) Resolve(slug string) (*Model, error) {
	m, ok := r.models[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, slug)
	}
	return m, nil
}

// Models returns every descriptor sorted by slug.
func (r *Registry) Models() []*Model {
	out := make([]*Model, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.models[slug])
	}
	return out
}

// Hops resolves a dotted relation path starting at m.
func (r *Registry) Hops(m *Model, path string) ([]Hop, error) {
	if path == "" {
		return nil, nil
	}
	var hops []Hop
	cur := m
	for _, name := range strings.Split(path, ".") {
		rel, ok := cur.Relations[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, cur.Slug, name)
		}
		target, ok := r.models[rel.Model]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownResource, rel.Model)
		}
		hops = append(hops, hopFor(cur, target, rel))
		cur = target
	}
	return hops, nil
}

// Target returns the model a resolved path ends at.
func (r *Registry) Target(m *Model, hops []Hop) *Model {
	if len(hops) == 0 {
		return m
	}
	return r.models[hops[len(hops)-1].To]
}

// SplitFieldPath splits "blog.owner.name" into the relation path and the field.
func SplitFieldPath(p string) (relations string, field string) {
	i := strings.LastIndex(p, ".")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

func hopFor(from, to *Model, rel Relation) Hop {
	h := Hop{Relation: rel.Name, From: from.Slug, To: to.Slug, Table: to.Table}
	if rel.Kind == BelongsTo {
		h.LocalColumn = rel.ForeignKey
		h.RemoteColumn = rel.OwnerKey
		return h
	}
	h.LocalColumn = rel.OwnerKey
	h.RemoteColumn = rel.ForeignKey
	h.Many = rel.Kind == HasMany
	return h
}

func applyDefaults(m *Model) {
	if m.Table == "" {
		m.Table = m.Slug
	}
	if m.PrimaryKey == "" {
		m.PrimaryKey = "id"
	}
	if m.PerPage <= 0 {
		m.PerPage = DefaultPerPage
	}
	if m.MaxPerPage <= 0 {
		m.MaxPerPage = DefaultMaxPerPage
	}
	if m.PerPage > m.MaxPerPage {
		m.PerPage = m.MaxPerPage
	}

	fields := NewSet(m.Fields...)
	add := func(f string) {
		if f != "" && !fields.Has(f) {
			fields[f] = struct{}{}
			m.Fields = append(m.Fields, f)
		}
	}
	add(m.PrimaryKey)
	add(m.OrganizationField)
	if m.Timestamps {
		add(ColumnCreatedAt)
		add(ColumnUpdatedAt)
	}
	if m.SoftDeletes {
		add(ColumnDeletedAt)
	}
	m.fields = fields

	for _, set := range []*Set{&m.Filters, &m.Sorts, &m.Search, &m.Includes, &m.Selectable, &m.ExceptActions, &m.PublicActions} {
		if *set == nil {
			*set = Set{}
		}
	}
	if m.Relations == nil {
		m.Relations = map[string]Relation{}
	}
	for name, rel := range m.Relations {
		rel.Name = name
		m.Relations[name] = rel
	}
}

func (r *Registry) checkRelations(m *Model) error {
	for _, name := range sortedKeys(m.Relations) {
		rel := m.Relations[name]
		target, ok := r.models[rel.Model]
		if !ok {
			return fmt.Errorf("%w: %s.%s targets unknown model %q", ErrInvalidModel, m.Slug, name, rel.Model)
		}
		switch rel.Kind {
		case BelongsTo:
			if rel.ForeignKey == "" {
				rel.ForeignKey = name + "_id"
			}
			if rel.OwnerKey == "" {
				rel.OwnerKey = target.PrimaryKey
			}
			if !m.fields.Has(rel.ForeignKey) {
				return fmt.Errorf("%w: %s.%s foreign key %q is not a field", ErrInvalidModel, m.Slug, name, rel.ForeignKey)
			}
		case HasMany, HasOne:
			if rel.ForeignKey == "" {
				rel.ForeignKey = strings.TrimSuffix(m.Slug, "s") + "_id"
			}
			if rel.OwnerKey == "" {
				rel.OwnerKey = m.PrimaryKey
			}
			if !target.fields.Has(rel.ForeignKey) {
				return fmt.Errorf("%w: %s.%s foreign key %q is not a field of %s", ErrInvalidModel, m.Slug, name, rel.ForeignKey, target.Slug)
			}
		default:
			return fmt.Errorf("%w: %s.%s has unknown kind %q", ErrInvalidModel, m.Slug, name, rel.Kind)
		}
		m.Relations[name] = rel
	}
	return nil
}

// resolveOwner walks the owner path, which must consist of belongs_to hops
// ending at a model that carries the organization reference.
func (r *Registry) resolveOwner(m *Model) error {
	if len(m.OwnerPath) == 0 {
		return nil
	}
	if m.OrganizationField != "" {
		return fmt.Errorf("%w: %s declares both an organization field and an owner path", ErrInvalidModel, m.Slug)
	}
	visited := map[string]bool{m.Slug: true}
	cur := m
	hops := make([]Hop, 0, len(m.OwnerPath))
	for _, name := range m.OwnerPath {
		rel, ok := cur.Relations[name]
		if !ok {
			return fmt.Errorf("%w: owner path of %s: %s.%s", ErrUnknownRelation, m.Slug, cur.Slug, name)
		}
		if rel.Kind != BelongsTo {
			return fmt.Errorf("%w: owner path of %s uses %s relation %s", ErrInvalidModel, m.Slug, rel.Kind, name)
		}
		next := r.models[rel.Model]
		if visited[next.Slug] {
			return fmt.Errorf("%w: %s reaches %s twice", ErrOwnerCycle, m.Slug, next.Slug)
		}
		visited[next.Slug] = true
		hops = append(hops, hopFor(cur, next, rel))
		cur = next
	}
	if cur.OrganizationField == "" {
		return fmt.Errorf("%w: owner path of %s ends at %s which has no organization field", ErrInvalidModel, m.Slug, cur.Slug)
	}
	m.Owner = hops
	return nil
}

func (r *Registry) checkModel(m *Model) error {
	plain := func(kind string, set Set) error {
		for _, f := range set.Sorted() {
			if !m.fields.Has(f) {
				return fmt.Errorf("%w: %s %s references unknown field %q", ErrInvalidModel, m.Slug, kind, f)
			}
		}
		return nil
	}
	if err := plain("filters", m.Filters); err != nil {
		return err
	}
	if err := plain("sorts", m.Sorts); err != nil {
		return err
	}
	if err := plain("fields", m.Selectable); err != nil {
		return err
	}
	for _, s := range m.DefaultSort {
		if !m.fields.Has(s.Field) {
			return fmt.Errorf("%w: %s default sort references unknown field %q", ErrInvalidModel, m.Slug, s.Field)
		}
	}

	for _, f := range m.Search.Sorted() {
		rels, field := SplitFieldPath(f)
		hops, err := r.Hops(m, rels)
		if err != nil {
			return fmt.Errorf("%w: %s search %q: %v", ErrInvalidModel, m.Slug, f, err)
		}
		if !r.Target(m, hops).HasField(field) {
			return fmt.Errorf("%w: %s search references unknown field %q", ErrInvalidModel, m.Slug, f)
		}
	}

	// Allowing "a.b" implies "a".
	for _, inc := range m.Includes.Sorted() {
		base, _ := IncludeBase(inc)
		if _, err := r.Hops(m, base); err != nil {
			return fmt.Errorf("%w: %s include %q: %v", ErrInvalidModel, m.Slug, inc, err)
		}
		parts := strings.Split(base, ".")
		for i := 1; i < len(parts); i++ {
			m.Includes[strings.Join(parts[:i], ".")] = struct{}{}
		}
	}

	for _, set := range []Set{m.ExceptActions, m.PublicActions} {
		for _, a := range set.Sorted() {
			if !validAction(Action(a)) {
				return fmt.Errorf("%w: %s names unknown action %q", ErrInvalidModel, m.Slug, a)
			}
		}
	}
	for _, mw := range m.Middleware {
		if mw != MiddlewareAuth && mw != MiddlewareThrottle {
			return fmt.Errorf("%w: %s names unknown middleware %q", ErrInvalidModel, m.Slug, mw)
		}
	}

	if err := validation.CheckRules(m.Validation.Base); err != nil {
		return fmt.Errorf("%w: %s base rules: %v", ErrInvalidModel, m.Slug, err)
	}
	for _, a := range []Action{ActionStore, ActionUpdate} {
		for role, layer := range m.Validation.Layer(a).Layers() {
			if err := validation.CheckRules(layer); err != nil {
				return fmt.Errorf("%w: %s %s rules (role %q): %v", ErrInvalidModel, m.Slug, a, role, err)
			}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
