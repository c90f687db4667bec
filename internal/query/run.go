package query

import (
	"context"
	"fmt"
	"sort"

	"restgen.dev/internal/auth"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
)

// Page is the pagination metadata of a list response.
type Page struct {
	Current int
	Last    int
	PerPage int
	Total   int
}

// Result is an executed plan.
type Result struct {
	Records []store.Record
	Page    Page
}

// Run executes a list plan: one count, one page select, then one query per
// include level.
func (c *Compiler) Run(ctx context.Context, rs store.RecordStore, plan Plan) (Result, error) {
	total, err := rs.Count(ctx, plan.Query)
	if err != nil {
		return Result{}, err
	}
	rows, err := rs.Select(ctx, plan.Query)
	if err != nil {
		return Result{}, err
	}
	if err := c.Expand(ctx, rs, plan, rows); err != nil {
		return Result{}, err
	}

	page := Page{Current: 1, Last: 1, PerPage: total, Total: total}
	if plan.Paginate {
		page.Current = plan.Page
		page.PerPage = plan.PerPage
		page.Last = (total + plan.PerPage - 1) / plan.PerPage
		if page.Last < 1 {
			page.Last = 1
		}
	}
	if rows == nil {
		rows = []store.Record{}
	}
	return Result{Records: rows, Page: page}, nil
}

// Expand loads the plan's includes onto rows, applies field selection and
// strips hidden columns of included records. Rows are modified in place.
func (c *Compiler) Expand(ctx context.Context, rs store.RecordStore, plan Plan, rows []store.Record) error {
	levels := map[string][]store.Record{"": rows}
	attached := map[string]registry.Set{}
	markAttached := func(slug, key string) {
		if attached[slug] == nil {
			attached[slug] = registry.Set{}
		}
		attached[slug][key] = struct{}{}
	}

	includes := append([]Include(nil), plan.Includes...)
	sort.SliceStable(includes, func(i, j int) bool { return len(includes[i].Hops) < len(includes[j].Hops) })

	for _, inc := range includes {
		parents := levels[inc.parent()]
		hop := inc.Hops[len(inc.Hops)-1]
		owner := c.reg.Target(plan.Model, inc.Hops[:len(inc.Hops)-1])
		target := c.reg.Target(plan.Model, inc.Hops)
		markAttached(owner.Slug, inc.Key())

		keys := localKeys(parents, hop.LocalColumn)
		q := store.Query{
			Model: target,
			Where: append(c.ScopeConditions(target, plan.Scope),
				store.Condition{Field: hop.RemoteColumn, Values: keys}),
		}

		switch inc.Kind {
		case IncludeCount, IncludeExists:
			counts := map[string]int{}
			if len(keys) > 0 {
				var err error
				if counts, err = rs.CountBy(ctx, q, hop.RemoteColumn); err != nil {
					return fmt.Errorf("include %s: %w", inc.Path, err)
				}
			}
			for _, row := range parents {
				n := 0
				if v := row[hop.LocalColumn]; v != nil {
					n = counts[store.Text(v)]
				}
				if inc.Kind == IncludeCount {
					row[inc.Key()] = n
				} else {
					row[inc.Key()] = n > 0
				}
			}
			continue
		}

		var children []store.Record
		if len(keys) > 0 {
			q.Sorts = c.sorts(target, nil)
			var err error
			if children, err = rs.Select(ctx, q); err != nil {
				return fmt.Errorf("include %s: %w", inc.Path, err)
			}
		}
		byKey := map[string][]store.Record{}
		for _, child := range children {
			if v := child[hop.RemoteColumn]; v != nil {
				k := store.Text(v)
				byKey[k] = append(byKey[k], child)
			}
		}
		for _, row := range parents {
			var matched []store.Record
			if v := row[hop.LocalColumn]; v != nil {
				matched = byKey[store.Text(v)]
			}
			if hop.Many {
				list := make([]any, len(matched))
				for i, m := range matched {
					list[i] = m
				}
				row[inc.Key()] = list
			} else if len(matched) > 0 {
				row[inc.Key()] = matched[0]
			} else {
				row[inc.Key()] = nil
			}
		}
		levels[inc.Path] = children
	}

	for path, recs := range levels {
		m := plan.Model
		if path != "" {
			hops, err := c.reg.Hops(plan.Model, path)
			if err != nil {
				return err
			}
			m = c.reg.Target(plan.Model, hops)
		}
		keep := plan.Fields[m.Slug]
		var hidden []string
		if path != "" {
			hidden = auth.HiddenColumns(plan.Principal, m)
		}
		for _, rec := range recs {
			if keep != nil {
				project(rec, keep, attached[m.Slug])
			}
			for _, col := range hidden {
				delete(rec, col)
			}
		}
	}
	return nil
}

func localKeys(rows []store.Record, column string) []string {
	seen := registry.Set{}
	var out []string
	for _, row := range rows {
		v := row[column]
		if v == nil {
			continue
		}
		k := store.Text(v)
		if !seen.Has(k) {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// project drops columns outside keep, leaving attached includes in place.
func project(rec store.Record, keep, attached registry.Set) {
	for k := range rec {
		if keep.Has(k) || attached.Has(k) {
			continue
		}
		delete(rec, k)
	}
}
