package pg

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
)

// builder accumulates SQL text and positional arguments.
type builder struct {
	sb   strings.Builder
	args []any
}

func (b *builder) write(parts ...string) *builder {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
	return b
}

// arg binds v and returns its placeholder.
func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *builder) String() string { return b.sb.String() }

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func column(alias, name string) string { return alias + "." + ident(name) }

const rootAlias = "t"

// from writes the FROM and WHERE clauses of q followed by any extra predicates.
func (b *builder) from(q store.Query, extra ...string) {
	b.write(" from ", ident(q.Model.Table), " ", rootAlias)
	preds := append(b.predicates(q), extra...)
	if len(preds) > 0 {
		b.write(" where ", strings.Join(preds, " and "))
	}
}

func (b *builder) predicates(q store.Query) []string {
	var preds []string
	if q.Model.SoftDeletes {
		switch q.Trashed {
		case store.TrashedExclude:
			preds = append(preds, column(rootAlias, registry.ColumnDeletedAt)+" is null")
		case store.TrashedOnly:
			preds = append(preds, column(rootAlias, registry.ColumnDeletedAt)+" is not null")
		}
	}
	for _, c := range q.Where {
		values := c.Values
		if values == nil {
			values = []string{}
		}
		field := c.Field
		preds = append(preds, b.through(c.Path, rootAlias, 1, func(alias string) string {
			return column(alias, field) + "::text = any(" + b.arg(values) + ")"
		}))
	}
	if q.Search != nil && len(q.Search.Fields) > 0 {
		pattern := b.arg("%" + escapeLike(q.Search.Term) + "%")
		var ors []string
		for _, f := range q.Search.Fields {
			field := f.Field
			ors = append(ors, b.through(f.Path, rootAlias, 1, func(alias string) string {
				return column(alias, field) + "::text ilike " + pattern
			}))
		}
		preds = append(preds, "("+strings.Join(ors, " or ")+")")
	}
	return preds
}

// through wraps leaf in one EXISTS subquery per hop of path.
func (b *builder) through(path []registry.Hop, alias string, depth int, leaf func(alias string) string) string {
	if len(path) == 0 {
		return leaf(alias)
	}
	hop := path[0]
	next := "h" + strconv.Itoa(depth)
	return "exists (select 1 from " + ident(hop.Table) + " " + next +
		" where " + column(next, hop.RemoteColumn) + " = " + column(alias, hop.LocalColumn) +
		" and " + b.through(path[1:], next, depth+1, leaf) + ")"
}

func (b *builder) orderBy(sorts []registry.SortSpec) {
	if len(sorts) == 0 {
		return
	}
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		dir := " asc"
		if s.Desc {
			dir = " desc"
		}
		parts[i] = column(rootAlias, s.Field) + dir
	}
	b.write(" order by ", strings.Join(parts, ", "))
}

func (b *builder) window(limit, offset int) {
	if limit > 0 {
		b.write(" limit ", b.arg(limit))
	}
	if offset > 0 {
		b.write(" offset ", b.arg(offset))
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// bindValue prepares a record value for a query parameter. Nested
// documents are sent as JSON.
func bindValue(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return v
		}
		return string(raw)
	}
	return v
}

// scanValue normalises a driver value into a record value.
func scanValue(v any) any {
	switch x := v.(type) {
	case []byte:
		if len(x) > 0 && (x[0] == '{' || x[0] == '[') && json.Valid(x) {
			var doc any
			if err := json.Unmarshal(x, &doc); err == nil {
				return doc
			}
		}
		return string(x)
	case time.Time:
		return x.UTC()
	}
	return v
}
