package pg

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"restgen.dev/internal/ids"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
)

type records struct{ s *Store }

func (r records) Select(ctx context.Context, q store.Query) ([]store.Record, error) {
	b := &builder{}
	b.write("select ", rootAlias, ".*")
	b.from(q)
	b.orderBy(q.Sorts)
	b.window(q.Limit, q.Offset)
	rows, err := r.s.q.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (r records) Count(ctx context.Context, q store.Query) (int, error) {
	b := &builder{}
	b.write("select count(*)")
	b.from(q)
	var n int
	if err := r.s.q.QueryRowContext(ctx, b.String(), b.args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r records) CountBy(ctx context.Context, q store.Query, col string) (map[string]int, error) {
	b := &builder{}
	b.write("select ", column(rootAlias, col), "::text, count(*)")
	b.from(q, column(rootAlias, col)+" is not null")
	b.write(" group by 1")
	rows, err := r.s.q.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (r records) Insert(ctx context.Context, m *registry.Model, rec store.Record) (store.Record, error) {
	if v, ok := rec[m.PrimaryKey]; !ok || v == nil || v == "" {
		rec = copyRecord(rec)
		rec[m.PrimaryKey] = ids.New()
	}
	cols := sortedColumns(rec)
	b := &builder{}
	b.write("insert into ", ident(m.Table), " (")
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		if i > 0 {
			b.write(", ")
		}
		b.write(ident(c))
		placeholders[i] = b.arg(bindValue(rec[c]))
	}
	b.write(") values (", strings.Join(placeholders, ", "), ") returning *")
	rows, err := r.s.q.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return scanOne(rows)
}

func (r records) Update(ctx context.Context, m *registry.Model, id string, changes store.Record) (store.Record, error) {
	b := &builder{}
	var sets []string
	for _, c := range sortedColumns(changes) {
		if c == m.PrimaryKey {
			continue
		}
		sets = append(sets, ident(c)+" = "+b.arg(bindValue(changes[c])))
	}
	if len(sets) == 0 {
		b.write("select * from ", ident(m.Table), " where ", ident(m.PrimaryKey), "::text = ", b.arg(id))
	} else {
		b.write("update ", ident(m.Table), " set ", strings.Join(sets, ", "),
			" where ", ident(m.PrimaryKey), "::text = ", b.arg(id), " returning *")
	}
	rows, err := r.s.q.QueryContext(ctx, b.String(), b.args...)
	if err != nil {
		return nil, mapError(err)
	}
	return scanOne(rows)
}

func (r records) Delete(ctx context.Context, m *registry.Model, id string) error {
	res, err := r.s.q.ExecContext(ctx, "delete from "+ident(m.Table)+" where "+ident(m.PrimaryKey)+"::text = $1", id)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []store.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(store.Record, len(cols))
		for i, c := range cols {
			rec[c] = scanValue(vals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func scanOne(rows *sql.Rows) (store.Record, error) {
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, store.ErrNotFound
	}
	return recs[0], nil
}

func sortedColumns(rec store.Record) []string {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func copyRecord(rec store.Record) store.Record {
	out := make(store.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
