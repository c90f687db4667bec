// Package memory is an in-process store backend. Transactions run against a
// private copy of the data set that replaces the shared one on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"restgen.dev/internal/audit"
	"restgen.dev/internal/auth"
	"restgen.dev/internal/ids"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/store"
	"restgen.dev/internal/tenant"
)

type table struct {
	rows  map[string]store.Record
	order []string
}

type data struct {
	tables      map[string]*table
	orgs        map[string]*tenant.Organization
	users       map[string]*auth.User
	roles       map[string]*auth.Role
	assignments []auth.Assignment
	audit       []*audit.Entry
}

func newData() *data {
	return &data{
		tables: map[string]*table{},
		orgs:   map[string]*tenant.Organization{},
		users:  map[string]*auth.User{},
		roles:  map[string]*auth.Role{},
	}
}

func (d *data) clone() *data {
	out := newData()
	for name, t := range d.tables {
		ct := &table{rows: make(map[string]store.Record, len(t.rows)), order: append([]string(nil), t.order...)}
		for k, row := range t.rows {
			ct.rows[k] = copyRecord(row)
		}
		out.tables[name] = ct
	}
	for k, v := range d.orgs {
		out.orgs[k] = v
	}
	for k, v := range d.users {
		out.users[k] = v
	}
	for k, v := range d.roles {
		out.roles[k] = v
	}
	out.assignments = append(out.assignments, d.assignments...)
	out.audit = append(out.audit, d.audit...)
	return out
}

func (d *data) table(name string) *table {
	t, ok := d.tables[name]
	if !ok {
		t = &table{rows: map[string]store.Record{}}
		d.tables[name] = t
	}
	return t
}

type db struct {
	mu   sync.Mutex
	data *data
}

// Store is the memory backend. The zero value is not usable; call New.
type Store struct {
	db   *db
	tx   *data
	inTx bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{db: &db{data: newData()}}
}

// view runs fn against the current data set, holding the lock outside a transaction.
func (s *Store) view(fn func(d *data) error) error {
	if s.inTx {
		return fn(s.tx)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return fn(s.db.data)
}

func (s *Store) Records() store.RecordStore    { return records{s} }
func (s *Store) Directory() store.Directory    { return directory{s} }
func (s *Store) Audit() store.AuditStore       { return auditLog{s} }
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Writer exposes directory creation for seeding.
func (s *Store) Writer() store.DirectoryWriter { return directory{s} }

// WithinTx serialises transactions. A nested call joins the outer one.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	txStore := &Store{db: s.db, tx: s.db.data.clone(), inTx: true}
	if err := fn(ctx, txStore); err != nil {
		return err
	}
	s.db.data = txStore.tx
	return nil
}

type records struct{ s *Store }

func (r records) Select(ctx context.Context, q store.Query) ([]store.Record, error) {
	var out []store.Record
	err := r.s.view(func(d *data) error {
		rows := matching(d, q)
		sortRows(rows, q.Sorts)
		rows = window(rows, q.Offset, q.Limit)
		out = make([]store.Record, len(rows))
		for i, row := range rows {
			out[i] = copyRecord(row)
		}
		return nil
	})
	return out, err
}

func (r records) Count(ctx context.Context, q store.Query) (int, error) {
	var n int
	err := r.s.view(func(d *data) error {
		n = len(matching(d, q))
		return nil
	})
	return n, err
}

func (r records) CountBy(ctx context.Context, q store.Query, column string) (map[string]int, error) {
	out := map[string]int{}
	err := r.s.view(func(d *data) error {
		for _, row := range matching(d, q) {
			if v := row[column]; v != nil {
				out[textOf(v)]++
			}
		}
		return nil
	})
	return out, err
}

func (r records) Insert(ctx context.Context, m *registry.Model, rec store.Record) (store.Record, error) {
	var out store.Record
	err := r.s.view(func(d *data) error {
		row := copyRecord(rec)
		if row[m.PrimaryKey] == nil || row[m.PrimaryKey] == "" {
			row[m.PrimaryKey] = ids.New()
		}
		for _, f := range m.Fields {
			if _, ok := row[f]; !ok {
				row[f] = nil
			}
		}
		key := textOf(row[m.PrimaryKey])
		t := d.table(m.Table)
		if _, dup := t.rows[key]; dup {
			return fmt.Errorf("%w: duplicate %s.%s %s", store.ErrConflict, m.Table, m.PrimaryKey, key)
		}
		t.rows[key] = row
		t.order = append(t.order, key)
		out = copyRecord(row)
		return nil
	})
	return out, err
}

func (r records) Update(ctx context.Context, m *registry.Model, id string, changes store.Record) (store.Record, error) {
	var out store.Record
	err := r.s.view(func(d *data) error {
		t := d.table(m.Table)
		row, ok := t.rows[id]
		if !ok {
			return store.ErrNotFound
		}
		next := copyRecord(row)
		for k, v := range changes {
			if k == m.PrimaryKey {
				continue
			}
			next[k] = v
		}
		t.rows[id] = next
		out = copyRecord(next)
		return nil
	})
	return out, err
}

func (r records) Delete(ctx context.Context, m *registry.Model, id string) error {
	return r.s.view(func(d *data) error {
		t := d.table(m.Table)
		if _, ok := t.rows[id]; !ok {
			return store.ErrNotFound
		}
		delete(t.rows, id)
		for i, k := range t.order {
			if k == id {
				t.order = append(t.order[:i:i], t.order[i+1:]...)
				break
			}
		}
		return nil
	})
}

func matching(d *data, q store.Query) []store.Record {
	t := d.table(q.Model.Table)
	var out []store.Record
	for _, key := range t.order {
		row := t.rows[key]
		if !visible(q.Model, row, q.Trashed) {
			continue
		}
		if !matchesAll(d, row, q.Where) {
			continue
		}
		if q.Search != nil && !matchesSearch(d, row, q.Search) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func visible(m *registry.Model, row store.Record, mode store.TrashedMode) bool {
	if !m.SoftDeletes {
		return true
	}
	deleted := row[registry.ColumnDeletedAt] != nil
	switch mode {
	case store.TrashedOnly:
		return deleted
	case store.TrashedWith:
		return true
	default:
		return !deleted
	}
}

func matchesAll(d *data, row store.Record, conds []store.Condition) bool {
	for _, c := range conds {
		values := make(map[string]struct{}, len(c.Values))
		for _, v := range c.Values {
			values[v] = struct{}{}
		}
		ok := anyReachable(d, row, c.Path, func(target store.Record) bool {
			v := target[c.Field]
			if v == nil {
				return false
			}
			_, hit := values[textOf(v)]
			return hit
		})
		if !ok {
			return false
		}
	}
	return true
}

func matchesSearch(d *data, row store.Record, s *store.Search) bool {
	term := strings.ToLower(s.Term)
	for _, f := range s.Fields {
		hit := anyReachable(d, row, f.Path, func(target store.Record) bool {
			v := target[f.Field]
			return v != nil && strings.Contains(strings.ToLower(textOf(v)), term)
		})
		if hit {
			return true
		}
	}
	return false
}

// anyReachable reports whether pred holds for any row reached from row by path.
func anyReachable(d *data, row store.Record, path []registry.Hop, pred func(store.Record) bool) bool {
	if len(path) == 0 {
		return pred(row)
	}
	hop := path[0]
	local := row[hop.LocalColumn]
	if local == nil {
		return false
	}
	key := textOf(local)
	t := d.table(hop.Table)
	for _, k := range t.order {
		next := t.rows[k]
		if v := next[hop.RemoteColumn]; v != nil && textOf(v) == key {
			if anyReachable(d, next, path[1:], pred) {
				return true
			}
		}
	}
	return false
}

func sortRows(rows []store.Record, sorts []registry.SortSpec) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, s := range sorts {
			c := compareValues(rows[i][s.Field], rows[j][s.Field])
			if c == 0 {
				continue
			}
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func window(rows []store.Record, offset, limit int) []store.Record {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

type directory struct{ s *Store }

func (dir directory) FindOrganization(ctx context.Context, by tenant.Identifier, value string) (*tenant.Organization, error) {
	var out *tenant.Organization
	err := dir.s.view(func(d *data) error {
		for _, o := range d.orgs {
			if (by == tenant.IdentifierID && o.ID == value) || (by == tenant.IdentifierSlug && o.Slug == value) {
				cp := *o
				out = &cp
				return nil
			}
		}
		return tenant.ErrTenantNotFound
	})
	return out, err
}

func (dir directory) RoleFor(ctx context.Context, userID, organizationID string) (*auth.Role, error) {
	var out *auth.Role
	err := dir.s.view(func(d *data) error {
		for _, a := range d.assignments {
			if a.UserID != userID || a.OrganizationID != organizationID {
				continue
			}
			role, ok := d.roles[a.RoleID]
			if !ok {
				break
			}
			cp := *role
			cp.Permissions = append([]string(nil), role.Permissions...)
			out = &cp
			return nil
		}
		return auth.ErrNotFound
	})
	return out, err
}

func (dir directory) FindUser(ctx context.Context, id string) (*auth.User, error) {
	var out *auth.User
	err := dir.s.view(func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return auth.ErrNotFound
		}
		cp := *u
		out = &cp
		return nil
	})
	return out, err
}

func (dir directory) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	var out *auth.User
	err := dir.s.view(func(d *data) error {
		for _, u := range d.users {
			if strings.EqualFold(u.Email, email) {
				cp := *u
				out = &cp
				return nil
			}
		}
		return auth.ErrNotFound
	})
	return out, err
}

func (dir directory) CreateOrganization(ctx context.Context, org *tenant.Organization) error {
	return dir.s.view(func(d *data) error {
		for _, o := range d.orgs {
			if o.ID == org.ID || o.Slug == org.Slug {
				return fmt.Errorf("%w: organization %s", store.ErrConflict, org.Slug)
			}
		}
		cp := *org
		d.orgs[org.ID] = &cp
		return nil
	})
}

func (dir directory) CreateUser(ctx context.Context, u *auth.User) error {
	return dir.s.view(func(d *data) error {
		for _, existing := range d.users {
			if existing.ID == u.ID || strings.EqualFold(existing.Email, u.Email) {
				return fmt.Errorf("%w: user %s", store.ErrConflict, u.Email)
			}
		}
		cp := *u
		d.users[u.ID] = &cp
		return nil
	})
}

func (dir directory) CreateRole(ctx context.Context, r *auth.Role) error {
	return dir.s.view(func(d *data) error {
		for _, existing := range d.roles {
			if existing.ID == r.ID || existing.Slug == r.Slug {
				return fmt.Errorf("%w: role %s", store.ErrConflict, r.Slug)
			}
		}
		cp := *r
		cp.Permissions = append([]string(nil), r.Permissions...)
		d.roles[r.ID] = &cp
		return nil
	})
}

func (dir directory) Assign(ctx context.Context, a auth.Assignment) error {
	return dir.s.view(func(d *data) error {
		if _, ok := d.users[a.UserID]; !ok {
			return fmt.Errorf("%w: unknown user %s", store.ErrConflict, a.UserID)
		}
		if _, ok := d.roles[a.RoleID]; !ok {
			return fmt.Errorf("%w: unknown role %s", store.ErrConflict, a.RoleID)
		}
		if a.OrganizationID != "" {
			if _, ok := d.orgs[a.OrganizationID]; !ok {
				return fmt.Errorf("%w: unknown organization %s", store.ErrConflict, a.OrganizationID)
			}
		}
		for i, existing := range d.assignments {
			if existing.UserID == a.UserID && existing.OrganizationID == a.OrganizationID {
				d.assignments[i] = a
				return nil
			}
		}
		d.assignments = append(d.assignments, a)
		return nil
	})
}

type auditLog struct{ s *Store }

func (l auditLog) Append(ctx context.Context, e *audit.Entry) error {
	return l.s.view(func(d *data) error {
		cp := *e
		d.audit = append(d.audit, &cp)
		return nil
	})
}

func (l auditLog) List(ctx context.Context, f audit.ListFilter) ([]*audit.Entry, int, error) {
	var (
		out   []*audit.Entry
		total int
	)
	err := l.s.view(func(d *data) error {
		var hits []*audit.Entry
		for i := len(d.audit) - 1; i >= 0; i-- {
			e := d.audit[i]
			if f.AuditableType != "" && e.AuditableType != f.AuditableType {
				continue
			}
			if f.AuditableID != "" && e.AuditableID != f.AuditableID {
				continue
			}
			if f.OrganizationID != "" && e.OrganizationID != f.OrganizationID {
				continue
			}
			hits = append(hits, e)
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
		total = len(hits)
		start := max(f.Offset, 0)
		if start > len(hits) {
			start = len(hits)
		}
		end := len(hits)
		if f.Limit > 0 && start+f.Limit < end {
			end = start + f.Limit
		}
		for _, e := range hits[start:end] {
			cp := *e
			out = append(out, &cp)
		}
		return nil
	})
	return out, total, err
}
