// Package store defines the persistence contract shared by the memory and
// Postgres backends.
package store

import (
	"context"
	"errors"

	"restgen.dev/internal/audit"
	"restgen.dev/internal/auth"
	"restgen.dev/internal/registry"
	"restgen.dev/internal/tenant"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is a constraint violation: duplicate key, dangling
	// reference or missing required column.
	ErrConflict = errors.New("store: constraint violation")
)

// Record is one row keyed by column name.
type Record = map[string]any

// TrashedMode controls visibility of soft-deleted rows.
type TrashedMode int

const (
	TrashedExclude TrashedMode = iota
	TrashedOnly
	TrashedWith
)

// Condition matches rows whose Field, reached through Path, equals any of
// Values. Values are compared with the column's text form.
type Condition struct {
	Path   []registry.Hop
	Field  string
	Values []string
}

// SearchField is a column searched by a free-text term.
type SearchField struct {
	Path  []registry.Hop
	Field string
}

// Search is a case-insensitive substring match over several fields, OR-ed.
type Search struct {
	Term   string
	Fields []SearchField
}

// Query selects rows of one model. Conditions are AND-ed.
type Query struct {
	Model   *registry.Model
	Where   []Condition
	Search  *Search
	Trashed TrashedMode
	Sorts   []registry.SortSpec
	Limit   int
	Offset  int
}

// RecordStore reads and writes model rows.
type RecordStore interface {
	Select(ctx context.Context, q Query) ([]Record, error)
	Count(ctx context.Context, q Query) (int, error)
	// CountBy counts rows matching q grouped by the text form of column.
	CountBy(ctx context.Context, q Query, column string) (map[string]int, error)
	Insert(ctx context.Context, m *registry.Model, rec Record) (Record, error)
	// Update applies changes to the row with primary key id, soft-deleted or not.
	Update(ctx context.Context, m *registry.Model, id string, changes Record) (Record, error)
	// Delete removes the row permanently.
	Delete(ctx context.Context, m *registry.Model, id string) error
}

// Directory resolves organizations, users and role assignments.
type Directory interface {
	tenant.Directory
	auth.UserFinder
}

// DirectoryWriter creates directory entries for seeding.
type DirectoryWriter interface {
	CreateOrganization(ctx context.Context, org *tenant.Organization) error
	CreateUser(ctx context.Context, u *auth.User) error
	CreateRole(ctx context.Context, r *auth.Role) error
	Assign(ctx context.Context, a auth.Assignment) error
}

// AuditStore persists and lists audit entries.
type AuditStore interface {
	audit.Writer
	List(ctx context.Context, f audit.ListFilter) ([]*audit.Entry, int, error)
}

// Store is a backend. The Store passed to a WithinTx callback routes every
// operation through the transaction; returning an error rolls it back.
type Store interface {
	Records() RecordStore
	Directory() Directory
	Audit() AuditStore
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Ping(ctx context.Context) error
}
