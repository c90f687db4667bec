package registry

import (
	"sort"
	"strings"

	"restgen.dev/internal/validation"
)

// Action names a generated endpoint.
type Action string

const (
	ActionIndex       Action = "index"
	ActionShow        Action = "show"
	ActionStore       Action = "store"
	ActionUpdate      Action = "update"
	ActionDestroy     Action = "destroy"
	ActionTrashed     Action = "trashed"
	ActionRestore     Action = "restore"
	ActionForceDelete Action = "forceDelete"
)

// Actions lists every action in route registration order.
var Actions = []Action{
	ActionIndex, ActionTrashed, ActionShow, ActionStore, ActionUpdate,
	ActionDestroy, ActionRestore, ActionForceDelete,
}

func validAction(a Action) bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// needsSoftDeletes reports whether the action only exists on soft-deleting models.
func (a Action) needsSoftDeletes() bool {
	return a == ActionTrashed || a == ActionRestore || a == ActionForceDelete
}

// Column names managed by the engine.
const (
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
	ColumnDeletedAt = "deleted_at"
)

// Middleware requirements a model may declare.
const (
	MiddlewareAuth     = "auth"
	MiddlewareThrottle = "throttle"
)

// RelationKind is the cardinality of a relation.
type RelationKind string

const (
	BelongsTo RelationKind = "belongs_to"
	HasMany   RelationKind = "has_many"
	HasOne    RelationKind = "has_one"
)

// Relation links a model to another registered model.
//
// For belongs_to the foreign key lives on the declaring model and the owner
// key on the target. For has_many and has_one the foreign key lives on the
// target and the owner key on the declaring model.
type Relation struct {
	Name       string
	Kind       RelationKind
	Model      string
	ForeignKey string
	OwnerKey   string
}

// Hop is one resolved step of a relation path. Table is the table of To.
type Hop struct {
	Relation     string
	From         string
	To           string
	Table        string
	LocalColumn  string
	RemoteColumn string
	Many         bool
}

// SortSpec is a single sort column.
type SortSpec struct {
	Field string
	Desc  bool
}

// ParseSort turns "-created_at" into a descending spec.
func ParseSort(s string) SortSpec {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return SortSpec{Field: strings.TrimPrefix(s, "-"), Desc: true}
	}
	return SortSpec{Field: strings.TrimPrefix(s, "+")}
}

func (s SortSpec) String() string {
	if s.Desc {
		return "-" + s.Field
	}
	return s.Field
}

// Set is an immutable string set.
type Set map[string]struct{}

func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Sorted returns the members in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for it := range s {
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// Validation holds the rule layers of a model.
type Validation struct {
	Base     validation.FieldRules
	Store    validation.RuleSet
	Update   validation.RuleSet
	Messages map[string]string
}

// Layer returns the action-specific rule set for store or update.
func (v Validation) Layer(a Action) validation.RuleSet {
	if a == ActionUpdate {
		return v.Update
	}
	return v.Store
}

type AuditConfig struct {
	Enabled bool
	Exclude []string
}

type HiddenFor struct {
	Guest []string
	Roles map[string][]string
}

// Model is a registered resource descriptor. It is immutable once the
// registry has been built.
type Model struct {
	Slug              string
	Table             string
	PrimaryKey        string
	Fields            []string
	Relations         map[string]Relation
	OrganizationField string
	OwnerPath         []string
	Owner             []Hop
	SoftDeletes       bool
	Timestamps        bool

	Filters    Set
	Sorts      Set
	Search     Set
	Includes   Set
	Selectable Set

	DefaultSort []SortSpec
	Paginate    bool
	PerPage     int
	MaxPerPage  int

	Validation    Validation
	ExceptActions Set
	PublicActions Set
	Middleware    []string
	Audit         AuditConfig
	Hidden        []string
	HiddenFor     HiddenFor

	fields Set
}

// Supports reports whether the action is routed for the model.
func (m *Model) Supports(a Action) bool {
	if m.ExceptActions.Has(string(a)) {
		return false
	}
	if a.needsSoftDeletes() && !m.SoftDeletes {
		return false
	}
	return true
}

// IsPublic reports whether the action may be called without authentication.
func (m *Model) IsPublic(a Action) bool { return m.PublicActions.Has(string(a)) }

// HasField reports whether f is a column of the model.
func (m *Model) HasField(f string) bool { return m.fields.Has(f) }

// Tenanted reports whether rows of the model belong to an organization.
func (m *Model) Tenanted() bool { return m.OrganizationField != "" || len(m.Owner) > 0 }

// RequiresMiddleware reports whether the model declared the named middleware.
func (m *Model) RequiresMiddleware(name string) bool {
	for _, mw := range m.Middleware {
		if mw == name {
			return true
		}
	}
	return false
}

// IncludeBase strips the Count/Exists suffix of a pseudo include.
func IncludeBase(include string) (base string, suffix string) {
	for _, sfx := range []string{"Count", "Exists"} {
		if strings.HasSuffix(include, sfx) && len(include) > len(sfx) {
			return strings.TrimSuffix(include, sfx), sfx
		}
	}
	return include, ""
}
