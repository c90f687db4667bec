package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"restgen.dev/internal/validation"
)

type fileDoc struct {
	Models []modelDoc `yaml:"models"`
}

type modelDoc struct {
	Slug              string                 `yaml:"slug"`
	Table             string                 `yaml:"table"`
	PrimaryKey        string                 `yaml:"primary_key"`
	Fields            []string               `yaml:"fields"`
	Relations         map[string]relationDoc `yaml:"relations"`
	OrganizationField string                 `yaml:"organization_field"`
	OwnerPath         string                 `yaml:"owner_path"`
	SoftDeletes       bool                   `yaml:"soft_deletes"`
	Timestamps        *bool                  `yaml:"timestamps"`
	Filters           []string               `yaml:"filters"`
	Sorts             []string               `yaml:"sorts"`
	Search            []string               `yaml:"search"`
	Includes          []string               `yaml:"includes"`
	Selectable        []string               `yaml:"selectable"`
	DefaultSort       string                 `yaml:"default_sort"`
	Pagination        *paginationDoc         `yaml:"pagination"`
	Validation        validationDoc          `yaml:"validation"`
	ExceptActions     []string               `yaml:"except_actions"`
	PublicActions     []string               `yaml:"public_actions"`
	Middleware        []string               `yaml:"middleware"`
	Audit             auditDoc               `yaml:"audit"`
	Hidden            []string               `yaml:"hidden"`
	HiddenFor         hiddenForDoc           `yaml:"hidden_for"`
}

type relationDoc struct {
	Kind       string `yaml:"kind"`
	Model      string `yaml:"model"`
	ForeignKey string `yaml:"foreign_key"`
	OwnerKey   string `yaml:"owner_key"`
}

type paginationDoc struct {
	Enabled    *bool `yaml:"enabled"`
	PerPage    int   `yaml:"per_page"`
	MaxPerPage int   `yaml:"max_per_page"`
}

type validationDoc struct {
	Base     map[string]string `yaml:"base"`
	Store    ruleLayer         `yaml:"store"`
	Update   ruleLayer         `yaml:"update"`
	Messages map[string]string `yaml:"messages"`
}

type auditDoc struct {
	Enabled bool     `yaml:"enabled"`
	Exclude []string `yaml:"exclude"`
}

type hiddenForDoc struct {
	Guest []string            `yaml:"guest"`
	Roles map[string][]string `yaml:"roles"`
}

// ruleLayer decodes either a field->rule mapping or a role->(field->rule)
// mapping. Mixing both shapes in one layer is rejected.
type ruleLayer struct {
	set validation.RuleSet
}

func (l *ruleLayer) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: rule layer must be a mapping", n.Line)
	}
	nested, flat := 0, 0
	for i := 1; i < len(n.Content); i += 2 {
		if n.Content[i].Kind == yaml.MappingNode {
			nested++
		} else {
			flat++
		}
	}
	switch {
	case nested > 0 && flat > 0:
		return fmt.Errorf("line %d: rule layer mixes role keys and field keys", n.Line)
	case nested > 0:
		var byRole map[string]map[string]string
		if err := n.Decode(&byRole); err != nil {
			return err
		}
		out := make(map[string]validation.FieldRules, len(byRole))
		for role, rules := range byRole {
			out[role] = rules
		}
		l.set = validation.PerRole(out)
	default:
		var rules map[string]string
		if err := n.Decode(&rules); err != nil {
			return err
		}
		l.set = validation.Uniform(rules)
	}
	return nil
}

// Load parses a YAML model file and builds the registry.
func Load(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc fileDoc
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return New()
		}
		return nil, fmt.Errorf("registry: decode models: %w", err)
	}
	models := make([]*Model, 0, len(doc.Models))
	for _, md := range doc.Models {
		models = append(models, md.model())
	}
	return New(models...)
}

// LoadFile reads the model file at path.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return Load(bytes.NewReader(raw))
}

func (md modelDoc) model() *Model {
	m := &Model{
		Slug:              md.Slug,
		Table:             md.Table,
		PrimaryKey:        md.PrimaryKey,
		Fields:            md.Fields,
		OrganizationField: md.OrganizationField,
		SoftDeletes:       md.SoftDeletes,
		Timestamps:        md.Timestamps == nil || *md.Timestamps,
		Filters:           NewSet(md.Filters...),
		Sorts:             NewSet(md.Sorts...),
		Search:            NewSet(md.Search...),
		Includes:          NewSet(md.Includes...),
		Selectable:        NewSet(md.Selectable...),
		Paginate:          true,
		ExceptActions:     NewSet(md.ExceptActions...),
		PublicActions:     NewSet(md.PublicActions...),
		Middleware:        md.Middleware,
		Audit:             AuditConfig{Enabled: md.Audit.Enabled, Exclude: md.Audit.Exclude},
		Hidden:            md.Hidden,
		HiddenFor:         HiddenFor{Guest: md.HiddenFor.Guest, Roles: md.HiddenFor.Roles},
		Validation: Validation{
			Base:     md.Validation.Base,
			Store:    md.Validation.Store.set,
			Update:   md.Validation.Update.set,
			Messages: md.Validation.Messages,
		},
	}
	if md.OwnerPath != "" {
		m.OwnerPath = strings.Split(md.OwnerPath, ".")
	}
	if len(md.Relations) > 0 {
		m.Relations = make(map[string]Relation, len(md.Relations))
		for name, rd := range md.Relations {
			m.Relations[name] = Relation{
				Name:       name,
				Kind:       RelationKind(rd.Kind),
				Model:      rd.Model,
				ForeignKey: rd.ForeignKey,
				OwnerKey:   rd.OwnerKey,
			}
		}
	}
	for _, s := range strings.Split(md.DefaultSort, ",") {
		if s = strings.TrimSpace(s); s != "" {
			m.DefaultSort = append(m.DefaultSort, ParseSort(s))
		}
	}
	if p := md.Pagination; p != nil {
		if p.Enabled != nil {
			m.Paginate = *p.Enabled
		}
		m.PerPage = p.PerPage
		m.MaxPerPage = p.MaxPerPage
	}
	return m
}
