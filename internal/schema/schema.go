// Package schema holds model metadata and turns client input (create data,
// update data, filters, orderings) into validated storage-level values.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shinyyama/messaging-backend/internal/store"
)

type Kind int

const (
	KindString Kind = iota
	KindID
	KindBool
	KindInt
	KindFloat
	KindDateTime
	KindEnum
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "String"
	case KindID:
		return "ObjectId"
	case KindBool:
		return "Boolean"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindDateTime:
		return "DateTime"
	case KindEnum:
		return "Enum"
	case KindJSON:
		return "Json"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) Numeric() bool {
	return k == KindInt || k == KindFloat
}

type Field struct {
	Name     string
	Column   string
	Kind     Kind
	List     bool
	Optional bool
	Enum     []string
	// Default produces the value stored when create data omits the field.
	Default   func(now time.Time) any
	UpdatedAt bool
	// Min, when set, is the smallest value a numeric field may be written with.
	Min *float64
}

// Scalar reports whether the field holds a single orderable value.
func (f *Field) Scalar() bool {
	return !f.List && f.Kind != KindJSON
}

type Cardinality int

const (
	ToOne Cardinality = iota
	ToMany
)

// Relation links rows of one model to rows of another: a parent row's
// LocalField value equals the related rows' ForeignField value.
type Relation struct {
	Name         string
	Target       string
	Cardinality  Cardinality
	LocalField   string
	ForeignField string
}

type Index struct {
	Name   string
	Fields []string
}

type Model struct {
	Name       string
	Collection string
	Fields     []*Field
	Indexes    []Index
	Relations  []*Relation

	fields    map[string]*Field
	columns   map[string]*Field
	relations map[string]*Relation
}

func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// FieldByColumn finds a field by its storage name.
func (m *Model) FieldByColumn(col string) (*Field, bool) {
	f, ok := m.columns[col]
	return f, ok
}

func (m *Model) Relation(name string) (*Relation, bool) {
	r, ok := m.relations[name]
	return r, ok
}

// UniqueIndexes returns the model's unique indexes keyed by storage names.
func (m *Model) UniqueIndexes() []store.UniqueIndex {
	out := make([]store.UniqueIndex, 0, len(m.Indexes))
	for _, idx := range m.Indexes {
		cols := make([]string, len(idx.Fields))
		for i, f := range idx.Fields {
			cols[i] = m.fields[f].Column
		}
		out = append(out, store.UniqueIndex{Name: idx.Name, Fields: cols})
	}
	return out
}

// UniqueIndexFor returns the unique index whose fields are exactly names, in any order.
func (m *Model) UniqueIndexFor(names []string) (Index, bool) {
	want := append([]string(nil), names...)
	sort.Strings(want)
	for _, idx := range m.Indexes {
		have := append([]string(nil), idx.Fields...)
		sort.Strings(have)
		if strings.Join(have, ",") == strings.Join(want, ",") {
			return idx, true
		}
	}
	return Index{}, false
}

// Registry is the set of models an engine serves.
type Registry struct {
	models []*Model
	byName map[string]*Model
}

// NewRegistry indexes models and checks that relations and indexes refer to
// fields that exist.
func NewRegistry(models ...*Model) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Model, len(models))}
	for _, m := range models {
		m.fields = make(map[string]*Field, len(m.Fields))
		m.columns = make(map[string]*Field, len(m.Fields))
		m.relations = make(map[string]*Relation, len(m.Relations))
		for _, f := range m.Fields {
			if f.Column == "" {
				f.Column = f.Name
			}
			if _, dup := m.fields[f.Name]; dup {
				return nil, fmt.Errorf("model %s: duplicate field %q", m.Name, f.Name)
			}
			m.fields[f.Name] = f
			m.columns[f.Column] = f
		}
		if _, ok := m.fields["id"]; !ok {
			return nil, fmt.Errorf("model %s: missing id field", m.Name)
		}
		for _, rel := range m.Relations {
			if _, dup := m.fields[rel.Name]; dup {
				return nil, fmt.Errorf("model %s: relation %q shadows a field", m.Name, rel.Name)
			}
			m.relations[rel.Name] = rel
		}
		for _, idx := range m.Indexes {
			for _, f := range idx.Fields {
				if _, ok := m.fields[f]; !ok {
					return nil, fmt.Errorf("model %s: index %s: unknown field %q", m.Name, idx.Name, f)
				}
			}
		}
		key := strings.ToLower(m.Name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("duplicate model %s", m.Name)
		}
		r.byName[key] = m
		r.models = append(r.models, m)
	}
	for _, m := range r.models {
		for _, rel := range m.Relations {
			target, ok := r.byName[strings.ToLower(rel.Target)]
			if !ok {
				return nil, fmt.Errorf("model %s: relation %s: unknown target %s", m.Name, rel.Name, rel.Target)
			}
			if _, ok := m.fields[rel.LocalField]; !ok {
				return nil, fmt.Errorf("model %s: relation %s: unknown local field %q", m.Name, rel.Name, rel.LocalField)
			}
			if _, ok := target.fields[rel.ForeignField]; !ok {
				return nil, fmt.Errorf("model %s: relation %s: unknown foreign field %q", m.Name, rel.Name, rel.ForeignField)
			}
		}
	}
	return r, nil
}

// Model looks a model up by name (case-insensitive) or collection name.
func (r *Registry) Model(name string) (*Model, error) {
	if m, ok := r.byName[strings.ToLower(name)]; ok {
		return m, nil
	}
	for _, m := range r.models {
		if m.Collection == name {
			return m, nil
		}
	}
	return nil, invalid("", "", "unknown model %q", name)
}

func (r *Registry) Models() []*Model {
	return append([]*Model(nil), r.models...)
}

// Default helpers for Field.Default.

func DefaultNow(now time.Time) any { return now }

func DefaultValue(v any) func(time.Time) any {
	return func(time.Time) any { return v }
}

func DefaultEmptyList(time.Time) any { return []any{} }

func DefaultEmptyObject(time.Time) any { return map[string]any{} }
