package schema

import (
	"github.com/shinyyama/messaging-backend/internal/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ResolveWhere validates p against m, maps field names to storage names and
// coerces values. Relation nodes keep their relation name; their nested
// filters are resolved against the related model.
func (r *Registry) ResolveWhere(m *Model, p query.Predicate) (query.Predicate, error) {
	switch p := p.(type) {
	case nil:
		return nil, nil
	case query.And:
		subs, err := r.resolveAll(m, p)
		return query.And(subs), err
	case query.Or:
		subs, err := r.resolveAll(m, p)
		return query.Or(subs), err
	case query.Not:
		subs, err := r.resolveAll(m, p)
		return query.Not(subs), err
	case query.Cond:
		return m.resolveCond(p)
	case query.Relation:
		return r.resolveRelation(m, p)
	}
	return nil, invalid(m.Name, "", "unsupported filter node %T", p)
}

func (r *Registry) resolveAll(m *Model, ps []query.Predicate) ([]query.Predicate, error) {
	out := make([]query.Predicate, 0, len(ps))
	for _, sub := range ps {
		rp, err := r.ResolveWhere(m, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	return out, nil
}

func (r *Registry) resolveRelation(m *Model, p query.Relation) (query.Predicate, error) {
	rel, ok := m.relations[p.Name]
	if !ok {
		return nil, invalid(m.Name, p.Name, "unknown relation")
	}
	switch p.Kind {
	case query.Some, query.Every, query.None:
		if rel.Cardinality != ToMany {
			return nil, invalid(m.Name, p.Name, "%s is only valid on to-many relations", p.Kind)
		}
	case query.Is, query.IsNot:
		if rel.Cardinality != ToOne {
			return nil, invalid(m.Name, p.Name, "%s is only valid on to-one relations", p.Kind)
		}
	default:
		return nil, invalid(m.Name, p.Name, "unknown relation filter")
	}
	target, err := r.Model(rel.Target)
	if err != nil {
		return nil, err
	}
	where, err := r.ResolveWhere(target, p.Where)
	if err != nil {
		return nil, err
	}
	return query.Relation{Name: p.Name, Kind: p.Kind, Where: where}, nil
}

func (m *Model) resolveCond(c query.Cond) (query.Predicate, error) {
	f, ok := m.fields[c.Field]
	if !ok {
		if _, isRel := m.relations[c.Field]; isRel {
			return nil, invalid(m.Name, c.Field, "relation filters take some, every, none, is or isNot")
		}
		return nil, invalid(m.Name, c.Field, "unknown field")
	}
	out := c
	out.Field = f.Column
	if c.Mode == query.ModeInsensitive && f.Kind != KindString && f.Kind != KindEnum {
		return nil, invalid(m.Name, f.Name, "insensitive mode needs a string field")
	}
	switch c.Op {
	case query.OpEquals, query.OpNot:
		v := c.Value
		if s, ok := v.(string); ok && f.Kind == KindJSON {
			if n, isNull := query.ParseNull(s); isNull {
				v = n
			}
		}
		if n, ok := v.(query.Null); ok {
			out.Value = n
			return out, nil
		}
		if f.Kind == KindJSON {
			out.Value = query.Normalize(v)
			return out, nil
		}
		cv, err := m.CoerceValue(f, v)
		if err != nil {
			return nil, err
		}
		out.Value = cv
	case query.OpIn, query.OpNotIn:
		if !f.Scalar() {
			return nil, invalid(m.Name, f.Name, "%s needs a scalar field", c.Op)
		}
		items, ok := listOf(c.Value)
		if !ok {
			return nil, invalid(m.Name, f.Name, "%s needs a list", c.Op)
		}
		cv, err := m.coerceElems(f, items)
		if err != nil {
			return nil, err
		}
		out.Value = cv
	case query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		if !f.Scalar() || f.Kind == KindBool {
			return nil, invalid(m.Name, f.Name, "%s needs an orderable field", c.Op)
		}
		cv, err := m.coerceScalar(f.unbounded(), c.Value)
		if err != nil {
			return nil, err
		}
		if cv == nil {
			return nil, invalid(m.Name, f.Name, "%s needs a value", c.Op)
		}
		out.Value = cv
	case query.OpContains, query.OpStartsWith, query.OpEndsWith, query.OpRegex:
		if f.List || (f.Kind != KindString && f.Kind != KindEnum) {
			return nil, invalid(m.Name, f.Name, "%s needs a string field", c.Op)
		}
		s, ok := c.Value.(string)
		if !ok {
			return nil, invalid(m.Name, f.Name, "%s needs a string", c.Op)
		}
		out.Value = s
	case query.OpHas:
		if !f.List {
			return nil, invalid(m.Name, f.Name, "has needs a list field")
		}
		cv, err := m.coerceScalar(f, c.Value)
		if err != nil {
			return nil, err
		}
		if cv == nil {
			return nil, invalid(m.Name, f.Name, "has needs a value")
		}
		out.Value = cv
	case query.OpHasEvery, query.OpHasSome:
		if !f.List {
			return nil, invalid(m.Name, f.Name, "%s needs a list field", c.Op)
		}
		items, ok := listOf(c.Value)
		if !ok {
			return nil, invalid(m.Name, f.Name, "%s needs a list", c.Op)
		}
		cv, err := m.coerceElems(f, items)
		if err != nil {
			return nil, err
		}
		out.Value = cv
	case query.OpIsEmpty:
		if !f.List {
			return nil, invalid(m.Name, f.Name, "isEmpty needs a list field")
		}
		if _, ok := c.Value.(bool); !ok {
			return nil, invalid(m.Name, f.Name, "isEmpty needs a boolean")
		}
	case query.OpIsSet:
		if _, ok := c.Value.(bool); !ok {
			return nil, invalid(m.Name, f.Name, "isSet needs a boolean")
		}
	default:
		return nil, invalid(m.Name, f.Name, "unknown operator %q", c.Op)
	}
	return out, nil
}

// unbounded drops the Min constraint; filters may compare against any value.
func (f *Field) unbounded() *Field {
	if f.Min == nil {
		return f
	}
	c := *f
	c.Min = nil
	return &c
}

// ResolveOrder maps orderings onto storage names. Only scalar fields can be ordered.
func (m *Model) ResolveOrder(orders []query.Order) ([]query.Order, error) {
	out := make([]query.Order, len(orders))
	for i, o := range orders {
		f, ok := m.fields[o.Field]
		if !ok {
			return nil, invalid(m.Name, o.Field, "cannot order by unknown field")
		}
		if !f.Scalar() {
			return nil, invalid(m.Name, f.Name, "cannot order by a %s field", describe(f))
		}
		if o.Dir != query.Asc && o.Dir != query.Desc {
			return nil, invalid(m.Name, f.Name, "invalid sort direction")
		}
		out[i] = query.Order{Field: f.Column, Dir: o.Dir}
	}
	return out, nil
}

// ResolveFields maps field names (for select, omit or distinct) onto storage names.
func (m *Model) ResolveFields(names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		f, ok := m.fields[n]
		if !ok {
			return nil, invalid(m.Name, n, "unknown field")
		}
		out[i] = f.Column
	}
	return out, nil
}

func describe(f *Field) string {
	if f.List {
		return "list"
	}
	return f.Kind.String()
}

// Record converts a stored document into API shape: field names instead of
// storage names, time.Time instead of BSON dates.
func (m *Model) Record(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		name := k
		if f, ok := m.columns[k]; ok {
			name = f.Name
		}
		out[name] = Plain(v)
	}
	return out
}

// Plain converts decoded BSON values into plain Go values.
func Plain(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.ObjectID:
		return x.Hex()
	case primitive.M:
		return plainMap(x)
	case map[string]any:
		return plainMap(x)
	case primitive.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = Plain(e.Value)
		}
		return out
	case primitive.A:
		return plainSlice(x)
	case []any:
		return plainSlice(x)
	}
	return v
}

func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Plain(v)
	}
	return out
}

func plainSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = Plain(v)
	}
	return out
}
