package schema

import (
	"sort"
	"time"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultObjectID generates a new id. ObjectIds created by one process sort
// in creation order.
func DefaultObjectID(time.Time) any {
	return primitive.NewObjectID().Hex()
}

// BuildCreate validates create data, applies defaults and returns the
// document to insert.
func (m *Model) BuildCreate(data map[string]any, now time.Time) (store.Document, error) {
	now = NormalizeTime(now)
	doc := store.Document{}
	seen := make(map[string]bool, len(data))
	for _, k := range sortedKeys(data) {
		f, err := m.writableField(k)
		if err != nil {
			return nil, err
		}
		seen[f.Name] = true
		v := data[k]
		if n, ok := v.(query.Null); ok {
			switch n {
			case query.DbNull:
				if !f.Optional {
					return nil, invalid(m.Name, f.Name, "field is required")
				}
				continue
			case query.JsonNull:
				if !f.Optional {
					return nil, invalid(m.Name, f.Name, "field is required")
				}
				doc[f.Column] = nil
				continue
			}
			return nil, invalid(m.Name, f.Name, "%s is only valid in filters", n)
		}
		if set, ok := setWrapper(f, v); ok {
			v = set
		}
		c, err := m.CoerceValue(f, v)
		if err != nil {
			return nil, err
		}
		if c == nil && !f.Optional {
			return nil, invalid(m.Name, f.Name, "field is required")
		}
		doc[f.Column] = c
	}
	for _, f := range m.Fields {
		if seen[f.Name] {
			continue
		}
		switch {
		case f.UpdatedAt:
			doc[f.Column] = now
		case f.Default != nil:
			c, err := m.CoerceValue(f, f.Default(now))
			if err != nil {
				return nil, err
			}
			doc[f.Column] = c
		case f.List:
			doc[f.Column] = []any{}
		case f.Optional:
		default:
			return nil, invalid(m.Name, f.Name, "field is required")
		}
	}
	return doc, nil
}

// BuildUpdate validates update data. Each key holds either a plain value or
// one operation object: {set}, {unset}, {push} for lists and
// {increment, decrement, multiply} for numbers. Fields marked UpdatedAt are
// refreshed unless data sets them.
func (m *Model) BuildUpdate(data map[string]any, now time.Time) (store.Update, error) {
	now = NormalizeTime(now)
	u := store.Update{
		Set:  map[string]any{},
		Push: map[string][]any{},
		Inc:  map[string]any{},
		Mul:  map[string]any{},
	}
	seen := make(map[string]bool, len(data))
	for _, k := range sortedKeys(data) {
		f, err := m.writableField(k)
		if err != nil {
			return store.Update{}, err
		}
		if f.Column == store.IDField {
			return store.Update{}, invalid(m.Name, f.Name, "id cannot be updated")
		}
		seen[f.Name] = true
		if err := m.updateOp(&u, f, data[k]); err != nil {
			return store.Update{}, err
		}
	}
	for _, f := range m.Fields {
		if f.UpdatedAt && !seen[f.Name] {
			u.Set[f.Column] = now
		}
	}
	return u, nil
}

func (m *Model) updateOp(u *store.Update, f *Field, v any) error {
	if n, ok := v.(query.Null); ok {
		if !f.Optional {
			return invalid(m.Name, f.Name, "field is required")
		}
		switch n {
		case query.DbNull:
			u.Unset = append(u.Unset, f.Column)
			return nil
		case query.JsonNull:
			u.Set[f.Column] = nil
			return nil
		}
		return invalid(m.Name, f.Name, "%s is only valid in filters", n)
	}
	ops, isOps := v.(map[string]any)
	if !isOps || f.Kind == KindJSON {
		return m.setValue(u, f, v)
	}
	if len(ops) != 1 {
		return invalid(m.Name, f.Name, "expected exactly one update operation, got %d", len(ops))
	}
	for name, arg := range ops {
		switch name {
		case "set":
			return m.setValue(u, f, arg)
		case "unset":
			on, ok := arg.(bool)
			if !ok {
				return invalid(m.Name, f.Name, "unset needs a boolean")
			}
			if !f.Optional {
				return invalid(m.Name, f.Name, "only optional fields can be unset")
			}
			if on {
				u.Unset = append(u.Unset, f.Column)
			}
			return nil
		case "push":
			if !f.List {
				return invalid(m.Name, f.Name, "push is only valid on list fields")
			}
			items, isList := listOf(arg)
			if !isList {
				items = []any{arg}
			}
			c, err := m.coerceElems(f, items)
			if err != nil {
				return err
			}
			u.Push[f.Column] = c
			return nil
		case "increment", "decrement", "multiply":
			if f.List || !f.Kind.Numeric() {
				return invalid(m.Name, f.Name, "%s is only valid on numeric fields", name)
			}
			n, err := m.coerceScalar(&Field{Name: f.Name, Kind: f.Kind}, arg)
			if err != nil {
				return err
			}
			if n == nil {
				return invalid(m.Name, f.Name, "%s needs a number", name)
			}
			switch name {
			case "increment":
				u.Inc[f.Column] = n
			case "decrement":
				u.Inc[f.Column] = negate(n)
			default:
				u.Mul[f.Column] = n
			}
			return nil
		}
		return invalid(m.Name, f.Name, "unknown update operation %q", name)
	}
	return nil
}

func (m *Model) setValue(u *store.Update, f *Field, v any) error {
	c, err := m.CoerceValue(f, v)
	if err != nil {
		return err
	}
	if c == nil && !f.Optional {
		return invalid(m.Name, f.Name, "field is required")
	}
	u.Set[f.Column] = c
	return nil
}

func (m *Model) writableField(name string) (*Field, error) {
	if _, isRel := m.relations[name]; isRel {
		return nil, invalid(m.Name, name, "nested relation writes are not supported")
	}
	f, ok := m.fields[name]
	if !ok {
		return nil, invalid(m.Name, name, "unknown field")
	}
	return f, nil
}

// setWrapper unwraps the {set: [...]} form list fields accept on create.
func setWrapper(f *Field, v any) (any, bool) {
	if !f.List {
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return nil, false
	}
	set, ok := m["set"]
	return set, ok
}

func negate(v any) any {
	switch n := v.(type) {
	case int64:
		return -n
	case float64:
		return -n
	}
	return v
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
