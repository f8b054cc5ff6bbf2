package query

import "fmt"

var relationKeys = map[string]RelationKind{
	"some":  Some,
	"every": Every,
	"none":  None,
	"is":    Is,
	"isNot": IsNot,
}

var fieldOps = map[string]Op{
	"equals":     OpEquals,
	"not":        OpNot,
	"in":         OpIn,
	"notIn":      OpNotIn,
	"lt":         OpLt,
	"lte":        OpLte,
	"gt":         OpGt,
	"gte":        OpGte,
	"contains":   OpContains,
	"startsWith": OpStartsWith,
	"endsWith":   OpEndsWith,
	"has":        OpHas,
	"hasEvery":   OpHasEvery,
	"hasSome":    OpHasSome,
	"isEmpty":    OpIsEmpty,
	"isSet":      OpIsSet,
}

// Parse reads a where object in the JSON shape clients send:
//
//	{"userId": "u1", "isRead": {"equals": false}, "OR": [{...}, {...}]}
//
// Field names are not checked here; schema resolution does that.
func Parse(where map[string]any) (Predicate, error) {
	if len(where) == 0 {
		return And{}, nil
	}
	out := And{}
	for _, k := range sortedKeys(where) {
		v := where[k]
		switch k {
		case "AND", "OR", "NOT":
			subs, err := parseList(k, v)
			if err != nil {
				return nil, err
			}
			switch k {
			case "AND":
				out = append(out, And(subs))
			case "OR":
				out = append(out, Or(subs))
			default:
				out = append(out, Not(subs))
			}
		default:
			p, err := parseField(k, v)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func parseList(key string, v any) ([]Predicate, error) {
	switch x := v.(type) {
	case map[string]any:
		p, err := Parse(x)
		if err != nil {
			return nil, err
		}
		return []Predicate{p}, nil
	case []any:
		subs := make([]Predicate, 0, len(x))
		for _, item := range x {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s entries must be objects", ErrInvalidFilter, key)
			}
			p, err := Parse(m)
			if err != nil {
				return nil, err
			}
			subs = append(subs, p)
		}
		return subs, nil
	}
	return nil, fmt.Errorf("%w: %s must be an object or a list", ErrInvalidFilter, key)
}

func parseField(name string, v any) (Predicate, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Eq(name, v), nil
	}
	if len(m) == 0 {
		return And{}, nil
	}
	if isRelationFilter(m) {
		return parseRelation(name, m)
	}
	mode := ModeDefault
	if raw, ok := m["mode"]; ok {
		switch raw {
		case "insensitive":
			mode = ModeInsensitive
		case "default":
		default:
			return nil, fmt.Errorf("%w: %q: unknown mode %v", ErrInvalidFilter, name, raw)
		}
	}
	out := And{}
	for _, k := range sortedKeys(m) {
		if k == "mode" {
			continue
		}
		o, ok := fieldOps[k]
		if !ok {
			return nil, fmt.Errorf("%w: %q: unknown operator %q", ErrInvalidFilter, name, k)
		}
		arg := m[k]
		if o == OpNot {
			if nested, ok := arg.(map[string]any); ok {
				if _, hasMode := nested["mode"]; !hasMode && mode == ModeInsensitive {
					nested = withMode(nested, "insensitive")
				}
				inner, err := parseField(name, nested)
				if err != nil {
					return nil, err
				}
				out = append(out, Not{inner})
				continue
			}
		}
		switch o {
		case OpIn, OpNotIn, OpHasEvery, OpHasSome:
			if _, ok := arg.([]any); !ok {
				return nil, fmt.Errorf("%w: %q: %s needs a list", ErrInvalidFilter, name, k)
			}
		case OpIsEmpty, OpIsSet:
			if _, ok := arg.(bool); !ok {
				return nil, fmt.Errorf("%w: %q: %s needs a boolean", ErrInvalidFilter, name, k)
			}
		}
		out = append(out, Cond{Field: name, Op: o, Value: arg, Mode: mode})
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func withMode(m map[string]any, mode string) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["mode"] = mode
	return out
}

func isRelationFilter(m map[string]any) bool {
	for k := range m {
		if _, ok := relationKeys[k]; !ok {
			return false
		}
	}
	return true
}

func parseRelation(name string, m map[string]any) (Predicate, error) {
	out := And{}
	for _, k := range sortedKeys(m) {
		var where Predicate
		switch x := m[k].(type) {
		case nil:
		case map[string]any:
			p, err := Parse(x)
			if err != nil {
				return nil, err
			}
			where = p
		default:
			return nil, fmt.Errorf("%w: %q.%s must be an object or null", ErrInvalidFilter, name, k)
		}
		out = append(out, Relation{Name: name, Kind: relationKeys[k], Where: where})
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}
