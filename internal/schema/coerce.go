package schema

import (
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/shinyyama/messaging-backend/internal/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NormalizeTime truncates to the millisecond precision BSON dates carry and
// converts to UTC.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// coerceScalar converts v into the storage form of one value of f's kind.
func (m *Model) coerceScalar(f *Field, v any) (any, error) {
	if isNil(v) {
		return nil, nil
	}
	switch f.Kind {
	case KindString:
		s, ok := query.Normalize(v).(string)
		if !ok {
			return nil, invalid(m.Name, f.Name, "expected a string, got %T", v)
		}
		return s, nil
	case KindID:
		switch x := v.(type) {
		case primitive.ObjectID:
			return x.Hex(), nil
		case *primitive.ObjectID:
			if x == nil {
				return nil, nil
			}
			return x.Hex(), nil
		}
		s, ok := query.Normalize(v).(string)
		if !ok {
			return nil, invalid(m.Name, f.Name, "expected an id string, got %T", v)
		}
		if _, err := primitive.ObjectIDFromHex(s); err != nil {
			return nil, invalid(m.Name, f.Name, "malformed id %q", s)
		}
		return s, nil
	case KindEnum:
		s, ok := query.Normalize(v).(string)
		if !ok {
			return nil, invalid(m.Name, f.Name, "expected one of %v, got %T", f.Enum, v)
		}
		for _, e := range f.Enum {
			if e == s {
				return s, nil
			}
		}
		return nil, invalid(m.Name, f.Name, "value %q is not one of %v", s, f.Enum)
	case KindBool:
		b, ok := query.Normalize(v).(bool)
		if !ok {
			return nil, invalid(m.Name, f.Name, "expected a boolean, got %T", v)
		}
		return b, nil
	case KindInt:
		if n, ok := v.(json.Number); ok {
			i, err := n.Int64()
			if err != nil {
				return nil, invalid(m.Name, f.Name, "expected an integer, got %s", n)
			}
			return m.checkMin(f, i)
		}
		switch x := query.Normalize(v).(type) {
		case int64:
			return m.checkMin(f, x)
		case float64:
			if x != math.Trunc(x) || math.IsInf(x, 0) || math.IsNaN(x) {
				return nil, invalid(m.Name, f.Name, "expected an integer, got %v", x)
			}
			return m.checkMin(f, int64(x))
		}
		return nil, invalid(m.Name, f.Name, "expected an integer, got %T", v)
	case KindFloat:
		if n, ok := v.(json.Number); ok {
			x, err := n.Float64()
			if err != nil {
				return nil, invalid(m.Name, f.Name, "expected a number, got %s", n)
			}
			return m.checkMin(f, x)
		}
		switch x := query.Normalize(v).(type) {
		case int64:
			return m.checkMin(f, float64(x))
		case float64:
			return m.checkMin(f, x)
		}
		return nil, invalid(m.Name, f.Name, "expected a number, got %T", v)
	case KindDateTime:
		switch x := v.(type) {
		case time.Time:
			return NormalizeTime(x), nil
		case *time.Time:
			if x == nil {
				return nil, nil
			}
			return NormalizeTime(*x), nil
		case primitive.DateTime:
			return NormalizeTime(x.Time()), nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, invalid(m.Name, f.Name, "expected an RFC 3339 date-time, got %q", x)
			}
			return NormalizeTime(t), nil
		}
		return nil, invalid(m.Name, f.Name, "expected a date-time, got %T", v)
	case KindJSON:
		n := query.Normalize(v)
		if _, ok := n.(map[string]any); !ok {
			return nil, invalid(m.Name, f.Name, "expected a JSON object, got %T", v)
		}
		return n, nil
	}
	return nil, invalid(m.Name, f.Name, "unsupported kind %s", f.Kind)
}

func (m *Model) checkMin(f *Field, v any) (any, error) {
	if f.Min == nil {
		return v, nil
	}
	var x float64
	switch n := v.(type) {
	case int64:
		x = float64(n)
	case float64:
		x = n
	}
	if x < *f.Min {
		return nil, invalid(m.Name, f.Name, "must be at least %v", *f.Min)
	}
	return v, nil
}

// CoerceValue converts v into the storage representation of a value of f,
// honoring list fields.
func (m *Model) CoerceValue(f *Field, v any) (any, error) {
	if !f.List {
		return m.coerceScalar(f, v)
	}
	if isNil(v) {
		return nil, nil
	}
	items, ok := listOf(v)
	if !ok {
		return nil, invalid(m.Name, f.Name, "expected a list, got %T", v)
	}
	return m.coerceElems(f, items)
}

func (m *Model) coerceElems(f *Field, items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, it := range items {
		c, err := m.coerceScalar(f, it)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, invalid(m.Name, f.Name, "list elements cannot be null")
		}
		out[i] = c
	}
	return out, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

func listOf(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if _, isBytes := v.([]byte); isBytes {
		return nil, false
	}
	return query.ToSlice(v), true
}
