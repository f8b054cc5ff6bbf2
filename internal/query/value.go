package query

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Normalize converts Go values into the canonical shapes produced by decoding
// BSON: integers become int64, times become primitive.DateTime, documents
// become map[string]any and arrays become []any.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, int64, float64, primitive.DateTime, primitive.ObjectID, Null:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return primitive.NewDateTimeFromTime(x)
	case primitive.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = Normalize(e.Value)
		}
		return m
	case primitive.M:
		return normalizeMap(x)
	case map[string]any:
		return normalizeMap(x)
	case primitive.A:
		return normalizeSlice(x)
	case []any:
		return normalizeSlice(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		return normalizeSlice(ToSlice(v))
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return m
	}
	return v
}

func normalizeMap(x map[string]any) map[string]any {
	m := make(map[string]any, len(x))
	for k, v := range x {
		m[k] = Normalize(v)
	}
	return m
}

func normalizeSlice(x []any) []any {
	out := make([]any, len(x))
	for i, v := range x {
		out[i] = Normalize(v)
	}
	return out
}

// Lookup resolves a dotted path inside a document.
func Lookup(doc map[string]any, path string) (any, bool) {
	if !strings.Contains(path, ".") {
		v, ok := doc[path]
		return v, ok
	}
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case primitive.M:
		return x, true
	case primitive.D:
		return Normalize(x).(map[string]any), true
	}
	return nil, false
}

func asSlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case primitive.A:
		return x, true
	case []string:
		return ToSlice(x), true
	}
	return nil, false
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Equal reports deep equality of two values after normalization.
func Equal(a, b any) bool {
	return equalNorm(Normalize(a), Normalize(b))
}

func equalNorm(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := a.(int64); ok {
		if y, ok := b.(int64); ok {
			return x == y
		}
	}
	if x, ok := asNumber(a); ok {
		y, ok := asNumber(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !equalNorm(xv, yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalNorm(x[i], y[i]) {
				return false
			}
		}
		return true
	case primitive.ObjectID:
		y, ok := b.(primitive.ObjectID)
		return ok && x == y
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	return a == b
}

// Compare orders two values of the same type class. The second result is false
// when the values are not comparable (different classes, documents, arrays).
func Compare(a, b any) (int, bool) {
	a, b = Normalize(a), Normalize(b)
	if a == nil && b == nil {
		return 0, true
	}
	if x, ok := a.(int64); ok {
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y), true
		}
	}
	if x, ok := asNumber(a); ok {
		if y, ok := asNumber(b); ok {
			if math.IsNaN(x) || math.IsNaN(y) {
				return 0, false
			}
			return cmpOrdered(x, y), true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case primitive.DateTime:
		if y, ok := b.(primitive.DateTime); ok {
			return cmpOrdered(int64(x), int64(y)), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmpOrdered(boolInt(x), boolInt(y)), true
		}
	case primitive.ObjectID:
		if y, ok := b.(primitive.ObjectID); ok {
			return bytes.Compare(x[:], y[:]), true
		}
	}
	return 0, false
}

// sortRank follows MongoDB's cross-type comparison order.
func sortRank(v any) int {
	switch v.(type) {
	case nil:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	case map[string]any:
		return 4
	case []any:
		return 5
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case primitive.DateTime:
		return 9
	}
	return 10
}

// CompareForSort is a total order over normalized values, missing fields first.
func CompareForSort(a, b any) int {
	a, b = Normalize(a), Normalize(b)
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		return cmpOrdered(ra, rb)
	}
	c, _ := Compare(a, b)
	return c
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
