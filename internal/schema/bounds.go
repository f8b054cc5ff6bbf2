package schema

import (
	"math"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/store"
)

// Bound is a filter a row must match for an update's arithmetic to leave
// Field at or above its Min.
type Bound struct {
	Field string
	Where query.Predicate
}

// Bounds returns a Bound for every increment, decrement or multiply in u that
// targets a field with a Min. Multiplications that can never respect the Min
// are rejected outright.
func (m *Model) Bounds(u store.Update) ([]Bound, error) {
	var out []Bound
	for _, f := range m.Fields {
		if f.Min == nil || f.List {
			continue
		}
		lo := *f.Min
		if d, ok := u.Inc[f.Column]; ok {
			delta := number(d)
			// a missing or null value counts as 0
			out = append(out, m.bound(f, lo-delta, delta >= lo))
		}
		if k, ok := u.Mul[f.Column]; ok {
			factor := number(k)
			switch {
			case factor < 0:
				return nil, invalid(m.Name, f.Name, "cannot multiply by a negative number")
			case factor == 0:
				if lo > 0 {
					return nil, invalid(m.Name, f.Name, "multiplying by zero goes below %v", lo)
				}
			default:
				out = append(out, m.bound(f, lo/factor, lo <= 0))
			}
		}
	}
	return out, nil
}

func (m *Model) bound(f *Field, lowest float64, nullOK bool) Bound {
	var v any = lowest
	if f.Kind == KindInt && lowest == math.Trunc(lowest) {
		v = int64(lowest)
	}
	var where query.Predicate = query.Gte(f.Column, v)
	if nullOK {
		where = query.Or{where, query.Eq(f.Column, nil)}
	}
	return Bound{Field: f.Name, Where: where}
}

func number(v any) float64 {
	switch x := query.Normalize(v).(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}
