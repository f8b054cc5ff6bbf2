package query

import (
	"fmt"
	"sort"
	"strings"
)

type Direction int

const (
	Asc  Direction = 1
	Desc Direction = -1
)

type Order struct {
	Field string
	Dir   Direction
}

func AscBy(field string) Order  { return Order{Field: field, Dir: Asc} }
func DescBy(field string) Order { return Order{Field: field, Dir: Desc} }

// SortDocuments sorts docs in place. Missing fields sort before any value.
func SortDocuments(docs []map[string]any, orders []Order) {
	if len(orders) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return compareDocs(docs[i], docs[j], orders) < 0
	})
}

func compareDocs(a, b map[string]any, orders []Order) int {
	for _, o := range orders {
		av, _ := Lookup(a, o.Field)
		bv, _ := Lookup(b, o.Field)
		c := CompareForSort(av, bv)
		if o.Dir == Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// ParseOrder reads `{"field": "asc"}`, a list of those, or nested aggregate
// orderings such as `{"_count": {"field": "desc"}}` (flattened to "_count.field").
func ParseOrder(v any) ([]Order, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []any:
		var out []Order
		for _, e := range x {
			os, err := ParseOrder(e)
			if err != nil {
				return nil, err
			}
			out = append(out, os...)
		}
		return out, nil
	case map[string]any:
		keys := sortedKeys(x)
		out := make([]Order, 0, len(keys))
		for _, k := range keys {
			switch dv := x[k].(type) {
			case string:
				d, err := parseDirection(dv)
				if err != nil {
					return nil, fmt.Errorf("%w: orderBy %q: %v", ErrInvalidFilter, k, err)
				}
				out = append(out, Order{Field: k, Dir: d})
			case map[string]any:
				nested, err := ParseOrder(dv)
				if err != nil {
					return nil, err
				}
				for _, n := range nested {
					out = append(out, Order{Field: k + "." + n.Field, Dir: n.Dir})
				}
			default:
				return nil, fmt.Errorf("%w: orderBy %q: unsupported value %v", ErrInvalidFilter, k, dv)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: orderBy must be an object or a list", ErrInvalidFilter)
}

func parseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	}
	return 0, fmt.Errorf("direction must be asc or desc, got %q", s)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
