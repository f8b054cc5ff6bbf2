// Package docset executes store operations over documents held in process.
// The memory and SQL backends use it so that they share one set of semantics
// with the MongoDB query compiler.
package docset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

// Clone round-trips doc through BSON so that values take the shapes the
// MongoDB driver returns and the result shares no memory with the input.
func Clone(doc store.Document) (store.Document, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return store.Document(out), nil
}

func Filter(docs []store.Document, where query.Predicate) []store.Document {
	out := make([]store.Document, 0, len(docs))
	for _, d := range docs {
		if query.Match(where, d) {
			out = append(out, d)
		}
	}
	return out
}

func Page(docs []store.Document, skip, limit int64) []store.Document {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return docs[:0]
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

func Project(doc store.Document, fields []string) store.Document {
	if len(fields) == 0 {
		return doc
	}
	out := store.Document{store.IDField: doc[store.IDField]}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Find filters, sorts, pages and projects docs. The input slice is not modified.
func Find(docs []store.Document, where query.Predicate, opts store.FindOptions) []store.Document {
	out := Filter(docs, where)
	query.SortDocuments(out, opts.Sort)
	out = Page(out, opts.Skip, opts.Limit)
	if len(opts.Projection) > 0 {
		for i := range out {
			out[i] = Project(out[i], opts.Projection)
		}
	}
	return out
}

// Targets returns the documents an UpdateMany/DeleteMany with limit touches:
// matches in ascending _id order, capped at limit when limit > 0.
func Targets(docs []store.Document, where query.Predicate, limit int64) []store.Document {
	return Find(docs, where, store.FindOptions{
		Sort:  []query.Order{query.AscBy(store.IDField)},
		Limit: limit,
	})
}

// Apply returns a copy of doc with u applied.
func Apply(doc store.Document, u store.Update) (store.Document, error) {
	out := make(store.Document, len(doc)+len(u.Set))
	for k, v := range doc {
		out[k] = v
	}
	for k, v := range u.Set {
		out[k] = v
	}
	for _, k := range u.Unset {
		delete(out, k)
	}
	for _, k := range sortedKeys(u.Push) {
		vals := u.Push[k]
		cur, ok := out[k]
		var arr []any
		if ok && cur != nil {
			a, isArr := query.Normalize(cur).([]any)
			if !isArr {
				return nil, fmt.Errorf("push to non-array field %q", k)
			}
			arr = a
		}
		next := make([]any, 0, len(arr)+len(vals))
		next = append(next, arr...)
		next = append(next, vals...)
		out[k] = next
	}
	for k, n := range u.Inc {
		v, err := arith(out[k], n, func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })
		if err != nil {
			return nil, fmt.Errorf("increment %q: %w", k, err)
		}
		out[k] = v
	}
	for k, n := range u.Mul {
		v, err := arith(out[k], n, func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })
		if err != nil {
			return nil, fmt.Errorf("multiply %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func arith(cur, operand any, fi func(a, b int64) int64, ff func(a, b float64) float64) (any, error) {
	if cur == nil {
		cur = int64(0)
	}
	a, b := query.Normalize(cur), query.Normalize(operand)
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		return fi(ai, bi), nil
	}
	af, ok1 := toFloat(a)
	bf, ok2 := toFloat(b)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("non-numeric operand")
	}
	return ff(af, bf), nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// KeyOf renders the values doc holds for idx as a comparable string.
func KeyOf(doc store.Document, idx store.UniqueIndex) string {
	var b strings.Builder
	for _, f := range idx.Fields {
		v, _ := query.Lookup(doc, f)
		fmt.Fprintf(&b, "%T:%v|", query.Normalize(v), query.Normalize(v))
	}
	return b.String()
}

// Conflict reports the first unique index on which candidate collides with a
// document in docs other than the one with id skipID.
func Conflict(docs []store.Document, candidate store.Document, indexes []store.UniqueIndex, skipID any) (string, bool) {
	for _, idx := range indexes {
		key := KeyOf(candidate, idx)
		for _, d := range docs {
			if skipID != nil && query.Equal(d[store.IDField], skipID) {
				continue
			}
			if KeyOf(d, idx) == key {
				return idx.Name, true
			}
		}
	}
	return "", false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
