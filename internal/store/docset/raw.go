package docset

import (
	"fmt"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

// RawFind evaluates a native find command. Options other than projection,
// sort, skip and limit are ignored.
func RawFind(docs []store.Document, cmd store.RawFind) ([]bson.M, error) {
	where, err := query.FromBSON(cmd.Filter)
	if err != nil {
		return nil, err
	}
	out := Filter(docs, where)
	var projection any
	for _, e := range cmd.Options {
		switch e.Key {
		case "sort":
			orders, err := sortSpec(e.Value)
			if err != nil {
				return nil, err
			}
			query.SortDocuments(out, orders)
		case "projection":
			projection = e.Value
		}
	}
	skip, limit := optInt(cmd.Options, "skip"), optInt(cmd.Options, "limit")
	if limit < 0 {
		limit = -limit
	}
	out = Page(out, skip, limit)
	if projection != nil {
		if out, err = projectAll(out, projection); err != nil {
			return nil, err
		}
	}
	return toM(out), nil
}

// Pipeline evaluates an aggregation pipeline made of $match, $sort, $skip,
// $limit, $project (inclusion or exclusion only) and $count stages.
func Pipeline(docs []store.Document, cmd store.RawAggregate) ([]bson.M, error) {
	cur := append([]store.Document(nil), docs...)
	for _, stage := range cmd.Pipeline {
		if len(stage) != 1 {
			return nil, fmt.Errorf("%w: a pipeline stage needs exactly one operator", query.ErrInvalidFilter)
		}
		e := stage[0]
		switch e.Key {
		case "$match":
			where, err := query.FromBSON(e.Value)
			if err != nil {
				return nil, err
			}
			cur = Filter(cur, where)
		case "$sort":
			orders, err := sortSpec(e.Value)
			if err != nil {
				return nil, err
			}
			query.SortDocuments(cur, orders)
		case "$skip":
			n, err := stageInt(e.Key, e.Value, 0)
			if err != nil {
				return nil, err
			}
			cur = Page(cur, n, 0)
		case "$limit":
			n, err := stageInt(e.Key, e.Value, 1)
			if err != nil {
				return nil, err
			}
			cur = Page(cur, 0, n)
		case "$project":
			var err error
			if cur, err = projectAll(cur, e.Value); err != nil {
				return nil, err
			}
		case "$count":
			name, ok := e.Value.(string)
			if !ok || name == "" {
				return nil, fmt.Errorf("%w: $count needs a field name", query.ErrInvalidFilter)
			}
			if len(cur) == 0 {
				cur = nil
				continue
			}
			cur = []store.Document{{name: int64(len(cur))}}
		default:
			return nil, fmt.Errorf("%w: pipeline stage %s", store.ErrUnsupported, e.Key)
		}
	}
	return toM(cur), nil
}

func sortSpec(v any) ([]query.Order, error) {
	d, ok := v.(bson.D)
	if !ok {
		return nil, fmt.Errorf("%w: sort must be an ordered document", query.ErrInvalidFilter)
	}
	out := make([]query.Order, 0, len(d))
	for _, e := range d {
		n, ok := toInt(e.Value)
		if !ok || (n != 1 && n != -1) {
			return nil, fmt.Errorf("%w: sort direction for %q must be 1 or -1", query.ErrInvalidFilter, e.Key)
		}
		out = append(out, query.Order{Field: e.Key, Dir: query.Direction(n)})
	}
	return out, nil
}

func projectAll(docs []store.Document, spec any) ([]store.Document, error) {
	var pairs bson.D
	switch x := spec.(type) {
	case bson.D:
		pairs = x
	case bson.M:
		for k, v := range x {
			pairs = append(pairs, bson.E{Key: k, Value: v})
		}
	default:
		return nil, fmt.Errorf("%w: projection must be a document", query.ErrInvalidFilter)
	}
	include := map[string]bool{}
	keepID := true
	inclusive := false
	for _, e := range pairs {
		on, ok := flag(e.Value)
		if !ok {
			return nil, fmt.Errorf("%w: projection of %q: computed fields", store.ErrUnsupported, e.Key)
		}
		if e.Key == store.IDField {
			keepID = on
			continue
		}
		include[e.Key] = on
		if on {
			inclusive = true
		}
	}
	out := make([]store.Document, len(docs))
	for i, d := range docs {
		p := store.Document{}
		for k, v := range d {
			if k == store.IDField {
				if keepID {
					p[k] = v
				}
				continue
			}
			on, listed := include[k]
			if inclusive && listed && on || !inclusive && !listed {
				p[k] = v
			}
		}
		out[i] = p
	}
	return out, nil
}

func flag(v any) (bool, bool) {
	switch x := query.Normalize(v).(type) {
	case bool:
		return x, true
	case int64:
		return x != 0, true
	case float64:
		return x != 0, true
	}
	return false, false
}

func optInt(opts bson.D, key string) int64 {
	for _, e := range opts {
		if e.Key == key {
			n, _ := toInt(e.Value)
			return n
		}
	}
	return 0
}

func toInt(v any) (int64, bool) {
	switch x := query.Normalize(v).(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	}
	return 0, false
}

// stageInt reads the whole-number argument of a $skip or $limit stage.
func stageInt(stage string, v any, lowest int64) (int64, error) {
	n, ok := toInt(v)
	if f, isFloat := query.Normalize(v).(float64); isFloat && f != float64(n) {
		ok = false
	}
	if !ok || n < lowest {
		return 0, fmt.Errorf("%w: %s needs a whole number of at least %d, got %v", query.ErrInvalidFilter, stage, lowest, v)
	}
	return n, nil
}

func toM(docs []store.Document) []bson.M {
	out := make([]bson.M, len(docs))
	for i, d := range docs {
		out[i] = bson.M(d)
	}
	return out
}
