package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/repository"
	"github.com/shinyyama/messaging-backend/internal/schema"
)

// DataHandler exposes every delegate operation at
// POST /api/data/:model/:operation with Prisma-shaped JSON bodies.
type DataHandler struct {
	client *repository.Client
}

func NewDataHandler(client *repository.Client) *DataHandler {
	return &DataHandler{client: client}
}

type dataBody map[string]any

func (h *DataHandler) Handle(c echo.Context) error {
	d, err := h.client.Model(c.Param("model"))
	if err != nil {
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", err.Error()))
	}
	var body dataBody
	if c.Request().ContentLength != 0 {
		if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
		}
	}
	if body == nil {
		body = dataBody{}
	}
	out, err := h.dispatch(c, d, c.Param("operation"), body)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *DataHandler) dispatch(c echo.Context, d *repository.Delegate, op string, b dataBody) (any, error) {
	ctx := c.Request().Context()
	switch op {
	case "findUnique", "findUniqueOrThrow", "delete":
		args, err := b.uniqueArgs()
		if err != nil {
			return nil, err
		}
		switch op {
		case "findUnique":
			return d.FindUnique(ctx, args)
		case "findUniqueOrThrow":
			return d.FindUniqueOrThrow(ctx, args)
		}
		return d.Delete(ctx, args)
	case "findFirst", "findFirstOrThrow", "findMany":
		args, err := b.findArgs()
		if err != nil {
			return nil, err
		}
		switch op {
		case "findFirst":
			return d.FindFirst(ctx, args)
		case "findFirstOrThrow":
			return d.FindFirstOrThrow(ctx, args)
		}
		recs, err := d.FindMany(ctx, args)
		if recs == nil && err == nil {
			recs = []repository.Record{}
		}
		return recs, err
	case "create":
		data, err := b.object("data")
		if err != nil {
			return nil, err
		}
		sel, omit, inc, err := b.shape()
		if err != nil {
			return nil, err
		}
		return d.Create(ctx, repository.CreateArgs{Data: data, Select: sel, Omit: omit, Include: inc})
	case "createMany":
		list, ok := b["data"].([]any)
		if !ok {
			return nil, badArg("data must be a list")
		}
		data := make([]repository.Data, 0, len(list))
		for _, e := range list {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, badArg("data entries must be objects")
			}
			data = append(data, m)
		}
		return d.CreateMany(ctx, data)
	case "update":
		where, err := b.where("where")
		if err != nil {
			return nil, err
		}
		data, err := b.object("data")
		if err != nil {
			return nil, err
		}
		sel, omit, inc, err := b.shape()
		if err != nil {
			return nil, err
		}
		return d.Update(ctx, repository.UpdateArgs{Where: where, Data: data, Select: sel, Omit: omit, Include: inc})
	case "upsert":
		where, err := b.where("where")
		if err != nil {
			return nil, err
		}
		create, err := b.object("create")
		if err != nil {
			return nil, err
		}
		update, err := b.object("update")
		if err != nil {
			return nil, err
		}
		sel, omit, inc, err := b.shape()
		if err != nil {
			return nil, err
		}
		return d.Upsert(ctx, repository.UpsertArgs{Where: where, Create: create, Update: update, Select: sel, Omit: omit, Include: inc})
	case "updateMany", "deleteMany":
		args, err := b.manyArgs(op == "updateMany")
		if err != nil {
			return nil, err
		}
		if op == "updateMany" {
			return d.UpdateMany(ctx, args)
		}
		return d.DeleteMany(ctx, args)
	case "count":
		args, err := b.findArgs()
		if err != nil {
			return nil, err
		}
		return d.Count(ctx, repository.CountArgs{Where: args.Where, OrderBy: args.OrderBy, Cursor: args.Cursor, Skip: args.Skip, Take: args.Take})
	case "aggregate":
		args, err := b.findArgs()
		if err != nil {
			return nil, err
		}
		aggs, err := b.aggregates()
		if err != nil {
			return nil, err
		}
		return d.Aggregate(ctx, repository.AggregateArgs{Where: args.Where, OrderBy: args.OrderBy, Cursor: args.Cursor, Skip: args.Skip, Take: args.Take, Aggregates: aggs})
	case "groupBy":
		args, err := b.groupByArgs()
		if err != nil {
			return nil, err
		}
		recs, err := d.GroupBy(ctx, args)
		if recs == nil && err == nil {
			recs = []repository.Record{}
		}
		return recs, err
	case "findRaw":
		return d.FindRaw(ctx, rawArg(b["filter"]), rawArg(b["options"]))
	case "aggregateRaw":
		return d.AggregateRaw(ctx, rawArg(b["pipeline"]), rawArg(b["options"]))
	}
	return nil, badArg(fmt.Sprintf("unknown operation %q", op))
}

func badArg(msg string) error {
	return schema.Invalid("", "", "%s", msg)
}

// rawArg re-encodes a decoded JSON value so raw commands receive Extended JSON
// rather than generic maps.
func rawArg(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return json.RawMessage(b)
}

func (b dataBody) object(key string) (repository.Data, error) {
	v, ok := b[key]
	if !ok || v == nil {
		return repository.Data{}, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, badArg(key + " must be an object")
	}
	return m, nil
}

func (b dataBody) where(key string) (query.Predicate, error) {
	m, err := b.object(key)
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return query.Parse(m)
}

func (b dataBody) integer(key string) (int64, error) {
	v, ok := b[key]
	if !ok || v == nil {
		return 0, nil
	}
	f, ok := v.(float64)
	if !ok || f != float64(int64(f)) {
		return 0, badArg(key + " must be an integer")
	}
	return int64(f), nil
}

func (b dataBody) names(key string) ([]string, error) {
	switch v := b[key].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, badArg(key + " entries must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, badArg(key + " must be a string or a list of strings")
}

// flags reads `{"a": true, "b": false}` into the names set to true.
func flags(key string, v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, badArg(key + " must be an object")
	}
	var out []string
	for k, f := range m {
		on, ok := f.(bool)
		if !ok {
			return nil, badArg(fmt.Sprintf("%s.%s must be a boolean", key, k))
		}
		if on {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b dataBody) cursor() (string, error) {
	switch v := b["cursor"].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case map[string]any:
		id, ok := v["id"].(string)
		if !ok || len(v) != 1 {
			return "", badArg("cursor must be {\"id\": ...}")
		}
		return id, nil
	}
	return "", badArg("cursor must be an id")
}

// shape reads select, omit and include. Relation entries inside select are
// treated as includes.
func (b dataBody) shape() ([]string, []string, map[string]*repository.FindArgs, error) {
	inc, err := includes(b["include"])
	if err != nil {
		return nil, nil, nil, err
	}
	var sel []string
	if s, ok := b["select"].(map[string]any); ok {
		plain := map[string]any{}
		for k, v := range s {
			if _, nested := v.(map[string]any); nested {
				more, err := includes(map[string]any{k: v})
				if err != nil {
					return nil, nil, nil, err
				}
				if inc == nil {
					inc = map[string]*repository.FindArgs{}
				}
				inc[k] = more[k]
				continue
			}
			plain[k] = v
		}
		if sel, err = flags("select", plain); err != nil {
			return nil, nil, nil, err
		}
	} else if b["select"] != nil {
		return nil, nil, nil, badArg("select must be an object")
	}
	omit, err := flags("omit", b["omit"])
	if err != nil {
		return nil, nil, nil, err
	}
	return sel, omit, inc, nil
}

func includes(v any) (map[string]*repository.FindArgs, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, badArg("include must be an object")
	}
	out := make(map[string]*repository.FindArgs, len(m))
	for name, spec := range m {
		switch x := spec.(type) {
		case bool:
			if x {
				out[name] = &repository.FindArgs{}
			}
		case map[string]any:
			args, err := dataBody(x).findArgs()
			if err != nil {
				return nil, fmt.Errorf("include %s: %w", name, err)
			}
			out[name] = &args
		default:
			return nil, badArg("include." + name + " must be a boolean or an object")
		}
	}
	return out, nil
}

func (b dataBody) uniqueArgs() (repository.UniqueArgs, error) {
	where, err := b.where("where")
	if err != nil {
		return repository.UniqueArgs{}, err
	}
	sel, omit, inc, err := b.shape()
	if err != nil {
		return repository.UniqueArgs{}, err
	}
	return repository.UniqueArgs{Where: where, Select: sel, Omit: omit, Include: inc}, nil
}

func (b dataBody) findArgs() (repository.FindArgs, error) {
	var (
		args repository.FindArgs
		err  error
	)
	if args.Where, err = b.where("where"); err != nil {
		return args, err
	}
	if args.OrderBy, err = query.ParseOrder(b["orderBy"]); err != nil {
		return args, err
	}
	if args.Cursor, err = b.cursor(); err != nil {
		return args, err
	}
	if args.Skip, err = b.integer("skip"); err != nil {
		return args, err
	}
	if args.Take, err = b.integer("take"); err != nil {
		return args, err
	}
	if args.Distinct, err = b.names("distinct"); err != nil {
		return args, err
	}
	if args.Select, args.Omit, args.Include, err = b.shape(); err != nil {
		return args, err
	}
	return args, nil
}

func (b dataBody) manyArgs(withData bool) (repository.ManyArgs, error) {
	var (
		args repository.ManyArgs
		err  error
	)
	if args.Where, err = b.where("where"); err != nil {
		return args, err
	}
	if args.Limit, err = b.integer("limit"); err != nil {
		return args, err
	}
	if withData {
		if args.Data, err = b.object("data"); err != nil {
			return args, err
		}
	}
	return args, nil
}

// aggregates reads `_count: true` or `{"_count": {"_all": true, "id": true}}`
// and the same object form for _min, _max, _avg and _sum.
func (b dataBody) aggregates() (repository.Aggregates, error) {
	var (
		a   repository.Aggregates
		err error
	)
	if on, ok := b["_count"].(bool); ok {
		if on {
			a.Count = []string{"_all"}
		}
	} else if a.Count, err = flags("_count", b["_count"]); err != nil {
		return a, err
	}
	if a.Min, err = flags("_min", b["_min"]); err != nil {
		return a, err
	}
	if a.Max, err = flags("_max", b["_max"]); err != nil {
		return a, err
	}
	if a.Avg, err = flags("_avg", b["_avg"]); err != nil {
		return a, err
	}
	if a.Sum, err = flags("_sum", b["_sum"]); err != nil {
		return a, err
	}
	return a, nil
}

func (b dataBody) groupByArgs() (repository.GroupByArgs, error) {
	var (
		args repository.GroupByArgs
		err  error
	)
	if args.By, err = b.names("by"); err != nil {
		return args, err
	}
	if args.Where, err = b.where("where"); err != nil {
		return args, err
	}
	having, err := b.object("having")
	if err != nil {
		return args, err
	}
	if len(having) > 0 {
		if args.Having, err = query.Parse(flattenHaving(having)); err != nil {
			return args, err
		}
	}
	if args.OrderBy, err = query.ParseOrder(b["orderBy"]); err != nil {
		return args, err
	}
	if args.Skip, err = b.integer("skip"); err != nil {
		return args, err
	}
	if args.Take, err = b.integer("take"); err != nil {
		return args, err
	}
	if args.Aggregates, err = b.aggregates(); err != nil {
		return args, err
	}
	return args, nil
}

// flattenHaving turns `{"_count": {"id": {"gt": 1}}}` into
// `{"_count.id": {"gt": 1}}` so aggregate paths parse as plain fields.
func flattenHaving(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case k == "AND" || k == "OR" || k == "NOT":
			out[k] = flattenList(v)
		case strings.HasPrefix(k, "_"):
			inner, ok := v.(map[string]any)
			if !ok {
				out[k] = v
				continue
			}
			for field, cond := range inner {
				out[k+"."+field] = cond
			}
		default:
			out[k] = v
		}
	}
	return out
}

func flattenList(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return flattenHaving(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = flattenList(e)
		}
		return out
	}
	return v
}
