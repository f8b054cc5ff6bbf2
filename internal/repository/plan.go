package repository

import (
	"strings"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/schema"
	"github.com/shinyyama/messaging-backend/internal/store"
)

// row is one stored document plus the relations loaded for it. A to-one
// relation holds a *row (nil when the related row is missing); a to-many
// relation holds a []*row.
type row struct {
	doc  store.Document
	rels map[string]any
}

func (r *row) id() any {
	return r.doc[store.IDField]
}

// findPlan is a validated FindArgs expressed in storage names.
type findPlan struct {
	where    query.Predicate
	orders   []query.Order
	cursor   string
	skip     int64
	take     int64
	distinct []string
	out      outPlan
}

type outPlan struct {
	selectCols map[string]bool
	omitCols   map[string]bool
	include    map[string]*includePlan
}

type includePlan struct {
	rel    *schema.Relation
	target *Delegate
	find   findPlan
}

func (d *Delegate) planFind(args FindArgs) (findPlan, error) {
	var p findPlan
	where, err := d.c.registry.ResolveWhere(d.m, args.Where)
	if err != nil {
		return p, err
	}
	orders, err := d.m.ResolveOrder(args.OrderBy)
	if err != nil {
		return p, err
	}
	distinct, err := d.m.ResolveFields(args.Distinct)
	if err != nil {
		return p, err
	}
	if args.Skip < 0 {
		return p, schema.Invalid(d.m.Name, "", "skip must not be negative")
	}
	if args.Cursor != "" {
		if _, err := d.resolveID(args.Cursor); err != nil {
			return p, err
		}
	}
	out, err := d.planOut(args.shape())
	if err != nil {
		return p, err
	}
	return findPlan{
		where:    where,
		orders:   withTiebreak(orders),
		cursor:   args.Cursor,
		skip:     args.Skip,
		take:     args.Take,
		distinct: distinct,
		out:      out,
	}, nil
}

func (d *Delegate) planOut(s shape) (outPlan, error) {
	var out outPlan
	if len(s.Select) > 0 && len(s.Omit) > 0 {
		return out, schema.Invalid(d.m.Name, "", "select and omit cannot be combined")
	}
	if len(s.Select) > 0 {
		cols, err := d.m.ResolveFields(s.Select)
		if err != nil {
			return out, err
		}
		out.selectCols = setOf(cols)
	} else {
		omit := append(append([]string(nil), d.c.opts.Omit[d.m.Name]...), s.Omit...)
		cols, err := d.m.ResolveFields(omit)
		if err != nil {
			return out, err
		}
		if len(cols) > 0 {
			out.omitCols = setOf(cols)
		}
	}
	if len(s.Include) == 0 {
		return out, nil
	}
	out.include = make(map[string]*includePlan, len(s.Include))
	for name, args := range s.Include {
		rel, ok := d.m.Relation(name)
		if !ok {
			return out, schema.Invalid(d.m.Name, name, "unknown relation")
		}
		target, err := d.c.Model(rel.Target)
		if err != nil {
			return out, err
		}
		var nested FindArgs
		if args != nil {
			nested = *args
		}
		if rel.Cardinality == schema.ToOne && (nested.Where != nil || len(nested.OrderBy) > 0 ||
			nested.Cursor != "" || nested.Skip != 0 || nested.Take != 0 || len(nested.Distinct) > 0) {
			return out, schema.Invalid(d.m.Name, name, "a to-one include only accepts select, omit and include")
		}
		fp, err := target.planFind(nested)
		if err != nil {
			return out, err
		}
		out.include[name] = &includePlan{rel: rel, target: target, find: fp}
	}
	return out, nil
}

func (d *Delegate) resolveID(id string) (any, error) {
	f, _ := d.m.Field("id")
	return d.m.CoerceValue(f, id)
}

// withTiebreak appends ascending id so every ordering is total.
func withTiebreak(orders []query.Order) []query.Order {
	for _, o := range orders {
		if o.Field == store.IDField {
			return orders
		}
	}
	return append(append([]query.Order(nil), orders...), query.AscBy(store.IDField))
}

func flip(orders []query.Order) []query.Order {
	out := make([]query.Order, len(orders))
	for i, o := range orders {
		out[i] = query.Order{Field: o.Field, Dir: -o.Dir}
	}
	return out
}

// afterCursor matches rows at or after cur in the given ordering. Missing
// and null values sort first.
func afterCursor(orders []query.Order, cur store.Document) query.Predicate {
	alts := query.Or{}
	var prefix []query.Predicate
	for _, o := range orders {
		v, _ := query.Lookup(cur, o.Field)
		var beyond query.Predicate
		switch {
		case v == nil && o.Dir == query.Asc:
			beyond = query.Ne(o.Field, nil)
		case v == nil:
			beyond = query.Or{}
		case o.Dir == query.Asc:
			beyond = query.Gt(o.Field, v)
		default:
			beyond = query.Or{query.Lt(o.Field, v), query.Eq(o.Field, nil)}
		}
		alts = append(alts, query.Conjoin(append(append([]query.Predicate(nil), prefix...), beyond)...))
		prefix = append(prefix, query.Eq(o.Field, v))
	}
	alts = append(alts, query.Conjoin(prefix...))
	return alts
}

// selectedDoc applies select and omit to a stored document.
func (o outPlan) selectedDoc(doc store.Document) store.Document {
	if o.selectCols == nil && o.omitCols == nil {
		return doc
	}
	out := make(store.Document, len(doc))
	for k, v := range doc {
		if o.selectCols != nil && !o.selectCols[k] {
			continue
		}
		if o.omitCols[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// projection lists the columns to fetch when the backend can project.
func (p findPlan) projection() []string {
	if p.out.selectCols == nil || len(p.out.include) > 0 || len(p.distinct) > 0 {
		return nil
	}
	cols := make([]string, 0, len(p.out.selectCols)+len(p.orders))
	for c := range p.out.selectCols {
		cols = append(cols, c)
	}
	for _, o := range p.orders {
		if !p.out.selectCols[o.Field] {
			cols = append(cols, o.Field)
		}
	}
	return cols
}

func setOf(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

func uniqueEqualities(p query.Predicate, out map[string]bool) {
	switch x := p.(type) {
	case query.And:
		for _, sub := range x {
			uniqueEqualities(sub, out)
		}
	case query.Cond:
		if x.Op != query.OpEquals || x.Mode != query.ModeDefault || x.Value == nil {
			return
		}
		if _, isNull := x.Value.(query.Null); isNull {
			return
		}
		out[x.Field] = true
	}
}

// checkUnique requires where to pin one row by id or by a unique index.
func (d *Delegate) checkUnique(where query.Predicate) error {
	eq := map[string]bool{}
	uniqueEqualities(where, eq)
	if eq[store.IDField] {
		return nil
	}
	names := []string{"id"}
	for _, idx := range d.m.UniqueIndexes() {
		covered := true
		for _, f := range idx.Fields {
			if !eq[f] {
				covered = false
				break
			}
		}
		if covered {
			return nil
		}
		names = append(names, idx.Name)
	}
	return schema.Invalid(d.m.Name, "", "where must select one row by %s", strings.Join(names, " or "))
}
