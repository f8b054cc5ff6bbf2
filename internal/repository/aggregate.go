package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/schema"
	"github.com/shinyyama/messaging-backend/internal/store"
	"github.com/shinyyama/messaging-backend/internal/store/docset"
)

const countAll = "_all"

var aggregateOps = []string{"_count", "_min", "_max", "_avg", "_sum"}

// aggField is one aggregated field: its API name and storage column.
type aggField struct {
	name string
	col  string
	kind schema.Kind
}

// aggPlan holds the validated fields per aggregate operator.
type aggPlan map[string][]aggField

func (d *Delegate) planAggregates(a Aggregates) (aggPlan, error) {
	plan := aggPlan{}
	lists := map[string][]string{
		"_count": a.Count, "_min": a.Min, "_max": a.Max, "_avg": a.Avg, "_sum": a.Sum,
	}
	for _, op := range aggregateOps {
		for _, name := range lists[op] {
			if err := plan.add(d.m, op, name); err != nil {
				return nil, err
			}
		}
	}
	return plan, nil
}

func (p aggPlan) add(m *schema.Model, op, name string) error {
	for _, af := range p[op] {
		if af.name == name {
			return nil
		}
	}
	if op == "_count" && name == countAll {
		p[op] = append(p[op], aggField{name: countAll})
		return nil
	}
	f, ok := m.Field(name)
	if !ok {
		return schema.Invalid(m.Name, name, "unknown field in %s", op)
	}
	switch op {
	case "_min", "_max":
		if !f.Scalar() || f.Kind == schema.KindBool {
			return schema.Invalid(m.Name, name, "%s needs an orderable scalar field", op)
		}
	case "_avg", "_sum":
		if f.List || !f.Kind.Numeric() {
			return schema.Invalid(m.Name, name, "%s needs a numeric field", op)
		}
	}
	p[op] = append(p[op], aggField{name: name, col: f.Column, kind: f.Kind})
	return nil
}

func (p aggPlan) columns() []string {
	var cols []string
	for _, op := range aggregateOps {
		for _, af := range p[op] {
			if af.col != "" {
				cols = append(cols, af.col)
			}
		}
	}
	return cols
}

// compute evaluates the plan over docs. Keys are storage columns; render
// maps them back to API names.
func (p aggPlan) compute(docs []store.Document) map[string]map[string]any {
	out := make(map[string]map[string]any, len(p))
	for op, fields := range p {
		vals := make(map[string]any, len(fields))
		for _, af := range fields {
			key := af.col
			if af.name == countAll {
				key = countAll
			}
			vals[key] = aggregateValue(op, af, docs)
		}
		out[op] = vals
	}
	return out
}

func (p aggPlan) render(vals map[string]map[string]any) Record {
	rec := Record{}
	for op, fields := range p {
		m := make(map[string]any, len(fields))
		for _, af := range fields {
			key := af.col
			if af.name == countAll {
				key = countAll
			}
			m[af.name] = schema.Plain(vals[op][key])
		}
		rec[op] = m
	}
	return rec
}

func aggregateValue(op string, af aggField, docs []store.Document) any {
	if af.name == countAll {
		return int64(len(docs))
	}
	var (
		count   int64
		best    any
		isum    int64
		fsum    float64
		allInts = true
	)
	for _, doc := range docs {
		v := query.Normalize(doc[af.col])
		if v == nil {
			continue
		}
		count++
		switch op {
		case "_min", "_max":
			if best == nil {
				best = v
				continue
			}
			c, ok := query.Compare(v, best)
			if ok && ((op == "_min" && c < 0) || (op == "_max" && c > 0)) {
				best = v
			}
		case "_avg", "_sum":
			switch n := v.(type) {
			case int64:
				isum += n
				fsum += float64(n)
			case float64:
				allInts = false
				fsum += n
			}
		}
	}
	switch op {
	case "_count":
		return count
	case "_min", "_max":
		return best
	case "_avg":
		if count == 0 {
			return nil
		}
		return fsum / float64(count)
	case "_sum":
		if count == 0 {
			return nil
		}
		if allInts && af.kind == schema.KindInt {
			return isum
		}
		return fsum
	}
	return nil
}

// Aggregate computes the requested aggregates over the selected rows.
func (d *Delegate) Aggregate(ctx context.Context, args AggregateArgs) (rec Record, err error) {
	defer d.track(ctx, "aggregate", time.Now(), &err)
	plan, err := d.planAggregates(args.Aggregates)
	if err != nil {
		return nil, err
	}
	p, err := d.planFind(FindArgs{Where: args.Where, OrderBy: args.OrderBy, Cursor: args.Cursor, Skip: args.Skip, Take: args.Take})
	if err != nil {
		return nil, err
	}
	p.out.selectCols = setOf(append(plan.columns(), store.IDField))
	rows, err := d.findRows(ctx, p)
	if err != nil {
		return nil, err
	}
	docs := make([]store.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return plan.render(plan.compute(docs)), nil
}

// Count returns the number of selected rows.
func (d *Delegate) Count(ctx context.Context, args CountArgs) (n int64, err error) {
	defer d.track(ctx, "count", time.Now(), &err)
	p, err := d.planFind(FindArgs{Where: args.Where, OrderBy: args.OrderBy, Cursor: args.Cursor, Skip: args.Skip, Take: args.Take})
	if err != nil {
		return 0, err
	}
	if d.c.backend == nil {
		return 0, ErrDBNotReady
	}
	if p.cursor == "" && p.skip == 0 && p.take == 0 {
		w, err := d.rewrite(ctx, p.where)
		if err != nil {
			return 0, err
		}
		return d.c.backend.Count(ctx, d.m.Collection, w)
	}
	p.out.selectCols = map[string]bool{store.IDField: true}
	rows, err := d.findRows(ctx, p)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// groupPlan is a validated GroupByArgs. Having and orders refer to the
// columns of synthetic group documents: by columns plus "_op.column" paths.
type groupPlan struct {
	by       []aggField
	where    query.Predicate
	having   query.Predicate
	orders   []query.Order
	skip     int64
	take     int64
	output   aggPlan
	computed aggPlan
}

func (d *Delegate) planGroupBy(args GroupByArgs) (groupPlan, error) {
	var g groupPlan
	if len(args.By) == 0 {
		return g, schema.Invalid(d.m.Name, "", "groupBy needs at least one by field")
	}
	byName := map[string]bool{}
	for _, name := range args.By {
		f, ok := d.m.Field(name)
		if !ok {
			return g, schema.Invalid(d.m.Name, name, "unknown by field")
		}
		if !f.Scalar() {
			return g, schema.Invalid(d.m.Name, name, "by fields must be scalar")
		}
		if !byName[name] {
			byName[name] = true
			g.by = append(g.by, aggField{name: name, col: f.Column, kind: f.Kind})
		}
	}
	if (args.Skip != 0 || args.Take != 0) && len(args.OrderBy) == 0 {
		return g, schema.Invalid(d.m.Name, "", "skip and take in groupBy require orderBy")
	}
	if args.Skip < 0 {
		return g, schema.Invalid(d.m.Name, "", "skip must not be negative")
	}
	var err error
	if g.output, err = d.planAggregates(args.Aggregates); err != nil {
		return g, err
	}
	if g.computed, err = d.planAggregates(args.Aggregates); err != nil {
		return g, err
	}
	if g.where, err = d.c.registry.ResolveWhere(d.m, args.Where); err != nil {
		return g, err
	}
	if args.Having != nil {
		if g.having, err = d.resolveHaving(args.Having, byName, g.computed); err != nil {
			return g, err
		}
	}
	for _, o := range args.OrderBy {
		path, err := d.groupPath(o.Field, byName, g.computed)
		if err != nil {
			return g, err
		}
		g.orders = append(g.orders, query.Order{Field: path, Dir: o.Dir})
	}
	for _, b := range g.by {
		g.orders = append(g.orders, query.AscBy(b.col))
	}
	g.skip, g.take = args.Skip, args.Take
	return g, nil
}

// groupPath maps a by field or an aggregate path such as "_avg.messageCount"
// to its column in the group document, registering the aggregate in plan.
func (d *Delegate) groupPath(name string, byName map[string]bool, plan aggPlan) (string, error) {
	if byName[name] {
		f, _ := d.m.Field(name)
		return f.Column, nil
	}
	op, field, ok := strings.Cut(name, ".")
	if !ok || !isAggregateOp(op) {
		return "", schema.Invalid(d.m.Name, name, "must be a by field or an aggregate such as _count.%s", name)
	}
	if err := plan.add(d.m, op, field); err != nil {
		return "", err
	}
	if field == countAll {
		return op + "." + countAll, nil
	}
	f, _ := d.m.Field(field)
	return op + "." + f.Column, nil
}

func isAggregateOp(op string) bool {
	for _, o := range aggregateOps {
		if o == op {
			return true
		}
	}
	return false
}

func (d *Delegate) resolveHaving(p query.Predicate, byName map[string]bool, plan aggPlan) (query.Predicate, error) {
	switch x := p.(type) {
	case query.And:
		subs, err := d.resolveHavingAll(x, byName, plan)
		return query.And(subs), err
	case query.Or:
		subs, err := d.resolveHavingAll(x, byName, plan)
		return query.Or(subs), err
	case query.Not:
		subs, err := d.resolveHavingAll(x, byName, plan)
		return query.Not(subs), err
	case query.Relation:
		return nil, schema.Invalid(d.m.Name, x.Name, "having cannot filter on relations")
	case query.Cond:
		if byName[x.Field] {
			return d.c.registry.ResolveWhere(d.m, x)
		}
		path, err := d.groupPath(x.Field, byName, plan)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case query.OpEquals, query.OpNot, query.OpIn, query.OpNotIn,
			query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		default:
			return nil, schema.Invalid(d.m.Name, x.Field, "operator %s is not valid on aggregates", x.Op)
		}
		op, field, _ := strings.Cut(x.Field, ".")
		if (op == "_min" || op == "_max") && field != countAll {
			f, _ := d.m.Field(field)
			if !f.Kind.Numeric() && x.Value != nil {
				v, err := d.m.CoerceValue(f, x.Value)
				if err != nil {
					return nil, err
				}
				x.Value = v
			}
		}
		x.Field = path
		return x, nil
	}
	return p, nil
}

func (d *Delegate) resolveHavingAll(ps []query.Predicate, byName map[string]bool, plan aggPlan) ([]query.Predicate, error) {
	out := make([]query.Predicate, len(ps))
	for i, sub := range ps {
		rp, err := d.resolveHaving(sub, byName, plan)
		if err != nil {
			return nil, err
		}
		out[i] = rp
	}
	return out, nil
}

// GroupBy returns one row per distinct combination of the by fields among
// the rows matching where.
func (d *Delegate) GroupBy(ctx context.Context, args GroupByArgs) (recs []Record, err error) {
	defer d.track(ctx, "groupBy", time.Now(), &err)
	g, err := d.planGroupBy(args)
	if err != nil {
		return nil, err
	}
	if d.c.backend == nil {
		return nil, ErrDBNotReady
	}
	w, err := d.rewrite(ctx, g.where)
	if err != nil {
		return nil, err
	}
	cols := g.computed.columns()
	for _, b := range g.by {
		cols = append(cols, b.col)
	}
	docs, err := d.c.backend.Find(ctx, d.m.Collection, w, store.FindOptions{Projection: cols})
	if err != nil {
		return nil, err
	}

	byCols := make([]string, len(g.by))
	for i, b := range g.by {
		byCols[i] = b.col
	}
	idx := store.UniqueIndex{Fields: byCols}
	groups := map[string][]store.Document{}
	var keys []string
	for _, doc := range docs {
		k := docset.KeyOf(doc, idx)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], doc)
	}
	sort.Strings(keys)

	type group struct {
		doc  store.Document
		aggs map[string]map[string]any
	}
	var rows []group
	for _, k := range keys {
		members := groups[k]
		gdoc := store.Document{}
		for _, c := range byCols {
			if v, ok := members[0][c]; ok {
				gdoc[c] = v
			}
		}
		aggs := g.computed.compute(members)
		for op, vals := range aggs {
			m := make(map[string]any, len(vals))
			for c, v := range vals {
				m[c] = v
			}
			gdoc[op] = m
		}
		if g.having != nil && !query.Match(g.having, gdoc) {
			continue
		}
		rows = append(rows, group{doc: gdoc, aggs: aggs})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range g.orders {
			a, _ := query.Lookup(rows[i].doc, o.Field)
			b, _ := query.Lookup(rows[j].doc, o.Field)
			if c := query.CompareForSort(a, b); c != 0 {
				return c*int(o.Dir) < 0
			}
		}
		return false
	})

	take := g.take
	if take < 0 {
		take = -take
		if int64(len(rows)) > take+g.skip {
			rows = rows[int64(len(rows))-take-g.skip:]
		}
		if g.skip > 0 {
			if g.skip >= int64(len(rows)) {
				rows = nil
			} else {
				rows = rows[:int64(len(rows))-g.skip]
			}
		}
	} else {
		if g.skip > 0 {
			if g.skip >= int64(len(rows)) {
				rows = nil
			} else {
				rows = rows[g.skip:]
			}
		}
		if take > 0 && take < int64(len(rows)) {
			rows = rows[:take]
		}
	}

	recs = make([]Record, 0, len(rows))
	for _, r := range rows {
		rec := g.output.render(r.aggs)
		for _, b := range g.by {
			rec[b.name] = schema.Plain(r.doc[b.col])
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
