package repository

import (
	"context"
	"time"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/schema"
	"github.com/shinyyama/messaging-backend/internal/store"
	"github.com/shinyyama/messaging-backend/internal/store/docset"
)

// Delegate exposes every operation for one model on untyped records.
type Delegate struct {
	c *Client
	m *schema.Model
}

func (d *Delegate) Model() *schema.Model { return d.m }

func (d *Delegate) FindUnique(ctx context.Context, args UniqueArgs) (rec Record, err error) {
	defer d.track(ctx, "findUnique", time.Now(), &err)
	r, out, err := d.findUniqueRow(ctx, args)
	if err != nil || r == nil {
		return nil, err
	}
	return d.render(r, out), nil
}

func (d *Delegate) FindUniqueOrThrow(ctx context.Context, args UniqueArgs) (Record, error) {
	rec, err := d.FindUnique(ctx, args)
	if err == nil && rec == nil {
		err = ErrRecordNotFound
	}
	return rec, err
}

func (d *Delegate) FindFirst(ctx context.Context, args FindArgs) (rec Record, err error) {
	defer d.track(ctx, "findFirst", time.Now(), &err)
	r, p, err := d.findFirstRow(ctx, args)
	if err != nil || r == nil {
		return nil, err
	}
	return d.render(r, p.out), nil
}

func (d *Delegate) FindFirstOrThrow(ctx context.Context, args FindArgs) (Record, error) {
	rec, err := d.FindFirst(ctx, args)
	if err == nil && rec == nil {
		err = ErrRecordNotFound
	}
	return rec, err
}

func (d *Delegate) FindMany(ctx context.Context, args FindArgs) (recs []Record, err error) {
	defer d.track(ctx, "findMany", time.Now(), &err)
	p, err := d.planFind(args)
	if err != nil {
		return nil, err
	}
	rows, err := d.findRows(ctx, p)
	if err != nil {
		return nil, err
	}
	return d.renderAll(rows, p.out), nil
}

func (d *Delegate) findFirstRow(ctx context.Context, args FindArgs) (*row, findPlan, error) {
	if args.Take == 0 {
		args.Take = 1
	}
	p, err := d.planFind(args)
	if err != nil {
		return nil, p, err
	}
	if p.take > 1 {
		p.take = 1
	}
	if p.take < -1 {
		p.take = -1
	}
	rows, err := d.findRows(ctx, p)
	if err != nil || len(rows) == 0 {
		return nil, p, err
	}
	return rows[0], p, nil
}

func (d *Delegate) findUniqueRow(ctx context.Context, args UniqueArgs) (*row, outPlan, error) {
	where, err := d.c.registry.ResolveWhere(d.m, args.Where)
	if err != nil {
		return nil, outPlan{}, err
	}
	if err := d.checkUnique(where); err != nil {
		return nil, outPlan{}, err
	}
	out, err := d.planOut(args.shape())
	if err != nil {
		return nil, out, err
	}
	rows, err := d.findRows(ctx, findPlan{where: where, orders: withTiebreak(nil), take: 1, out: out})
	if err != nil || len(rows) == 0 {
		return nil, out, err
	}
	return rows[0], out, nil
}

// findRows executes a validated plan and loads its includes.
func (d *Delegate) findRows(ctx context.Context, p findPlan) ([]*row, error) {
	if d.c.backend == nil {
		return nil, ErrDBNotReady
	}
	where, err := d.rewrite(ctx, p.where)
	if err != nil {
		return nil, err
	}
	orders, take := p.orders, p.take
	reverse := take < 0
	if reverse {
		orders, take = flip(orders), -take
	}
	if p.cursor != "" {
		id, _ := d.resolveID(p.cursor)
		cur, err := d.c.backend.Find(ctx, d.m.Collection, query.Eq(store.IDField, id), store.FindOptions{Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(cur) == 0 {
			return nil, nil
		}
		where = query.Conjoin(where, afterCursor(orders, cur[0]))
	}
	opts := store.FindOptions{Sort: orders, Projection: p.projection()}
	if len(p.distinct) == 0 {
		opts.Skip, opts.Limit = p.skip, take
	}
	docs, err := d.c.backend.Find(ctx, d.m.Collection, where, opts)
	if err != nil {
		return nil, err
	}
	if len(p.distinct) > 0 {
		docs = docset.Page(distinctDocs(docs, p.distinct), p.skip, take)
	}
	if reverse {
		for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
			docs[i], docs[j] = docs[j], docs[i]
		}
	}
	rows := make([]*row, len(docs))
	for i, doc := range docs {
		rows[i] = &row{doc: doc}
	}
	if err := d.loadIncludes(ctx, rows, p.out.include); err != nil {
		return nil, err
	}
	return rows, nil
}

// readBack loads the row with id and its includes.
func (d *Delegate) readBack(ctx context.Context, id any, out outPlan) (*row, error) {
	rows, err := d.findRows(ctx, findPlan{where: query.Eq(store.IDField, id), orders: withTiebreak(nil), take: 1, out: out})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrRecordNotFound
	}
	return rows[0], nil
}

func distinctDocs(docs []store.Document, cols []string) []store.Document {
	idx := store.UniqueIndex{Fields: cols}
	seen := make(map[string]bool, len(docs))
	out := docs[:0:0]
	for _, doc := range docs {
		k := docset.KeyOf(doc, idx)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, doc)
	}
	return out
}

func (d *Delegate) render(r *row, out outPlan) Record {
	rec := d.m.Record(out.selectedDoc(r.doc))
	for name, inc := range out.include {
		switch v := r.rels[name].(type) {
		case *row:
			if v == nil {
				rec[name] = nil
				continue
			}
			rec[name] = inc.target.render(v, inc.find.out)
		case []*row:
			rec[name] = inc.target.renderAll(v, inc.find.out)
		default:
			if inc.rel.Cardinality == schema.ToMany {
				rec[name] = []Record{}
			} else {
				rec[name] = nil
			}
		}
	}
	return rec
}

func (d *Delegate) renderAll(rows []*row, out outPlan) []Record {
	recs := make([]Record, len(rows))
	for i, r := range rows {
		recs[i] = d.render(r, out)
	}
	return recs
}

func (d *Delegate) track(ctx context.Context, op string, start time.Time, err *error) {
	d.c.logQuery(ctx, d.m.Name, op, start, *err)
}
