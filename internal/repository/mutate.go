package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/schema"
	"github.com/shinyyama/messaging-backend/internal/store"
)

func (d *Delegate) Create(ctx context.Context, args CreateArgs) (rec Record, err error) {
	defer d.track(ctx, "create", time.Now(), &err)
	out, err := d.planOut(args.shape())
	if err != nil {
		return nil, err
	}
	doc, err := d.m.BuildCreate(args.Data, d.c.now())
	if err != nil {
		return nil, err
	}
	if d.c.backend == nil {
		return nil, ErrDBNotReady
	}
	if err := d.c.backend.Insert(ctx, d.m.Collection, doc); err != nil {
		return nil, err
	}
	r, err := d.readBack(ctx, doc[store.IDField], out)
	if err != nil {
		return nil, err
	}
	return d.render(r, out), nil
}

// CreateMany inserts every row or none of them.
func (d *Delegate) CreateMany(ctx context.Context, data []Data) (res BatchPayload, err error) {
	defer d.track(ctx, "createMany", time.Now(), &err)
	now := d.c.now()
	docs := make([]store.Document, len(data))
	for i, item := range data {
		doc, err := d.m.BuildCreate(item, now)
		if err != nil {
			return res, fmt.Errorf("row %d: %w", i, err)
		}
		docs[i] = doc
	}
	if len(docs) == 0 {
		return res, nil
	}
	if d.c.backend == nil {
		return res, ErrDBNotReady
	}
	if err := d.c.backend.Insert(ctx, d.m.Collection, docs...); err != nil {
		return res, err
	}
	return BatchPayload{Count: int64(len(docs))}, nil
}

func (d *Delegate) Update(ctx context.Context, args UpdateArgs) (rec Record, err error) {
	defer d.track(ctx, "update", time.Now(), &err)
	where, err := d.uniqueWhere(args.Where)
	if err != nil {
		return nil, err
	}
	u, err := d.m.BuildUpdate(args.Data, d.c.now())
	if err != nil {
		return nil, err
	}
	g, err := d.guardFor(u)
	if err != nil {
		return nil, err
	}
	out, err := d.planOut(args.shape())
	if err != nil {
		return nil, err
	}
	if d.c.backend == nil {
		return nil, ErrDBNotReady
	}
	id, err := d.firstID(ctx, where)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, ErrRecordNotFound
	}
	r, err := d.updateByID(ctx, id, u, g, out)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRecordNotFound
	}
	return d.render(r, out), nil
}

func (d *Delegate) UpdateMany(ctx context.Context, args ManyArgs) (res BatchPayload, err error) {
	defer d.track(ctx, "updateMany", time.Now(), &err)
	where, err := d.manyWhere(args)
	if err != nil {
		return res, err
	}
	u, err := d.m.BuildUpdate(args.Data, d.c.now())
	if err != nil {
		return res, err
	}
	g, err := d.guardFor(u)
	if err != nil {
		return res, err
	}
	if d.c.backend == nil {
		return res, ErrDBNotReady
	}
	w, err := d.rewrite(ctx, where)
	if err != nil {
		return res, err
	}
	if g != nil {
		if args.Limit > 0 {
			ids, err := d.targetIDs(ctx, w, args.Limit)
			if err != nil {
				return res, err
			}
			w = query.In(store.IDField, ids)
		}
		// all or nothing: one row that would go below its minimum fails the call
		bad, err := d.c.backend.Count(ctx, d.m.Collection, query.And{w, query.Not{g.where}})
		if err != nil {
			return res, err
		}
		if bad > 0 {
			return res, d.belowMin(g)
		}
		w = g.apply(w)
	}
	var n int64
	if u.IsEmpty() {
		n, err = d.c.backend.Count(ctx, d.m.Collection, w)
		if args.Limit > 0 && n > args.Limit {
			n = args.Limit
		}
	} else {
		n, err = d.c.backend.UpdateMany(ctx, d.m.Collection, w, u, args.Limit)
	}
	if err != nil {
		return res, err
	}
	return BatchPayload{Count: n}, nil
}

// Upsert updates the row matched by a unique where or creates it. A create
// that loses a race against a concurrent create of the same key is retried
// as an update, so one key never yields two rows.
func (d *Delegate) Upsert(ctx context.Context, args UpsertArgs) (rec Record, err error) {
	defer d.track(ctx, "upsert", time.Now(), &err)
	where, err := d.uniqueWhere(args.Where)
	if err != nil {
		return nil, err
	}
	now := d.c.now()
	doc, err := d.m.BuildCreate(args.Create, now)
	if err != nil {
		return nil, err
	}
	u, err := d.m.BuildUpdate(args.Update, now)
	if err != nil {
		return nil, err
	}
	g, err := d.guardFor(u)
	if err != nil {
		return nil, err
	}
	out, err := d.planOut(args.shape())
	if err != nil {
		return nil, err
	}
	if d.c.backend == nil {
		return nil, ErrDBNotReady
	}

	var lastErr error
	for attempt := 0; attempt < d.c.opts.UpsertRetries; attempt++ {
		id, err := d.firstID(ctx, where)
		if err != nil {
			return nil, err
		}
		if id != nil {
			r, err := d.updateByID(ctx, id, u, g, out)
			if err != nil {
				return nil, err
			}
			if r == nil {
				// deleted between the lookup and the write
				continue
			}
			return d.render(r, out), nil
		}
		err = d.c.backend.Insert(ctx, d.m.Collection, doc)
		if err == nil {
			r, err := d.readBack(ctx, doc[store.IDField], out)
			if err != nil {
				return nil, err
			}
			return d.render(r, out), nil
		}
		if !errors.Is(err, store.ErrUniqueViolation) {
			return nil, err
		}
		lastErr = err
		id, lookErr := d.firstID(ctx, where)
		if lookErr != nil {
			return nil, lookErr
		}
		if id == nil {
			// the violated index is not the one where addresses
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = ErrRecordNotFound
	}
	return nil, fmt.Errorf("upsert %s gave up after %d attempts: %w", d.m.Name, d.c.opts.UpsertRetries, lastErr)
}

// Delete removes the row matched by a unique where and returns it as it was.
func (d *Delegate) Delete(ctx context.Context, args UniqueArgs) (rec Record, err error) {
	defer d.track(ctx, "delete", time.Now(), &err)
	r, out, err := d.findUniqueRow(ctx, args)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRecordNotFound
	}
	n, err := d.c.backend.DeleteMany(ctx, d.m.Collection, query.Eq(store.IDField, r.id()), 1)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrRecordNotFound
	}
	return d.render(r, out), nil
}

func (d *Delegate) DeleteMany(ctx context.Context, args ManyArgs) (res BatchPayload, err error) {
	defer d.track(ctx, "deleteMany", time.Now(), &err)
	where, err := d.manyWhere(args)
	if err != nil {
		return res, err
	}
	if d.c.backend == nil {
		return res, ErrDBNotReady
	}
	w, err := d.rewrite(ctx, where)
	if err != nil {
		return res, err
	}
	n, err := d.c.backend.DeleteMany(ctx, d.m.Collection, w, args.Limit)
	if err != nil {
		return res, err
	}
	return BatchPayload{Count: n}, nil
}

func (d *Delegate) uniqueWhere(p query.Predicate) (query.Predicate, error) {
	where, err := d.c.registry.ResolveWhere(d.m, p)
	if err != nil {
		return nil, err
	}
	if err := d.checkUnique(where); err != nil {
		return nil, err
	}
	return where, nil
}

func (d *Delegate) manyWhere(args ManyArgs) (query.Predicate, error) {
	if args.Limit < 0 {
		return nil, schema.Invalid(d.m.Name, "", "limit must not be negative")
	}
	return d.c.registry.ResolveWhere(d.m, args.Where)
}

// firstID returns the id of the first row matching a resolved where, or nil.
func (d *Delegate) firstID(ctx context.Context, where query.Predicate) (any, error) {
	w, err := d.rewrite(ctx, where)
	if err != nil {
		return nil, err
	}
	ids, err := d.targetIDs(ctx, w, 1)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return ids[0], nil
}

// targetIDs returns the ids of the first limit rows matching a rewritten
// where, in the order limited writes pick them.
func (d *Delegate) targetIDs(ctx context.Context, w query.Predicate, limit int64) ([]any, error) {
	docs, err := d.c.backend.Find(ctx, d.m.Collection, w, store.FindOptions{
		Sort:       withTiebreak(nil),
		Limit:      limit,
		Projection: []string{store.IDField},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(docs))
	for i, doc := range docs {
		ids[i] = doc[store.IDField]
	}
	return ids, nil
}

// guard holds the filter that keeps an update's arithmetic above the
// minimums of the fields it touches.
type guard struct {
	where  query.Predicate
	fields []string
}

func (d *Delegate) guardFor(u store.Update) (*guard, error) {
	bounds, err := d.m.Bounds(u)
	if err != nil || len(bounds) == 0 {
		return nil, err
	}
	g := &guard{}
	and := make(query.And, len(bounds))
	for i, b := range bounds {
		and[i] = b.Where
		g.fields = append(g.fields, b.Field)
	}
	g.where = and
	return g, nil
}

func (g *guard) apply(where query.Predicate) query.Predicate {
	if g == nil {
		return where
	}
	return query.And{where, g.where}
}

func (d *Delegate) belowMin(g *guard) error {
	return schema.Invalid(d.m.Name, strings.Join(g.fields, ", "), "update would go below the minimum")
}

// updateByID applies u to the row with id and reads it back. It returns a
// nil row when the row no longer exists.
func (d *Delegate) updateByID(ctx context.Context, id any, u store.Update, g *guard, out outPlan) (*row, error) {
	byID := query.Eq(store.IDField, id)
	if !u.IsEmpty() {
		n, err := d.c.backend.UpdateMany(ctx, d.m.Collection, g.apply(byID), u, 1)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			if g != nil {
				if _, err := d.readBack(ctx, id, out); err == nil {
					return nil, d.belowMin(g)
				}
			}
			return nil, nil
		}
	}
	r, err := d.readBack(ctx, id, out)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	return r, err
}
