package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/schema"
	"github.com/shinyyama/messaging-backend/internal/store"
	"github.com/shinyyama/messaging-backend/internal/store/docset"
	"golang.org/x/sync/errgroup"
)

// rewrite replaces relation filters in p with key conditions computed by
// secondary queries, so the result can run on a backend.
func (d *Delegate) rewrite(ctx context.Context, p query.Predicate) (query.Predicate, error) {
	switch x := p.(type) {
	case query.And:
		subs, err := d.rewriteAll(ctx, x)
		return query.And(subs), err
	case query.Or:
		subs, err := d.rewriteAll(ctx, x)
		return query.Or(subs), err
	case query.Not:
		subs, err := d.rewriteAll(ctx, x)
		return query.Not(subs), err
	case query.Relation:
		return d.relationCond(ctx, x)
	}
	return p, nil
}

func (d *Delegate) rewriteAll(ctx context.Context, ps []query.Predicate) ([]query.Predicate, error) {
	out := make([]query.Predicate, len(ps))
	for i, sub := range ps {
		rp, err := d.rewrite(ctx, sub)
		if err != nil {
			return nil, err
		}
		out[i] = rp
	}
	return out, nil
}

type relationKeys struct {
	rel     *schema.Relation
	target  *Delegate
	local   string
	foreign string
}

func (d *Delegate) relationKeys(rel *schema.Relation) (relationKeys, error) {
	target, err := d.c.Model(rel.Target)
	if err != nil {
		return relationKeys{}, err
	}
	lf, _ := d.m.Field(rel.LocalField)
	ff, _ := target.m.Field(rel.ForeignField)
	return relationKeys{rel: rel, target: target, local: lf.Column, foreign: ff.Column}, nil
}

// foreignValues returns the distinct non-null foreign key values of the
// related rows matching where.
func (k relationKeys) foreignValues(ctx context.Context, where query.Predicate) ([]any, error) {
	w, err := k.target.rewrite(ctx, where)
	if err != nil {
		return nil, err
	}
	docs, err := k.target.c.backend.Find(ctx, k.target.m.Collection,
		query.Conjoin(w, query.Ne(k.foreign, nil)),
		store.FindOptions{Projection: []string{k.foreign}})
	if err != nil {
		return nil, err
	}
	return distinctValues(docs, k.foreign), nil
}

func (d *Delegate) relationCond(ctx context.Context, r query.Relation) (query.Predicate, error) {
	rel, ok := d.m.Relation(r.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", query.ErrUnresolvedRelation, d.m.Name, r.Name)
	}
	k, err := d.relationKeys(rel)
	if err != nil {
		return nil, err
	}
	where := r.Where
	switch r.Kind {
	case query.Some, query.None:
		if where == nil {
			where = query.And{}
		}
		keys, err := k.foreignValues(ctx, where)
		if err != nil {
			return nil, err
		}
		if r.Kind == query.Some {
			return query.In(k.local, keys), nil
		}
		return query.NotIn(k.local, keys), nil
	case query.Every:
		if where == nil {
			return query.And{}, nil
		}
		keys, err := k.foreignValues(ctx, query.Not{where})
		if err != nil {
			return nil, err
		}
		return query.NotIn(k.local, keys), nil
	case query.Is, query.IsNot:
		if where != nil {
			keys, err := k.foreignValues(ctx, where)
			if err != nil {
				return nil, err
			}
			if r.Kind == query.Is {
				return query.In(k.local, keys), nil
			}
			return query.NotIn(k.local, keys), nil
		}
		// is: null matches rows whose key is unset or points at nothing.
		existing, dangling, err := d.splitLocalKeys(ctx, k)
		if err != nil {
			return nil, err
		}
		if r.Kind == query.Is {
			return query.Or{query.Eq(k.local, nil), query.In(k.local, dangling)}, nil
		}
		return query.In(k.local, existing), nil
	}
	return nil, fmt.Errorf("%w: %s.%s", query.ErrInvalidFilter, d.m.Name, r.Name)
}

// splitLocalKeys partitions the model's non-null local key values into those
// that reference an existing related row and those that do not.
func (d *Delegate) splitLocalKeys(ctx context.Context, k relationKeys) (existing, dangling []any, err error) {
	docs, err := d.c.backend.Find(ctx, d.m.Collection, query.Ne(k.local, nil), store.FindOptions{Projection: []string{k.local}})
	if err != nil {
		return nil, nil, err
	}
	locals := distinctValues(docs, k.local)
	if len(locals) == 0 {
		return nil, nil, nil
	}
	found, err := k.foreignValues(ctx, query.In(k.foreign, locals))
	if err != nil {
		return nil, nil, err
	}
	present := make(map[string]bool, len(found))
	for _, v := range found {
		present[keyOf(v)] = true
	}
	for _, v := range locals {
		if present[keyOf(v)] {
			existing = append(existing, v)
		} else {
			dangling = append(dangling, v)
		}
	}
	return existing, dangling, nil
}

// loadIncludes attaches each included relation to rows. Sibling relations
// load concurrently except inside a transaction, whose session is not safe
// for concurrent use.
func (d *Delegate) loadIncludes(ctx context.Context, rows []*row, include map[string]*includePlan) error {
	if len(rows) == 0 || len(include) == 0 {
		return nil
	}
	names := make([]string, 0, len(include))
	for name := range include {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([][]any, len(names))
	g, gctx := errgroup.WithContext(ctx)
	if InTransaction(ctx) {
		g.SetLimit(1)
	}
	for i, name := range names {
		i, inc := i, include[name]
		g.Go(func() error {
			vals, err := d.loadRelation(gctx, rows, inc)
			results[i] = vals
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, name := range names {
		for j, r := range rows {
			if r.rels == nil {
				r.rels = make(map[string]any, len(names))
			}
			r.rels[name] = results[i][j]
		}
	}
	return nil
}

// loadRelation fetches the related rows of every parent with one query and
// returns, per parent, a *row or a []*row.
func (d *Delegate) loadRelation(ctx context.Context, parents []*row, inc *includePlan) ([]any, error) {
	k, err := d.relationKeys(inc.rel)
	if err != nil {
		return nil, err
	}
	toMany := inc.rel.Cardinality == schema.ToMany
	vals := make([]any, len(parents))
	for i := range vals {
		if toMany {
			vals[i] = []*row{}
		} else {
			vals[i] = (*row)(nil)
		}
	}

	var keys []any
	seen := map[string]bool{}
	for _, p := range parents {
		v := p.doc[k.local]
		if v == nil {
			continue
		}
		if kk := keyOf(v); !seen[kk] {
			seen[kk] = true
			keys = append(keys, v)
		}
	}
	if len(keys) == 0 {
		return vals, nil
	}

	where, err := k.target.rewrite(ctx, inc.find.where)
	if err != nil {
		return nil, err
	}
	docs, err := d.c.backend.Find(ctx, k.target.m.Collection,
		query.Conjoin(query.In(k.foreign, keys), where),
		store.FindOptions{Sort: inc.find.orders})
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*row)
	for _, doc := range docs {
		kk := keyOf(doc[k.foreign])
		groups[kk] = append(groups[kk], &row{doc: doc})
	}

	var loaded []*row
	for i, p := range parents {
		v := p.doc[k.local]
		if v == nil {
			continue
		}
		group := groups[keyOf(v)]
		if !toMany {
			if len(group) > 0 {
				vals[i] = group[0]
				loaded = append(loaded, group[0])
			}
			continue
		}
		page := pageRows(group, inc.find)
		vals[i] = page
		loaded = append(loaded, page...)
	}
	if err := k.target.loadIncludes(ctx, dedupeRows(loaded), inc.find.out.include); err != nil {
		return nil, err
	}
	return vals, nil
}

// pageRows applies cursor, distinct, skip and take to rows already sorted by
// p.orders.
func pageRows(rows []*row, p findPlan) []*row {
	rs := append([]*row(nil), rows...)
	take := p.take
	reverse := take < 0
	if reverse {
		reverseRows(rs)
		take = -take
	}
	if p.cursor != "" {
		at := -1
		for i, r := range rs {
			if keyOf(r.id()) == keyOf(p.cursor) {
				at = i
				break
			}
		}
		if at < 0 {
			return []*row{}
		}
		rs = rs[at:]
	}
	if len(p.distinct) > 0 {
		idx := store.UniqueIndex{Fields: p.distinct}
		seen := map[string]bool{}
		kept := rs[:0:0]
		for _, r := range rs {
			kk := docset.KeyOf(r.doc, idx)
			if !seen[kk] {
				seen[kk] = true
				kept = append(kept, r)
			}
		}
		rs = kept
	}
	if p.skip > 0 {
		if p.skip >= int64(len(rs)) {
			rs = rs[:0]
		} else {
			rs = rs[p.skip:]
		}
	}
	if take > 0 && take < int64(len(rs)) {
		rs = rs[:take]
	}
	if reverse {
		reverseRows(rs)
	}
	return rs
}

func reverseRows(rs []*row) {
	for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
		rs[i], rs[j] = rs[j], rs[i]
	}
}

func dedupeRows(rows []*row) []*row {
	seen := make(map[*row]bool, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func distinctValues(docs []store.Document, col string) []any {
	seen := make(map[string]bool, len(docs))
	out := make([]any, 0, len(docs))
	for _, doc := range docs {
		v, ok := query.Lookup(doc, col)
		if !ok || v == nil {
			continue
		}
		if kk := keyOf(v); !seen[kk] {
			seen[kk] = true
			out = append(out, v)
		}
	}
	return out
}

func keyOf(v any) string {
	n := query.Normalize(v)
	return fmt.Sprintf("%T:%v", n, n)
}
