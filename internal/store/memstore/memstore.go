// Package memstore is an in-process store.Backend used by tests and local
// development. Every operation is serialized; a transaction holds the store
// exclusively until it commits or rolls back.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/store"
	"github.com/shinyyama/messaging-backend/internal/store/docset"
	"go.mongodb.org/mongo-driver/bson"
)

const primaryIndex = "_id_"

type Store struct {
	gate chan struct{}

	mu      sync.RWMutex
	data    map[string][]store.Document
	indexes map[string][]store.UniqueIndex
}

func New() *Store {
	return &Store{
		gate:    make(chan struct{}, 1),
		data:    make(map[string][]store.Document),
		indexes: make(map[string][]store.UniqueIndex),
	}
}

type txKey struct{ s *Store }

func (s *Store) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{s}).(bool)
	return v
}

// enter takes the store's gate unless ctx belongs to a running transaction.
func (s *Store) enter(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.inTx(ctx) {
		return func() {}, nil
	}
	select {
	case s.gate <- struct{}{}:
		return func() { <-s.gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) EnsureIndexes(ctx context.Context, collection string, indexes []store.UniqueIndex) error {
	release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.indexes[collection]
	for _, idx := range indexes {
		replaced := false
		for i := range existing {
			if existing[i].Name == idx.Name {
				existing[i] = idx
				replaced = true
			}
		}
		if !replaced {
			existing = append(existing, idx)
		}
	}
	s.indexes[collection] = existing
	return nil
}

func (s *Store) Find(ctx context.Context, collection string, where query.Predicate, opts store.FindOptions) ([]store.Document, error) {
	release, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.mu.RLock()
	found := docset.Find(s.data[collection], where, opts)
	s.mu.RUnlock()
	return cloneAll(found)
}

func (s *Store) Count(ctx context.Context, collection string, where query.Predicate) (int64, error) {
	release, err := s.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(docset.Filter(s.data[collection], where))), nil
}

// Insert adds all docs or none of them.
func (s *Store) Insert(ctx context.Context, collection string, docs ...store.Document) error {
	release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.data[collection]
	indexes := s.uniqueIndexes(collection)
	pending := make([]store.Document, 0, len(docs))
	for _, d := range docs {
		c, err := docset.Clone(d)
		if err != nil {
			return err
		}
		if _, ok := c[store.IDField]; !ok {
			return fmt.Errorf("insert into %s: document without %s", collection, store.IDField)
		}
		if name, clash := docset.Conflict(append(current[:len(current):len(current)], pending...), c, indexes, nil); clash {
			return &store.UniqueViolationError{Collection: collection, Index: name}
		}
		pending = append(pending, c)
	}
	s.data[collection] = append(current, pending...)
	return nil
}

// UpdateMany applies u to the matching documents, or to none of them when any
// result would violate a unique index.
func (s *Store) UpdateMany(ctx context.Context, collection string, where query.Predicate, u store.Update, limit int64) (int64, error) {
	release, err := s.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.data[collection]
	targets := docset.Targets(current, where, limit)
	if len(targets) == 0 {
		return 0, nil
	}
	next := make([]store.Document, len(current))
	copy(next, current)
	pos := positions(next)
	for _, t := range targets {
		applied, err := docset.Apply(t, u)
		if err != nil {
			return 0, fmt.Errorf("update %s: %w", collection, err)
		}
		c, err := docset.Clone(applied)
		if err != nil {
			return 0, err
		}
		next[pos[idKey(t)]] = c
	}
	indexes := s.uniqueIndexes(collection)
	for _, t := range targets {
		updated := next[pos[idKey(t)]]
		if name, clash := docset.Conflict(next, updated, indexes, updated[store.IDField]); clash {
			return 0, &store.UniqueViolationError{Collection: collection, Index: name}
		}
	}
	s.data[collection] = next
	return int64(len(targets)), nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, where query.Predicate, limit int64) (int64, error) {
	release, err := s.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.data[collection]
	targets := docset.Targets(current, where, limit)
	if len(targets) == 0 {
		return 0, nil
	}
	gone := make(map[string]bool, len(targets))
	for _, t := range targets {
		gone[idKey(t)] = true
	}
	kept := make([]store.Document, 0, len(current)-len(targets))
	for _, d := range current {
		if !gone[idKey(d)] {
			kept = append(kept, d)
		}
	}
	s.data[collection] = kept
	return int64(len(targets)), nil
}

func (s *Store) FindRaw(ctx context.Context, collection string, cmd store.RawFind) ([]bson.M, error) {
	release, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.mu.RLock()
	out, err := docset.RawFind(s.data[collection], cmd)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return cloneM(out)
}

func (s *Store) AggregateRaw(ctx context.Context, collection string, cmd store.RawAggregate) ([]bson.M, error) {
	release, err := s.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	s.mu.RLock()
	out, err := docset.Pipeline(s.data[collection], cmd)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return cloneM(out)
}

// WithTransaction runs fn holding the store exclusively. On error every
// collection is restored to its state before fn ran.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	release, err := s.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	s.mu.RLock()
	snapshot := make(map[string][]store.Document, len(s.data))
	for k, v := range s.data {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{s}, true)); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	return nil
}

// Len reports how many documents a collection holds.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

func (s *Store) uniqueIndexes(collection string) []store.UniqueIndex {
	return append([]store.UniqueIndex{{Name: primaryIndex, Fields: []string{store.IDField}}}, s.indexes[collection]...)
}

func idKey(d store.Document) string {
	return fmt.Sprint(query.Normalize(d[store.IDField]))
}

func positions(docs []store.Document) map[string]int {
	pos := make(map[string]int, len(docs))
	for i, d := range docs {
		pos[idKey(d)] = i
	}
	return pos
}

func cloneAll(docs []store.Document) ([]store.Document, error) {
	out := make([]store.Document, len(docs))
	for i, d := range docs {
		c, err := docset.Clone(d)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func cloneM(docs []bson.M) ([]bson.M, error) {
	out := make([]bson.M, len(docs))
	for i, d := range docs {
		c, err := docset.Clone(store.Document(d))
		if err != nil {
			return nil, err
		}
		out[i] = bson.M(c)
	}
	return out, nil
}
