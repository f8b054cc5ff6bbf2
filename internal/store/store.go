// Package store defines the boundary between the repository engine and a
// concrete document store.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shinyyama/messaging-backend/internal/query"
	"go.mongodb.org/mongo-driver/bson"
)

// Document is a decoded stored document keyed by storage field names.
type Document = map[string]any

// IDField is the storage name of every document's primary key.
const IDField = "_id"

var (
	ErrUniqueViolation = errors.New("unique constraint violation")
	ErrUnsupported     = errors.New("operation not supported by this backend")
)

// UniqueViolationError reports which unique index a write collided with.
type UniqueViolationError struct {
	Collection string
	Index      string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	msg := fmt.Sprintf("unique constraint violation on %s", e.Collection)
	if e.Index != "" {
		msg += " (" + e.Index + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UniqueViolationError) Is(target error) bool {
	return target == ErrUniqueViolation
}

func (e *UniqueViolationError) Unwrap() error {
	return e.Err
}

type UniqueIndex struct {
	Name   string
	Fields []string
}

type FindOptions struct {
	Sort  []query.Order
	Skip  int64
	Limit int64
	// Projection lists the fields to return; empty returns whole documents.
	// _id is always returned.
	Projection []string
}

// Update is a set of field-level write operations applied to each matched document.
type Update struct {
	Set   map[string]any
	Unset []string
	Push  map[string][]any
	Inc   map[string]any
	Mul   map[string]any
}

func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0 && len(u.Push) == 0 && len(u.Inc) == 0 && len(u.Mul) == 0
}

// RawFind is a native find command: a filter document plus command options
// (projection, sort, skip, limit, ...).
type RawFind struct {
	Filter  bson.D
	Options bson.D
}

// RawAggregate is a native aggregation pipeline plus command options.
type RawAggregate struct {
	Pipeline []bson.D
	Options  bson.D
}

// Backend is implemented by each storage engine. Predicates passed in use
// storage field names and contain no Relation nodes.
//
// UpdateMany and DeleteMany with limit > 0 affect the first limit matching
// documents in ascending _id order.
type Backend interface {
	EnsureIndexes(ctx context.Context, collection string, indexes []UniqueIndex) error
	Find(ctx context.Context, collection string, where query.Predicate, opts FindOptions) ([]Document, error)
	Count(ctx context.Context, collection string, where query.Predicate) (int64, error)
	Insert(ctx context.Context, collection string, docs ...Document) error
	UpdateMany(ctx context.Context, collection string, where query.Predicate, u Update, limit int64) (int64, error)
	DeleteMany(ctx context.Context, collection string, where query.Predicate, limit int64) (int64, error)
	FindRaw(ctx context.Context, collection string, cmd RawFind) ([]bson.M, error)
	AggregateRaw(ctx context.Context, collection string, cmd RawAggregate) ([]bson.M, error)
	// WithTransaction runs fn with all-or-nothing visibility. fn must use the
	// context it is given.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Close(ctx context.Context) error
}
