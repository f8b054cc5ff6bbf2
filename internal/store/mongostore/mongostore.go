// Package mongostore implements store.Backend on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"time"

	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and checks the deployment is reachable.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	log.Printf("Connected to MongoDB database %s", database)
	return New(client, database), nil
}

func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

func (s *Store) EnsureIndexes(ctx context.Context, collection string, indexes []store.UniqueIndex) error {
	if len(indexes) == 0 {
		return nil
	}
	models := make([]mongo.IndexModel, 0, len(indexes))
	for _, idx := range indexes {
		keys := bson.D{}
		for _, f := range idx.Fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		models = append(models, mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetName(idx.Name).SetUnique(true),
		})
	}
	if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create indexes on %s: %w", collection, err)
	}
	return nil
}

func (s *Store) Find(ctx context.Context, collection string, where query.Predicate, opts store.FindOptions) ([]store.Document, error) {
	filter, err := query.ToBSON(where)
	if err != nil {
		return nil, err
	}
	cur, err := s.db.Collection(collection).Find(ctx, filter, findOptions(opts))
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.Document, len(docs))
	for i, d := range docs {
		out[i] = store.Document(d)
	}
	return out, nil
}

func findOptions(opts store.FindOptions) *options.FindOptions {
	fo := options.Find()
	if len(opts.Sort) > 0 {
		fo.SetSort(sortDoc(opts.Sort))
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	if len(opts.Projection) > 0 {
		proj := bson.D{}
		for _, f := range opts.Projection {
			proj = append(proj, bson.E{Key: f, Value: 1})
		}
		fo.SetProjection(proj)
	}
	return fo
}

func sortDoc(orders []query.Order) bson.D {
	d := make(bson.D, 0, len(orders))
	for _, o := range orders {
		d = append(d, bson.E{Key: o.Field, Value: int(o.Dir)})
	}
	return d
}

func (s *Store) Count(ctx context.Context, collection string, where query.Predicate) (int64, error) {
	filter, err := query.ToBSON(where)
	if err != nil {
		return 0, err
	}
	return s.db.Collection(collection).CountDocuments(ctx, filter)
}

func (s *Store) Insert(ctx context.Context, collection string, docs ...store.Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]any, len(docs))
	for i, d := range docs {
		batch[i] = d
	}
	if _, err := s.db.Collection(collection).InsertMany(ctx, batch); err != nil {
		return writeError(collection, err)
	}
	return nil
}

func (s *Store) UpdateMany(ctx context.Context, collection string, where query.Predicate, u store.Update, limit int64) (int64, error) {
	filter, err := s.limitedFilter(ctx, collection, where, limit)
	if err != nil || filter == nil {
		return 0, err
	}
	coll := s.db.Collection(collection)
	if u.IsEmpty() {
		return coll.CountDocuments(ctx, filter)
	}
	res, err := coll.UpdateMany(ctx, filter, updateDoc(u))
	if err != nil {
		return 0, writeError(collection, err)
	}
	return res.MatchedCount, nil
}

func (s *Store) DeleteMany(ctx context.Context, collection string, where query.Predicate, limit int64) (int64, error) {
	filter, err := s.limitedFilter(ctx, collection, where, limit)
	if err != nil || filter == nil {
		return 0, err
	}
	res, err := s.db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// limitedFilter compiles where. With limit > 0 it narrows the filter to the
// first limit matching ids in ascending order; a nil filter means nothing matched.
func (s *Store) limitedFilter(ctx context.Context, collection string, where query.Predicate, limit int64) (bson.D, error) {
	filter, err := query.ToBSON(where)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return filter, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: store.IDField, Value: 1}}).
		SetLimit(limit).
		SetProjection(bson.D{{Key: store.IDField, Value: 1}})
	cur, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var rows []bson.M
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make(bson.A, len(rows))
	for i, r := range rows {
		ids[i] = r[store.IDField]
	}
	return bson.D{{Key: "$and", Value: bson.A{
		filter,
		bson.D{{Key: store.IDField, Value: bson.D{{Key: "$in", Value: ids}}}},
	}}}, nil
}

func updateDoc(u store.Update) bson.D {
	d := bson.D{}
	if len(u.Set) > 0 {
		set := bson.D{}
		for _, k := range sortedKeys(u.Set) {
			set = append(set, bson.E{Key: k, Value: u.Set[k]})
		}
		d = append(d, bson.E{Key: "$set", Value: set})
	}
	if len(u.Unset) > 0 {
		unset := bson.D{}
		for _, k := range u.Unset {
			unset = append(unset, bson.E{Key: k, Value: ""})
		}
		d = append(d, bson.E{Key: "$unset", Value: unset})
	}
	if len(u.Push) > 0 {
		push := bson.D{}
		for _, k := range sortedKeys(u.Push) {
			push = append(push, bson.E{Key: k, Value: bson.D{{Key: "$each", Value: u.Push[k]}}})
		}
		d = append(d, bson.E{Key: "$push", Value: push})
	}
	if len(u.Inc) > 0 {
		inc := bson.D{}
		for _, k := range sortedKeys(u.Inc) {
			inc = append(inc, bson.E{Key: k, Value: u.Inc[k]})
		}
		d = append(d, bson.E{Key: "$inc", Value: inc})
	}
	if len(u.Mul) > 0 {
		mul := bson.D{}
		for _, k := range sortedKeys(u.Mul) {
			mul = append(mul, bson.E{Key: k, Value: u.Mul[k]})
		}
		d = append(d, bson.E{Key: "$mul", Value: mul})
	}
	return d
}

// FindRaw runs a native find command and returns the first batch of results
// followed by the rest of the cursor.
func (s *Store) FindRaw(ctx context.Context, collection string, cmd store.RawFind) ([]bson.M, error) {
	filter := cmd.Filter
	if filter == nil {
		filter = bson.D{}
	}
	command := bson.D{{Key: "find", Value: collection}, {Key: "filter", Value: filter}}
	command = append(command, cmd.Options...)
	return s.runCursor(ctx, command)
}

func (s *Store) AggregateRaw(ctx context.Context, collection string, cmd store.RawAggregate) ([]bson.M, error) {
	pipeline := cmd.Pipeline
	if pipeline == nil {
		pipeline = []bson.D{}
	}
	command := bson.D{{Key: "aggregate", Value: collection}, {Key: "pipeline", Value: pipeline}}
	hasCursor := false
	for _, e := range cmd.Options {
		if e.Key == "cursor" {
			hasCursor = true
		}
	}
	if !hasCursor {
		command = append(command, bson.E{Key: "cursor", Value: bson.D{}})
	}
	command = append(command, cmd.Options...)
	return s.runCursor(ctx, command)
}

func (s *Store) runCursor(ctx context.Context, command bson.D) ([]bson.M, error) {
	cur, err := s.db.RunCommandCursor(ctx, command)
	if err != nil {
		return nil, err
	}
	out := []bson.M{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WithTransaction runs fn inside a session transaction. Calls made with a
// context that already carries a session join it.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(context.Background())
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return err
	}
	log.Println("Disconnected from MongoDB")
	return nil
}

var dupIndex = regexp.MustCompile(`index: (\S+) dup key`)

func writeError(collection string, err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	return &store.UniqueViolationError{Collection: collection, Index: duplicateIndexName(err), Err: err}
}

func duplicateIndexName(err error) string {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if m := dupIndex.FindStringSubmatch(e.Message); m != nil {
				return m[1]
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if m := dupIndex.FindStringSubmatch(e.Message); m != nil {
				return m[1]
			}
		}
	}
	if m := dupIndex.FindStringSubmatch(err.Error()); m != nil {
		return m[1]
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
