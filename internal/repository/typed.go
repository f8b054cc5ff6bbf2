package repository

import (
	"context"
	"encoding/json"
	"fmt"
)

// Repository is a Delegate whose row results decode into T. T is an entity
// struct whose json tags carry the model's field and relation names.
type Repository[T any] struct {
	d *Delegate
}

// For returns the typed repository of a model.
func For[T any](c *Client, model string) (*Repository[T], error) {
	d, err := c.Model(model)
	if err != nil {
		return nil, err
	}
	return &Repository[T]{d: d}, nil
}

func MustFor[T any](c *Client, model string) *Repository[T] {
	r, err := For[T](c, model)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Repository[T]) Delegate() *Delegate { return r.d }

func (r *Repository[T]) FindUnique(ctx context.Context, args UniqueArgs) (*T, error) {
	return decodeOne[T](r.d.FindUnique(ctx, args))
}

func (r *Repository[T]) FindUniqueOrThrow(ctx context.Context, args UniqueArgs) (*T, error) {
	return decodeOne[T](r.d.FindUniqueOrThrow(ctx, args))
}

func (r *Repository[T]) FindFirst(ctx context.Context, args FindArgs) (*T, error) {
	return decodeOne[T](r.d.FindFirst(ctx, args))
}

func (r *Repository[T]) FindFirstOrThrow(ctx context.Context, args FindArgs) (*T, error) {
	return decodeOne[T](r.d.FindFirstOrThrow(ctx, args))
}

func (r *Repository[T]) FindMany(ctx context.Context, args FindArgs) ([]T, error) {
	recs, err := r.d.FindMany(ctx, args)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(recs))
	for i, rec := range recs {
		if err := decode(rec, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repository[T]) Create(ctx context.Context, args CreateArgs) (*T, error) {
	return decodeOne[T](r.d.Create(ctx, args))
}

func (r *Repository[T]) CreateMany(ctx context.Context, data []Data) (BatchPayload, error) {
	return r.d.CreateMany(ctx, data)
}

func (r *Repository[T]) Update(ctx context.Context, args UpdateArgs) (*T, error) {
	return decodeOne[T](r.d.Update(ctx, args))
}

func (r *Repository[T]) UpdateMany(ctx context.Context, args ManyArgs) (BatchPayload, error) {
	return r.d.UpdateMany(ctx, args)
}

func (r *Repository[T]) Upsert(ctx context.Context, args UpsertArgs) (*T, error) {
	return decodeOne[T](r.d.Upsert(ctx, args))
}

func (r *Repository[T]) Delete(ctx context.Context, args UniqueArgs) (*T, error) {
	return decodeOne[T](r.d.Delete(ctx, args))
}

func (r *Repository[T]) DeleteMany(ctx context.Context, args ManyArgs) (BatchPayload, error) {
	return r.d.DeleteMany(ctx, args)
}

func (r *Repository[T]) Aggregate(ctx context.Context, args AggregateArgs) (Record, error) {
	return r.d.Aggregate(ctx, args)
}

func (r *Repository[T]) GroupBy(ctx context.Context, args GroupByArgs) ([]Record, error) {
	return r.d.GroupBy(ctx, args)
}

func (r *Repository[T]) Count(ctx context.Context, args CountArgs) (int64, error) {
	return r.d.Count(ctx, args)
}

func (r *Repository[T]) FindRaw(ctx context.Context, filter, options any) (json.RawMessage, error) {
	return r.d.FindRaw(ctx, filter, options)
}

func (r *Repository[T]) AggregateRaw(ctx context.Context, pipeline, options any) (json.RawMessage, error) {
	return r.d.AggregateRaw(ctx, pipeline, options)
}

func decodeOne[T any](rec Record, err error) (*T, error) {
	if err != nil || rec == nil {
		return nil, err
	}
	var out T
	if err := decode(rec, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// decode copies a record into an entity through its json tags.
func decode(rec Record, out any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode record into %T: %w", out, err)
	}
	return nil
}
