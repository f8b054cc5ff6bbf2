package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shinyyama/messaging-backend/internal/schema"
	"github.com/shinyyama/messaging-backend/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

// FindRaw runs a native find command. filter and options may be Extended
// JSON (json.RawMessage, []byte or string), bson.D, bson.M or nil. The result
// is the matched documents as a relaxed Extended JSON array.
func (d *Delegate) FindRaw(ctx context.Context, filter, options any) (out json.RawMessage, err error) {
	defer d.track(ctx, "findRaw", time.Now(), &err)
	f, err := d.rawDoc("filter", filter)
	if err != nil {
		return nil, err
	}
	o, err := d.rawDoc("options", options)
	if err != nil {
		return nil, err
	}
	if d.c.backend == nil {
		return nil, ErrDBNotReady
	}
	docs, err := d.c.backend.FindRaw(ctx, d.m.Collection, store.RawFind{Filter: f, Options: o})
	if err != nil {
		return nil, err
	}
	return extJSONArray(docs)
}

// AggregateRaw runs a native aggregation pipeline. pipeline is an Extended
// JSON array, a []bson.D or nil.
func (d *Delegate) AggregateRaw(ctx context.Context, pipeline, options any) (out json.RawMessage, err error) {
	defer d.track(ctx, "aggregateRaw", time.Now(), &err)
	stages, err := d.rawPipeline(pipeline)
	if err != nil {
		return nil, err
	}
	o, err := d.rawDoc("options", options)
	if err != nil {
		return nil, err
	}
	if d.c.backend == nil {
		return nil, ErrDBNotReady
	}
	docs, err := d.c.backend.AggregateRaw(ctx, d.m.Collection, store.RawAggregate{Pipeline: stages, Options: o})
	if err != nil {
		return nil, err
	}
	return extJSONArray(docs)
}

func (d *Delegate) rawDoc(what string, v any) (bson.D, error) {
	switch x := v.(type) {
	case nil:
		return bson.D{}, nil
	case bson.D:
		return x, nil
	case bson.M:
		raw, err := bson.Marshal(x)
		if err != nil {
			return nil, schema.Invalid(d.m.Name, "", "%s: %v", what, err)
		}
		var out bson.D
		if err := bson.Unmarshal(raw, &out); err != nil {
			return nil, schema.Invalid(d.m.Name, "", "%s: %v", what, err)
		}
		return out, nil
	}
	data, ok := rawBytes(v)
	if !ok {
		return nil, schema.Invalid(d.m.Name, "", "%s must be an Extended JSON object", what)
	}
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return bson.D{}, nil
	}
	var out bson.D
	if err := bson.UnmarshalExtJSON(data, false, &out); err != nil {
		return nil, schema.Invalid(d.m.Name, "", "%s: %v", what, err)
	}
	return out, nil
}

func (d *Delegate) rawPipeline(v any) ([]bson.D, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []bson.D:
		return x, nil
	}
	data, ok := rawBytes(v)
	if !ok {
		return nil, schema.Invalid(d.m.Name, "", "pipeline must be an Extended JSON array")
	}
	if len(bytes.TrimSpace(data)) == 0 || string(bytes.TrimSpace(data)) == "null" {
		return nil, nil
	}
	var wrapped struct {
		Pipeline []bson.D `bson:"pipeline"`
	}
	doc := append(append([]byte(`{"pipeline":`), data...), '}')
	if err := bson.UnmarshalExtJSON(doc, false, &wrapped); err != nil {
		return nil, schema.Invalid(d.m.Name, "", "pipeline: %v", err)
	}
	return wrapped.Pipeline, nil
}

func rawBytes(v any) ([]byte, bool) {
	switch x := v.(type) {
	case json.RawMessage:
		return x, true
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	}
	return nil, false
}

func extJSONArray(docs []bson.M) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, doc := range docs {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := bson.MarshalExtJSON(doc, false, false)
		if err != nil {
			return nil, fmt.Errorf("encode raw result: %w", err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
