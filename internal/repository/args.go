package repository

import (
	"github.com/shinyyama/messaging-backend/internal/query"
)

// Data is create or update input keyed by field name. Update values are
// either plain values or one of the operation objects built by Set, Push,
// Unset, Increment, Decrement and Multiply.
type Data = map[string]any

// Record is an untyped result row keyed by field name. Included relations
// appear under their relation name.
type Record = map[string]any

func Set(v any) map[string]any { return map[string]any{"set": v} }
func Unset() map[string]any { return map[string]any{"unset": true} }
func Increment(n any) map[string]any { return map[string]any{"increment": n} }
func Decrement(n any) map[string]any { return map[string]any{"decrement": n} }
func Multiply(n any) map[string]any { return map[string]any{"multiply": n} }
func Push(vs ...any) map[string]any { return map[string]any{"push": vs} }

// FindArgs selects rows. Take 0 means no limit; a negative Take returns the
// last |Take| rows of the ordering (counting back from Cursor when set).
// Results are always ordered, with ascending id breaking ties.
type FindArgs struct {
	Where    query.Predicate
	OrderBy  []query.Order
	Cursor   string
	Skip     int64
	Take     int64
	Distinct []string
	Select   []string
	Omit     []string
	Include  map[string]*FindArgs
}

// UniqueArgs addresses one row by id or by a unique index. Where must carry
// equality conditions on every field of one of them.
type UniqueArgs struct {
	Where   query.Predicate
	Select  []string
	Omit    []string
	Include map[string]*FindArgs
}

type CreateArgs struct {
	Data    Data
	Select  []string
	Omit    []string
	Include map[string]*FindArgs
}

type UpdateArgs struct {
	Where   query.Predicate
	Data    Data
	Select  []string
	Omit    []string
	Include map[string]*FindArgs
}

type UpsertArgs struct {
	Where   query.Predicate
	Create  Data
	Update  Data
	Select  []string
	Omit    []string
	Include map[string]*FindArgs
}

// ManyArgs drives UpdateMany and DeleteMany. Limit > 0 affects the first
// Limit matching rows in ascending id order.
type ManyArgs struct {
	Where query.Predicate
	Data  Data
	Limit int64
}

type BatchPayload struct {
	Count int64 `json:"count"`
}

type CountArgs struct {
	Where   query.Predicate
	OrderBy []query.Order
	Cursor  string
	Skip    int64
	Take    int64
}

// Aggregates names the fields each aggregate is computed for. Count accepts
// "_all" for the row count.
type Aggregates struct {
	Count []string
	Min   []string
	Max   []string
	Avg   []string
	Sum   []string
}

type AggregateArgs struct {
	Where   query.Predicate
	OrderBy []query.Order
	Cursor  string
	Skip    int64
	Take    int64
	Aggregates
}

// GroupByArgs groups rows by the By fields. Having and OrderBy may refer to
// By fields or to aggregate paths such as "_count.id" or "_avg.messageCount".
type GroupByArgs struct {
	By      []string
	Where   query.Predicate
	Having  query.Predicate
	OrderBy []query.Order
	Skip    int64
	Take    int64
	Aggregates
}

func (a FindArgs) shape() shape {
	return shape{Select: a.Select, Omit: a.Omit, Include: a.Include}
}

func (a UniqueArgs) shape() shape {
	return shape{Select: a.Select, Omit: a.Omit, Include: a.Include}
}

// shape is the output selection shared by every row-returning operation.
type shape struct {
	Select  []string
	Omit    []string
	Include map[string]*FindArgs
}

func (a CreateArgs) shape() shape {
	return shape{Select: a.Select, Omit: a.Omit, Include: a.Include}
}

func (a UpdateArgs) shape() shape {
	return shape{Select: a.Select, Omit: a.Omit, Include: a.Include}
}

func (a UpsertArgs) shape() shape {
	return shape{Select: a.Select, Omit: a.Omit, Include: a.Include}
}
