// Package query holds the filter expression tree shared by every backend.
//
// A Predicate is one of Cond, And, Or, Not or Relation. Backends either compile
// it (ToBSON) or evaluate it against decoded documents (Match); both follow the
// same semantics so the in-memory and MongoDB stores agree on results.
package query

import (
	"errors"
	"reflect"
)

var (
	ErrInvalidFilter      = errors.New("invalid filter")
	ErrUnresolvedRelation = errors.New("relation filter must be resolved before execution")
)

type Predicate interface {
	predicate()
}

type Op string

const (
	OpEquals     Op = "equals"
	OpNot        Op = "not"
	OpIn         Op = "in"
	OpNotIn      Op = "notIn"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpContains   Op = "contains"
	OpStartsWith Op = "startsWith"
	OpEndsWith   Op = "endsWith"
	OpRegex      Op = "regex"
	OpHas        Op = "has"
	OpHasEvery   Op = "hasEvery"
	OpHasSome    Op = "hasSome"
	OpIsEmpty    Op = "isEmpty"
	OpIsSet      Op = "isSet"
)

type Mode int

const (
	ModeDefault Mode = iota
	ModeInsensitive
)

// Cond is a single field-level condition.
type Cond struct {
	Field string
	Op    Op
	Value any
	Mode  Mode
}

func (Cond) predicate() {}

// Insensitive returns a copy of c that compares strings case-insensitively.
func (c Cond) Insensitive() Cond {
	c.Mode = ModeInsensitive
	return c
}

// And matches when every element matches. An empty And matches everything.
type And []Predicate

func (And) predicate() {}

// Or matches when at least one element matches. An empty Or matches nothing.
type Or []Predicate

func (Or) predicate() {}

// Not matches when none of its elements match. An empty Not matches everything.
type Not []Predicate

func (Not) predicate() {}

type RelationKind int

const (
	Some RelationKind = iota + 1
	Every
	None
	Is
	IsNot
)

func (k RelationKind) String() string {
	switch k {
	case Some:
		return "some"
	case Every:
		return "every"
	case None:
		return "none"
	case Is:
		return "is"
	case IsNot:
		return "isNot"
	}
	return "unknown"
}

// Relation filters on rows of a related model. It cannot be evaluated by a
// backend directly; the repository rewrites it into key conditions first.
type Relation struct {
	Name  string
	Kind  RelationKind
	Where Predicate
}

func (Relation) predicate() {}

// Null distinguishes the three ways a document field can be "null".
type Null int

const (
	// DbNull matches a field that is absent from the stored document.
	DbNull Null = iota + 1
	// JsonNull matches a field stored with a literal null.
	JsonNull
	// AnyNull matches either.
	AnyNull
)

func (n Null) String() string {
	switch n {
	case DbNull:
		return "DbNull"
	case JsonNull:
		return "JsonNull"
	case AnyNull:
		return "AnyNull"
	}
	return "Null(?)"
}

// ParseNull maps the wire names of the null sentinels.
func ParseNull(s string) (Null, bool) {
	switch s {
	case "DbNull":
		return DbNull, true
	case "JsonNull":
		return JsonNull, true
	case "AnyNull":
		return AnyNull, true
	}
	return 0, false
}

func Eq(field string, v any) Cond  { return Cond{Field: field, Op: OpEquals, Value: v} }
func Ne(field string, v any) Cond  { return Cond{Field: field, Op: OpNot, Value: v} }
func Lt(field string, v any) Cond  { return Cond{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Cond { return Cond{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v any) Cond  { return Cond{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Cond { return Cond{Field: field, Op: OpGte, Value: v} }

// In matches when the field equals any element of values, which must be a slice.
func In(field string, values any) Cond {
	return Cond{Field: field, Op: OpIn, Value: ToSlice(values)}
}

func NotIn(field string, values any) Cond {
	return Cond{Field: field, Op: OpNotIn, Value: ToSlice(values)}
}

func Contains(field, s string) Cond   { return Cond{Field: field, Op: OpContains, Value: s} }
func StartsWith(field, s string) Cond { return Cond{Field: field, Op: OpStartsWith, Value: s} }
func EndsWith(field, s string) Cond   { return Cond{Field: field, Op: OpEndsWith, Value: s} }

func Has(field string, v any) Cond { return Cond{Field: field, Op: OpHas, Value: v} }

func HasEvery(field string, values any) Cond {
	return Cond{Field: field, Op: OpHasEvery, Value: ToSlice(values)}
}

func HasSome(field string, values any) Cond {
	return Cond{Field: field, Op: OpHasSome, Value: ToSlice(values)}
}

func IsEmpty(field string, empty bool) Cond { return Cond{Field: field, Op: OpIsEmpty, Value: empty} }
func IsSet(field string, set bool) Cond     { return Cond{Field: field, Op: OpIsSet, Value: set} }

func SomeOf(relation string, where Predicate) Relation {
	return Relation{Name: relation, Kind: Some, Where: where}
}

func EveryOf(relation string, where Predicate) Relation {
	return Relation{Name: relation, Kind: Every, Where: where}
}

func NoneOf(relation string, where Predicate) Relation {
	return Relation{Name: relation, Kind: None, Where: where}
}

func RelIs(relation string, where Predicate) Relation {
	return Relation{Name: relation, Kind: Is, Where: where}
}

func RelIsNot(relation string, where Predicate) Relation {
	return Relation{Name: relation, Kind: IsNot, Where: where}
}

// Conjoin combines the non-nil predicates into one, avoiding single-element wrappers.
func Conjoin(ps ...Predicate) Predicate {
	out := make(And, 0, len(ps))
	for _, p := range ps {
		if p == nil {
			continue
		}
		if a, ok := p.(And); ok && len(a) == 0 {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// ToSlice converts any slice value into []any. Non-slices become a one-element slice.
func ToSlice(v any) []any {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
