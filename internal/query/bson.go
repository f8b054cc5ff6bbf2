package query

import (
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// alwaysFalse matches no document: every stored document carries an _id.
var alwaysFalse = bson.D{{Key: "_id", Value: bson.D{{Key: "$exists", Value: false}}}}

// ToBSON compiles p into a MongoDB query document.
func ToBSON(p Predicate) (bson.D, error) {
	switch p := p.(type) {
	case nil:
		return bson.D{}, nil
	case And:
		return compileList("$and", p, bson.D{})
	case Or:
		if len(p) == 0 {
			return alwaysFalse, nil
		}
		return compileList("$or", p, nil)
	case Not:
		if len(p) == 0 {
			return bson.D{}, nil
		}
		parts, err := compileAll(p)
		if err != nil {
			return nil, err
		}
		return bson.D{{Key: "$nor", Value: parts}}, nil
	case Cond:
		return compileCond(p)
	case Relation:
		return nil, fmt.Errorf("%w: %s.%s", ErrUnresolvedRelation, p.Name, p.Kind)
	}
	return nil, fmt.Errorf("%w: unknown predicate %T", ErrInvalidFilter, p)
}

func compileList(op string, ps []Predicate, empty bson.D) (bson.D, error) {
	if len(ps) == 0 {
		return empty, nil
	}
	if len(ps) == 1 {
		return ToBSON(ps[0])
	}
	parts, err := compileAll(ps)
	if err != nil {
		return nil, err
	}
	return bson.D{{Key: op, Value: parts}}, nil
}

func compileAll(ps []Predicate) (bson.A, error) {
	parts := make(bson.A, 0, len(ps))
	for _, sub := range ps {
		d, err := ToBSON(sub)
		if err != nil {
			return nil, err
		}
		parts = append(parts, d)
	}
	return parts, nil
}

func field(name string, v any) bson.D {
	return bson.D{{Key: name, Value: v}}
}

func op(name string, v any) bson.D {
	return bson.D{{Key: name, Value: v}}
}

func compileCond(c Cond) (bson.D, error) {
	f := c.Field
	switch c.Op {
	case OpEquals:
		if n, ok := c.Value.(Null); ok {
			switch n {
			case DbNull:
				return field(f, op("$exists", false)), nil
			case JsonNull:
				return field(f, op("$type", "null")), nil
			}
			return field(f, nil), nil
		}
		if c.Value == nil {
			return field(f, nil), nil
		}
		if s, ok := Normalize(c.Value).(string); ok && c.Mode == ModeInsensitive {
			return field(f, exactRegex(s)), nil
		}
		return field(f, op("$eq", bsonValue(c.Value))), nil
	case OpNot:
		if n, ok := c.Value.(Null); ok {
			switch n {
			case DbNull:
				return field(f, op("$exists", true)), nil
			case JsonNull:
				return field(f, op("$not", op("$type", "null"))), nil
			}
			return field(f, op("$ne", nil)), nil
		}
		if c.Value == nil {
			return field(f, op("$ne", nil)), nil
		}
		if s, ok := Normalize(c.Value).(string); ok && c.Mode == ModeInsensitive {
			return field(f, op("$not", exactRegex(s))), nil
		}
		return field(f, op("$ne", bsonValue(c.Value))), nil
	case OpIn, OpNotIn:
		name := "$in"
		if c.Op == OpNotIn {
			name = "$nin"
		}
		vals := make(bson.A, 0)
		for _, v := range ToSlice(c.Value) {
			if s, ok := Normalize(v).(string); ok && c.Mode == ModeInsensitive {
				vals = append(vals, exactRegex(s))
				continue
			}
			vals = append(vals, bsonValue(v))
		}
		return field(f, op(name, vals)), nil
	case OpLt, OpLte, OpGt, OpGte:
		return field(f, op("$"+strings.ToLower(string(c.Op)), bsonValue(c.Value))), nil
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := c.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %q needs a string", ErrInvalidFilter, c.Op, f)
		}
		pattern := regexp.QuoteMeta(s)
		switch c.Op {
		case OpStartsWith:
			pattern = "^" + pattern
		case OpEndsWith:
			pattern = pattern + "$"
		}
		return field(f, primitive.Regex{Pattern: pattern, Options: regexOptions(c.Mode)}), nil
	case OpRegex:
		s, ok := c.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: regex on %q needs a string", ErrInvalidFilter, f)
		}
		return field(f, primitive.Regex{Pattern: s, Options: regexOptions(c.Mode)}), nil
	case OpHas:
		return field(f, op("$elemMatch", op("$eq", bsonValue(c.Value)))), nil
	case OpHasEvery:
		vals := ToSlice(c.Value)
		if len(vals) == 0 {
			return bson.D{}, nil
		}
		return field(f, op("$all", bsonArray(vals))), nil
	case OpHasSome:
		return field(f, op("$in", bsonArray(ToSlice(c.Value)))), nil
	case OpIsEmpty:
		if empty, _ := c.Value.(bool); empty {
			return field(f, op("$size", 0)), nil
		}
		return field(f+".0", op("$exists", true)), nil
	case OpIsSet:
		set, _ := c.Value.(bool)
		return field(f, op("$exists", set)), nil
	}
	return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, c.Op)
}

func exactRegex(s string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(s) + "$", Options: "i"}
}

func regexOptions(m Mode) string {
	if m == ModeInsensitive {
		return "i"
	}
	return ""
}

func bsonValue(v any) any {
	switch x := Normalize(v).(type) {
	case []any:
		return bsonArray(x)
	case map[string]any:
		return bson.M(x)
	default:
		return x
	}
}

func bsonArray(vs []any) bson.A {
	out := make(bson.A, len(vs))
	for i, v := range vs {
		out[i] = bsonValue(v)
	}
	return out
}

// FromBSON parses a MongoDB filter document into a Predicate. It understands
// the comparison, logical, element and array operators; anything else is an
// ErrInvalidFilter.
func FromBSON(filter any) (Predicate, error) {
	pairs, err := orderedPairs(filter)
	if err != nil {
		return nil, err
	}
	out := And{}
	for _, e := range pairs {
		switch e.Key {
		case "$and", "$or", "$nor":
			items, ok := asSlice(Normalize(e.Value))
			if !ok {
				return nil, fmt.Errorf("%w: %s needs an array", ErrInvalidFilter, e.Key)
			}
			subs := make([]Predicate, 0, len(items))
			for _, it := range items {
				p, err := FromBSON(it)
				if err != nil {
					return nil, err
				}
				subs = append(subs, p)
			}
			switch e.Key {
			case "$and":
				out = append(out, And(subs))
			case "$or":
				out = append(out, Or(subs))
			default:
				out = append(out, Not(subs))
			}
		default:
			if strings.HasPrefix(e.Key, "$") {
				return nil, fmt.Errorf("%w: unsupported top-level operator %s", ErrInvalidFilter, e.Key)
			}
			p, err := fieldFromBSON(e.Key, e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	return Conjoin(out...), nil
}

func orderedPairs(v any) (bson.D, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bson.D:
		return x, nil
	case bson.M:
		return mapPairs(x), nil
	case map[string]any:
		return mapPairs(x), nil
	}
	return nil, fmt.Errorf("%w: expected a document, got %T", ErrInvalidFilter, v)
}

func mapPairs(m map[string]any) bson.D {
	d := make(bson.D, 0, len(m))
	for _, k := range sortedKeys(m) {
		d = append(d, bson.E{Key: k, Value: m[k]})
	}
	return d
}

func isOperatorDoc(pairs bson.D) bool {
	if len(pairs) == 0 {
		return false
	}
	for _, e := range pairs {
		if !strings.HasPrefix(e.Key, "$") {
			return false
		}
	}
	return true
}

func fieldFromBSON(name string, v any) (Predicate, error) {
	if re, ok := v.(primitive.Regex); ok {
		return regexCond(name, re.Pattern, re.Options), nil
	}
	pairs, err := orderedPairs(v)
	if err != nil || !isOperatorDoc(pairs) {
		if v == nil {
			return Eq(name, nil), nil
		}
		// A bare value also matches arrays that contain it.
		if _, isArr := asSlice(Normalize(v)); isArr {
			return Eq(name, v), nil
		}
		return Or{Eq(name, v), Has(name, v)}, nil
	}
	var options string
	for _, e := range pairs {
		if e.Key == "$options" {
			options, _ = e.Value.(string)
		}
	}
	out := And{}
	for _, e := range pairs {
		switch e.Key {
		case "$eq":
			out = append(out, Eq(name, e.Value))
		case "$ne":
			out = append(out, Ne(name, e.Value))
		case "$gt":
			out = append(out, Gt(name, e.Value))
		case "$gte":
			out = append(out, Gte(name, e.Value))
		case "$lt":
			out = append(out, Lt(name, e.Value))
		case "$lte":
			out = append(out, Lte(name, e.Value))
		case "$in":
			out = append(out, Or{In(name, e.Value), HasSome(name, e.Value)})
		case "$nin":
			out = append(out, And{NotIn(name, e.Value), Not{HasSome(name, e.Value)}})
		case "$exists":
			set, _ := Normalize(e.Value).(bool)
			out = append(out, IsSet(name, set))
		case "$all":
			out = append(out, HasEvery(name, e.Value))
		case "$size":
			n, ok := Normalize(e.Value).(int64)
			if !ok || n != 0 {
				return nil, fmt.Errorf("%w: only $size 0 is supported", ErrInvalidFilter)
			}
			out = append(out, IsEmpty(name, true))
		case "$type":
			if e.Value != "null" {
				return nil, fmt.Errorf("%w: only $type null is supported", ErrInvalidFilter)
			}
			out = append(out, Eq(name, JsonNull))
		case "$regex":
			switch re := e.Value.(type) {
			case string:
				out = append(out, regexCond(name, re, options))
			case primitive.Regex:
				out = append(out, regexCond(name, re.Pattern, re.Options+options))
			default:
				return nil, fmt.Errorf("%w: $regex needs a pattern", ErrInvalidFilter)
			}
		case "$options":
		case "$not":
			inner, err := fieldFromBSON(name, e.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, Not{inner})
		case "$elemMatch":
			ep, err := orderedPairs(e.Value)
			if err != nil || len(ep) != 1 || ep[0].Key != "$eq" {
				return nil, fmt.Errorf("%w: only {$elemMatch: {$eq: v}} is supported", ErrInvalidFilter)
			}
			out = append(out, Has(name, ep[0].Value))
		default:
			return nil, fmt.Errorf("%w: unsupported operator %s", ErrInvalidFilter, e.Key)
		}
	}
	return Conjoin(out...), nil
}

func regexCond(name, pattern, options string) Cond {
	c := Cond{Field: name, Op: OpRegex, Value: pattern}
	if strings.Contains(options, "i") {
		c.Mode = ModeInsensitive
	}
	return c
}
