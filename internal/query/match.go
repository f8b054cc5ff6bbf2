package query

import (
	"regexp"
	"strings"
)

// Match evaluates p against a decoded document. Relation predicates never
// match; callers resolve them first.
func Match(p Predicate, doc map[string]any) bool {
	switch p := p.(type) {
	case nil:
		return true
	case And:
		for _, sub := range p {
			if !Match(sub, doc) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range p {
			if Match(sub, doc) {
				return true
			}
		}
		return false
	case Not:
		for _, sub := range p {
			if Match(sub, doc) {
				return false
			}
		}
		return true
	case Cond:
		return matchCond(p, doc)
	}
	return false
}

func matchCond(c Cond, doc map[string]any) bool {
	v, present := Lookup(doc, c.Field)
	v = Normalize(v)
	switch c.Op {
	case OpEquals:
		return matchEquals(v, present, c.Value, c.Mode)
	case OpNot:
		return !matchEquals(v, present, c.Value, c.Mode)
	case OpIn:
		return matchIn(v, present, c.Value, c.Mode)
	case OpNotIn:
		return !matchIn(v, present, c.Value, c.Mode)
	case OpLt, OpLte, OpGt, OpGte:
		if !present {
			return false
		}
		cmp, ok := Compare(v, c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return cmp < 0
		case OpLte:
			return cmp <= 0
		case OpGt:
			return cmp > 0
		}
		return cmp >= 0
	case OpContains, OpStartsWith, OpEndsWith:
		s, ok := v.(string)
		needle, ok2 := c.Value.(string)
		if !ok || !ok2 {
			return false
		}
		if c.Mode == ModeInsensitive {
			s, needle = strings.ToLower(s), strings.ToLower(needle)
		}
		switch c.Op {
		case OpContains:
			return strings.Contains(s, needle)
		case OpStartsWith:
			return strings.HasPrefix(s, needle)
		}
		return strings.HasSuffix(s, needle)
	case OpRegex:
		s, ok := v.(string)
		pattern, ok2 := c.Value.(string)
		if !ok || !ok2 {
			return false
		}
		if c.Mode == ModeInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		return err == nil && re.MatchString(s)
	case OpHas:
		arr, ok := asSlice(v)
		return ok && containsValue(arr, c.Value)
	case OpHasEvery:
		want := ToSlice(c.Value)
		if len(want) == 0 {
			return true
		}
		arr, ok := asSlice(v)
		if !ok {
			return false
		}
		for _, w := range want {
			if !containsValue(arr, w) {
				return false
			}
		}
		return true
	case OpHasSome:
		arr, ok := asSlice(v)
		if !ok {
			return false
		}
		for _, w := range ToSlice(c.Value) {
			if containsValue(arr, w) {
				return true
			}
		}
		return false
	case OpIsEmpty:
		want, _ := c.Value.(bool)
		arr, ok := asSlice(v)
		if !ok {
			return false
		}
		return (len(arr) == 0) == want
	case OpIsSet:
		want, _ := c.Value.(bool)
		return present == want
	}
	return false
}

func matchEquals(v any, present bool, want any, mode Mode) bool {
	switch w := want.(type) {
	case Null:
		switch w {
		case DbNull:
			return !present
		case JsonNull:
			return present && v == nil
		}
		return !present || v == nil
	case nil:
		return !present || v == nil
	}
	if !present {
		return false
	}
	if mode == ModeInsensitive {
		s, ok := v.(string)
		ws, ok2 := Normalize(want).(string)
		if ok && ok2 {
			return strings.EqualFold(s, ws)
		}
	}
	return Equal(v, want)
}

func matchIn(v any, present bool, values any, mode Mode) bool {
	for _, w := range ToSlice(values) {
		if matchEquals(v, present, w, mode) {
			return true
		}
	}
	return false
}

func containsValue(arr []any, v any) bool {
	for _, e := range arr {
		if Equal(e, v) {
			return true
		}
	}
	return false
}
