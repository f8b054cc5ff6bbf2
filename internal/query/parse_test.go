package query

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad fixture %s: %v", s, err)
	}
	return m
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		where string
		want  Predicate
	}{
		{
			name:  "empty",
			where: `{}`,
			want:  And{},
		},
		{
			name:  "bare value",
			where: `{"userId": "u1"}`,
			want:  Eq("userId", "u1"),
		},
		{
			name:  "null value",
			where: `{"deletedAt": null}`,
			want:  Eq("deletedAt", nil),
		},
		{
			name:  "operators sorted by name",
			where: `{"count": {"lt": 10, "gte": 2}}`,
			want:  And{Gte("count", float64(2)), Lt("count", float64(10))},
		},
		{
			name:  "insensitive mode",
			where: `{"title": {"contains": "hi", "mode": "insensitive"}}`,
			want:  Cond{Field: "title", Op: OpContains, Value: "hi", Mode: ModeInsensitive},
		},
		{
			name:  "nested not",
			where: `{"userId": {"not": {"in": ["a"]}}}`,
			want:  Not{In("userId", []any{"a"})},
		},
		{
			name:  "or list",
			where: `{"OR": [{"a": 1}, {"b": 2}]}`,
			want:  Or{Eq("a", float64(1)), Eq("b", float64(2))},
		},
		{
			name:  "not object",
			where: `{"NOT": {"a": 1}}`,
			want:  Not{Eq("a", float64(1))},
		},
		{
			name:  "and with field",
			where: `{"AND": [{"a": 1}], "b": true}`,
			want:  And{And{Eq("a", float64(1))}, Eq("b", true)},
		},
		{
			name:  "relation filter",
			where: `{"messages": {"some": {"senderId": "u1"}}}`,
			want:  SomeOf("messages", Eq("senderId", "u1")),
		},
		{
			name:  "relation is null",
			where: `{"replyTo": {"is": null}}`,
			want:  Relation{Name: "replyTo", Kind: Is},
		},
		{
			name:  "empty operator object",
			where: `{"userId": {}}`,
			want:  And{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(decode(t, tt.where))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Parse(%s) = %#v, want %#v", tt.where, got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		where string
	}{
		{"unknown operator", `{"a": {"near": 1}}`},
		{"in needs list", `{"a": {"in": "x"}}`},
		{"isSet needs bool", `{"a": {"isSet": "yes"}}`},
		{"bad mode", `{"a": {"equals": "x", "mode": "fuzzy"}}`},
		{"or of scalars", `{"OR": [1, 2]}`},
		{"and scalar", `{"AND": "x"}`},
		{"relation scalar", `{"messages": {"some": 1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(decode(t, tt.where))
			if !errors.Is(err, ErrInvalidFilter) {
				t.Fatalf("Parse(%s) error = %v, want ErrInvalidFilter", tt.where, err)
			}
		})
	}
}

func TestParseOrder(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Order
	}{
		{"single", `{"createdAt": "desc"}`, []Order{DescBy("createdAt")}},
		{"list", `[{"a": "asc"}, {"b": "DESC"}]`, []Order{AscBy("a"), DescBy("b")}},
		{"aggregate", `{"_count": {"id": "desc"}}`, []Order{DescBy("_count.id")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v any
			if err := json.Unmarshal([]byte(tt.in), &v); err != nil {
				t.Fatal(err)
			}
			got, err := ParseOrder(v)
			if err != nil {
				t.Fatalf("ParseOrder: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseOrder(%s) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParseOrder(map[string]any{"a": "up"}); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("bad direction error = %v", err)
	}
	if _, err := ParseOrder("a"); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("scalar orderBy error = %v", err)
	}
}
