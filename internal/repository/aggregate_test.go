package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/schema"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestAggregate(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()
	threads := c.MustModel(model.ModelMessageThread)
	for _, n := range []int{1, 2, 3} {
		mustCreate(t, threads, Data{"originalMessageId": primitive.NewObjectID().Hex(), "messageCount": n})
	}

	rec, err := threads.Aggregate(ctx, AggregateArgs{Aggregates: Aggregates{
		Count: []string{"_all", "messageCount"},
		Min:   []string{"messageCount"},
		Max:   []string{"messageCount"},
		Avg:   []string{"messageCount"},
		Sum:   []string{"messageCount"},
	}})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	get := func(op string) any {
		m, _ := rec[op].(map[string]any)
		return m["messageCount"]
	}
	if cnt, _ := rec["_count"].(map[string]any); !query.Equal(cnt["_all"], 3) {
		t.Fatalf("_count = %v", rec["_count"])
	}
	if sum := get("_sum"); sum != int64(6) {
		t.Fatalf("_sum = %#v, want int64(6)", sum)
	}
	if avg := get("_avg"); avg != float64(2) {
		t.Fatalf("_avg = %#v", avg)
	}
	if !query.Equal(get("_min"), 1) || !query.Equal(get("_max"), 3) {
		t.Fatalf("_min/_max = %v/%v", get("_min"), get("_max"))
	}

	rec, err = threads.Aggregate(ctx, AggregateArgs{
		Where:      query.Gt("messageCount", 10),
		Aggregates: Aggregates{Avg: []string{"messageCount"}, Sum: []string{"messageCount"}},
	})
	if err != nil {
		t.Fatalf("empty Aggregate: %v", err)
	}
	if get("_avg") != nil || get("_sum") != nil {
		t.Fatalf("aggregates over no rows should be null, got %v", rec)
	}

	rec, _ = threads.Aggregate(ctx, AggregateArgs{
		OrderBy:    []query.Order{query.DescBy("messageCount")},
		Take:       2,
		Aggregates: Aggregates{Sum: []string{"messageCount"}},
	})
	if get("_sum") != int64(5) {
		t.Fatalf("_sum over top two = %v", get("_sum"))
	}

	bad := []Aggregates{
		{Sum: []string{"participants"}},
		{Avg: []string{"originalMessageId"}},
		{Min: []string{"nope"}},
	}
	for _, a := range bad {
		if _, err := threads.Aggregate(ctx, AggregateArgs{Aggregates: a}); !errors.Is(err, schema.ErrValidation) {
			t.Fatalf("Aggregate(%+v) error = %v", a, err)
		}
	}
}

func TestCountWithPaging(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()
	notifs := c.MustModel(model.ModelNotification)
	for i := 0; i < 5; i++ {
		mustCreate(t, notifs, notification("u1", "MESSAGE_RECEIVED"))
	}
	n, err := notifs.Count(ctx, CountArgs{Skip: 1, Take: 3})
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	n, _ = notifs.Count(ctx, CountArgs{Skip: 4})
	if n != 1 {
		t.Fatalf("Count with skip = %d", n)
	}
}

func TestGroupBy(t *testing.T) {
	c := newTestClient(t, Options{})
	ctx := context.Background()
	notifs := c.MustModel(model.ModelNotification)
	for _, typ := range []string{"MESSAGE_RECEIVED", "MESSAGE_RECEIVED", "MESSAGE_RECEIVED", "SYSTEM_ANNOUNCEMENT", "FRIEND_REQUEST", "FRIEND_REQUEST"} {
		mustCreate(t, notifs, notification("u1", typ))
	}
	mustCreate(t, notifs, notification("u2", "BOX_AVAILABLE"))

	recs, err := notifs.GroupBy(ctx, GroupByArgs{
		By:         []string{"type"},
		Where:      query.Eq("userId", "u1"),
		Aggregates: Aggregates{Count: []string{"_all"}},
		OrderBy:    []query.Order{query.DescBy("_count._all")},
	})
	if err != nil {
		t.Fatalf("GroupBy: %v", err)
	}
	want := []struct {
		typ string
		n   int64
	}{{"MESSAGE_RECEIVED", 3}, {"FRIEND_REQUEST", 2}, {"SYSTEM_ANNOUNCEMENT", 1}}
	if len(recs) != len(want) {
		t.Fatalf("groups = %v", recs)
	}
	for i, w := range want {
		cnt, _ := recs[i]["_count"].(map[string]any)
		if recs[i]["type"] != w.typ || !query.Equal(cnt["_all"], w.n) {
			t.Fatalf("group %d = %v, want %s/%d", i, recs[i], w.typ, w.n)
		}
	}

	recs, err = notifs.GroupBy(ctx, GroupByArgs{
		By:     []string{"userId", "type"},
		Having: query.Gt("_count.id", 1),
	})
	if err != nil {
		t.Fatalf("GroupBy having: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("having kept %v", recs)
	}
	if _, ok := recs[0]["_count"]; ok {
		t.Fatalf("aggregates used only by having must not be returned: %v", recs[0])
	}

	recs, _ = notifs.GroupBy(ctx, GroupByArgs{
		By:      []string{"type"},
		OrderBy: []query.Order{query.AscBy("type")},
		Skip:    1,
		Take:    2,
	})
	if len(recs) != 2 || recs[0]["type"] != "FRIEND_REQUEST" {
		t.Fatalf("paged groups = %v", recs)
	}

	bad := []GroupByArgs{
		{},
		{By: []string{"nope"}},
		{By: []string{"data"}},
		{By: []string{"type"}, Take: 1},
		{By: []string{"type"}, Having: query.Gt("title", "x")},
		{By: []string{"type"}, Having: query.Contains("_count.id", "1")},
		{By: []string{"type"}, OrderBy: []query.Order{query.AscBy("_median.id")}},
	}
	for _, args := range bad {
		if _, err := notifs.GroupBy(ctx, args); !errors.Is(err, schema.ErrValidation) {
			t.Fatalf("GroupBy(%+v) error = %v", args, err)
		}
	}
}
