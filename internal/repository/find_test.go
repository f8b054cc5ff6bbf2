package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/schema"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type chatFixture struct {
	c        *Client
	convs    *Delegate
	messages *Delegate
	convA    string
	convB    string
	// msgs holds the ids of convA's messages in creation order.
	msgs []string
}

func newChat(t *testing.T) *chatFixture {
	t.Helper()
	c := newTestClient(t, Options{})
	f := &chatFixture{c: c, convs: c.MustModel(model.ModelConversation), messages: c.MustModel(model.ModelMessage)}
	f.convA = mustCreate(t, f.convs, Data{"type": "GROUP", "participants": []string{"u1", "u2"}, "createdBy": "u1", "name": "a"})["id"].(string)
	f.convB = mustCreate(t, f.convs, Data{"type": "DIRECT", "participants": []string{"u1", "u3"}, "createdBy": "u1"})["id"].(string)
	for i := 0; i < 5; i++ {
		sender := "u1"
		if i%2 == 1 {
			sender = "u2"
		}
		data := Data{"conversationId": f.convA, "senderId": sender, "content": fmt.Sprintf("m%d", i)}
		if i == 2 {
			data["replyToId"] = f.msgs[0]
		}
		f.msgs = append(f.msgs, mustCreate(t, f.messages, data)["id"].(string))
	}
	mustCreate(t, f.messages, Data{"conversationId": f.convB, "senderId": "u3", "content": "hi"})
	return f
}

func contents(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i], _ = r["content"].(string)
	}
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateAndFindUnique(t *testing.T) {
	f := newChat(t)
	ctx := context.Background()

	rec, err := f.convs.FindUnique(ctx, UniqueArgs{Where: query.Eq("id", f.convA)})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	if rec["name"] != "a" || rec["isActive"] != true || rec["type"] != "GROUP" {
		t.Fatalf("record = %v", rec)
	}
	if _, ok := rec["createdAt"].(time.Time); !ok {
		t.Fatalf("createdAt should be a time.Time, got %T", rec["createdAt"])
	}
	if parts, _ := rec["participants"].([]any); len(parts) != 2 {
		t.Fatalf("participants = %#v", rec["participants"])
	}

	missing := primitive.NewObjectID().Hex()
	rec, err = f.convs.FindUnique(ctx, UniqueArgs{Where: query.Eq("id", missing)})
	if err != nil || rec != nil {
		t.Fatalf("missing row = %v, %v", rec, err)
	}
	if _, err := f.convs.FindUniqueOrThrow(ctx, UniqueArgs{Where: query.Eq("id", missing)}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("FindUniqueOrThrow error = %v", err)
	}
	if _, err := f.convs.FindUnique(ctx, UniqueArgs{Where: query.Eq("createdBy", "u1")}); !errors.Is(err, schema.ErrValidation) {
		t.Fatalf("non-unique where error = %v", err)
	}
	if _, err := f.convs.FindUnique(ctx, UniqueArgs{Where: query.Eq("id", "not-an-id")}); !errors.Is(err, schema.ErrValidation) {
		t.Fatalf("malformed id error = %v", err)
	}
}

func TestFindManyOrderingAndPaging(t *testing.T) {
	f := newChat(t)
	ctx := context.Background()
	inA := query.Eq("conversationId", f.convA)

	recs, err := f.messages.FindMany(ctx, FindArgs{Where: inA, OrderBy: []query.Order{query.DescBy("createdAt")}, Take: 2})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}
	if got := contents(recs); !sameStrings(got, []string{"m4", "m3"}) {
		t.Fatalf("newest two = %v", got)
	}

	recs, _ = f.messages.FindMany(ctx, FindArgs{Where: inA, OrderBy: []query.Order{query.AscBy("createdAt")}, Cursor: f.msgs[2], Skip: 1, Take: 2})
	if got := contents(recs); !sameStrings(got, []string{"m3", "m4"}) {
		t.Fatalf("after cursor = %v", got)
	}

	recs, _ = f.messages.FindMany(ctx, FindArgs{Where: inA, OrderBy: []query.Order{query.AscBy("createdAt")}, Cursor: f.msgs[2], Take: 1})
	if got := contents(recs); !sameStrings(got, []string{"m2"}) {
		t.Fatalf("cursor row is included: %v", got)
	}

	recs, _ = f.messages.FindMany(ctx, FindArgs{Where: inA, OrderBy: []query.Order{query.AscBy("createdAt")}, Take: -2})
	if got := contents(recs); !sameStrings(got, []string{"m3", "m4"}) {
		t.Fatalf("negative take = %v", got)
	}

	recs, _ = f.messages.FindMany(ctx, FindArgs{Where: inA, OrderBy: []query.Order{query.AscBy("createdAt")}, Cursor: f.msgs[3], Take: -2})
	if got := contents(recs); !sameStrings(got, []string{"m2", "m3"}) {
		t.Fatalf("negative take from cursor = %v", got)
	}

	recs, _ = f.messages.FindMany(ctx, FindArgs{Where: inA, Cursor: primitive.NewObjectID().Hex()})
	if len(recs) != 0 {
		t.Fatalf("unknown cursor should return nothing, got %v", contents(recs))
	}

	recs, _ = f.messages.FindMany(ctx, FindArgs{Where: inA, Distinct: []string{"senderId"}})
	if len(recs) != 2 {
		t.Fatalf("distinct senders = %d", len(recs))
	}

	first, err := f.messages.FindFirst(ctx, FindArgs{Where: query.Eq("senderId", "u2"), OrderBy: []query.Order{query.DescBy("createdAt")}})
	if err != nil || first["content"] != "m3" {
		t.Fatalf("FindFirst = %v, %v", first, err)
	}
	if _, err := f.messages.FindFirstOrThrow(ctx, FindArgs{Where: query.Eq("senderId", "nobody")}); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("FindFirstOrThrow error = %v", err)
	}
	if _, err := f.messages.FindMany(ctx, FindArgs{Skip: -1}); !errors.Is(err, schema.ErrValidation) {
		t.Fatalf("negative skip error = %v", err)
	}
}

func TestRelationFilters(t *testing.T) {
	f := newChat(t)
	ctx := context.Background()

	recs, err := f.convs.FindMany(ctx, FindArgs{Where: query.SomeOf("messages", query.Eq("senderId", "u2"))})
	if err != nil {
		t.Fatalf("some: %v", err)
	}
	if len(recs) != 1 || recs[0]["id"] != f.convA {
		t.Fatalf("some = %v", recs)
	}

	recs, _ = f.convs.FindMany(ctx, FindArgs{Where: query.EveryOf("messages", query.Eq("senderId", "u3"))})
	if len(recs) != 1 || recs[0]["id"] != f.convB {
		t.Fatalf("every = %v", recs)
	}

	recs, _ = f.convs.FindMany(ctx, FindArgs{Where: query.NoneOf("messages", query.Eq("senderId", "u1"))})
	if len(recs) != 1 || recs[0]["id"] != f.convB {
		t.Fatalf("none = %v", recs)
	}

	recs, _ = f.messages.FindMany(ctx, FindArgs{Where: query.RelIsNot("replyTo", nil)})
	if got := contents(recs); !sameStrings(got, []string{"m2"}) {
		t.Fatalf("replies = %v", got)
	}

	recs, _ = f.messages.FindMany(ctx, FindArgs{Where: query.RelIs("replyTo", query.Eq("content", "m0"))})
	if got := contents(recs); !sameStrings(got, []string{"m2"}) {
		t.Fatalf("replies to m0 = %v", got)
	}

	recs, _ = f.messages.FindMany(ctx, FindArgs{Where: query.SomeOf("replies", nil)})
	if got := contents(recs); !sameStrings(got, []string{"m0"}) {
		t.Fatalf("messages with replies = %v", got)
	}
}

func TestDanglingReferenceIsNull(t *testing.T) {
	f := newChat(t)
	ctx := context.Background()

	if _, err := f.messages.Delete(ctx, UniqueArgs{Where: query.Eq("id", f.msgs[0])}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	recs, err := f.messages.FindMany(ctx, FindArgs{Where: query.And{query.Eq("conversationId", f.convA), query.RelIs("replyTo", nil)}})
	if err != nil {
		t.Fatalf("is null: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("rows with no reply target = %v", contents(recs))
	}

	rec, err := f.messages.FindUnique(ctx, UniqueArgs{Where: query.Eq("id", f.msgs[2]), Include: map[string]*FindArgs{"replyTo": nil}})
	if err != nil {
		t.Fatalf("include: %v", err)
	}
	if v, ok := rec["replyTo"]; !ok || v != nil {
		t.Fatalf("dangling replyTo should render as null, got %#v", v)
	}
}

func TestIncludeAndShape(t *testing.T) {
	f := newChat(t)
	ctx := context.Background()

	rec, err := f.convs.FindUnique(ctx, UniqueArgs{
		Where: query.Eq("id", f.convA),
		Include: map[string]*FindArgs{
			"messages": {
				OrderBy: []query.Order{query.DescBy("createdAt")},
				Take:    2,
				Include: map[string]*FindArgs{"conversation": {Select: []string{"id"}}},
			},
		},
	})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	msgs, _ := rec["messages"].([]Record)
	if got := contents(msgs); !sameStrings(got, []string{"m4", "m3"}) {
		t.Fatalf("included messages = %v", got)
	}
	conv, _ := msgs[0]["conversation"].(Record)
	if conv["id"] != f.convA || len(conv) != 1 {
		t.Fatalf("nested include = %#v", conv)
	}

	rec, _ = f.convs.FindUnique(ctx, UniqueArgs{Where: query.Eq("id", f.convB), Select: []string{"id", "type"}})
	if len(rec) != 2 || rec["type"] != "DIRECT" {
		t.Fatalf("select = %v", rec)
	}
	rec, _ = f.convs.FindUnique(ctx, UniqueArgs{Where: query.Eq("id", f.convB), Omit: []string{"participants"}})
	if _, ok := rec["participants"]; ok {
		t.Fatalf("omit kept participants: %v", rec)
	}

	recs, _ := f.convs.FindMany(ctx, FindArgs{Where: query.Eq("id", f.convB), Include: map[string]*FindArgs{"messages": {Where: query.Eq("senderId", "nobody")}}})
	if msgs, ok := recs[0]["messages"].([]Record); !ok || len(msgs) != 0 {
		t.Fatalf("empty to-many include = %#v", recs[0]["messages"])
	}

	bad := []UniqueArgs{
		{Where: query.Eq("id", f.convA), Select: []string{"id"}, Omit: []string{"name"}},
		{Where: query.Eq("id", f.convA), Include: map[string]*FindArgs{"nope": nil}},
		{Where: query.Eq("id", f.convA), Select: []string{"nope"}},
	}
	for _, args := range bad {
		if _, err := f.convs.FindUnique(ctx, args); !errors.Is(err, schema.ErrValidation) {
			t.Fatalf("FindUnique(%+v) error = %v", args, err)
		}
	}
	_, err = f.messages.FindMany(ctx, FindArgs{Include: map[string]*FindArgs{"conversation": {Take: 1}}})
	if !errors.Is(err, schema.ErrValidation) {
		t.Fatalf("paged to-one include error = %v", err)
	}
}

func TestTypedRepository(t *testing.T) {
	f := newChat(t)
	ctx := context.Background()
	convs := MustFor[model.Conversation](f.c, model.ModelConversation)

	got, err := convs.FindMany(ctx, FindArgs{
		OrderBy: []query.Order{query.AscBy("createdAt")},
		Include: map[string]*FindArgs{"messages": nil},
	})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}
	if len(got) != 2 || got[0].ID != f.convA || got[0].Type != model.ConversationTypeGroup {
		t.Fatalf("conversations = %+v", got)
	}
	if len(got[0].Messages) != 5 || got[0].Messages[2].ReplyToID == nil || *got[0].Messages[2].ReplyToID != f.msgs[0] {
		t.Fatalf("typed include = %+v", got[0].Messages)
	}
	if got[1].Name != nil {
		t.Fatalf("unset name should decode as nil, got %q", *got[1].Name)
	}

	one, err := convs.FindUnique(ctx, UniqueArgs{Where: query.Eq("id", primitive.NewObjectID().Hex())})
	if err != nil || one != nil {
		t.Fatalf("missing typed row = %v, %v", one, err)
	}
}

func TestRaw(t *testing.T) {
	f := newChat(t)
	ctx := context.Background()

	out, err := f.messages.FindRaw(ctx, `{"senderId": "u2"}`, `{"sort": {"content": -1}}`)
	if err != nil {
		t.Fatalf("FindRaw: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(out, &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[0]["content"] != "m3" {
		t.Fatalf("FindRaw rows = %v", rows)
	}

	out, err = f.messages.AggregateRaw(ctx, `[{"$match": {"senderId": "u1"}}, {"$count": "n"}]`, nil)
	if err != nil {
		t.Fatalf("AggregateRaw: %v", err)
	}
	rows = nil
	if err := json.Unmarshal(out, &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0]["n"] != float64(3) {
		t.Fatalf("AggregateRaw rows = %v", rows)
	}

	if _, err := f.messages.FindRaw(ctx, `{"senderId": {"$near": 1}}`, nil); err == nil {
		t.Fatal("unsupported operator should fail")
	}
}
