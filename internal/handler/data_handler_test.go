package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/repository"
	"github.com/shinyyama/messaging-backend/internal/store/memstore"
)

type dataAPI struct {
	t *testing.T
	e *echo.Echo
}

func newDataAPI(t *testing.T) *dataAPI {
	t.Helper()
	client := repository.New(memstore.New(), model.Schema(), repository.Options{})
	if err := client.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	e := echo.New()
	e.POST("/api/data/:model/:operation", NewDataHandler(client).Handle)
	return &dataAPI{t: t, e: e}
}

func (a *dataAPI) call(model, op, body string) (int, any) {
	a.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/data/"+model+"/"+op, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	var out any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		a.t.Fatalf("%s %s: decode %q: %v", model, op, rec.Body.String(), err)
	}
	return rec.Code, out
}

func (a *dataAPI) ok(model, op, body string) any {
	a.t.Helper()
	code, out := a.call(model, op, body)
	if code != http.StatusOK {
		a.t.Fatalf("%s %s %s: status %d: %v", model, op, body, code, out)
	}
	return out
}

func TestDataAPI(t *testing.T) {
	api := newDataAPI(t)

	created := api.ok("notification", "create", `{"data":{"userId":"u1","type":"SYSTEM_ANNOUNCEMENT","title":"t","message":"m"}}`).(map[string]any)
	id, _ := created["id"].(string)
	if id == "" || created["isRead"] != false {
		t.Fatalf("created = %v", created)
	}
	batch := api.ok("Notification", "createMany", `{"data":[
		{"userId":"u1","type":"FRIEND_REQUEST","title":"a","message":"m"},
		{"userId":"u1","type":"FRIEND_REQUEST","title":"b","message":"m"}]}`).(map[string]any)
	if batch["count"] != float64(2) {
		t.Fatalf("createMany = %v", batch)
	}

	list := api.ok("notifications", "findMany", `{"where":{"userId":"u1"},"orderBy":{"createdAt":"desc"},"take":2,"select":{"title":true}}`).([]any)
	if len(list) != 2 {
		t.Fatalf("findMany = %v", list)
	}
	if _, ok := list[0].(map[string]any)["message"]; ok {
		t.Fatalf("select leaked unselected fields: %v", list[0])
	}

	updated := api.ok("notification", "update", `{"where":{"id":"`+id+`"},"data":{"isRead":true}}`).(map[string]any)
	if updated["isRead"] != true {
		t.Fatalf("update = %v", updated)
	}
	if n := api.ok("notification", "count", `{"where":{"isRead":false}}`); n != float64(2) {
		t.Fatalf("count = %v", n)
	}

	agg := api.ok("notification", "aggregate", `{"_count":true}`).(map[string]any)
	if agg["_count"].(map[string]any)["_all"] != float64(3) {
		t.Fatalf("aggregate = %v", agg)
	}
	groups := api.ok("notification", "groupBy", `{"by":["type"],"_count":{"_all":true},"having":{"_count":{"_all":{"gt":1}}}}`).([]any)
	if len(groups) != 1 || groups[0].(map[string]any)["type"] != "FRIEND_REQUEST" {
		t.Fatalf("groupBy = %v", groups)
	}

	raw := api.ok("notification", "findRaw", `{"filter":{"isRead":true}}`).([]any)
	if len(raw) != 1 {
		t.Fatalf("findRaw = %v", raw)
	}

	deleted := api.ok("notification", "deleteMany", `{"where":{"type":"FRIEND_REQUEST"}}`).(map[string]any)
	if deleted["count"] != float64(2) {
		t.Fatalf("deleteMany = %v", deleted)
	}
	if got := api.ok("notification", "findUnique", `{"where":{"id":"`+id+`"}}`); got == nil {
		t.Fatal("findUnique lost the remaining row")
	}
	if got := api.ok("notification", "findFirst", `{"where":{"userId":"nobody"}}`); got != nil {
		t.Fatalf("findFirst with no match = %v", got)
	}
}

func TestDataAPIErrors(t *testing.T) {
	api := newDataAPI(t)
	api.ok("notificationSettings", "create", `{"data":{"userId":"u1"}}`)

	tests := []struct {
		name   string
		model  string
		op     string
		body   string
		status int
	}{
		{"unknown model", "item", "findMany", `{}`, http.StatusNotFound},
		{"unknown operation", "notification", "explode", `{}`, http.StatusBadRequest},
		{"invalid json", "notification", "findMany", `{"where":`, http.StatusBadRequest},
		{"unknown filter operator", "notification", "findMany", `{"where":{"userId":{"like":"u"}}}`, http.StatusBadRequest},
		{"non-unique where", "notification", "findUnique", `{"where":{"userId":"u1"}}`, http.StatusBadRequest},
		{"missing row", "notification", "findUniqueOrThrow", `{"where":{"id":"000000000000000000000000"}}`, http.StatusNotFound},
		{"fractional take", "notification", "findMany", `{"take":1.5}`, http.StatusBadRequest},
		{"missing required field", "notification", "create", `{"data":{"userId":"u1"}}`, http.StatusBadRequest},
		{"duplicate unique key", "notificationSettings", "create", `{"data":{"userId":"u1"}}`, http.StatusConflict},
		{"unsupported raw stage", "notification", "aggregateRaw", `{"pipeline":[{"$lookup":{}}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, out := api.call(tt.model, tt.op, tt.body)
			if code != tt.status {
				t.Fatalf("status=%d want=%d body=%v", code, tt.status, out)
			}
			if env, ok := out.(map[string]any)["error"].(map[string]any); !ok || env["code"] == "" {
				t.Fatalf("missing error envelope: %v", out)
			}
		})
	}
}
