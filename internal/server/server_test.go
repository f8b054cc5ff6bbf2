package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	appmw "github.com/shinyyama/messaging-backend/internal/middleware"
	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/repository"
	"github.com/shinyyama/messaging-backend/internal/store/memstore"
)

const secret = "test-secret"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	ctx := context.Background()
	client := repository.New(memstore.New(), model.Schema(), repository.Options{})
	if err := client.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	auth, err := appmw.NewAuthMiddleware(ctx, "", "", secret)
	if err != nil {
		t.Fatalf("NewAuthMiddleware: %v", err)
	}
	auth.SetAdmins([]string{"admin"})
	return New(Deps{Client: client, Auth: auth, SHA: "abc"}).Handler()
}

func do(t *testing.T, h http.Handler, uid, method, path, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		tok, err := appmw.SignToken(secret, uid)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Code >= 200 && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestConversationFlow(t *testing.T) {
	h := newTestServer(t)

	var cv model.Conversation
	if code := do(t, h, "u1", http.MethodPost, "/api/conversations", `{"name":"team","members":["u2"]}`, &cv); code != http.StatusOK {
		t.Fatalf("create conversation status %d", code)
	}
	base := "/api/conversations/" + cv.ID

	var msg model.Message
	if code := do(t, h, "u1", http.MethodPost, base+"/messages", `{"content":"hello"}`, &msg); code != http.StatusCreated || msg.ID == "" {
		t.Fatalf("send = %d %+v", code, msg)
	}
	if code := do(t, h, "u3", http.MethodPost, base+"/messages", `{"content":"intruder"}`, nil); code != http.StatusForbidden {
		t.Fatalf("outsider send status %d", code)
	}

	var unread map[string]int64
	do(t, h, "u2", http.MethodGet, base+"/unread", "", &unread)
	if unread["unreadCount"] != 1 {
		t.Fatalf("unread = %v", unread)
	}

	var msgs []model.Message
	if code := do(t, h, "u2", http.MethodGet, base+"/messages?limit=10", "", &msgs); code != http.StatusOK || len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("list messages = %d %+v", code, msgs)
	}

	var inbox struct {
		Notifications []model.Notification `json:"notifications"`
		UnreadCount   int64                `json:"unreadCount"`
	}
	do(t, h, "u2", http.MethodGet, "/api/notifications", "", &inbox)
	if len(inbox.Notifications) != 1 || inbox.UnreadCount != 1 {
		t.Fatalf("inbox = %+v", inbox)
	}

	if code := do(t, h, "u2", http.MethodPost, base+"/read", "", nil); code != http.StatusOK {
		t.Fatalf("mark read status %d", code)
	}
	do(t, h, "u2", http.MethodGet, base+"/unread", "", &unread)
	if unread["unreadCount"] != 0 {
		t.Fatalf("unread after read = %v", unread)
	}

	if code := do(t, h, "u1", http.MethodGet, "/api/conversations/000000000000000000000000", "", nil); code != http.StatusNotFound {
		t.Fatalf("missing conversation status %d", code)
	}
}

func TestDataRouteAndAuth(t *testing.T) {
	h := newTestServer(t)
	if code := do(t, h, "", http.MethodPost, "/api/data/notification/findMany", `{}`, nil); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status %d", code)
	}
	var rows []map[string]any
	if code := do(t, h, "admin", http.MethodPost, "/api/data/notification/findMany", `{}`, &rows); code != http.StatusOK || len(rows) != 0 {
		t.Fatalf("findMany = %d %v", code, rows)
	}

	var health map[string]string
	if code := do(t, h, "", http.MethodGet, "/healthz", "", &health); code != http.StatusOK || health["git_sha"] != "abc" {
		t.Fatalf("healthz = %d %v", code, health)
	}
}

func TestDataRouteNeedsAdmin(t *testing.T) {
	h := newTestServer(t)
	var cv model.Conversation
	if code := do(t, h, "u1", http.MethodPost, "/api/conversations", `{"name":"private","members":["u2"]}`, &cv); code != http.StatusOK {
		t.Fatalf("create conversation status %d", code)
	}
	if code := do(t, h, "u1", http.MethodPost, "/api/conversations/"+cv.ID+"/messages", `{"content":"secret"}`, nil); code != http.StatusCreated {
		t.Fatalf("send status %d", code)
	}

	calls := []struct{ path, body string }{
		{"/api/data/message/findMany", `{}`},
		{"/api/data/conversation/deleteMany", `{}`},
		{"/api/data/message/findRaw", `{"filter":{}}`},
		{"/api/data/notificationSettings/upsert", `{"where":{"userId":"u1"},"create":{"userId":"u1"},"update":{}}`},
	}
	for _, call := range calls {
		if code := do(t, h, "outsider", http.MethodPost, call.path, call.body, nil); code != http.StatusForbidden {
			t.Fatalf("%s as non-admin status %d", call.path, code)
		}
	}

	var msgs []map[string]any
	if code := do(t, h, "admin", http.MethodPost, "/api/data/message/findMany", `{}`, &msgs); code != http.StatusOK || len(msgs) != 1 {
		t.Fatalf("admin findMany = %d %v", code, msgs)
	}
	if code := do(t, h, "u1", http.MethodGet, "/api/conversations/"+cv.ID, "", nil); code != http.StatusOK {
		t.Fatalf("conversation gone after rejected deleteMany: %d", code)
	}
}

func TestAllowOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"https://127.0.0.1:8443", true},
		{"https://chat-app.vercel.app", true},
		{"https://evil.example.com", false},
		{"ftp://x.vercel.app", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got, _ := allowOrigin(tt.origin); got != tt.want {
				t.Fatalf("got=%v want=%v", got, tt.want)
			}
		})
	}
}
