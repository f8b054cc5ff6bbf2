package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
)

type directory map[string]*auth.UserRecord

func (d directory) GetUser(_ context.Context, uid string) (*auth.UserRecord, error) {
	if u, ok := d[uid]; ok {
		return u, nil
	}
	return nil, errors.New("no user record")
}

// contacts pairs each uid with the users it shares a conversation with.
type contacts map[string][]string

func (c contacts) SharesConversation(_ context.Context, uid, other string) (bool, error) {
	if uid == "broken" {
		return false, errors.New("store down")
	}
	for _, peer := range c[uid] {
		if peer == other {
			return true, nil
		}
	}
	return uid == other, nil
}

func TestGetPublic(t *testing.T) {
	users := directory{
		"u2": {UserInfo: &auth.UserInfo{UID: "u2", DisplayName: "Bo", PhotoURL: "https://img/bo.png"}},
		"u3": {UserInfo: &auth.UserInfo{UID: "u3", DisplayName: "Cy"}},
	}
	h := NewUserHandler(users, contacts{"u1": {"u2", "gone"}})

	tests := []struct {
		name   string
		caller string
		target string
		status int
	}{
		{"shared conversation", "u1", "u2", http.StatusOK},
		{"own profile", "u3", "u3", http.StatusOK},
		{"stranger", "u1", "u3", http.StatusForbidden},
		{"missing caller", "", "u2", http.StatusUnauthorized},
		{"unknown account", "u1", "gone", http.StatusNotFound},
		{"lookup failure", "broken", "u2", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			if tt.caller != "" {
				c.Set("uid", tt.caller)
			}
			c.SetParamNames("uid")
			c.SetParamValues(tt.target)
			if err := h.GetPublic(c); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tt.status {
				t.Fatalf("status=%d want=%d body=%s", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var got PublicUserResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if got.UID != tt.target || got.DisplayName != users[tt.target].DisplayName {
				t.Fatalf("profile = %+v", got)
			}
			if (got.PhotoURL != nil) != (users[tt.target].PhotoURL != "") {
				t.Fatalf("photoURL = %v", got.PhotoURL)
			}
		})
	}
}
