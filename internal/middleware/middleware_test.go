package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/messaging-backend/internal/reqctx"
)

func TestRequireAuth(t *testing.T) {
	m, err := NewAuthMiddleware(context.Background(), "", "", "secret")
	if err != nil {
		t.Fatalf("NewAuthMiddleware: %v", err)
	}
	good, err := SignToken("secret", "u1")
	if err != nil {
		t.Fatal(err)
	}
	forged, _ := SignToken("other", "u1")

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + good, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + good, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + forged, http.StatusUnauthorized},
		{"garbage", "Bearer not.a.token", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			var seen string
			h := m.RequireAuth(func(c echo.Context) error {
				seen = reqctx.UID(c.Request().Context())
				return c.NoContent(http.StatusOK)
			})
			if err := h(c); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tt.status {
				t.Fatalf("status=%d want=%d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && (seen != "u1" || c.Get("uid") != "u1") {
				t.Fatalf("uid not propagated: ctx=%q echo=%v", seen, c.Get("uid"))
			}
		})
	}

	if _, err := NewAuthMiddleware(context.Background(), "", "", ""); err == nil {
		t.Fatal("middleware without any verifier should fail")
	}
}

func TestRequireAdmin(t *testing.T) {
	m, err := NewAuthMiddleware(context.Background(), "", "", "secret")
	if err != nil {
		t.Fatalf("NewAuthMiddleware: %v", err)
	}
	m.SetAdmins([]string{" ops ", ""})
	claimed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: "root", Admin: true}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	token := func(uid string) string {
		tok, err := SignToken("secret", uid)
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"admin claim", claimed, http.StatusOK},
		{"configured uid", token("ops"), http.StatusOK},
		{"ordinary user", token("u1"), http.StatusForbidden},
		{"empty uid is not an admin", token(""), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			h := m.RequireAuth(m.RequireAdmin(func(c echo.Context) error {
				return c.NoContent(http.StatusOK)
			}))
			if err := h(e.NewContext(req, rec)); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tt.status {
				t.Fatalf("status=%d want=%d", rec.Code, tt.status)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	e := echo.New()
	run := func(header string) (string, string) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(HeaderRequestID, header)
		}
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		var inCtx string
		_ = RequestID(func(c echo.Context) error {
			inCtx = reqctx.RID(c.Request().Context())
			return nil
		})(c)
		return rec.Header().Get(HeaderRequestID), inCtx
	}

	if hdr, ctx := run("abc-123"); hdr != "abc-123" || ctx != "abc-123" {
		t.Fatalf("caller id not reused: header=%q ctx=%q", hdr, ctx)
	}
	hdr, ctx := run("")
	if len(hdr) != 36 || ctx != hdr {
		t.Fatalf("generated id: header=%q ctx=%q", hdr, ctx)
	}
	if hdr, _ := run(strings.Repeat("x", 200)); len(hdr) != 36 {
		t.Fatalf("oversized id kept: %q", hdr)
	}
}
