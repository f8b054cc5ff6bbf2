package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/shinyyama/messaging-backend/internal/reqctx"
	"google.golang.org/api/option"
)

// Claims is the payload of a locally signed bearer token.
type Claims struct {
	UserID string `json:"userId"`
	Admin  bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	authClient *auth.Client
	jwtSecret  []byte
	admins     map[string]bool
}

// identity is a verified caller.
type identity struct {
	uid   string
	admin bool
}

// NewAuthMiddleware verifies Firebase ID tokens when projectID is set and
// HS256 tokens signed with jwtSecret otherwise.
func NewAuthMiddleware(ctx context.Context, projectID, credentialsFile, jwtSecret string) (*AuthMiddleware, error) {
	m := &AuthMiddleware{jwtSecret: []byte(jwtSecret)}
	if projectID == "" {
		if jwtSecret == "" {
			return nil, errors.New("either FIREBASE_PROJECT_ID or JWT_SECRET must be set")
		}
		return m, nil
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, err
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	m.authClient = client
	return m, nil
}

func (m *AuthMiddleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authz := c.Request().Header.Get("Authorization")
		if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "unauthorized", "message": "missing bearer token"}})
		}
		id, err := m.verify(c.Request().Context(), strings.TrimPrefix(authz, "Bearer "))
		if err != nil || id.uid == "" {
			return c.JSON(http.StatusUnauthorized, map[string]any{"error": map[string]string{"code": "invalid_token", "message": "invalid token"}})
		}
		c.Set("uid", id.uid)
		c.Set("admin", id.admin || m.admins[id.uid])
		req := c.Request()
		c.SetRequest(req.WithContext(reqctx.WithUID(req.Context(), id.uid)))
		return next(c)
	}
}

// SetAdmins lists uids allowed through RequireAdmin in addition to callers
// whose token carries an admin claim.
func (m *AuthMiddleware) SetAdmins(uids []string) {
	m.admins = make(map[string]bool, len(uids))
	for _, uid := range uids {
		if uid = strings.TrimSpace(uid); uid != "" {
			m.admins[uid] = true
		}
	}
}

// RequireAdmin must run after RequireAuth.
func (m *AuthMiddleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if admin, _ := c.Get("admin").(bool); !admin {
			return c.JSON(http.StatusForbidden, map[string]any{"error": map[string]string{"code": "forbidden", "message": "admin access required"}})
		}
		return next(c)
	}
}

func (m *AuthMiddleware) verify(ctx context.Context, raw string) (identity, error) {
	if m.authClient != nil {
		token, err := m.authClient.VerifyIDToken(ctx, raw)
		if err != nil {
			return identity{}, err
		}
		admin, _ := token.Claims["admin"].(bool)
		return identity{uid: token.UID, admin: admin}, nil
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return identity{}, errors.New("invalid token")
	}
	uid := claims.UserID
	if uid == "" {
		uid = claims.Subject
	}
	return identity{uid: uid, admin: claims.Admin}, nil
}

// SignToken issues an HS256 token for uid. It is used by tests and local
// tooling when Firebase is not configured.
func SignToken(secret, uid string) (string, error) {
	claims := Claims{UserID: uid, RegisteredClaims: jwt.RegisteredClaims{Subject: uid}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Client returns the Firebase auth client, or nil when tokens are verified
// locally.
func (m *AuthMiddleware) Client() *auth.Client {
	return m.authClient
}
