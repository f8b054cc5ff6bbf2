package handler

import (
	"context"
	"net/http"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
)

// UserDirectory resolves account profiles; *auth.Client satisfies it.
type UserDirectory interface {
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
}

// Contacts decides whose profiles a caller may resolve.
type Contacts interface {
	SharesConversation(ctx context.Context, uid, other string) (bool, error)
}

type UserHandler struct {
	users    UserDirectory
	contacts Contacts
}

func NewUserHandler(users UserDirectory, contacts Contacts) *UserHandler {
	return &UserHandler{users: users, contacts: contacts}
}

type PublicUserResponse struct {
	UID         string  `json:"uid"`
	DisplayName string  `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
}

// GetPublic returns the display profile of someone the caller shares a
// conversation with.
func (h *UserHandler) GetPublic(c echo.Context) error {
	caller := currentUID(c)
	if caller == "" {
		return unauthorized(c)
	}
	uid := c.Param("uid")
	if uid == "" {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid uid"))
	}
	ok, err := h.contacts.SharesConversation(c.Request().Context(), caller, uid)
	if err != nil {
		return writeError(c, err)
	}
	if !ok {
		return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "no shared conversation"))
	}
	user, err := h.users.GetUser(c.Request().Context(), uid)
	if err != nil || user == nil || user.UserInfo == nil {
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "user not found"))
	}
	return c.JSON(http.StatusOK, PublicUserResponse{
		UID:         user.UID,
		DisplayName: user.DisplayName,
		PhotoURL:    strPtrOrNil(user.PhotoURL),
	})
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
