package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/service"
)

type PresenceHandler struct {
	svc service.PresenceService
}

func NewPresenceHandler(svc service.PresenceService) *PresenceHandler {
	return &PresenceHandler{svc: svc}
}

type PresenceRequest struct {
	Online bool    `json:"online"`
	Device *string `json:"device"`
}

type TypingRequest struct {
	Typing bool `json:"typing"`
}

func (h *PresenceHandler) Update(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	var req PresenceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	var (
		p   *model.UserPresence
		err error
	)
	if req.Online {
		p, err = h.svc.SetOnline(c.Request().Context(), uid, req.Device)
	} else {
		p, err = h.svc.SetOffline(c.Request().Context(), uid)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *PresenceHandler) Get(c echo.Context) error {
	if currentUID(c) == "" {
		return unauthorized(c)
	}
	p, err := h.svc.Get(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// List takes ?uids=a,b,c.
func (h *PresenceHandler) List(c echo.Context) error {
	if currentUID(c) == "" {
		return unauthorized(c)
	}
	list, err := h.svc.GetMany(c.Request().Context(), strings.Split(c.QueryParam("uids"), ","))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *PresenceHandler) SetTyping(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	var req TypingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	t, err := h.svc.SetTyping(c.Request().Context(), c.Param("id"), uid, req.Typing)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *PresenceHandler) Typers(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	list, err := h.svc.ActiveTypers(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, err)
	}
	if list == nil {
		list = []model.TypingIndicator{}
	}
	return c.JSON(http.StatusOK, list)
}
