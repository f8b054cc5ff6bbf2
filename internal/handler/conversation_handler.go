package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/service"
)

type ConversationHandler struct {
	svc service.ConversationService
}

func NewConversationHandler(svc service.ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type StartConversationRequest struct {
	// PeerUID starts (or reopens) a direct conversation.
	PeerUID string `json:"peerUid"`
	// Name and Members create a group instead.
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type ParticipantsRequest struct {
	UIDs []string `json:"uids"`
}

type MessageRequest struct {
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	ReplyToID string         `json:"replyToId"`
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

func currentUID(c echo.Context) string {
	uid, _ := c.Get("uid").(string)
	return uid
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
}

func (h *ConversationHandler) Create(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	var req StartConversationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	var (
		cv  *model.Conversation
		err error
	)
	if req.PeerUID != "" {
		cv, err = h.svc.StartDirect(c.Request().Context(), uid, req.PeerUID)
	} else {
		cv, err = h.svc.CreateGroup(c.Request().Context(), uid, req.Name, req.Members)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, cv)
}

func (h *ConversationHandler) List(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	convs, err := h.svc.ListByUser(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, convs)
}

func (h *ConversationHandler) Get(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	cv, err := h.svc.Get(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, cv)
}

func (h *ConversationHandler) AddParticipants(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	var req ParticipantsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	cv, err := h.svc.AddParticipants(c.Request().Context(), c.Param("id"), uid, req.UIDs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, cv)
}

func (h *ConversationHandler) Delete(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	if err := h.svc.DeleteConversation(c.Request().Context(), c.Param("id"), uid); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ConversationHandler) ListMessages(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	take := int64(50)
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 || n > 200 {
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid limit"))
		}
		take = n
	}
	msgs, err := h.svc.ListMessages(c.Request().Context(), c.Param("id"), uid, c.QueryParam("cursor"), take)
	if err != nil {
		return writeError(c, err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	var next string
	if int64(len(msgs)) == take {
		next = msgs[len(msgs)-1].ID
	}
	return c.JSON(http.StatusOK, map[string]any{
		"messages":   msgs,
		"nextCursor": next,
	})
}

func (h *ConversationHandler) CreateMessage(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	msg, err := h.svc.SendMessage(c.Request().Context(), service.SendMessageInput{
		ConversationID: c.Param("id"),
		SenderID:       uid,
		Content:        req.Content,
		Type:           model.MessageType(req.Type),
		Metadata:       req.Metadata,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *ConversationHandler) EditMessage(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	msg, err := h.svc.EditMessage(c.Request().Context(), c.Param("msgId"), uid, req.Content)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

func (h *ConversationHandler) DeleteMessage(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	if err := h.svc.DeleteMessage(c.Request().Context(), c.Param("msgId"), uid); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ConversationHandler) MarkRead(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	n, err := h.svc.MarkRead(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"marked": n})
}

func (h *ConversationHandler) UnreadCount(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"unreadCount": n})
}

func (h *ConversationHandler) MarkDelivered(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	st, err := h.svc.MarkDelivered(c.Request().Context(), c.Param("msgId"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *ConversationHandler) React(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	var req ReactionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid json"))
	}
	r, err := h.svc.React(c.Request().Context(), c.Param("msgId"), uid, req.Emoji)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *ConversationHandler) Unreact(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	if err := h.svc.Unreact(c.Request().Context(), c.Param("msgId"), uid, c.QueryParam("emoji")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ConversationHandler) GetThread(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	th, err := h.svc.GetThread(c.Request().Context(), c.Param("msgId"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, th)
}
