package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/repository"
)

type ConversationService interface {
	StartDirect(ctx context.Context, uid, peer string) (*model.Conversation, error)
	CreateGroup(ctx context.Context, uid, name string, members []string) (*model.Conversation, error)
	ListByUser(ctx context.Context, uid string) ([]ConversationSummary, error)
	Get(ctx context.Context, convID, uid string) (*model.Conversation, error)
	AddParticipants(ctx context.Context, convID, uid string, uids []string) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, convID, uid string) error
	SharesConversation(ctx context.Context, uid, other string) (bool, error)

	SendMessage(ctx context.Context, in SendMessageInput) (*model.Message, error)
	ListMessages(ctx context.Context, convID, uid, cursor string, take int64) ([]model.Message, error)
	EditMessage(ctx context.Context, msgID, uid, content string) (*model.Message, error)
	DeleteMessage(ctx context.Context, msgID, uid string) error
	MarkRead(ctx context.Context, convID, uid string) (int, error)
	MarkDelivered(ctx context.Context, msgID, uid string) (*model.MessageStatusRecord, error)
	React(ctx context.Context, msgID, uid, emoji string) (*model.MessageReaction, error)
	Unreact(ctx context.Context, msgID, uid, emoji string) error
	UnreadCount(ctx context.Context, convID, uid string) (int64, error)
	GetThread(ctx context.Context, msgID, uid string) (*Thread, error)
}

type ConversationSummary struct {
	model.Conversation
	UnreadCount int64 `json:"unreadCount"`
}

type SendMessageInput struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           model.MessageType
	Metadata       map[string]any
	ReplyToID      string
}

type Thread struct {
	Message *model.Message       `json:"message"`
	Thread  *model.MessageThread `json:"thread"`
}

type conversationService struct {
	client   *repository.Client
	convRepo repository.ConversationRepository
	msgRepo  repository.MessageRepository
	presence repository.PresenceRepository
	notifier NotificationService
	now      func() time.Time
}

func NewConversationService(client *repository.Client, convRepo repository.ConversationRepository, msgRepo repository.MessageRepository, presence repository.PresenceRepository, notifier NotificationService) ConversationService {
	return &conversationService{
		client:   client,
		convRepo: convRepo,
		msgRepo:  msgRepo,
		presence: presence,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *conversationService) StartDirect(ctx context.Context, uid, peer string) (*model.Conversation, error) {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return nil, invalidf("peer is required")
	}
	if peer == uid {
		return nil, invalidf("cannot start a conversation with yourself")
	}
	var cv *model.Conversation
	err := s.client.Transaction(ctx, func(ctx context.Context) error {
		found, err := s.convRepo.FindDirect(ctx, uid, peer)
		if err != nil {
			return err
		}
		if found != nil {
			cv = found
			return nil
		}
		cv, err = s.convRepo.Create(ctx, repository.Data{
			"type":         string(model.ConversationTypeDirect),
			"participants": []string{uid, peer},
			"createdBy":    uid,
		})
		return err
	})
	return cv, err
}

func (s *conversationService) CreateGroup(ctx context.Context, uid, name string, members []string) (*model.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return nil, invalidf("invalid group name")
	}
	participants := uniqueStrings(append([]string{uid}, members...))
	if len(participants) < 2 {
		return nil, invalidf("a group needs at least one other member")
	}
	return s.convRepo.Create(ctx, repository.Data{
		"type":         string(model.ConversationTypeGroup),
		"participants": participants,
		"name":         name,
		"createdBy":    uid,
	})
}

func (s *conversationService) ListByUser(ctx context.Context, uid string) ([]ConversationSummary, error) {
	convs, err := s.convRepo.FindByUser(ctx, uid, 50)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(convs))
	for _, cv := range convs {
		n, err := s.msgRepo.CountUnread(ctx, cv.ID, uid)
		if err != nil {
			return nil, err
		}
		out = append(out, ConversationSummary{Conversation: cv, UnreadCount: n})
	}
	return out, nil
}

func (s *conversationService) Get(ctx context.Context, convID, uid string) (*model.Conversation, error) {
	cv, err := s.convRepo.FindByID(ctx, convID)
	if err != nil {
		return nil, notFound(err)
	}
	if !cv.HasParticipant(uid) {
		return nil, ErrForbidden
	}
	return cv, nil
}

func (s *conversationService) SharesConversation(ctx context.Context, uid, other string) (bool, error) {
	if uid == other {
		return true, nil
	}
	return s.convRepo.Shared(ctx, uid, other)
}

func (s *conversationService) AddParticipants(ctx context.Context, convID, uid string, uids []string) (*model.Conversation, error) {
	cv, err := s.Get(ctx, convID, uid)
	if err != nil {
		return nil, err
	}
	if cv.Type != model.ConversationTypeGroup {
		return nil, invalidf("participants can only be added to group conversations")
	}
	var add []string
	for _, u := range uniqueStrings(uids) {
		if !cv.HasParticipant(u) {
			add = append(add, u)
		}
	}
	if len(add) == 0 {
		return cv, nil
	}
	cv, err = s.convRepo.AddParticipants(ctx, convID, add)
	return cv, notFound(err)
}

// DeleteConversation removes a conversation and everything that hangs off
// it: messages, their reactions and receipts, threads and typing state.
func (s *conversationService) DeleteConversation(ctx context.Context, convID, uid string) error {
	cv, err := s.Get(ctx, convID, uid)
	if err != nil {
		return err
	}
	if cv.Type == model.ConversationTypeGroup && cv.CreatedBy != uid {
		return ErrForbidden
	}
	return s.client.Transaction(ctx, func(ctx context.Context) error {
		ids, err := s.msgRepo.IDsByConversation(ctx, convID)
		if err != nil {
			return err
		}
		if err := s.msgRepo.DeleteDependents(ctx, ids); err != nil {
			return err
		}
		if _, err := s.msgRepo.DeleteByConversation(ctx, convID); err != nil {
			return err
		}
		if _, err := s.presence.DeleteTyping(ctx, convID); err != nil {
			return err
		}
		return notFound(s.convRepo.Delete(ctx, convID))
	})
}

// SendMessage stores a message with SENT receipts for the other participants,
// updates the conversation preview and the reply thread, then notifies the
// recipients.
func (s *conversationService) SendMessage(ctx context.Context, in SendMessageInput) (*model.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return nil, invalidf("content is required")
	}
	if in.Type == "" {
		in.Type = model.MessageTypeText
	}
	var (
		msg        *model.Message
		recipients []string
	)
	err := s.client.Transaction(ctx, func(ctx context.Context) error {
		cv, err := s.Get(ctx, in.ConversationID, in.SenderID)
		if err != nil {
			return err
		}
		if !cv.IsActive {
			return invalidf("conversation is closed")
		}
		data := repository.Data{
			"conversationId": cv.ID,
			"senderId":       in.SenderID,
			"content":        in.Content,
			"type":           string(in.Type),
		}
		if in.Metadata != nil {
			data["metadata"] = in.Metadata
		}
		if in.ReplyToID != "" {
			parent, err := s.msgRepo.FindByID(ctx, in.ReplyToID, nil)
			if err != nil {
				return notFound(err)
			}
			if parent.ConversationID != cv.ID {
				return invalidf("reply target belongs to another conversation")
			}
			data["replyToId"] = parent.ID
		}
		msg, err = s.msgRepo.Create(ctx, data)
		if err != nil {
			return err
		}
		recipients = recipients[:0]
		for _, p := range cv.Participants {
			if p != in.SenderID {
				recipients = append(recipients, p)
			}
		}
		if err := s.msgRepo.CreateStatuses(ctx, msg.ID, recipients, model.MessageStatusSent); err != nil {
			return err
		}
		preview := map[string]any{
			"id":        msg.ID,
			"senderId":  msg.SenderID,
			"content":   msg.Content,
			"type":      string(msg.Type),
			"createdAt": msg.CreatedAt,
		}
		if err := s.convRepo.Touch(ctx, cv.ID, msg.CreatedAt, preview); err != nil {
			return err
		}
		if msg.ReplyToID != nil {
			if _, err := s.msgRepo.BumpThread(ctx, *msg.ReplyToID, in.SenderID, msg.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		for _, uid := range recipients {
			_, err := s.notifier.Notify(ctx, NotifyInput{
				UserID:  uid,
				Type:    model.NotificationTypeMessageReceived,
				Title:   "New message",
				Message: truncate(msg.Content, 100),
				Data:    map[string]any{"conversationId": msg.ConversationID, "messageId": msg.ID, "senderId": msg.SenderID},
			})
			if err != nil {
				log.Printf("[notify] user=%s message=%s err=%v", uid, msg.ID, err)
			}
		}
	}
	return msg, nil
}

func (s *conversationService) ListMessages(ctx context.Context, convID, uid, cursor string, take int64) ([]model.Message, error) {
	if _, err := s.Get(ctx, convID, uid); err != nil {
		return nil, err
	}
	msgs, err := s.msgRepo.ListByConversation(ctx, convID, cursor, take)
	if err != nil {
		return nil, notFound(err)
	}
	return msgs, nil
}

func (s *conversationService) EditMessage(ctx context.Context, msgID, uid, content string) (*model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalidf("content is required")
	}
	msg, err := s.msgRepo.FindByID(ctx, msgID, nil)
	if err != nil {
		return nil, notFound(err)
	}
	if msg.SenderID != uid {
		return nil, ErrForbidden
	}
	msg, err = s.msgRepo.Edit(ctx, msgID, content, s.now())
	return msg, notFound(err)
}

// DeleteMessage removes the sender's message with its reactions, receipts
// and thread. Replies stay and resolve replyTo to nothing.
func (s *conversationService) DeleteMessage(ctx context.Context, msgID, uid string) error {
	msg, err := s.msgRepo.FindByID(ctx, msgID, nil)
	if err != nil {
		return notFound(err)
	}
	if msg.SenderID != uid {
		return ErrForbidden
	}
	return s.client.Transaction(ctx, func(ctx context.Context) error {
		if err := s.msgRepo.DeleteDependents(ctx, []string{msgID}); err != nil {
			return err
		}
		if _, err := s.msgRepo.Delete(ctx, msgID); err != nil {
			return notFound(err)
		}
		if msg.ReplyToID != nil {
			return s.msgRepo.DecrementThread(ctx, *msg.ReplyToID)
		}
		return nil
	})
}

// MarkRead records READ receipts for every unread message in the
// conversation and returns how many were marked.
func (s *conversationService) MarkRead(ctx context.Context, convID, uid string) (int, error) {
	if _, err := s.Get(ctx, convID, uid); err != nil {
		return 0, err
	}
	ids, err := s.msgRepo.UnreadIDs(ctx, convID, uid)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	at := s.now()
	err = s.client.Transaction(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			if _, err := s.msgRepo.UpsertStatus(ctx, id, uid, model.MessageStatusRead, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *conversationService) MarkDelivered(ctx context.Context, msgID, uid string) (*model.MessageStatusRecord, error) {
	msg, err := s.messageForParticipant(ctx, msgID, uid)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == uid {
		return nil, invalidf("senders do not receive their own messages")
	}
	return s.msgRepo.UpsertStatus(ctx, msgID, uid, model.MessageStatusDelivered, s.now())
}

func (s *conversationService) React(ctx context.Context, msgID, uid, emoji string) (*model.MessageReaction, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > 32 {
		return nil, invalidf("invalid emoji")
	}
	if _, err := s.messageForParticipant(ctx, msgID, uid); err != nil {
		return nil, err
	}
	return s.msgRepo.React(ctx, msgID, uid, emoji)
}

func (s *conversationService) Unreact(ctx context.Context, msgID, uid, emoji string) error {
	if _, err := s.messageForParticipant(ctx, msgID, uid); err != nil {
		return err
	}
	return notFound(s.msgRepo.Unreact(ctx, msgID, uid, emoji))
}

func (s *conversationService) UnreadCount(ctx context.Context, convID, uid string) (int64, error) {
	if _, err := s.Get(ctx, convID, uid); err != nil {
		return 0, err
	}
	return s.msgRepo.CountUnread(ctx, convID, uid)
}

func (s *conversationService) GetThread(ctx context.Context, msgID, uid string) (*Thread, error) {
	msg, err := s.messageForParticipant(ctx, msgID, uid)
	if err != nil {
		return nil, err
	}
	msg, err = s.msgRepo.FindByID(ctx, msgID, map[string]*repository.FindArgs{
		"replies":   {OrderBy: []query.Order{query.AscBy("createdAt")}},
		"reactions": nil,
	})
	if err != nil {
		return nil, notFound(err)
	}
	th, err := s.msgRepo.FindThread(ctx, msgID)
	if err != nil {
		return nil, err
	}
	return &Thread{Message: msg, Thread: th}, nil
}

func (s *conversationService) messageForParticipant(ctx context.Context, msgID, uid string) (*model.Message, error) {
	msg, err := s.msgRepo.FindByID(ctx, msgID, nil)
	if err != nil {
		return nil, notFound(err)
	}
	if _, err := s.Get(ctx, msg.ConversationID, uid); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return msg, nil
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
