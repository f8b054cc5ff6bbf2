package repository

import (
	"context"
	"time"

	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/query"
)

type MessageRepository interface {
	Create(ctx context.Context, data Data) (*model.Message, error)
	FindByID(ctx context.Context, id string, include map[string]*FindArgs) (*model.Message, error)
	ListByConversation(ctx context.Context, convID, cursor string, take int64) ([]model.Message, error)
	Edit(ctx context.Context, id, content string, at time.Time) (*model.Message, error)
	Delete(ctx context.Context, id string) (*model.Message, error)
	DeleteByConversation(ctx context.Context, convID string) (int64, error)
	IDsByConversation(ctx context.Context, convID string) ([]string, error)
	CountUnread(ctx context.Context, convID, uid string) (int64, error)
	UnreadIDs(ctx context.Context, convID, uid string) ([]string, error)

	UpsertStatus(ctx context.Context, messageID, uid string, status model.MessageStatusType, at time.Time) (*model.MessageStatusRecord, error)
	CreateStatuses(ctx context.Context, messageID string, uids []string, status model.MessageStatusType) error
	FindStatus(ctx context.Context, messageID, uid string) (*model.MessageStatusRecord, error)
	React(ctx context.Context, messageID, uid, emoji string) (*model.MessageReaction, error)
	Unreact(ctx context.Context, messageID, uid, emoji string) error
	DeleteDependents(ctx context.Context, messageIDs []string) error

	BumpThread(ctx context.Context, originalID, uid string, at time.Time) (*model.MessageThread, error)
	DecrementThread(ctx context.Context, originalID string) error
	FindThread(ctx context.Context, originalID string) (*model.MessageThread, error)
}

type messageRepository struct {
	messages  *Repository[model.Message]
	statuses  *Repository[model.MessageStatusRecord]
	reactions *Repository[model.MessageReaction]
	threads   *Repository[model.MessageThread]
}

func NewMessageRepository(c *Client) MessageRepository {
	return &messageRepository{
		messages:  MustFor[model.Message](c, model.ModelMessage),
		statuses:  MustFor[model.MessageStatusRecord](c, model.ModelMessageStatusRecord),
		reactions: MustFor[model.MessageReaction](c, model.ModelMessageReaction),
		threads:   MustFor[model.MessageThread](c, model.ModelMessageThread),
	}
}

func (r *messageRepository) Create(ctx context.Context, data Data) (*model.Message, error) {
	return r.messages.Create(ctx, CreateArgs{Data: data})
}

func (r *messageRepository) FindByID(ctx context.Context, id string, include map[string]*FindArgs) (*model.Message, error) {
	return r.messages.FindUniqueOrThrow(ctx, UniqueArgs{Where: query.Eq("id", id), Include: include})
}

// ListByConversation pages newest first. Passing the id of the last message
// of a page as cursor returns the next, older page.
func (r *messageRepository) ListByConversation(ctx context.Context, convID, cursor string, take int64) ([]model.Message, error) {
	if take <= 0 || take > 100 {
		take = 30
	}
	args := FindArgs{
		Where:   query.Eq("conversationId", convID),
		OrderBy: []query.Order{query.DescBy("createdAt"), query.DescBy("id")},
		Take:    take,
		Include: map[string]*FindArgs{
			"replyTo":   nil,
			"reactions": {OrderBy: []query.Order{query.AscBy("createdAt")}},
			"status":    nil,
		},
	}
	if cursor != "" {
		args.Cursor = cursor
		args.Skip = 1
	}
	return r.messages.FindMany(ctx, args)
}

func (r *messageRepository) Edit(ctx context.Context, id, content string, at time.Time) (*model.Message, error) {
	return r.messages.Update(ctx, UpdateArgs{
		Where: query.Eq("id", id),
		Data:  Data{"content": content, "isEdited": true, "editedAt": at},
	})
}

func (r *messageRepository) Delete(ctx context.Context, id string) (*model.Message, error) {
	return r.messages.Delete(ctx, UniqueArgs{Where: query.Eq("id", id)})
}

func (r *messageRepository) DeleteByConversation(ctx context.Context, convID string) (int64, error) {
	res, err := r.messages.DeleteMany(ctx, ManyArgs{Where: query.Eq("conversationId", convID)})
	return res.Count, err
}

func (r *messageRepository) IDsByConversation(ctx context.Context, convID string) ([]string, error) {
	msgs, err := r.messages.FindMany(ctx, FindArgs{
		Where:  query.Eq("conversationId", convID),
		Select: []string{"id"},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids, nil
}

// CountUnread counts messages in a conversation from other senders that uid
// has no READ receipt for.
func (r *messageRepository) CountUnread(ctx context.Context, convID, uid string) (int64, error) {
	return r.messages.Count(ctx, CountArgs{Where: unreadWhere(convID, uid)})
}

func (r *messageRepository) UnreadIDs(ctx context.Context, convID, uid string) ([]string, error) {
	msgs, err := r.messages.FindMany(ctx, FindArgs{
		Where:  unreadWhere(convID, uid),
		Select: []string{"id"},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids, nil
}

func unreadWhere(convID, uid string) query.Predicate {
	return query.And{
		query.Eq("conversationId", convID),
		query.Ne("senderId", uid),
		query.NoneOf("status", query.And{
			query.Eq("userId", uid),
			query.Eq("status", string(model.MessageStatusRead)),
		}),
	}
}

// UpsertStatus records a receipt. A receipt never moves back, so a READ
// receipt is kept when DELIVERED arrives late.
func (r *messageRepository) UpsertStatus(ctx context.Context, messageID, uid string, status model.MessageStatusType, at time.Time) (*model.MessageStatusRecord, error) {
	where := query.And{query.Eq("messageId", messageID), query.Eq("userId", uid)}
	cur, err := r.statuses.FindUnique(ctx, UniqueArgs{Where: where})
	if err != nil {
		return nil, err
	}
	if cur != nil && cur.Status.Rank() >= status.Rank() {
		return cur, nil
	}
	return r.statuses.Upsert(ctx, UpsertArgs{
		Where:  where,
		Create: Data{"messageId": messageID, "userId": uid, "status": string(status), "timestamp": at},
		Update: Data{"status": string(status), "timestamp": at},
	})
}

func (r *messageRepository) CreateStatuses(ctx context.Context, messageID string, uids []string, status model.MessageStatusType) error {
	if len(uids) == 0 {
		return nil
	}
	data := make([]Data, len(uids))
	for i, uid := range uids {
		data[i] = Data{"messageId": messageID, "userId": uid, "status": string(status)}
	}
	_, err := r.statuses.CreateMany(ctx, data)
	return err
}

func (r *messageRepository) FindStatus(ctx context.Context, messageID, uid string) (*model.MessageStatusRecord, error) {
	return r.statuses.FindUnique(ctx, UniqueArgs{Where: query.And{query.Eq("messageId", messageID), query.Eq("userId", uid)}})
}

func (r *messageRepository) React(ctx context.Context, messageID, uid, emoji string) (*model.MessageReaction, error) {
	return r.reactions.Upsert(ctx, UpsertArgs{
		Where: query.And{
			query.Eq("messageId", messageID),
			query.Eq("userId", uid),
			query.Eq("emoji", emoji),
		},
		Create: Data{"messageId": messageID, "userId": uid, "emoji": emoji},
		Update: Data{},
	})
}

func (r *messageRepository) Unreact(ctx context.Context, messageID, uid, emoji string) error {
	_, err := r.reactions.Delete(ctx, UniqueArgs{Where: query.And{
		query.Eq("messageId", messageID),
		query.Eq("userId", uid),
		query.Eq("emoji", emoji),
	}})
	return err
}

func (r *messageRepository) DeleteDependents(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if _, err := r.reactions.DeleteMany(ctx, ManyArgs{Where: query.In("messageId", messageIDs)}); err != nil {
		return err
	}
	if _, err := r.statuses.DeleteMany(ctx, ManyArgs{Where: query.In("messageId", messageIDs)}); err != nil {
		return err
	}
	_, err := r.threads.DeleteMany(ctx, ManyArgs{Where: query.In("originalMessageId", messageIDs)})
	return err
}

// BumpThread counts one more reply under originalID and adds uid to the
// thread's participants.
func (r *messageRepository) BumpThread(ctx context.Context, originalID, uid string, at time.Time) (*model.MessageThread, error) {
	where := query.Eq("originalMessageId", originalID)
	th, err := r.threads.Upsert(ctx, UpsertArgs{
		Where:  where,
		Create: Data{"originalMessageId": originalID, "participants": []any{uid}, "messageCount": 1, "lastActivity": at},
		Update: Data{"messageCount": Increment(1), "lastActivity": at},
	})
	if err != nil {
		return nil, err
	}
	for _, p := range th.Participants {
		if p == uid {
			return th, nil
		}
	}
	return r.threads.Update(ctx, UpdateArgs{Where: where, Data: Data{"participants": Push(uid)}})
}

func (r *messageRepository) DecrementThread(ctx context.Context, originalID string) error {
	_, err := r.threads.UpdateMany(ctx, ManyArgs{
		Where: query.And{query.Eq("originalMessageId", originalID), query.Gt("messageCount", 0)},
		Data:  Data{"messageCount": Decrement(1)},
	})
	return err
}

func (r *messageRepository) FindThread(ctx context.Context, originalID string) (*model.MessageThread, error) {
	return r.threads.FindUnique(ctx, UniqueArgs{Where: query.Eq("originalMessageId", originalID)})
}
