package repository

import (
	"context"
	"time"

	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/query"
)

type ConversationRepository interface {
	FindDirect(ctx context.Context, a, b string) (*model.Conversation, error)
	Create(ctx context.Context, data Data) (*model.Conversation, error)
	FindByUser(ctx context.Context, uid string, take int64) ([]model.Conversation, error)
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	Shared(ctx context.Context, a, b string) (bool, error)
	AddParticipants(ctx context.Context, id string, uids []string) (*model.Conversation, error)
	Touch(ctx context.Context, id string, at time.Time, lastMessage map[string]any) error
	Delete(ctx context.Context, id string) error
}

type conversationRepository struct {
	conversations *Repository[model.Conversation]
}

func NewConversationRepository(c *Client) ConversationRepository {
	return &conversationRepository{conversations: MustFor[model.Conversation](c, model.ModelConversation)}
}

func (r *conversationRepository) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	return r.conversations.FindFirst(ctx, FindArgs{
		Where: query.And{
			query.Eq("type", string(model.ConversationTypeDirect)),
			query.HasEvery("participants", []string{a, b}),
			query.Eq("isActive", true),
		},
		OrderBy: []query.Order{query.AscBy("createdAt")},
	})
}

func (r *conversationRepository) Create(ctx context.Context, data Data) (*model.Conversation, error) {
	return r.conversations.Create(ctx, CreateArgs{Data: data})
}

func (r *conversationRepository) FindByUser(ctx context.Context, uid string, take int64) ([]model.Conversation, error) {
	if take <= 0 || take > 100 {
		take = 50
	}
	return r.conversations.FindMany(ctx, FindArgs{
		Where: query.And{
			query.Has("participants", uid),
			query.Eq("isActive", true),
		},
		OrderBy: []query.Order{query.DescBy("lastActivity")},
		Take:    take,
	})
}

// Shared reports whether a and b are both participants of an active
// conversation.
func (r *conversationRepository) Shared(ctx context.Context, a, b string) (bool, error) {
	n, err := r.conversations.Count(ctx, CountArgs{
		Where: query.And{
			query.HasEvery("participants", []string{a, b}),
			query.Eq("isActive", true),
		},
		Take: 1,
	})
	return n > 0, err
}

func (r *conversationRepository) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	return r.conversations.FindUniqueOrThrow(ctx, UniqueArgs{Where: query.Eq("id", id)})
}

func (r *conversationRepository) AddParticipants(ctx context.Context, id string, uids []string) (*model.Conversation, error) {
	vs := make([]any, len(uids))
	for i, u := range uids {
		vs[i] = u
	}
	return r.conversations.Update(ctx, UpdateArgs{
		Where: query.Eq("id", id),
		Data:  Data{"participants": Push(vs...)},
	})
}

func (r *conversationRepository) Touch(ctx context.Context, id string, at time.Time, lastMessage map[string]any) error {
	data := Data{"lastActivity": at}
	if lastMessage != nil {
		data["lastMessage"] = lastMessage
	}
	_, err := r.conversations.Update(ctx, UpdateArgs{Where: query.Eq("id", id), Data: data})
	return err
}

func (r *conversationRepository) Delete(ctx context.Context, id string) error {
	_, err := r.conversations.Delete(ctx, UniqueArgs{Where: query.Eq("id", id)})
	return err
}
