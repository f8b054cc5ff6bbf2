package repository

import (
	"context"
	"time"

	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/query"
)

type PresenceRepository interface {
	Upsert(ctx context.Context, uid string, online bool, device *string, at time.Time) (*model.UserPresence, error)
	Find(ctx context.Context, uid string) (*model.UserPresence, error)
	FindMany(ctx context.Context, uids []string) ([]model.UserPresence, error)
	SetTyping(ctx context.Context, convID, uid string, typing bool, at time.Time) (*model.TypingIndicator, error)
	ActiveTypers(ctx context.Context, convID string, since time.Time) ([]model.TypingIndicator, error)
	DeleteTyping(ctx context.Context, convID string) (int64, error)
}

type presenceRepository struct {
	presence *Repository[model.UserPresence]
	typing   *Repository[model.TypingIndicator]
}

func NewPresenceRepository(c *Client) PresenceRepository {
	return &presenceRepository{
		presence: MustFor[model.UserPresence](c, model.ModelUserPresence),
		typing:   MustFor[model.TypingIndicator](c, model.ModelTypingIndicator),
	}
}

func (r *presenceRepository) Upsert(ctx context.Context, uid string, online bool, device *string, at time.Time) (*model.UserPresence, error) {
	create := Data{"userId": uid, "isOnline": online, "lastSeen": at}
	update := Data{"isOnline": online, "lastSeen": at}
	if device != nil {
		create["currentDevice"] = *device
		update["currentDevice"] = *device
	} else if !online {
		update["currentDevice"] = Unset()
	}
	return r.presence.Upsert(ctx, UpsertArgs{
		Where:  query.Eq("userId", uid),
		Create: create,
		Update: update,
	})
}

func (r *presenceRepository) Find(ctx context.Context, uid string) (*model.UserPresence, error) {
	return r.presence.FindUnique(ctx, UniqueArgs{Where: query.Eq("userId", uid)})
}

func (r *presenceRepository) FindMany(ctx context.Context, uids []string) ([]model.UserPresence, error) {
	return r.presence.FindMany(ctx, FindArgs{
		Where:   query.In("userId", uids),
		OrderBy: []query.Order{query.AscBy("userId")},
	})
}

func (r *presenceRepository) SetTyping(ctx context.Context, convID, uid string, typing bool, at time.Time) (*model.TypingIndicator, error) {
	return r.typing.Upsert(ctx, UpsertArgs{
		Where:  query.And{query.Eq("conversationId", convID), query.Eq("userId", uid)},
		Create: Data{"conversationId": convID, "userId": uid, "isTyping": typing, "lastTyping": at},
		Update: Data{"isTyping": typing, "lastTyping": at},
	})
}

func (r *presenceRepository) ActiveTypers(ctx context.Context, convID string, since time.Time) ([]model.TypingIndicator, error) {
	return r.typing.FindMany(ctx, FindArgs{
		Where: query.And{
			query.Eq("conversationId", convID),
			query.Eq("isTyping", true),
			query.Gte("lastTyping", since),
		},
		OrderBy: []query.Order{query.DescBy("lastTyping")},
	})
}

func (r *presenceRepository) DeleteTyping(ctx context.Context, convID string) (int64, error) {
	res, err := r.typing.DeleteMany(ctx, ManyArgs{Where: query.Eq("conversationId", convID)})
	return res.Count, err
}
