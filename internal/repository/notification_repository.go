package repository

import (
	"context"
	"time"

	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/query"
)

type NotificationRepository interface {
	Create(ctx context.Context, data Data) (*model.Notification, error)
	ListByUser(ctx context.Context, uid string, unreadOnly bool, cursor string, limit int64) ([]model.Notification, error)
	MarkRead(ctx context.Context, uid, id string) (*model.Notification, error)
	MarkAllRead(ctx context.Context, uid string) (int64, error)
	CountUnread(ctx context.Context, uid string, now time.Time) (int64, error)
	CountByType(ctx context.Context, uid string) ([]Record, error)
	PurgeExpired(ctx context.Context, now time.Time, limit int64) (int64, error)

	Settings(ctx context.Context, uid string) (*model.NotificationSettings, error)
	UpdateSettings(ctx context.Context, uid string, data Data) (*model.NotificationSettings, error)
	AddPushToken(ctx context.Context, uid, token string) (*model.NotificationSettings, error)
	SetPushTokens(ctx context.Context, uid string, tokens []string) (*model.NotificationSettings, error)
}

type notificationRepository struct {
	notifications *Repository[model.Notification]
	settings      *Repository[model.NotificationSettings]
}

func NewNotificationRepository(c *Client) NotificationRepository {
	return &notificationRepository{
		notifications: MustFor[model.Notification](c, model.ModelNotification),
		settings:      MustFor[model.NotificationSettings](c, model.ModelNotificationSettings),
	}
}

func (r *notificationRepository) Create(ctx context.Context, data Data) (*model.Notification, error) {
	return r.notifications.Create(ctx, CreateArgs{Data: data})
}

func (r *notificationRepository) ListByUser(ctx context.Context, uid string, unreadOnly bool, cursor string, limit int64) ([]model.Notification, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	where := query.And{query.Eq("userId", uid)}
	if unreadOnly {
		where = append(where, query.Eq("isRead", false))
	}
	args := FindArgs{
		Where:   where,
		OrderBy: []query.Order{query.DescBy("createdAt"), query.DescBy("id")},
		Take:    limit,
	}
	if cursor != "" {
		args.Cursor, args.Skip = cursor, 1
	}
	return r.notifications.FindMany(ctx, args)
}

// MarkRead marks one of uid's notifications read. A notification owned by
// someone else is reported as not found.
func (r *notificationRepository) MarkRead(ctx context.Context, uid, id string) (*model.Notification, error) {
	n, err := r.notifications.FindUniqueOrThrow(ctx, UniqueArgs{Where: query.Eq("id", id)})
	if err != nil {
		return nil, err
	}
	if n.UserID != uid {
		return nil, ErrRecordNotFound
	}
	return r.notifications.Update(ctx, UpdateArgs{Where: query.Eq("id", id), Data: Data{"isRead": true}})
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, uid string) (int64, error) {
	res, err := r.notifications.UpdateMany(ctx, ManyArgs{
		Where: query.And{query.Eq("userId", uid), query.Eq("isRead", false)},
		Data:  Data{"isRead": true},
	})
	return res.Count, err
}

func (r *notificationRepository) CountUnread(ctx context.Context, uid string, now time.Time) (int64, error) {
	return r.notifications.Count(ctx, CountArgs{Where: query.And{
		query.Eq("userId", uid),
		query.Eq("isRead", false),
		query.Or{query.Eq("expiresAt", nil), query.Gt("expiresAt", now)},
	}})
}

func (r *notificationRepository) CountByType(ctx context.Context, uid string) ([]Record, error) {
	return r.notifications.GroupBy(ctx, GroupByArgs{
		By:         []string{"type"},
		Where:      query.Eq("userId", uid),
		OrderBy:    []query.Order{query.DescBy("_count._all")},
		Aggregates: Aggregates{Count: []string{"_all"}, Max: []string{"createdAt"}},
	})
}

// PurgeExpired deletes at most limit expired notifications, oldest ids first.
func (r *notificationRepository) PurgeExpired(ctx context.Context, now time.Time, limit int64) (int64, error) {
	res, err := r.notifications.DeleteMany(ctx, ManyArgs{
		Where: query.Lte("expiresAt", now),
		Limit: limit,
	})
	return res.Count, err
}

// Settings returns uid's settings, creating the defaults on first access.
func (r *notificationRepository) Settings(ctx context.Context, uid string) (*model.NotificationSettings, error) {
	return r.settings.Upsert(ctx, UpsertArgs{
		Where:  query.Eq("userId", uid),
		Create: Data{"userId": uid},
		Update: Data{},
	})
}

func (r *notificationRepository) UpdateSettings(ctx context.Context, uid string, data Data) (*model.NotificationSettings, error) {
	create := Data{"userId": uid}
	for k, v := range data {
		if _, isOp := v.(map[string]any); !isOp {
			create[k] = v
		}
	}
	return r.settings.Upsert(ctx, UpsertArgs{
		Where:  query.Eq("userId", uid),
		Create: create,
		Update: data,
	})
}

func (r *notificationRepository) AddPushToken(ctx context.Context, uid, token string) (*model.NotificationSettings, error) {
	s, err := r.Settings(ctx, uid)
	if err != nil {
		return nil, err
	}
	for _, t := range s.PushTokens {
		if t == token {
			return s, nil
		}
	}
	return r.settings.Update(ctx, UpdateArgs{Where: query.Eq("userId", uid), Data: Data{"pushTokens": Push(token)}})
}

func (r *notificationRepository) SetPushTokens(ctx context.Context, uid string, tokens []string) (*model.NotificationSettings, error) {
	if tokens == nil {
		tokens = []string{}
	}
	return r.settings.Update(ctx, UpdateArgs{Where: query.Eq("userId", uid), Data: Data{"pushTokens": Set(tokens)}})
}
