package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/shinyyama/messaging-backend/internal/model"
	"github.com/shinyyama/messaging-backend/internal/push"
	"github.com/shinyyama/messaging-backend/internal/repository"
)

type NotificationService interface {
	Notify(ctx context.Context, in NotifyInput) (*model.Notification, error)
	List(ctx context.Context, uid string, unreadOnly bool, cursor string, limit int64) ([]model.Notification, int64, error)
	MarkRead(ctx context.Context, uid, id string) (*model.Notification, error)
	MarkAllRead(ctx context.Context, uid string) (int64, error)
	PurgeExpired(ctx context.Context, limit int64) (int64, error)
	CountByType(ctx context.Context, uid string) ([]repository.Record, error)

	Settings(ctx context.Context, uid string) (*model.NotificationSettings, error)
	UpdateSettings(ctx context.Context, uid string, patch map[string]any) (*model.NotificationSettings, error)
	RegisterPushToken(ctx context.Context, uid, token string) (*model.NotificationSettings, error)
	RemovePushToken(ctx context.Context, uid, token string) (*model.NotificationSettings, error)
}

type NotifyInput struct {
	UserID    string
	Type      model.NotificationType
	Title     string
	Message   string
	Data      map[string]any
	ActionURL string
	ExpiresAt *time.Time
}

type notificationService struct {
	repo   repository.NotificationRepository
	pusher *push.Dispatcher
	now    func() time.Time
}

// NewNotificationService builds the service. pusher may be nil, in which case
// notifications are stored but not pushed.
func NewNotificationService(repo repository.NotificationRepository, pusher *push.Dispatcher) NotificationService {
	return &notificationService{repo: repo, pusher: pusher, now: time.Now}
}

// Notify stores a notification unless the user's settings turn its type off,
// in which case it returns nil without error. Push delivery is best-effort.
func (s *notificationService) Notify(ctx context.Context, in NotifyInput) (*model.Notification, error) {
	if in.UserID == "" || in.Type == "" {
		return nil, invalidf("userId and type are required")
	}
	settings, err := s.repo.Settings(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if !settings.Allows(in.Type) {
		return nil, nil
	}
	data := repository.Data{
		"userId":  in.UserID,
		"type":    string(in.Type),
		"title":   in.Title,
		"message": in.Message,
	}
	if in.Data != nil {
		data["data"] = in.Data
	}
	if in.ActionURL != "" {
		data["actionUrl"] = in.ActionURL
	}
	if in.ExpiresAt != nil {
		data["expiresAt"] = *in.ExpiresAt
	}
	n, err := s.repo.Create(ctx, data)
	if err != nil {
		return nil, err
	}
	s.push(ctx, settings, n)
	return n, nil
}

func (s *notificationService) push(ctx context.Context, settings *model.NotificationSettings, n *model.Notification) {
	if s.pusher == nil {
		return
	}
	msg := push.Message{
		Title: n.Title,
		Body:  n.Message,
		Data:  map[string]string{"notificationId": n.ID, "type": string(n.Type)},
	}
	if n.ActionURL != nil {
		msg.Link = *n.ActionURL
	}
	stale, err := s.pusher.Deliver(ctx, settings, msg)
	if err != nil {
		log.Printf("[push] user=%s notification=%s err=%v", n.UserID, n.ID, err)
	}
	if len(stale) == 0 {
		return
	}
	if _, err := s.repo.SetPushTokens(ctx, settings.UserID, without(settings.PushTokens, stale...)); err != nil {
		log.Printf("[push] user=%s prune tokens err=%v", n.UserID, err)
	}
}

func (s *notificationService) List(ctx context.Context, uid string, unreadOnly bool, cursor string, limit int64) ([]model.Notification, int64, error) {
	if uid == "" {
		return nil, 0, nil
	}
	list, err := s.repo.ListByUser(ctx, uid, unreadOnly, cursor, limit)
	if err != nil {
		return nil, 0, notFound(err)
	}
	cnt, err := s.repo.CountUnread(ctx, uid, s.now())
	if err != nil {
		return list, 0, err
	}
	return list, cnt, nil
}

func (s *notificationService) MarkRead(ctx context.Context, uid, id string) (*model.Notification, error) {
	n, err := s.repo.MarkRead(ctx, uid, id)
	return n, notFound(err)
}

func (s *notificationService) MarkAllRead(ctx context.Context, uid string) (int64, error) {
	if uid == "" {
		return 0, nil
	}
	return s.repo.MarkAllRead(ctx, uid)
}

func (s *notificationService) PurgeExpired(ctx context.Context, limit int64) (int64, error) {
	if limit < 0 {
		return 0, invalidf("limit must not be negative")
	}
	return s.repo.PurgeExpired(ctx, s.now(), limit)
}

func (s *notificationService) CountByType(ctx context.Context, uid string) ([]repository.Record, error) {
	return s.repo.CountByType(ctx, uid)
}

func (s *notificationService) Settings(ctx context.Context, uid string) (*model.NotificationSettings, error) {
	return s.repo.Settings(ctx, uid)
}

var settingsToggles = map[string]bool{
	"emailNotifications":  true,
	"pushNotifications":   true,
	"friendRequests":      true,
	"messages":            true,
	"orderUpdates":        true,
	"pantryExpiry":        true,
	"recipeShares":        true,
	"boxAvailable":        true,
	"systemAnnouncements": true,
	"quietHoursEnabled":   true,
}

// UpdateSettings applies a partial settings change. Only user-editable keys
// are accepted; quiet hours must be "HH:MM" and timezone an IANA name.
func (s *notificationService) UpdateSettings(ctx context.Context, uid string, patch map[string]any) (*model.NotificationSettings, error) {
	data := repository.Data{}
	for k, v := range patch {
		switch {
		case settingsToggles[k]:
			b, ok := v.(bool)
			if !ok {
				return nil, invalidf("%s must be a boolean", k)
			}
			data[k] = b
		case k == "emailFrequency":
			f, _ := v.(string)
			switch f {
			case model.EmailFrequencyImmediate, model.EmailFrequencyDaily, model.EmailFrequencyWeekly, model.EmailFrequencyNever:
				data[k] = f
			default:
				return nil, invalidf("emailFrequency must be immediate, daily, weekly or never")
			}
		case k == "quietHoursStart" || k == "quietHoursEnd":
			if v == nil {
				data[k] = repository.Unset()
				continue
			}
			c, _ := v.(string)
			if _, err := push.ParseClock(c); err != nil {
				return nil, invalidf("%s: %v", k, err)
			}
			data[k] = c
		case k == "timezone":
			tz, _ := v.(string)
			if _, err := time.LoadLocation(tz); err != nil || tz == "" {
				return nil, invalidf("unknown timezone %q", tz)
			}
			data[k] = tz
		default:
			return nil, invalidf("%s cannot be changed", k)
		}
	}
	return s.repo.UpdateSettings(ctx, uid, data)
}

func (s *notificationService) RegisterPushToken(ctx context.Context, uid, token string) (*model.NotificationSettings, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 4096 {
		return nil, invalidf("invalid push token")
	}
	return s.repo.AddPushToken(ctx, uid, token)
}

func (s *notificationService) RemovePushToken(ctx context.Context, uid, token string) (*model.NotificationSettings, error) {
	settings, err := s.repo.Settings(ctx, uid)
	if err != nil {
		return nil, err
	}
	return s.repo.SetPushTokens(ctx, uid, without(settings.PushTokens, token))
}

func without(list []string, drop ...string) []string {
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if !skip[v] {
			out = append(out, v)
		}
	}
	return out
}
