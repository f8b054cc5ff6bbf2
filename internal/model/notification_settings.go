package model

import "time"

const (
	EmailFrequencyImmediate = "immediate"
	EmailFrequencyDaily     = "daily"
	EmailFrequencyWeekly    = "weekly"
	EmailFrequencyNever     = "never"
)

type NotificationSettings struct {
	ID                  string    `bson:"_id" json:"id"`
	UserID              string    `bson:"userId" json:"userId"`
	EmailNotifications  bool      `bson:"emailNotifications" json:"emailNotifications"`
	PushNotifications   bool      `bson:"pushNotifications" json:"pushNotifications"`
	FriendRequests      bool      `bson:"friendRequests" json:"friendRequests"`
	Messages            bool      `bson:"messages" json:"messages"`
	OrderUpdates        bool      `bson:"orderUpdates" json:"orderUpdates"`
	PantryExpiry        bool      `bson:"pantryExpiry" json:"pantryExpiry"`
	RecipeShares        bool      `bson:"recipeShares" json:"recipeShares"`
	BoxAvailable        bool      `bson:"boxAvailable" json:"boxAvailable"`
	SystemAnnouncements bool      `bson:"systemAnnouncements" json:"systemAnnouncements"`
	PushTokens          []string  `bson:"pushTokens" json:"pushTokens"`
	EmailFrequency      string    `bson:"emailFrequency" json:"emailFrequency"`
	QuietHoursEnabled   bool      `bson:"quietHoursEnabled" json:"quietHoursEnabled"`
	QuietHoursStart     *string   `bson:"quietHoursStart,omitempty" json:"quietHoursStart,omitempty"`
	QuietHoursEnd       *string   `bson:"quietHoursEnd,omitempty" json:"quietHoursEnd,omitempty"`
	Timezone            string    `bson:"timezone" json:"timezone"`
	CreatedAt           time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (NotificationSettings) CollectionName() string {
	return "notification_settings"
}

// Allows reports whether the per-type toggle for t is on.
func (s *NotificationSettings) Allows(t NotificationType) bool {
	switch t {
	case NotificationTypeFriendRequest, NotificationTypeFriendAccepted:
		return s.FriendRequests
	case NotificationTypeMessageReceived:
		return s.Messages
	case NotificationTypeOrderStatusUpdate:
		return s.OrderUpdates
	case NotificationTypePantryExpiryWarning:
		return s.PantryExpiry
	case NotificationTypeRecipeShared:
		return s.RecipeShares
	case NotificationTypeBoxAvailable:
		return s.BoxAvailable
	case NotificationTypeSystemAnnouncement:
		return s.SystemAnnouncements
	}
	return false
}
