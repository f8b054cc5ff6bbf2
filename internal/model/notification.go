package model

import "time"

type Notification struct {
	ID        string           `bson:"_id" json:"id"`
	UserID    string           `bson:"userId" json:"userId"`
	Type      NotificationType `bson:"type" json:"type"`
	Title     string           `bson:"title" json:"title"`
	Message   string           `bson:"message" json:"message"`
	Data      map[string]any   `bson:"data" json:"data"`
	IsRead    bool             `bson:"isRead" json:"isRead"`
	ActionURL *string          `bson:"actionUrl,omitempty" json:"actionUrl,omitempty"`
	CreatedAt time.Time        `bson:"createdAt" json:"createdAt"`
	ExpiresAt *time.Time       `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
}

func (Notification) CollectionName() string {
	return "notifications"
}
