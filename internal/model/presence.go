package model

import "time"

type UserPresence struct {
	ID            string    `bson:"_id" json:"id"`
	UserID        string    `bson:"userId" json:"userId"`
	IsOnline      bool      `bson:"isOnline" json:"isOnline"`
	LastSeen      time.Time `bson:"lastSeen" json:"lastSeen"`
	Status        *string   `bson:"status,omitempty" json:"status,omitempty"`
	CurrentDevice *string   `bson:"currentDevice,omitempty" json:"currentDevice,omitempty"`
	UpdatedAt     time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (UserPresence) CollectionName() string {
	return "user_presence"
}

type TypingIndicator struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversationId" json:"conversationId"`
	UserID         string    `bson:"userId" json:"userId"`
	IsTyping       bool      `bson:"isTyping" json:"isTyping"`
	LastTyping     time.Time `bson:"lastTyping" json:"lastTyping"`
}

func (TypingIndicator) CollectionName() string {
	return "typing_indicators"
}
