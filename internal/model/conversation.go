package model

import "time"

type Conversation struct {
	ID           string           `bson:"_id" json:"id"`
	Type         ConversationType `bson:"type" json:"type"`
	Participants []string         `bson:"participants" json:"participants"`
	Name         *string          `bson:"name,omitempty" json:"name,omitempty"`
	Image        *string          `bson:"image,omitempty" json:"image,omitempty"`
	CreatedBy    string           `bson:"createdBy" json:"createdBy"`
	LastMessage  map[string]any   `bson:"lastMessage,omitempty" json:"lastMessage,omitempty"`
	LastActivity time.Time        `bson:"lastActivity" json:"lastActivity"`
	IsActive     bool             `bson:"isActive" json:"isActive"`
	CreatedAt    time.Time        `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time        `bson:"updatedAt" json:"updatedAt"`

	Messages []Message `bson:"-" json:"messages,omitempty"`
}

func (Conversation) CollectionName() string {
	return "conversations"
}

func (c *Conversation) HasParticipant(uid string) bool {
	for _, p := range c.Participants {
		if p == uid {
			return true
		}
	}
	return false
}
