package model

import "time"

type Message struct {
	ID             string         `bson:"_id" json:"id"`
	ConversationID string         `bson:"conversationId" json:"conversationId"`
	SenderID       string         `bson:"senderId" json:"senderId"`
	Content        string         `bson:"content" json:"content"`
	Type           MessageType    `bson:"type" json:"type"`
	Metadata       map[string]any `bson:"metadata,omitempty" json:"metadata,omitempty"`
	ReplyToID      *string        `bson:"replyToId,omitempty" json:"replyToId,omitempty"`
	IsEdited       bool           `bson:"isEdited" json:"isEdited"`
	EditedAt       *time.Time     `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
	CreatedAt      time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time      `bson:"updatedAt" json:"updatedAt"`

	Conversation *Conversation         `bson:"-" json:"conversation,omitempty"`
	ReplyTo      *Message              `bson:"-" json:"replyTo,omitempty"`
	Replies      []Message             `bson:"-" json:"replies,omitempty"`
	Reactions    []MessageReaction     `bson:"-" json:"reactions,omitempty"`
	Status       []MessageStatusRecord `bson:"-" json:"status,omitempty"`
}

func (Message) CollectionName() string {
	return "messages"
}

type MessageStatusRecord struct {
	ID        string            `bson:"_id" json:"id"`
	MessageID string            `bson:"messageId" json:"messageId"`
	UserID    string            `bson:"userId" json:"userId"`
	Status    MessageStatusType `bson:"status" json:"status"`
	Timestamp time.Time         `bson:"timestamp" json:"timestamp"`

	Message *Message `bson:"-" json:"message,omitempty"`
}

func (MessageStatusRecord) CollectionName() string {
	return "message_status"
}

type MessageReaction struct {
	ID        string    `bson:"_id" json:"id"`
	MessageID string    `bson:"messageId" json:"messageId"`
	UserID    string    `bson:"userId" json:"userId"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`

	Message *Message `bson:"-" json:"message,omitempty"`
}

func (MessageReaction) CollectionName() string {
	return "message_reactions"
}

// MessageThread is a denormalized aggregate over the replies to one message.
type MessageThread struct {
	ID                string    `bson:"_id" json:"id"`
	OriginalMessageID string    `bson:"originalMessageId" json:"originalMessageId"`
	Participants      []string  `bson:"participants" json:"participants"`
	MessageCount      int       `bson:"messageCount" json:"messageCount"`
	LastActivity      time.Time `bson:"lastActivity" json:"lastActivity"`
	CreatedAt         time.Time `bson:"createdAt" json:"createdAt"`
}

func (MessageThread) CollectionName() string {
	return "message_threads"
}
