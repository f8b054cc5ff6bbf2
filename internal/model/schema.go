package model

import (
	"sync"

	"github.com/shinyyama/messaging-backend/internal/schema"
)

const (
	ModelNotification         = "Notification"
	ModelConversation         = "Conversation"
	ModelMessage              = "Message"
	ModelMessageStatusRecord  = "MessageStatusRecord"
	ModelMessageReaction      = "MessageReaction"
	ModelUserPresence         = "UserPresence"
	ModelNotificationSettings = "NotificationSettings"
	ModelTypingIndicator      = "TypingIndicator"
	ModelMessageThread        = "MessageThread"
)

var (
	registryOnce sync.Once
	registry     *schema.Registry
)

// Schema returns the registry describing every persisted entity.
func Schema() *schema.Registry {
	registryOnce.Do(func() {
		r, err := schema.NewRegistry(models()...)
		if err != nil {
			panic(err)
		}
		registry = r
	})
	return registry
}

func id() *schema.Field {
	return &schema.Field{Name: "id", Column: "_id", Kind: schema.KindID, Default: schema.DefaultObjectID}
}

func str(name string) *schema.Field {
	return &schema.Field{Name: name, Kind: schema.KindString}
}

func optStr(name string) *schema.Field {
	return &schema.Field{Name: name, Kind: schema.KindString, Optional: true}
}

func ref(name string) *schema.Field {
	return &schema.Field{Name: name, Kind: schema.KindID}
}

func flag(name string, def bool) *schema.Field {
	return &schema.Field{Name: name, Kind: schema.KindBool, Default: schema.DefaultValue(def)}
}

func stamp(name string) *schema.Field {
	return &schema.Field{Name: name, Kind: schema.KindDateTime, Default: schema.DefaultNow}
}

func updatedAt() *schema.Field {
	return &schema.Field{Name: "updatedAt", Kind: schema.KindDateTime, UpdatedAt: true}
}

func enum(name string, values []string) *schema.Field {
	return &schema.Field{Name: name, Kind: schema.KindEnum, Enum: values}
}

func strList(name string) *schema.Field {
	return &schema.Field{Name: name, Kind: schema.KindString, List: true, Default: schema.DefaultEmptyList}
}

func models() []*schema.Model {
	zero := 0.0

	notificationType := enum("type", NotificationTypes())

	conversationType := enum("type", ConversationTypes())

	messageType := enum("type", MessageTypes())
	messageType.Default = schema.DefaultValue(string(MessageTypeText))

	status := enum("status", MessageStatusTypes())
	status.Default = schema.DefaultValue(string(MessageStatusSent))

	emailFrequency := str("emailFrequency")
	emailFrequency.Default = schema.DefaultValue(EmailFrequencyImmediate)

	timezone := str("timezone")
	timezone.Default = schema.DefaultValue("UTC")

	typing := flag("isTyping", true)

	return []*schema.Model{
		{
			Name:       ModelNotification,
			Collection: Notification{}.CollectionName(),
			Fields: []*schema.Field{
				id(),
				str("userId"),
				notificationType,
				str("title"),
				str("message"),
				{Name: "data", Kind: schema.KindJSON, Default: schema.DefaultEmptyObject},
				flag("isRead", false),
				optStr("actionUrl"),
				stamp("createdAt"),
				{Name: "expiresAt", Kind: schema.KindDateTime, Optional: true},
			},
		},
		{
			Name:       ModelConversation,
			Collection: Conversation{}.CollectionName(),
			Fields: []*schema.Field{
				id(),
				conversationType,
				strList("participants"),
				optStr("name"),
				optStr("image"),
				str("createdBy"),
				{Name: "lastMessage", Kind: schema.KindJSON, Optional: true},
				stamp("lastActivity"),
				flag("isActive", true),
				stamp("createdAt"),
				updatedAt(),
			},
			Relations: []*schema.Relation{
				{Name: "messages", Target: ModelMessage, Cardinality: schema.ToMany, LocalField: "id", ForeignField: "conversationId"},
			},
		},
		{
			Name:       ModelMessage,
			Collection: Message{}.CollectionName(),
			Fields: []*schema.Field{
				id(),
				ref("conversationId"),
				str("senderId"),
				str("content"),
				messageType,
				{Name: "metadata", Kind: schema.KindJSON, Optional: true},
				{Name: "replyToId", Kind: schema.KindID, Optional: true},
				flag("isEdited", false),
				{Name: "editedAt", Kind: schema.KindDateTime, Optional: true},
				stamp("createdAt"),
				updatedAt(),
			},
			Relations: []*schema.Relation{
				{Name: "conversation", Target: ModelConversation, Cardinality: schema.ToOne, LocalField: "conversationId", ForeignField: "id"},
				{Name: "replyTo", Target: ModelMessage, Cardinality: schema.ToOne, LocalField: "replyToId", ForeignField: "id"},
				{Name: "replies", Target: ModelMessage, Cardinality: schema.ToMany, LocalField: "id", ForeignField: "replyToId"},
				{Name: "reactions", Target: ModelMessageReaction, Cardinality: schema.ToMany, LocalField: "id", ForeignField: "messageId"},
				{Name: "status", Target: ModelMessageStatusRecord, Cardinality: schema.ToMany, LocalField: "id", ForeignField: "messageId"},
			},
		},
		{
			Name:       ModelMessageStatusRecord,
			Collection: MessageStatusRecord{}.CollectionName(),
			Fields: []*schema.Field{
				id(),
				ref("messageId"),
				str("userId"),
				status,
				stamp("timestamp"),
			},
			Indexes: []schema.Index{{Name: "messageId_userId", Fields: []string{"messageId", "userId"}}},
			Relations: []*schema.Relation{
				{Name: "message", Target: ModelMessage, Cardinality: schema.ToOne, LocalField: "messageId", ForeignField: "id"},
			},
		},
		{
			Name:       ModelMessageReaction,
			Collection: MessageReaction{}.CollectionName(),
			Fields: []*schema.Field{
				id(),
				ref("messageId"),
				str("userId"),
				str("emoji"),
				stamp("createdAt"),
			},
			Indexes: []schema.Index{{Name: "messageId_userId_emoji", Fields: []string{"messageId", "userId", "emoji"}}},
			Relations: []*schema.Relation{
				{Name: "message", Target: ModelMessage, Cardinality: schema.ToOne, LocalField: "messageId", ForeignField: "id"},
			},
		},
		{
			Name:       ModelUserPresence,
			Collection: UserPresence{}.CollectionName(),
			Fields: []*schema.Field{
				id(),
				str("userId"),
				flag("isOnline", false),
				stamp("lastSeen"),
				optStr("status"),
				optStr("currentDevice"),
				updatedAt(),
			},
			Indexes: []schema.Index{{Name: "userId", Fields: []string{"userId"}}},
		},
		{
			Name:       ModelNotificationSettings,
			Collection: NotificationSettings{}.CollectionName(),
			Fields: []*schema.Field{
				id(),
				str("userId"),
				flag("emailNotifications", true),
				flag("pushNotifications", true),
				flag("friendRequests", true),
				flag("messages", true),
				flag("orderUpdates", true),
				flag("pantryExpiry", true),
				flag("recipeShares", true),
				flag("boxAvailable", true),
				flag("systemAnnouncements", true),
				strList("pushTokens"),
				emailFrequency,
				flag("quietHoursEnabled", false),
				optStr("quietHoursStart"),
				optStr("quietHoursEnd"),
				timezone,
				stamp("createdAt"),
				updatedAt(),
			},
			Indexes: []schema.Index{{Name: "userId", Fields: []string{"userId"}}},
		},
		{
			Name:       ModelTypingIndicator,
			Collection: TypingIndicator{}.CollectionName(),
			Fields: []*schema.Field{
				id(),
				ref("conversationId"),
				str("userId"),
				typing,
				stamp("lastTyping"),
			},
			Indexes: []schema.Index{{Name: "conversationId_userId", Fields: []string{"conversationId", "userId"}}},
		},
		{
			Name:       ModelMessageThread,
			Collection: MessageThread{}.CollectionName(),
			Fields: []*schema.Field{
				id(),
				ref("originalMessageId"),
				strList("participants"),
				{Name: "messageCount", Kind: schema.KindInt, Default: schema.DefaultValue(0), Min: &zero},
				stamp("lastActivity"),
				stamp("createdAt"),
			},
			Indexes: []schema.Index{{Name: "originalMessageId", Fields: []string{"originalMessageId"}}},
		},
	}
}
