package model

type NotificationType string

const (
	NotificationTypeFriendRequest       NotificationType = "FRIEND_REQUEST"
	NotificationTypeFriendAccepted      NotificationType = "FRIEND_ACCEPTED"
	NotificationTypeMessageReceived     NotificationType = "MESSAGE_RECEIVED"
	NotificationTypeOrderStatusUpdate   NotificationType = "ORDER_STATUS_UPDATE"
	NotificationTypePantryExpiryWarning NotificationType = "PANTRY_EXPIRY_WARNING"
	NotificationTypeRecipeShared        NotificationType = "RECIPE_SHARED"
	NotificationTypeBoxAvailable        NotificationType = "BOX_AVAILABLE"
	NotificationTypeSystemAnnouncement  NotificationType = "SYSTEM_ANNOUNCEMENT"
)

func NotificationTypes() []string {
	return []string{
		string(NotificationTypeFriendRequest),
		string(NotificationTypeFriendAccepted),
		string(NotificationTypeMessageReceived),
		string(NotificationTypeOrderStatusUpdate),
		string(NotificationTypePantryExpiryWarning),
		string(NotificationTypeRecipeShared),
		string(NotificationTypeBoxAvailable),
		string(NotificationTypeSystemAnnouncement),
	}
}

type MessageType string

const (
	MessageTypeText        MessageType = "TEXT"
	MessageTypeImage       MessageType = "IMAGE"
	MessageTypeFile        MessageType = "FILE"
	MessageTypeRecipeShare MessageType = "RECIPE_SHARE"
	MessageTypeBoxShare    MessageType = "BOX_SHARE"
	MessageTypeLocation    MessageType = "LOCATION"
)

func MessageTypes() []string {
	return []string{
		string(MessageTypeText),
		string(MessageTypeImage),
		string(MessageTypeFile),
		string(MessageTypeRecipeShare),
		string(MessageTypeBoxShare),
		string(MessageTypeLocation),
	}
}

type MessageStatusType string

const (
	MessageStatusSent      MessageStatusType = "SENT"
	MessageStatusDelivered MessageStatusType = "DELIVERED"
	MessageStatusRead      MessageStatusType = "READ"
)

func MessageStatusTypes() []string {
	return []string{
		string(MessageStatusSent),
		string(MessageStatusDelivered),
		string(MessageStatusRead),
	}
}

// Rank orders statuses so a receipt never moves backwards (READ beats DELIVERED beats SENT).
func (s MessageStatusType) Rank() int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	}
	return 0
}

type ConversationType string

const (
	ConversationTypeDirect ConversationType = "DIRECT"
	ConversationTypeGroup  ConversationType = "GROUP"
)

func ConversationTypes() []string {
	return []string{string(ConversationTypeDirect), string(ConversationTypeGroup)}
}
