package events

// Remote methods invoked on the messaging hub.
const (
	MethodJoinAllUserRooms           = "JoinAllUserRooms"
	MethodMarkAllMessagesAsDelivered = "MarkAllMessagesAsDelivered"
	MethodJoinPrivateChat            = "JoinPrivateChat"
	MethodJoinRoomGroup              = "JoinRoomGroup"
	MethodGetMessages                = "GetMessages"
	MethodSendMessage                = "SendMessage"
	MethodAcknowledgeDelivery        = "AcknowledgeDelivery"
	MethodMarkMessagesAsSeen         = "MarkMessagesAsSeen"
	MethodOnlineStatus               = "OnlineStatus"
)

// Server-pushed events.
const (
	EventReceiveMessage       = "ReceiveMessage"
	EventNewMessage           = "NewMessage"
	EventMessagesMarkedAsSeen = "MessagesMarkedAsSeen"
	EventMessageDelivered     = "MessageDelivered"
	// EventUserOffline carries both the online and the offline case.
	EventUserOffline = "UserOffline"
)

// AllEvents lists every push event the client subscribes to.
var AllEvents = []string{
	EventReceiveMessage,
	EventNewMessage,
	EventMessagesMarkedAsSeen,
	EventMessageDelivered,
	EventUserOffline,
}

// Group prefixes used by the hub to address pushes.
const (
	GroupPrefixRoom = "room:"
	GroupPrefixUser = "user:"
)
