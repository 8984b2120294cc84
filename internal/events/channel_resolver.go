package events

// AudienceResolver determines which hub groups a push is fanned out to
type AudienceResolver interface {
	ResolveGroups(event Event) []string
}

// RoomAudienceResolver routes pushes to the room group and/or participants' user groups
type RoomAudienceResolver struct{}

func NewRoomAudienceResolver() *RoomAudienceResolver {
	return &RoomAudienceResolver{}
}

func (r *RoomAudienceResolver) ResolveGroups(event Event) []string {
	var groups []string

	switch e := event.(type) {
	case *MessageReceivedEvent:
		groups = append(groups,
			RoomGroup(e.Message.ChatRoomID),
			UserGroup(e.Message.SenderID),
			UserGroup(e.Message.RecipientID),
		)
	case *RoomUpdatedEvent:
		groups = append(groups, UserGroup(e.Room.ParticipantA), UserGroup(e.Room.ParticipantB))
	case *MessagesSeenEvent:
		groups = append(groups, RoomGroup(e.RoomID))
	case *MessageDeliveredEvent:
		// the sender is the one waiting on the tick
		groups = append(groups, UserGroup(e.Message.SenderID))
	case *PresenceEvent:
		// answered to the requesting connection only
	}

	return groups
}

func RoomGroup(roomID string) string {
	return GroupPrefixRoom + roomID
}

func UserGroup(userID string) string {
	return GroupPrefixUser + userID
}
