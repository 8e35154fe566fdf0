package models

// Real-time event names.
const (
	EventLogin         = "login"
	EventJoinRoom      = "join_room"
	EventLeaveRoom     = "leave_room"
	EventSendMessage   = "send_message"
	EventMarkSeen      = "mark_seen"
	EventDeleteMessage = "delete_message"
	EventTyping        = "typing"
	EventStopTyping    = "stop_typing"

	EventReceiveMessage  = "receive_message"
	EventNotification    = "notification"
	EventRequestReceived = "request_received"
	EventRequestAccepted = "request_accepted"
	EventFriendRemoved   = "friend_removed"
	EventGroupCreated    = "group_created"
	EventSeenUpdate      = "messages_seen_update"
	EventMessageDeleted  = "message_deleted"
	EventChatCleared     = "chat_cleared"
	EventGroupDeleted    = "group_deleted"
	EventUserTyping      = "user_typing"
	EventUserStopTyping  = "user_stop_typing"
	EventError           = "error"
)

// Event is the frame exchanged over websocket sessions.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// RequestReceivedPayload announces a new pending request.
type RequestReceivedPayload struct {
	Sender string `json:"sender"`
}

// RequestAcceptedPayload announces a friendship.
type RequestAcceptedPayload struct {
	User string `json:"user"`
}

// FriendRemovedPayload announces an unfriend.
type FriendRemovedPayload struct {
	User string `json:"user"`
}

// RoomPayload carries only a room key.
type RoomPayload struct {
	Room string `json:"room"`
}

// TypingPayload relays typing state.
type TypingPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

// GroupDeletedPayload announces group removal.
type GroupDeletedPayload struct {
	GroupID string `json:"groupId"`
}

// ErrorPayload rejects an inbound event.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// PushNotification is handed to the push transport.
type PushNotification struct {
	To        string `json:"to"`
	Token     string `json:"token"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Room      string `json:"room"`
	MessageID string `json:"message_id,omitempty"`
}
