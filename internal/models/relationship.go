package models

import "time"

// FriendEdge is an accepted friendship. UserA always sorts before UserB.
type FriendEdge struct {
	UserA     string    `db:"user_a" json:"userA"`
	UserB     string    `db:"user_b" json:"userB"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// FriendRequest is a pending, directed request.
type FriendRequest struct {
	From      string    `db:"from_user" json:"from"`
	To        string    `db:"to_user" json:"to"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// RequestOutcome is the result of trying to open a request between two users.
type RequestOutcome string

const (
	RequestCreated          RequestOutcome = "created"
	RequestAlreadyFriends   RequestOutcome = "already_friends"
	RequestAlreadyRequested RequestOutcome = "already_requested"
	// RequestMutual means a mirror request was pending and the pair became friends.
	RequestMutual RequestOutcome = "mutual"
)

// FriendSummary is a friend enriched with the state of the shared room.
type FriendSummary struct {
	PublicUser
	Room        string   `json:"room"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int      `json:"unreadCount"`
}
