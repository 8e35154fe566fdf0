package models

import "time"

// MessageKind classifies message bodies.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindAudio  MessageKind = "audio"
	KindSystem MessageKind = "system"
)

// Valid reports whether k is a known kind.
func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindAudio, KindSystem:
		return true
	}
	return false
}

const (
	// RecipientAll addresses every member of a group room.
	RecipientAll = "all"
	// SystemAuthor authors group lifecycle messages.
	SystemAuthor = "System"
)

// Message is one entry of a room's ledger.
type Message struct {
	ID        string      `db:"id" json:"id"`
	Room      string      `db:"room" json:"room"`
	Author    string      `db:"author" json:"author"`
	Recipient string      `db:"recipient" json:"recipient"`
	Kind      MessageKind `db:"kind" json:"type"`
	Body      string      `db:"body" json:"message"`
	CreatedAt time.Time   `db:"created_at" json:"time"`
	Seen      bool        `db:"seen" json:"seen"`
}

// RoomSummary is the latest state of a room from one viewer's perspective.
type RoomSummary struct {
	Room        string
	LastMessage *Message
	UnreadCount int
}
