package gormstore

import (
	"time"

	"messenger-service/internal/models"
)

type userRow struct {
	Username      string `gorm:"primaryKey"`
	UsernameLower string `gorm:"uniqueIndex;not null"`
	DisplayName   string
	Avatar        string
	PublicID      string `gorm:"uniqueIndex;not null"`
	PushToken     string
	PasswordHash  string
	CreatedAt     time.Time
}

func (userRow) TableName() string { return "users" }

func (r userRow) toModel() models.User {
	return models.User{
		Username:     r.Username,
		DisplayName:  r.DisplayName,
		Avatar:       r.Avatar,
		PublicID:     r.PublicID,
		PushToken:    r.PushToken,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

type friendshipRow struct {
	UserA     string `gorm:"primaryKey"`
	UserB     string `gorm:"primaryKey;index"`
	CreatedAt time.Time
}

func (friendshipRow) TableName() string { return "friendships" }

type friendRequestRow struct {
	FromUser  string `gorm:"primaryKey"`
	ToUser    string `gorm:"primaryKey;index"`
	CreatedAt time.Time
}

func (friendRequestRow) TableName() string { return "friend_requests" }

type groupRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Admin     string `gorm:"not null"`
	CreatedAt time.Time
}

func (groupRow) TableName() string { return "chat_groups" }

type groupMemberRow struct {
	GroupID  string `gorm:"primaryKey"`
	Username string `gorm:"primaryKey;index"`
	Position int
}

func (groupMemberRow) TableName() string { return "chat_group_members" }

type messageRow struct {
	Seq       uint   `gorm:"primaryKey;autoIncrement"`
	ID        string `gorm:"uniqueIndex;not null"`
	Room      string `gorm:"index:idx_messages_room_order,priority:1;not null"`
	Author    string `gorm:"not null"`
	Recipient string `gorm:"index;not null"`
	Kind      string `gorm:"not null"`
	Body      string
	CreatedAt time.Time `gorm:"index:idx_messages_room_order,priority:2"`
	Seen      bool      `gorm:"not null;default:false"`
}

func (messageRow) TableName() string { return "messages" }

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID:        r.ID,
		Room:      r.Room,
		Author:    r.Author,
		Recipient: r.Recipient,
		Kind:      models.MessageKind(r.Kind),
		Body:      r.Body,
		CreatedAt: r.CreatedAt,
		Seen:      r.Seen,
	}
}
