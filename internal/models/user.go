package models

import (
	"net/url"
	"time"
)

// User is a registered account.
type User struct {
	Username     string    `db:"username" json:"username"`
	DisplayName  string    `db:"display_name" json:"displayName"`
	Avatar       string    `db:"avatar" json:"avatar"`
	PublicID     string    `db:"public_id" json:"publicId"`
	PushToken    string    `db:"push_token" json:"-"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// PublicUser is the projection of a user that is safe to hand to other users.
type PublicUser struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	PublicID    string `json:"publicId"`
}

// Public strips credentials and device data.
func (u User) Public() PublicUser {
	return PublicUser{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		PublicID:    u.PublicID,
	}
}

// PublicUsers projects a slice of users.
func PublicUsers(users []User) []PublicUser {
	out := make([]PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out
}

// DefaultAvatar is the generated avatar used when a user has none.
func DefaultAvatar(username string) string {
	return "https://api.dicebear.com/9.x/notionists/svg?seed=" + url.QueryEscape(username)
}
