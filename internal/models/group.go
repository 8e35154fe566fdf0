package models

import "time"

// Group represents a chat group. The group id doubles as its room key.
type Group struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Admin     string    `db:"admin" json:"admin"`
	Members   []string  `db:"-" json:"members"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	IsGroup   bool      `db:"-" json:"isGroup"`
}

// HasMember reports whether username is in the member list.
func (g Group) HasMember(username string) bool {
	for _, m := range g.Members {
		if m == username {
			return true
		}
	}
	return false
}
