// Package rooms derives room keys. Rooms are never stored; a direct room is
// the sorted pair of usernames and a group room is the group id.
package rooms

import (
	"errors"
	"strings"
)

// Separator joins the two usernames of a direct room.
const Separator = "_"

var ErrEmptyUsername = errors.New("username must not be empty")

// Direct returns the room shared by a and b. Direct(a, b) == Direct(b, a).
func Direct(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", ErrEmptyUsername
	}
	if b < a {
		a, b = b, a
	}
	return a + Separator + b, nil
}

// Group returns the room of a group.
func Group(groupID string) string {
	return groupID
}

// Peer returns the other participant of a direct room when username is one
// of its two participants. Self chats return username itself.
func Peer(room, username string) (string, bool) {
	if room == "" || username == "" {
		return "", false
	}
	candidates := make([]string, 0, 2)
	if rest, ok := strings.CutPrefix(room, username+Separator); ok {
		candidates = append(candidates, rest)
	}
	if rest, ok := strings.CutSuffix(room, Separator+username); ok {
		candidates = append(candidates, rest)
	}
	for _, other := range candidates {
		if other == "" {
			continue
		}
		if key, err := Direct(username, other); err == nil && key == room {
			return other, true
		}
	}
	return "", false
}
