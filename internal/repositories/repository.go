package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrPublicIDTaken   = errors.New("public id already taken")
	ErrGroupNotFound   = errors.New("group not found")
	ErrNotMember       = errors.New("not a group member")
	ErrMessageNotFound = errors.New("message not found")
)

// UserRepository stores accounts. Username lookups are case-insensitive.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUsersByUsernames(ctx context.Context, usernames []string) ([]models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)
	UpdatePushToken(ctx context.Context, username, token string) error
}

// FriendRepository stores friendships and pending requests. Implementations
// must enforce the pair invariants themselves: at most one edge per unordered
// pair, at most one pending request per ordered pair, and no pending request
// while the pair are friends.
type FriendRepository interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
	ListFriends(ctx context.Context, username string) ([]string, error)
	RemoveFriend(ctx context.Context, a, b string) error
	SendRequest(ctx context.Context, from, to string) (models.RequestOutcome, error)
	// AcceptRequest returns whether the pair are friends afterwards.
	AcceptRequest(ctx context.Context, user, sender string) (bool, error)
	RejectRequest(ctx context.Context, user, sender string) error
	ListIncomingRequests(ctx context.Context, username string) ([]string, error)
}

// MessageRepository is the per-room append-only ledger.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	History(ctx context.Context, room string) ([]models.Message, error)
	MarkSeen(ctx context.Context, room, viewer string) (int, error)
	GetMessage(ctx context.Context, room, id string) (models.Message, error)
	DeleteMessage(ctx context.Context, room, id string) error
	ClearRoom(ctx context.Context, room string) error
	RoomSummaries(ctx context.Context, rooms []string, viewer string) (map[string]models.RoomSummary, error)
}

// GroupRepository stores groups and their membership.
type GroupRepository interface {
	CreateGroup(ctx context.Context, group models.Group) (models.Group, error)
	GetGroup(ctx context.Context, groupID string) (models.Group, error)
	ListGroupsForUser(ctx context.Context, username string) ([]models.Group, error)
	IsMember(ctx context.Context, groupID, username string) (bool, error)
	RemoveMember(ctx context.Context, groupID, username string) error
	DeleteGroup(ctx context.Context, groupID string) error
}

// Store bundles one backend's repositories.
type Store struct {
	Users    UserRepository
	Friends  FriendRepository
	Messages MessageRepository
	Groups   GroupRepository
	Close    func() error
}

// CanonicalPair orders two usernames the way friend edges are stored.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey identifies an unordered pair.
func PairKey(a, b string) string {
	a, b = CanonicalPair(a, b)
	return a + "\x00" + b
}

// DedupeMembers returns members plus admin with duplicates and blanks removed,
// preserving first-seen order with the admin first.
func DedupeMembers(admin string, members []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(members)+1)
	for _, m := range append([]string{admin}, members...) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// NewPostgresStore bundles the sqlx repositories over one connection pool.
func NewPostgresStore(db *sqlx.DB) Store {
	return Store{
		Users:    NewUserRepo(db),
		Friends:  NewFriendRepo(db),
		Messages: NewMessageRepo(db),
		Groups:   NewGroupRepo(db),
		Close:    db.Close,
	}
}
