// Package memory is an in-process storage backend. It enforces the same
// invariants as the SQL backends with mutexes instead of constraints.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

// NewStore returns a fresh backend wrapped as a repositories.Store.
func NewStore() repositories.Store {
	users := NewUserRepo()
	friends := NewFriendRepo()
	messages := NewMessageRepo()
	groups := NewGroupRepo()
	return repositories.Store{
		Users:    users,
		Friends:  friends,
		Messages: messages,
		Groups:   groups,
		Close:    func() error { return nil },
	}
}

// UserRepo keeps users keyed by lower-cased username.
type UserRepo struct {
	mu        sync.RWMutex
	byLower   map[string]models.User
	publicIDs map[string]string
}

// NewUserRepo constructs an empty UserRepo.
func NewUserRepo() *UserRepo {
	return &UserRepo{byLower: map[string]models.User{}, publicIDs: map[string]string{}}
}

func (r *UserRepo) CreateUser(_ context.Context, user models.User) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(user.Username)
	if _, ok := r.byLower[key]; ok {
		return models.User{}, repositories.ErrUsernameTaken
	}
	if _, ok := r.publicIDs[user.PublicID]; ok {
		return models.User{}, repositories.ErrPublicIDTaken
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	r.byLower[key] = user
	r.publicIDs[user.PublicID] = key
	return user, nil
}

func (r *UserRepo) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byLower[strings.ToLower(username)]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return user, nil
}

func (r *UserRepo) GetUsersByUsernames(_ context.Context, usernames []string) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]models.User, 0, len(usernames))
	for _, name := range usernames {
		if user, ok := r.byLower[strings.ToLower(name)]; ok && user.Username == name {
			users = append(users, user)
		}
	}
	return users, nil
}

func (r *UserRepo) SearchUsers(_ context.Context, query string, limit int) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q := strings.ToLower(query)
	users := []models.User{}
	for key, user := range r.byLower {
		if strings.Contains(key, q) || strings.Contains(strings.ToLower(user.DisplayName), q) || strings.Contains(user.PublicID, q) {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return strings.ToLower(users[i].Username) < strings.ToLower(users[j].Username)
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (r *UserRepo) UpdatePushToken(_ context.Context, username, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(username)
	user, ok := r.byLower[key]
	if !ok {
		return repositories.ErrUserNotFound
	}
	user.PushToken = token
	r.byLower[key] = user
	return nil
}

// FriendRepo guards edges and requests with a single mutex so every
// check-then-write is atomic. Callers already serialize per pair through the
// dispatcher's keyed lock; this mutex only bounds throughput across pairs.
type FriendRepo struct {
	mu       sync.Mutex
	edges    map[[2]string]time.Time
	requests map[[2]string]time.Time
}

// NewFriendRepo constructs an empty FriendRepo.
func NewFriendRepo() *FriendRepo {
	return &FriendRepo{edges: map[[2]string]time.Time{}, requests: map[[2]string]time.Time{}}
}

func edgeKey(a, b string) [2]string {
	a, b = repositories.CanonicalPair(a, b)
	return [2]string{a, b}
}

func (r *FriendRepo) AreFriends(_ context.Context, a, b string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.edges[edgeKey(a, b)]
	return ok, nil
}

func (r *FriendRepo) ListFriends(_ context.Context, username string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type entry struct {
		name string
		at   time.Time
	}
	var entries []entry
	for key, at := range r.edges {
		switch username {
		case key[0]:
			entries = append(entries, entry{key[1], at})
		case key[1]:
			entries = append(entries, entry{key[0], at})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].at.Equal(entries[j].at) {
			return entries[i].name < entries[j].name
		}
		return entries[i].at.Before(entries[j].at)
	})
	friends := make([]string, 0, len(entries))
	for _, e := range entries {
		friends = append(friends, e.name)
	}
	return friends, nil
}

func (r *FriendRepo) RemoveFriend(_ context.Context, a, b string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.edges, edgeKey(a, b))
	return nil
}

func (r *FriendRepo) SendRequest(_ context.Context, from, to string) (models.RequestOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.edges[edgeKey(from, to)]; ok {
		return models.RequestAlreadyFriends, nil
	}
	if _, ok := r.requests[[2]string{to, from}]; ok {
		delete(r.requests, [2]string{to, from})
		r.edges[edgeKey(from, to)] = time.Now()
		return models.RequestMutual, nil
	}
	if _, ok := r.requests[[2]string{from, to}]; ok {
		return models.RequestAlreadyRequested, nil
	}
	r.requests[[2]string{from, to}] = time.Now()
	return models.RequestCreated, nil
}

func (r *FriendRepo) AcceptRequest(_ context.Context, user, sender string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, pending := r.requests[[2]string{sender, user}]
	delete(r.requests, [2]string{sender, user})
	delete(r.requests, [2]string{user, sender})
	key := edgeKey(user, sender)
	if pending {
		if _, ok := r.edges[key]; !ok {
			r.edges[key] = time.Now()
		}
		return true, nil
	}
	_, friends := r.edges[key]
	return friends, nil
}

func (r *FriendRepo) RejectRequest(_ context.Context, user, sender string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, [2]string{sender, user})
	return nil
}

func (r *FriendRepo) ListIncomingRequests(_ context.Context, username string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type entry struct {
		from string
		at   time.Time
	}
	var entries []entry
	for key, at := range r.requests {
		if key[1] == username {
			entries = append(entries, entry{key[0], at})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].at.Equal(entries[j].at) {
			return entries[i].from < entries[j].from
		}
		return entries[i].at.Before(entries[j].at)
	})
	senders := make([]string, 0, len(entries))
	for _, e := range entries {
		senders = append(senders, e.from)
	}
	return senders, nil
}

// roomLog is one room's ledger with its own lock so rooms do not contend.
type roomLog struct {
	mu       sync.Mutex
	messages []models.Message
}

// MessageRepo keeps one roomLog per room.
type MessageRepo struct {
	mu    sync.RWMutex
	rooms map[string]*roomLog
}

// NewMessageRepo constructs an empty MessageRepo.
func NewMessageRepo() *MessageRepo {
	return &MessageRepo{rooms: map[string]*roomLog{}}
}

func (r *MessageRepo) log(room string, create bool) *roomLog {
	r.mu.RLock()
	l, ok := r.rooms[room]
	r.mu.RUnlock()
	if ok || !create {
		return l
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok = r.rooms[room]; !ok {
		l = &roomLog{}
		r.rooms[room] = l
	}
	return l
}

func (r *MessageRepo) AppendMessage(_ context.Context, msg models.Message) (models.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Seen = false
	l := r.log(msg.Room, true)
	l.mu.Lock()
	defer l.mu.Unlock()
	// keep created_at order; equal timestamps stay in insertion order
	i := sort.Search(len(l.messages), func(i int) bool {
		return l.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	l.messages = append(l.messages, models.Message{})
	copy(l.messages[i+1:], l.messages[i:])
	l.messages[i] = msg
	return msg, nil
}

func (r *MessageRepo) History(_ context.Context, room string) ([]models.Message, error) {
	l := r.log(room, false)
	if l == nil {
		return []models.Message{}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Message, len(l.messages))
	copy(out, l.messages)
	return out, nil
}

func (r *MessageRepo) MarkSeen(_ context.Context, room, viewer string) (int, error) {
	l := r.log(room, false)
	if l == nil {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := 0
	for i := range l.messages {
		if l.messages[i].Recipient == viewer && !l.messages[i].Seen {
			l.messages[i].Seen = true
			changed++
		}
	}
	return changed, nil
}

func (r *MessageRepo) GetMessage(_ context.Context, room, id string) (models.Message, error) {
	l := r.log(room, false)
	if l == nil {
		return models.Message{}, repositories.ErrMessageNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return models.Message{}, repositories.ErrMessageNotFound
}

func (r *MessageRepo) DeleteMessage(_ context.Context, room, id string) error {
	l := r.log(room, false)
	if l == nil {
		return repositories.ErrMessageNotFound
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, m := range l.messages {
		if m.ID == id {
			l.messages = append(l.messages[:i], l.messages[i+1:]...)
			return nil
		}
	}
	return repositories.ErrMessageNotFound
}

func (r *MessageRepo) ClearRoom(_ context.Context, room string) error {
	l := r.log(room, false)
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
	return nil
}

func (r *MessageRepo) RoomSummaries(_ context.Context, rooms []string, viewer string) (map[string]models.RoomSummary, error) {
	result := make(map[string]models.RoomSummary, len(rooms))
	for _, room := range rooms {
		l := r.log(room, false)
		if l == nil {
			continue
		}
		l.mu.Lock()
		if n := len(l.messages); n > 0 {
			last := l.messages[n-1]
			summary := models.RoomSummary{Room: room, LastMessage: &last}
			for _, m := range l.messages {
				if m.Recipient == viewer && !m.Seen {
					summary.UnreadCount++
				}
			}
			result[room] = summary
		}
		l.mu.Unlock()
	}
	return result, nil
}

// GroupRepo keeps groups and their member lists.
type GroupRepo struct {
	mu     sync.RWMutex
	groups map[string]models.Group
}

// NewGroupRepo constructs an empty GroupRepo.
func NewGroupRepo() *GroupRepo {
	return &GroupRepo{groups: map[string]models.Group{}}
}

func cloneGroup(g models.Group) models.Group {
	g.Members = append([]string(nil), g.Members...)
	g.IsGroup = true
	return g
}

func (r *GroupRepo) CreateGroup(_ context.Context, group models.Group) (models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	group.Members = repositories.DedupeMembers(group.Admin, group.Members)
	r.groups[group.ID] = cloneGroup(group)
	return cloneGroup(group), nil
}

func (r *GroupRepo) GetGroup(_ context.Context, groupID string) (models.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok {
		return models.Group{}, repositories.ErrGroupNotFound
	}
	return cloneGroup(g), nil
}

func (r *GroupRepo) ListGroupsForUser(_ context.Context, username string) ([]models.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groups := []models.Group{}
	for _, g := range r.groups {
		if g.HasMember(username) {
			groups = append(groups, cloneGroup(g))
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].CreatedAt.After(groups[j].CreatedAt)
	})
	return groups, nil
}

func (r *GroupRepo) IsMember(_ context.Context, groupID, username string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	return ok && g.HasMember(username), nil
}

func (r *GroupRepo) RemoveMember(_ context.Context, groupID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok || !g.HasMember(username) {
		return repositories.ErrNotMember
	}
	members := make([]string, 0, len(g.Members)-1)
	for _, m := range g.Members {
		if m != username {
			members = append(members, m)
		}
	}
	g.Members = members
	r.groups[groupID] = g
	return nil
}

func (r *GroupRepo) DeleteGroup(_ context.Context, groupID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[groupID]; !ok {
		return repositories.ErrGroupNotFound
	}
	delete(r.groups, groupID)
	return nil
}

var _ repositories.UserRepository = (*UserRepo)(nil)
var _ repositories.FriendRepository = (*FriendRepo)(nil)
var _ repositories.MessageRepository = (*MessageRepo)(nil)
var _ repositories.GroupRepository = (*GroupRepo)(nil)
