// Package presence tracks which live sessions belong to which user and which
// rooms each session is subscribed to.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"messenger-service/internal/models"
)

// Session is one live client connection.
type Session interface {
	ID() string
	Send(event models.Event) error
}

// Tracker mirrors per-user session counts outside this process.
type Tracker interface {
	Connected(ctx context.Context, username string) error
	Disconnected(ctx context.Context, username string) error
	Online(ctx context.Context, username string) (bool, error)
}

type entry struct {
	session  Session
	username string
	rooms    map[string]struct{}
}

// Registry is safe for concurrent use. All collections have set semantics.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	byUser   map[string]map[string]struct{}
	byRoom   map[string]map[string]struct{}

	tracker        Tracker
	trackerTimeout time.Duration
}

// Option customizes a Registry.
type Option func(*Registry)

// WithTracker mirrors bind and unbind into t.
func WithTracker(t Tracker) Option {
	return func(r *Registry) { r.tracker = t }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:       map[string]*entry{},
		byUser:         map[string]map[string]struct{}{},
		byRoom:         map[string]map[string]struct{}{},
		trackerTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind attaches session to username. Rebinding a session to another user
// drops its room subscriptions.
func (r *Registry) Bind(username string, session Session) {
	r.mu.Lock()
	id := session.ID()
	var previous string
	if e, ok := r.sessions[id]; ok {
		if e.username == username {
			r.mu.Unlock()
			return
		}
		previous = e.username
		r.removeLocked(id)
	}
	r.sessions[id] = &entry{session: session, username: username, rooms: map[string]struct{}{}}
	addToSet(r.byUser, username, id)
	r.mu.Unlock()

	if previous != "" {
		r.track(previous, false)
	}
	r.track(username, true)
}

// Unbind forgets the session. It is a no-op for untracked sessions.
func (r *Registry) Unbind(sessionID string) (string, bool) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if ok {
		r.removeLocked(sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	r.track(e.username, false)
	return e.username, true
}

func (r *Registry) removeLocked(id string) {
	e := r.sessions[id]
	for room := range e.rooms {
		removeFromSet(r.byRoom, room, id)
	}
	removeFromSet(r.byUser, e.username, id)
	delete(r.sessions, id)
}

// Username returns the user a session is bound to.
func (r *Registry) Username(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return e.username, true
}

// SessionsFor returns every live session of username.
func (r *Registry) SessionsFor(username string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byUser[username])
}

// JoinRoom subscribes a bound session to room broadcasts.
func (r *Registry) JoinRoom(sessionID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	e.rooms[room] = struct{}{}
	addToSet(r.byRoom, room, sessionID)
	return true
}

// LeaveRoom drops a single subscription.
func (r *Registry) LeaveRoom(sessionID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionID]; ok {
		delete(e.rooms, room)
	}
	removeFromSet(r.byRoom, room, sessionID)
}

// RoomSessions returns the sessions subscribed to room.
func (r *Registry) RoomSessions(room string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byRoom[room])
}

// EvictUser unsubscribes every session of username from room.
func (r *Registry) EvictUser(room, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.byUser[username] {
		if e, ok := r.sessions[id]; ok {
			delete(e.rooms, room)
		}
		removeFromSet(r.byRoom, room, id)
	}
}

// CloseRoom unsubscribes everyone from room.
func (r *Registry) CloseRoom(room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.byRoom[room] {
		if e, ok := r.sessions[id]; ok {
			delete(e.rooms, room)
		}
	}
	delete(r.byRoom, room)
}

// Subscribed reports whether the session joined room.
func (r *Registry) Subscribed(sessionID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byRoom[room][sessionID]
	return ok
}

// Online reports whether username has a session on this instance.
func (r *Registry) Online(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[username]) > 0
}

// OnlineAnywhere consults the tracker when the user is not connected here.
func (r *Registry) OnlineAnywhere(ctx context.Context, username string) (bool, error) {
	if r.Online(username) {
		return true, nil
	}
	if r.tracker == nil {
		return false, nil
	}
	return r.tracker.Online(ctx, username)
}

// Count returns the number of bound sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) collectLocked(ids map[string]struct{}) []Session {
	out := make([]Session, 0, len(ids))
	for id := range ids {
		if e, ok := r.sessions[id]; ok {
			out = append(out, e.session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) track(username string, connected bool) {
	if r.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.trackerTimeout)
	defer cancel()
	var err error
	if connected {
		err = r.tracker.Connected(ctx, username)
	} else {
		err = r.tracker.Disconnected(ctx, username)
	}
	if err != nil {
		log.Warn().Err(err).Str("username", username).Bool("connected", connected).Msg("presence tracker update failed")
	}
}

func addToSet(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		set = map[string]struct{}{}
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFromSet(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}
