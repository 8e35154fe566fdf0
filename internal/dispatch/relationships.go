package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/rooms"
)

func validatePair(a, b string) (string, string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", "", validationError("both usernames are required")
	}
	if strings.EqualFold(a, b) {
		return "", "", validationError("cannot befriend yourself")
	}
	return a, b, nil
}

// resolveUser returns the stored spelling of username, which is matched
// ignoring case.
func (d *Dispatcher) resolveUser(ctx context.Context, username string) (string, error) {
	user, err := d.users.GetUserByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// canonicalName is resolveUser for operations that tolerate missing accounts:
// an unknown name is kept as given.
func (d *Dispatcher) canonicalName(ctx context.Context, username string) (string, error) {
	name, err := d.resolveUser(ctx, username)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return username, nil
	}
	return name, err
}

func (d *Dispatcher) canonicalPair(ctx context.Context, a, b string) (string, string, error) {
	a, err := d.canonicalName(ctx, a)
	if err != nil {
		return "", "", err
	}
	b, err = d.canonicalName(ctx, b)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

// SendRequest opens a friend request from one user to another.
func (d *Dispatcher) SendRequest(ctx context.Context, from, to string) (outcome models.RequestOutcome, err error) {
	ctx, span := d.start(ctx, "SendRequest")
	defer func() { finish(span, "send_request", string(outcome), err) }()

	from, to, err = validatePair(from, to)
	if err != nil {
		return "", err
	}
	if from, err = d.resolveUser(ctx, from); err != nil {
		return "", err
	}
	if to, err = d.resolveUser(ctx, to); err != nil {
		return "", err
	}

	unlock := d.lockPair(from, to)
	defer unlock()

	outcome, err = d.friends.SendRequest(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("send friend request: %w", err)
	}
	switch outcome {
	case models.RequestCreated:
		d.broadcaster.NotifyUser(to, models.Event{Name: models.EventRequestReceived, Data: models.RequestReceivedPayload{Sender: from}})
	case models.RequestMutual:
		d.announceFriendship(from, to)
	}
	return outcome, nil
}

// AcceptRequest turns a pending request from sender into a friendship. It
// returns whether the pair are friends afterwards.
func (d *Dispatcher) AcceptRequest(ctx context.Context, user, sender string) (established bool, err error) {
	ctx, span := d.start(ctx, "AcceptRequest")
	defer func() {
		outcome := "none"
		if established {
			outcome = "established"
		}
		finish(span, "accept_request", outcome, err)
	}()

	user, sender, err = validatePair(user, sender)
	if err != nil {
		return false, err
	}
	if user, sender, err = d.canonicalPair(ctx, user, sender); err != nil {
		return false, err
	}
	unlock := d.lockPair(user, sender)
	defer unlock()

	established, err = d.friends.AcceptRequest(ctx, user, sender)
	if err != nil {
		return false, fmt.Errorf("accept friend request: %w", err)
	}
	if established {
		d.announceFriendship(sender, user)
	}
	return established, nil
}

// RejectRequest drops a pending request. Rejecting nothing is fine.
func (d *Dispatcher) RejectRequest(ctx context.Context, user, sender string) (err error) {
	ctx, span := d.start(ctx, "RejectRequest")
	defer func() { finish(span, "reject_request", "ok", err) }()

	user, sender, err = validatePair(user, sender)
	if err != nil {
		return err
	}
	if user, sender, err = d.canonicalPair(ctx, user, sender); err != nil {
		return err
	}
	unlock := d.lockPair(user, sender)
	defer unlock()

	if err := d.friends.RejectRequest(ctx, user, sender); err != nil {
		return fmt.Errorf("reject friend request: %w", err)
	}
	return nil
}

// RemoveFriend ends a friendship from either side.
func (d *Dispatcher) RemoveFriend(ctx context.Context, user, other string) (err error) {
	ctx, span := d.start(ctx, "RemoveFriend")
	defer func() { finish(span, "remove_friend", "ok", err) }()

	user, other, err = validatePair(user, other)
	if err != nil {
		return err
	}
	if user, other, err = d.canonicalPair(ctx, user, other); err != nil {
		return err
	}
	unlock := d.lockPair(user, other)
	defer unlock()

	if err := d.friends.RemoveFriend(ctx, user, other); err != nil {
		return fmt.Errorf("remove friend: %w", err)
	}
	d.broadcaster.NotifyUser(other, models.Event{Name: models.EventFriendRemoved, Data: models.FriendRemovedPayload{User: user}})
	d.broadcaster.NotifyUser(user, models.Event{Name: models.EventFriendRemoved, Data: models.FriendRemovedPayload{User: other}})
	return nil
}

func (d *Dispatcher) announceFriendship(a, b string) {
	d.broadcaster.NotifyUser(a, models.Event{Name: models.EventRequestAccepted, Data: models.RequestAcceptedPayload{User: b}})
	d.broadcaster.NotifyUser(b, models.Event{Name: models.EventRequestAccepted, Data: models.RequestAcceptedPayload{User: a}})
}

// Friends lists username's friends, most recent conversation first. Friends
// without any message follow, alphabetically.
func (d *Dispatcher) Friends(ctx context.Context, username string) ([]models.FriendSummary, error) {
	if username == "" {
		return nil, validationError("username is required")
	}
	username, err := d.canonicalName(ctx, username)
	if err != nil {
		return nil, err
	}
	names, err := d.friends.ListFriends(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	summaries := make([]models.FriendSummary, 0, len(names))
	if len(names) == 0 {
		return summaries, nil
	}

	users, err := d.users.GetUsersByUsernames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("load friends: %w", err)
	}
	profiles := make(map[string]models.PublicUser, len(users))
	for _, u := range users {
		profiles[u.Username] = u.Public()
	}

	roomKeys := make([]string, 0, len(names))
	for _, name := range names {
		room, err := rooms.Direct(username, name)
		if err != nil {
			continue
		}
		roomKeys = append(roomKeys, room)
		profile, ok := profiles[name]
		if !ok {
			profile = models.PublicUser{Username: name, DisplayName: name, Avatar: models.DefaultAvatar(name)}
		}
		summaries = append(summaries, models.FriendSummary{PublicUser: profile, Room: room})
	}

	state, err := d.messages.RoomSummaries(ctx, roomKeys, username)
	if err != nil {
		return nil, fmt.Errorf("load room summaries: %w", err)
	}
	for i := range summaries {
		if s, ok := state[summaries[i].Room]; ok {
			summaries[i].LastMessage = s.LastMessage
			summaries[i].UnreadCount = s.UnreadCount
		}
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessage, summaries[j].LastMessage
		switch {
		case a != nil && b != nil:
			return a.CreatedAt.After(b.CreatedAt)
		case a != nil:
			return true
		case b != nil:
			return false
		}
		return summaries[i].Username < summaries[j].Username
	})
	return summaries, nil
}

// IncomingRequests returns the senders of requests pending for username.
func (d *Dispatcher) IncomingRequests(ctx context.Context, username string) ([]models.PublicUser, error) {
	if username == "" {
		return nil, validationError("username is required")
	}
	username, err := d.canonicalName(ctx, username)
	if err != nil {
		return nil, err
	}
	senders, err := d.friends.ListIncomingRequests(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	out := make([]models.PublicUser, 0, len(senders))
	if len(senders) == 0 {
		return out, nil
	}
	users, err := d.users.GetUsersByUsernames(ctx, senders)
	if err != nil {
		return nil, fmt.Errorf("load senders: %w", err)
	}
	profiles := make(map[string]models.PublicUser, len(users))
	for _, u := range users {
		profiles[u.Username] = u.Public()
	}
	for _, name := range senders {
		profile, ok := profiles[name]
		if !ok {
			profile = models.PublicUser{Username: name, DisplayName: name, Avatar: models.DefaultAvatar(name)}
		}
		out = append(out, profile)
	}
	return out, nil
}
