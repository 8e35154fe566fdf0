package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/repositories/memory"
)

type recorded struct {
	kind   string
	target string
	event  models.Event
	except string
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recorded
}

func (f *fakeBroadcaster) Publish(room string, event models.Event, except string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recorded{kind: "room", target: room, event: event, except: except})
}

func (f *fakeBroadcaster) NotifyUser(username string, event models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recorded{kind: "user", target: username, event: event})
}

func (f *fakeBroadcaster) EvictUser(room, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recorded{kind: "evict", target: room + "/" + username})
}

func (f *fakeBroadcaster) CloseRoom(room string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recorded{kind: "close", target: room})
}

func (f *fakeBroadcaster) named(name string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, e := range f.events {
		if e.event.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeBroadcaster) of(kind string) []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, e := range f.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    repositories.Store
	bus      *fakeBroadcaster
	notifier *mocks.NotifierMock
	d        *Dispatcher
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	store := memory.NewStore()
	for i, name := range users {
		_, err := store.Users.CreateUser(context.Background(), models.User{
			Username:  name,
			PublicID:  fmt.Sprintf("%06d", 100000+i),
			PushToken: "token-" + name,
		})
		require.NoError(t, err)
	}
	bus := &fakeBroadcaster{}
	notifier := new(mocks.NotifierMock)
	ids := 0
	d := New(store, bus, notifier, WithIDGenerator(func() string {
		ids++
		return fmt.Sprintf("group-%d", ids)
	}))
	return &fixture{store: store, bus: bus, notifier: notifier, d: d}
}

func (f *fixture) befriend(t *testing.T, a, b string) {
	t.Helper()
	_, err := f.store.Friends.SendRequest(context.Background(), a, b)
	require.NoError(t, err)
	ok, err := f.store.Friends.AcceptRequest(context.Background(), b, a)
	require.NoError(t, err)
	require.True(t, ok)
}

func text(room, author, recipient, body string) SendInput {
	return SendInput{Room: room, Author: author, Recipient: recipient, Kind: models.KindText, Body: body, SessionID: "sess-" + author}
}

func TestStrangerMessageIsStoredAndOpensOneRequest(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := f.d.SendMessage(ctx, text("alice_bob", "alice", "bob", fmt.Sprintf("hi %d", i)))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, HeldRequestCreated, res.Delivery)
		} else {
			assert.Equal(t, HeldRequestPending, res.Delivery)
		}
	}

	history, err := f.store.Messages.History(ctx, "alice_bob")
	require.NoError(t, err)
	assert.Len(t, history, 5)

	pending, err := f.store.Friends.ListIncomingRequests(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, pending)

	received := f.bus.named(models.EventRequestReceived)
	require.Len(t, received, 1)
	assert.Equal(t, "bob", received[0].target)
	assert.Equal(t, models.RequestReceivedPayload{Sender: "alice"}, received[0].event.Data)
	assert.Empty(t, f.bus.named(models.EventReceiveMessage))
	assert.Empty(t, f.bus.named(models.EventNotification))
	f.d.Wait()
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestFriendMessageIsBroadcastAndPushed(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.befriend(t, "alice", "bob")
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n models.PushNotification) bool {
		return n.To == "bob" && n.Token == "token-bob" && n.Title == "alice" && n.Body == "hey"
	})).Return(nil).Once()

	res, err := f.d.SendMessage(context.Background(), text("alice_bob", "alice", "bob", "hey"))
	require.NoError(t, err)
	assert.Equal(t, DeliveredFriends, res.Delivery)
	assert.NotEmpty(t, res.Message.ID)
	assert.False(t, res.Message.Seen)

	published := f.bus.named(models.EventReceiveMessage)
	require.Len(t, published, 1)
	assert.Equal(t, "alice_bob", published[0].target)
	assert.Equal(t, "sess-alice", published[0].except)

	notified := f.bus.named(models.EventNotification)
	require.Len(t, notified, 1)
	assert.Equal(t, "bob", notified[0].target)

	f.d.Wait()
	f.notifier.AssertExpectations(t)
}

func TestPushFailureDoesNotFailSend(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.befriend(t, "alice", "bob")
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("fcm down")).Once()

	_, err := f.d.SendMessage(context.Background(), text("alice_bob", "alice", "bob", "hey"))
	require.NoError(t, err)

	f.d.Wait()
	f.notifier.AssertExpectations(t)
}

func TestSelfChatIsDeliveredLikeFriends(t *testing.T) {
	f := newFixture(t, "alice")
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n models.PushNotification) bool {
		return n.To == "alice" && n.Room == "alice_alice"
	})).Return(nil).Once()

	res, err := f.d.SendMessage(context.Background(), text("alice_alice", "alice", "alice", "note"))
	require.NoError(t, err)
	f.d.Wait()

	assert.Equal(t, DeliveredSelf, res.Delivery)
	assert.Len(t, f.bus.named(models.EventReceiveMessage), 1)
	notes := f.bus.named(models.EventNotification)
	require.Len(t, notes, 1)
	assert.Equal(t, "alice", notes[0].target)
	f.notifier.AssertExpectations(t)
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	cases := map[string]SendInput{
		"empty body":     text("alice_bob", "alice", "bob", "  "),
		"missing author": text("alice_bob", "", "bob", "hi"),
		"wrong room":     text("bob_carol", "alice", "bob", "hi"),
		"system kind":    {Room: "alice_bob", Author: "alice", Recipient: "bob", Kind: models.KindSystem, Body: "x"},
		"unknown kind":   {Room: "alice_bob", Author: "alice", Recipient: "bob", Kind: "video", Body: "x"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.d.SendMessage(ctx, in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	history, err := f.store.Messages.History(ctx, "alice_bob")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSendMessageToUnknownUser(t *testing.T) {
	f := newFixture(t, "alice")

	_, err := f.d.SendMessage(context.Background(), text("alice_zed", "alice", "zed", "hi"))
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)
}

func TestMessageResolvesMirrorRequest(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	_, err := f.store.Friends.SendRequest(ctx, "bob", "alice")
	require.NoError(t, err)

	res, err := f.d.SendMessage(ctx, text("alice_bob", "alice", "bob", "hi"))
	require.NoError(t, err)
	assert.Equal(t, DeliveredMutual, res.Delivery)

	friends, err := f.store.Friends.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, friends)
	assert.Len(t, f.bus.named(models.EventRequestAccepted), 2)
	assert.Len(t, f.bus.named(models.EventReceiveMessage), 1)
	f.d.Wait()
}

func TestConversationScenario(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	_, err := f.d.SendMessage(ctx, text("alice_bob", "alice", "bob", "hi"))
	require.NoError(t, err)

	requests, err := f.d.IncomingRequests(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "alice", requests[0].Username)

	established, err := f.d.AcceptRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, established)

	friends, err := f.d.Friends(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, "alice", friends[0].Username)
	assert.Equal(t, "alice_bob", friends[0].Room)
	assert.Equal(t, 1, friends[0].UnreadCount)

	requests, err = f.d.IncomingRequests(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, requests)
	outgoing, err := f.d.IncomingRequests(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, outgoing)

	res, err := f.d.SendMessage(ctx, text("alice_bob", "bob", "alice", "hey"))
	require.NoError(t, err)
	assert.Equal(t, DeliveredFriends, res.Delivery)

	changed, err := f.d.MarkSeen(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	changed, err = f.d.MarkSeen(ctx, "alice_bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	history, err := f.d.History(ctx, "alice_bob")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Body)
	assert.Equal(t, "hey", history[1].Body)
	assert.True(t, history[0].Seen)
	assert.True(t, history[1].Seen)
	f.d.Wait()
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.befriend(t, "alice", "bob")
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	_, err := f.d.SendMessage(ctx, text("alice_bob", "alice", "bob", "one"))
	require.NoError(t, err)
	_, err = f.d.SendMessage(ctx, text("alice_bob", "alice", "bob", "two"))
	require.NoError(t, err)

	changed, err := f.d.MarkSeen(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	changed, err = f.d.MarkSeen(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	assert.Zero(t, changed)

	updates := f.bus.named(models.EventSeenUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, models.RoomPayload{Room: "alice_bob"}, updates[0].event.Data)
	assert.Empty(t, updates[0].except)
	f.d.Wait()
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.befriend(t, "alice", "bob")
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	res, err := f.d.SendMessage(ctx, text("alice_bob", "alice", "bob", "oops"))
	require.NoError(t, err)

	assert.ErrorIs(t, f.d.DeleteMessage(ctx, "alice_bob", res.Message.ID, "bob"), ErrForbidden)
	require.NoError(t, f.d.DeleteMessage(ctx, "alice_bob", res.Message.ID, "alice"))
	assert.ErrorIs(t, f.d.DeleteMessage(ctx, "alice_bob", res.Message.ID, "alice"), repositories.ErrMessageNotFound)

	deleted := f.bus.named(models.EventMessageDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, res.Message.ID, deleted[0].event.Data)

	_, err = f.d.MarkSeen(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	_, err = f.d.SendMessage(ctx, text("alice_bob", "bob", "alice", "fine"))
	require.NoError(t, err)

	history, err := f.d.History(ctx, "alice_bob")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "fine", history[0].Body)
	f.d.Wait()
}

func TestClearRoom(t *testing.T) {
	f := newFixture(t, "alice")
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	_, err := f.d.SendMessage(ctx, text("alice_alice", "alice", "alice", "note"))
	require.NoError(t, err)
	require.NoError(t, f.d.ClearRoom(ctx, "alice_alice"))

	history, err := f.d.History(ctx, "alice_alice")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Len(t, f.bus.named(models.EventChatCleared), 1)
	f.d.Wait()
}

func TestTypingRelaysToRoom(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.d.Typing("alice_bob", "alice", "sess-alice", true))
	require.NoError(t, f.d.Typing("alice_bob", "alice", "sess-alice", false))
	assert.ErrorIs(t, f.d.Typing("", "alice", "sess-alice", true), ErrValidation)

	typing := f.bus.named(models.EventUserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, "sess-alice", typing[0].except)
	assert.Equal(t, models.TypingPayload{Room: "alice_bob", Username: "alice"}, typing[0].event.Data)
	assert.Len(t, f.bus.named(models.EventUserStopTyping), 1)
}

func TestFriendsOrderedByRecency(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol", "dave")
	f.befriend(t, "alice", "bob")
	f.befriend(t, "alice", "carol")
	f.befriend(t, "alice", "dave")
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	_, err := f.d.SendMessage(ctx, text("alice_carol", "carol", "alice", "first"))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = f.d.SendMessage(ctx, text("alice_bob", "bob", "alice", "second"))
	require.NoError(t, err)

	friends, err := f.d.Friends(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, friends, 3)
	assert.Equal(t, "bob", friends[0].Username)
	assert.Equal(t, "second", friends[0].LastMessage.Body)
	assert.Equal(t, "carol", friends[1].Username)
	assert.Equal(t, "dave", friends[2].Username)
	assert.Nil(t, friends[2].LastMessage)
	f.d.Wait()
}

func TestRelationshipTransitions(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	outcome, err := f.d.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.RequestCreated, outcome)

	outcome, err = f.d.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.RequestAlreadyRequested, outcome)

	require.NoError(t, f.d.RejectRequest(ctx, "bob", "alice"))
	require.NoError(t, f.d.RejectRequest(ctx, "bob", "alice"))
	assertState(t, f.store, "alice", "bob", "strangers")

	established, err := f.d.AcceptRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, established, "accept without a pending request must not befriend")
	assertState(t, f.store, "alice", "bob", "strangers")

	_, err = f.d.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	established, err = f.d.AcceptRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, established)
	assertState(t, f.store, "alice", "bob", "friends")

	outcome, err = f.d.SendRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RequestAlreadyFriends, outcome)

	require.NoError(t, f.d.RemoveFriend(ctx, "bob", "alice"))
	assertState(t, f.store, "alice", "bob", "strangers")
	removed := f.bus.named(models.EventFriendRemoved)
	assert.Len(t, removed, 2)

	_, err = f.d.SendRequest(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.d.SendRequest(ctx, "alice", "nobody")
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)
}

func TestMirrorRequestBecomesFriendship(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	_, err := f.d.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	outcome, err := f.d.SendRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RequestMutual, outcome)
	assertState(t, f.store, "alice", "bob", "friends")
}

func TestRelationshipsMatchUsernamesIgnoringCase(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	outcome, err := f.d.SendRequest(ctx, "alice", "Bob")
	require.NoError(t, err)
	assert.Equal(t, models.RequestCreated, outcome)

	received := f.bus.named(models.EventRequestReceived)
	require.Len(t, received, 1)
	assert.Equal(t, "bob", received[0].target)

	pending, err := f.d.IncomingRequests(ctx, "BOB")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "alice", pending[0].Username)

	outcome, err = f.d.SendRequest(ctx, "ALICE", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.RequestAlreadyRequested, outcome)

	established, err := f.d.AcceptRequest(ctx, "bob", "Alice")
	require.NoError(t, err)
	assert.True(t, established)
	assertState(t, f.store, "alice", "bob", "friends")

	_, err = f.d.SendRequest(ctx, "alice", "ALICE")
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.d.RemoveFriend(ctx, "Bob", "alice"))
	assertState(t, f.store, "alice", "bob", "strangers")
}

func TestStrangerMessageUsesStoredUsernames(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	res, err := f.d.SendMessage(ctx, text("Bob_alice", "alice", "Bob", "hi"))
	require.NoError(t, err)
	assert.Equal(t, HeldRequestCreated, res.Delivery)
	assert.Equal(t, "alice_bob", res.Message.Room)
	assert.Equal(t, "bob", res.Message.Recipient)

	history, err := f.store.Messages.History(ctx, "alice_bob")
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assertState(t, f.store, "alice", "bob", "pending_from_alice")

	established, err := f.d.AcceptRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, established)
}

func TestUnknownSenderIsRejected(t *testing.T) {
	f := newFixture(t, "bob")
	ctx := context.Background()

	_, err := f.d.SendRequest(ctx, "ghost", "bob")
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)

	_, err = f.d.SendMessage(ctx, text("bob_ghost", "ghost", "bob", "hi"))
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)

	pending, err := f.d.IncomingRequests(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, pending)
	history, err := f.store.Messages.History(ctx, "bob_ghost")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, f.bus.named(models.EventRequestReceived))

	require.NoError(t, f.d.RejectRequest(ctx, "bob", "ghost"))
}

// assertState checks that the pair is in exactly the expected state.
func assertState(t *testing.T, store repositories.Store, a, b, want string) {
	t.Helper()
	ctx := context.Background()
	friends, err := store.Friends.AreFriends(ctx, a, b)
	require.NoError(t, err)
	toB, err := store.Friends.ListIncomingRequests(ctx, b)
	require.NoError(t, err)
	toA, err := store.Friends.ListIncomingRequests(ctx, a)
	require.NoError(t, err)

	pendingAB := contains(toB, a)
	pendingBA := contains(toA, b)

	states := 0
	got := "strangers"
	if friends {
		states++
		got = "friends"
	}
	if pendingAB {
		states++
		got = "pending_from_" + a
	}
	if pendingBA {
		states++
		got = "pending_from_" + b
	}
	require.LessOrEqual(t, states, 1, "pair %s/%s is in more than one state", a, b)
	assert.Equal(t, want, got)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestRelationshipStateStaysExclusiveUnderConcurrency(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	var wg sync.WaitGroup
	ops := []func(){
		func() { _, _ = f.d.SendRequest(ctx, "alice", "bob") },
		func() { _, _ = f.d.SendRequest(ctx, "bob", "alice") },
		func() { _, _ = f.d.AcceptRequest(ctx, "bob", "alice") },
		func() { _, _ = f.d.AcceptRequest(ctx, "alice", "bob") },
		func() { _ = f.d.RejectRequest(ctx, "bob", "alice") },
		func() { _ = f.d.RemoveFriend(ctx, "alice", "bob") },
	}
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(op func()) {
			defer wg.Done()
			op()
		}(ops[i%len(ops)])
	}
	wg.Wait()

	friends, err := f.store.Friends.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	toB, err := f.store.Friends.ListIncomingRequests(ctx, "bob")
	require.NoError(t, err)
	toA, err := f.store.Friends.ListIncomingRequests(ctx, "alice")
	require.NoError(t, err)

	states := len(toB) + len(toA)
	if friends {
		states++
	}
	assert.LessOrEqual(t, states, 1)
	assert.Zero(t, f.d.locks.size())
}

func TestConcurrentSendRequestStoresOnePendingEdge(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[models.RequestOutcome]int{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.d.SendRequest(ctx, "alice", "bob")
			assert.NoError(t, err)
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[models.RequestCreated])
	assert.Equal(t, 19, outcomes[models.RequestAlreadyRequested])
	pending, err := f.store.Friends.ListIncomingRequests(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, pending)
	assert.Len(t, f.bus.named(models.EventRequestReceived), 1)
}

func TestConcurrentStrangerMessagesOpenOneRequest(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.d.SendMessage(ctx, text("alice_bob", "alice", "bob", fmt.Sprintf("m%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.bus.named(models.EventRequestReceived), 1)
	history, err := f.store.Messages.History(ctx, "alice_bob")
	require.NoError(t, err)
	assert.Len(t, history, 10)
}

func TestRoomBroadcastFollowsAppendOrder(t *testing.T) {
	f := newFixture(t, "carol", "dave", "erin")
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	group, err := f.d.CreateGroup(ctx, "team", "carol", []string{"dave", "erin"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		author := group.Members[i%len(group.Members)]
		wg.Add(1)
		go func(i int, author string) {
			defer wg.Done()
			in := SendInput{Room: group.ID, Author: author, Recipient: models.RecipientAll, Body: fmt.Sprintf("m%d", i)}
			_, err := f.d.SendMessage(ctx, in)
			assert.NoError(t, err)
		}(i, author)
	}
	wg.Wait()
	f.d.Wait()

	history, err := f.d.History(ctx, group.ID)
	require.NoError(t, err)
	var published []string
	for _, e := range f.bus.named(models.EventReceiveMessage) {
		if e.target == group.ID {
			published = append(published, e.event.Data.(models.Message).ID)
		}
	}
	var stored []string
	for _, m := range history {
		stored = append(stored, m.ID)
	}
	assert.Equal(t, stored, published)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	k := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("room:x")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.size())

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Zero(t, k.size())
}
