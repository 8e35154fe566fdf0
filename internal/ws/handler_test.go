package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/auth"
	"messenger-service/internal/dispatch"
	"messenger-service/internal/models"
	"messenger-service/internal/presence"
	"messenger-service/internal/repositories"
	"messenger-service/internal/repositories/memory"
)

type wsFixture struct {
	server   *httptest.Server
	registry *presence.Registry
	store    repositories.Store
	tokens   *auth.TokenService
}

func newWSFixture(t *testing.T, users ...string) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	for i, name := range users {
		_, err := store.Users.CreateUser(context.Background(), models.User{Username: name, PublicID: name + string(rune('0'+i))})
		require.NoError(t, err)
	}
	registry := presence.NewRegistry()
	hub := NewHub(registry)
	d := dispatch.New(store, hub, nil)
	tokens, err := auth.NewTokenService("test-secret", time.Hour, "messenger-service")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/ws", NewHandler(registry, d, store.Groups, tokens).Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &wsFixture{server: server, registry: registry, store: store, tokens: tokens}
}

func (f *wsFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

type frame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func expect(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == event {
			return f
		}
	}
}

func (f *wsFixture) waitSubscribed(t *testing.T, username, room string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range f.registry.RoomSessions(room) {
			if name, ok := f.registry.Username(s.ID()); ok && name == username {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
}

func TestFriendsExchangeMessagesOverWebsocket(t *testing.T) {
	f := newWSFixture(t, "alice", "bob")
	ctx := context.Background()
	_, err := f.store.Friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.store.Friends.AcceptRequest(ctx, "bob", "alice")
	require.NoError(t, err)

	token, err := f.tokens.Issue("alice")
	require.NoError(t, err)
	alice := f.dial(t, "?token="+token)
	bob := f.dial(t, "")

	send(t, bob, models.EventLogin, "bob")
	send(t, bob, models.EventJoinRoom, map[string]string{"room": "alice_bob"})
	send(t, alice, models.EventJoinRoom, "alice_bob")
	f.waitSubscribed(t, "bob", "alice_bob")
	f.waitSubscribed(t, "alice", "alice_bob")

	send(t, alice, models.EventSendMessage, map[string]string{
		"room": "alice_bob", "author": "alice", "recipient": "bob", "type": "text", "message": "hi",
	})

	got := expect(t, bob, models.EventReceiveMessage)
	require.Equal(t, "hi", got.Data["message"])
	note := expect(t, bob, models.EventNotification)
	require.Equal(t, "alice", note.Data["author"])
}

func TestStrangerMessageRaisesRequest(t *testing.T) {
	f := newWSFixture(t, "alice", "bob")
	alice := f.dial(t, "")
	bob := f.dial(t, "")
	send(t, alice, models.EventLogin, "alice")
	send(t, bob, models.EventLogin, map[string]string{"username": "bob"})
	require.Eventually(t, func() bool { return f.registry.Online("alice") && f.registry.Online("bob") },
		3*time.Second, 10*time.Millisecond)

	send(t, alice, models.EventSendMessage, map[string]string{
		"room": "alice_bob", "author": "alice", "recipient": "bob", "message": "hello?",
	})

	got := expect(t, bob, models.EventRequestReceived)
	require.Equal(t, "alice", got.Data["sender"])
	history, err := f.store.Messages.History(context.Background(), "alice_bob")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestEventsRequireLogin(t *testing.T) {
	f := newWSFixture(t, "alice")
	conn := f.dial(t, "")

	send(t, conn, models.EventJoinRoom, "alice_bob")

	got := expect(t, conn, models.EventError)
	require.Equal(t, models.EventJoinRoom, got.Data["event"])
	require.Equal(t, errNotLoggedIn.Error(), got.Data["message"])
}

func TestJoinForeignRoomIsRejected(t *testing.T) {
	f := newWSFixture(t, "alice", "bob", "carol")
	conn := f.dial(t, "")
	send(t, conn, models.EventLogin, "carol")

	send(t, conn, models.EventJoinRoom, "alice_bob")

	got := expect(t, conn, models.EventError)
	require.Equal(t, dispatch.ErrForbidden.Error(), got.Data["message"])
}

func TestTokenSessionCannotImpersonate(t *testing.T) {
	f := newWSFixture(t, "alice", "bob")
	token, err := f.tokens.Issue("alice")
	require.NoError(t, err)
	conn := f.dial(t, "?token="+token)

	send(t, conn, models.EventLogin, "bob")

	got := expect(t, conn, models.EventError)
	require.Equal(t, models.EventLogin, got.Data["event"])
}

func TestInvalidTokenIsRefused(t *testing.T) {
	f := newWSFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 401, resp.StatusCode)
}

func TestDisconnectUnbindsSession(t *testing.T) {
	f := newWSFixture(t, "alice")
	conn := f.dial(t, "")
	send(t, conn, models.EventLogin, "alice")
	require.Eventually(t, func() bool { return f.registry.Online("alice") }, 3*time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return !f.registry.Online("alice") }, 3*time.Second, 10*time.Millisecond)
}

func TestLeaveRoomStopsRoomBroadcasts(t *testing.T) {
	f := newWSFixture(t, "alice", "bob")
	ctx := context.Background()
	_, err := f.store.Friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = f.store.Friends.AcceptRequest(ctx, "bob", "alice")
	require.NoError(t, err)

	alice := f.dial(t, "")
	bob := f.dial(t, "")
	send(t, alice, models.EventLogin, "alice")
	send(t, bob, models.EventLogin, "bob")
	send(t, bob, models.EventJoinRoom, "alice_bob")
	f.waitSubscribed(t, "bob", "alice_bob")

	send(t, bob, models.EventLeaveRoom, map[string]string{"room": "alice_bob"})
	require.Eventually(t, func() bool { return len(f.registry.RoomSessions("alice_bob")) == 0 },
		3*time.Second, 10*time.Millisecond)

	send(t, alice, models.EventSendMessage, map[string]string{
		"room": "alice_bob", "recipient": "bob", "message": "still there?",
	})

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var got frame
		require.NoError(t, bob.ReadJSON(&got))
		require.NotEqual(t, models.EventReceiveMessage, got.Event)
		if got.Event == models.EventNotification {
			break
		}
	}
}

func TestUnknownUserCannotSend(t *testing.T) {
	f := newWSFixture(t, "bob")
	conn := f.dial(t, "")
	send(t, conn, models.EventLogin, "ghost")

	send(t, conn, models.EventSendMessage, map[string]string{
		"room": "bob_ghost", "recipient": "bob", "message": "hi",
	})

	got := expect(t, conn, models.EventError)
	require.Equal(t, models.EventSendMessage, got.Data["event"])
	require.Equal(t, repositories.ErrUserNotFound.Error(), got.Data["message"])
	history, err := f.store.Messages.History(context.Background(), "bob_ghost")
	require.NoError(t, err)
	require.Empty(t, history)
}
