// Package repotest holds the behavior every storage backend must share.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

// Run exercises a fresh store from open for each subtest.
func Run(t *testing.T, open func(t *testing.T) repositories.Store) {
	t.Run("users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("friend requests", func(t *testing.T) { testFriendRequests(t, open(t)) })
	t.Run("concurrent requests", func(t *testing.T) { testConcurrentRequests(t, open(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, open(t)) })
	t.Run("groups", func(t *testing.T) { testGroups(t, open(t)) })
}

func createUsers(t *testing.T, store repositories.Store, names ...string) {
	t.Helper()
	for i, name := range names {
		_, err := store.Users.CreateUser(context.Background(), models.User{
			Username:    name,
			DisplayName: name,
			PublicID:    fmt.Sprintf("%06d", 200000+i),
		})
		require.NoError(t, err)
	}
}

func testUsers(t *testing.T, store repositories.Store) {
	ctx := context.Background()
	createUsers(t, store, "Alice", "bob")

	_, err := store.Users.CreateUser(ctx, models.User{Username: "alice", PublicID: "999999"})
	require.ErrorIs(t, err, repositories.ErrUsernameTaken)
	_, err = store.Users.CreateUser(ctx, models.User{Username: "carol", PublicID: "200000"})
	require.ErrorIs(t, err, repositories.ErrPublicIDTaken)

	got, err := store.Users.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, "Alice", got.Username)

	_, err = store.Users.GetUserByUsername(ctx, "nobody")
	require.ErrorIs(t, err, repositories.ErrUserNotFound)

	found, err := store.Users.SearchUsers(ctx, "B", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "bob", found[0].Username)

	byID, err := store.Users.SearchUsers(ctx, "200000", 10)
	require.NoError(t, err)
	require.Len(t, byID, 1)

	require.NoError(t, store.Users.UpdatePushToken(ctx, "bob", "tok"))
	bob, err := store.Users.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "tok", bob.PushToken)
	require.ErrorIs(t, store.Users.UpdatePushToken(ctx, "nobody", "tok"), repositories.ErrUserNotFound)

	many, err := store.Users.GetUsersByUsernames(ctx, []string{"bob", "ghost"})
	require.NoError(t, err)
	require.Len(t, many, 1)
}

func testFriendRequests(t *testing.T, store repositories.Store) {
	ctx := context.Background()
	friends := store.Friends

	outcome, err := friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, models.RequestCreated, outcome)

	outcome, err = friends.SendRequest(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, models.RequestAlreadyRequested, outcome)

	incoming, err := friends.ListIncomingRequests(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, incoming)

	ok, err := friends.AcceptRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	require.True(t, ok)

	outcome, err = friends.SendRequest(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, models.RequestAlreadyFriends, outcome)

	list, err := friends.ListFriends(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, list)
	incoming, err = friends.ListIncomingRequests(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, incoming)

	require.NoError(t, friends.RemoveFriend(ctx, "bob", "alice"))
	are, err := friends.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	require.False(t, are)

	// mirror request resolves into a friendship
	_, err = friends.SendRequest(ctx, "carol", "dave")
	require.NoError(t, err)
	outcome, err = friends.SendRequest(ctx, "dave", "carol")
	require.NoError(t, err)
	require.Equal(t, models.RequestMutual, outcome)
	are, err = friends.AreFriends(ctx, "carol", "dave")
	require.NoError(t, err)
	require.True(t, are)

	// accept without a pending request changes nothing
	ok, err = friends.AcceptRequest(ctx, "erin", "frank")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = friends.SendRequest(ctx, "frank", "erin")
	require.NoError(t, err)
	require.NoError(t, friends.RejectRequest(ctx, "erin", "frank"))
	incoming, err = friends.ListIncomingRequests(ctx, "erin")
	require.NoError(t, err)
	require.Empty(t, incoming)
}

func testConcurrentRequests(t *testing.T, store repositories.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	outcomes := make(chan models.RequestOutcome, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			o, err := store.Friends.SendRequest(ctx, "alice", "bob")
			if err == nil {
				outcomes <- o
			}
		}()
		go func() {
			defer wg.Done()
			o, err := store.Friends.SendRequest(ctx, "bob", "alice")
			if err == nil {
				outcomes <- o
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[models.RequestOutcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	require.Equal(t, 1, counts[models.RequestCreated])
	require.Equal(t, 1, counts[models.RequestMutual])

	are, err := store.Friends.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, are)
	for _, user := range []string{"alice", "bob"} {
		incoming, err := store.Friends.ListIncomingRequests(ctx, user)
		require.NoError(t, err)
		require.Empty(t, incoming)
	}
}

func testMessages(t *testing.T, store repositories.Store) {
	ctx := context.Background()
	msgs := store.Messages
	base := time.Now().UTC().Truncate(time.Millisecond)

	first, err := msgs.AppendMessage(ctx, models.Message{Room: "alice_bob", Author: "alice", Recipient: "bob", Kind: models.KindText, Body: "one", CreatedAt: base})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	_, err = msgs.AppendMessage(ctx, models.Message{ID: "m2", Room: "alice_bob", Author: "alice", Recipient: "bob", Kind: models.KindText, Body: "two", CreatedAt: base})
	require.NoError(t, err)
	_, err = msgs.AppendMessage(ctx, models.Message{ID: "m3", Room: "alice_bob", Author: "bob", Recipient: "alice", Kind: models.KindAudio, Body: "data:audio", CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)

	history, err := msgs.History(ctx, "alice_bob")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, []string{"one", "two", "data:audio"}, []string{history[0].Body, history[1].Body, history[2].Body})

	summaries, err := msgs.RoomSummaries(ctx, []string{"alice_bob", "empty"}, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, 2, summaries["alice_bob"].UnreadCount)
	require.Equal(t, "m3", summaries["alice_bob"].LastMessage.ID)

	changed, err := msgs.MarkSeen(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	require.Equal(t, 2, changed)
	changed, err = msgs.MarkSeen(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	require.Zero(t, changed)

	got, err := msgs.GetMessage(ctx, "alice_bob", "m2")
	require.NoError(t, err)
	require.True(t, got.Seen)

	require.NoError(t, msgs.DeleteMessage(ctx, "alice_bob", "m2"))
	require.ErrorIs(t, msgs.DeleteMessage(ctx, "alice_bob", "m2"), repositories.ErrMessageNotFound)
	_, err = msgs.GetMessage(ctx, "alice_bob", "m2")
	require.ErrorIs(t, err, repositories.ErrMessageNotFound)

	require.NoError(t, msgs.ClearRoom(ctx, "alice_bob"))
	require.NoError(t, msgs.ClearRoom(ctx, "never_used"))
	history, err = msgs.History(ctx, "alice_bob")
	require.NoError(t, err)
	require.Empty(t, history)
}

func testGroups(t *testing.T, store repositories.Store) {
	ctx := context.Background()
	groups := store.Groups

	created, err := groups.CreateGroup(ctx, models.Group{ID: "g1", Name: "trip", Admin: "alice", Members: []string{"bob", "alice", "carol", "bob"}})
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob", "carol"}, created.Members)
	require.True(t, created.IsGroup)

	got, err := groups.GetGroup(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, created.Members, got.Members)
	require.Equal(t, "alice", got.Admin)

	member, err := groups.IsMember(ctx, "g1", "carol")
	require.NoError(t, err)
	require.True(t, member)

	list, err := groups.ListGroupsForUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, groups.RemoveMember(ctx, "g1", "carol"))
	require.ErrorIs(t, groups.RemoveMember(ctx, "g1", "carol"), repositories.ErrNotMember)

	require.NoError(t, groups.DeleteGroup(ctx, "g1"))
	require.ErrorIs(t, groups.DeleteGroup(ctx, "g1"), repositories.ErrGroupNotFound)
	_, err = groups.GetGroup(ctx, "g1")
	require.ErrorIs(t, err, repositories.ErrGroupNotFound)

	list, err = groups.ListGroupsForUser(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, list)
}
