package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
)

func TestCreateGroupIncludesAdmin(t *testing.T) {
	f := newFixture(t, "carol", "dave")
	ctx := context.Background()

	group, err := f.d.CreateGroup(ctx, "Weekend", "carol", []string{"dave", "dave", " "})
	require.NoError(t, err)
	assert.Equal(t, "group-1", group.ID)
	assert.Equal(t, []string{"carol", "dave"}, group.Members)
	assert.True(t, group.IsGroup)

	history, err := f.d.History(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.KindSystem, history[0].Kind)
	assert.Equal(t, models.SystemAuthor, history[0].Author)
	assert.Equal(t, models.RecipientAll, history[0].Recipient)
	assert.Equal(t, `Group "Weekend" created by carol`, history[0].Body)

	created := f.bus.named(models.EventGroupCreated)
	require.Len(t, created, 2)

	_, err = f.d.CreateGroup(ctx, " ", "carol", nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestGroupMessageFansOutPerMember(t *testing.T) {
	f := newFixture(t, "carol", "dave", "erin", "mallory")
	ctx := context.Background()
	f.notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n models.PushNotification) bool {
		return n.Title == "team" && n.Body == "carol: hello"
	})).Return(nil).Twice()

	group, err := f.d.CreateGroup(ctx, "team", "carol", []string{"dave", "erin"})
	require.NoError(t, err)

	res, err := f.d.SendMessage(ctx, SendInput{Room: group.ID, Author: "carol", Recipient: models.RecipientAll, Body: "hello", SessionID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, DeliveredGroup, res.Delivery)

	var roomEvents []recorded
	for _, e := range f.bus.named(models.EventReceiveMessage) {
		if e.event.Data.(models.Message).Kind == models.KindText {
			roomEvents = append(roomEvents, e)
		}
	}
	require.Len(t, roomEvents, 1)
	assert.Equal(t, "c1", roomEvents[0].except)

	var targets []string
	for _, e := range f.bus.named(models.EventNotification) {
		targets = append(targets, e.target)
	}
	assert.ElementsMatch(t, []string{"dave", "erin"}, targets)

	_, err = f.d.SendMessage(ctx, SendInput{Room: group.ID, Author: "mallory", Recipient: models.RecipientAll, Body: "let me in"})
	assert.ErrorIs(t, err, repositories.ErrNotMember)

	_, err = f.d.SendMessage(ctx, SendInput{Room: "missing", Author: "carol", Recipient: models.RecipientAll, Body: "?"})
	assert.ErrorIs(t, err, repositories.ErrGroupNotFound)

	f.d.Wait()
	f.notifier.AssertExpectations(t)
}

func TestGroupLifecycleScenario(t *testing.T) {
	f := newFixture(t, "carol", "dave")
	ctx := context.Background()

	group, err := f.d.CreateGroup(ctx, "book club", "carol", []string{"dave"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"carol", "dave"}, group.Members)

	assert.ErrorIs(t, f.d.DeleteGroup(ctx, group.ID, "dave"), ErrNotAdmin)

	require.NoError(t, f.d.LeaveGroup(ctx, group.ID, "dave"))
	stored, err := f.store.Groups.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, stored.Members)

	history, err := f.d.History(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "dave left the group", history[1].Body)
	assert.Equal(t, models.KindSystem, history[1].Kind)

	evicted := f.bus.of("evict")
	require.Len(t, evicted, 1)
	assert.Equal(t, group.ID+"/dave", evicted[0].target)

	assert.ErrorIs(t, f.d.LeaveGroup(ctx, group.ID, "dave"), repositories.ErrNotMember)

	daveGroups, err := f.d.Groups(ctx, "dave")
	require.NoError(t, err)
	assert.Empty(t, daveGroups)

	require.NoError(t, f.d.DeleteGroup(ctx, group.ID, "carol"))
	_, err = f.store.Groups.GetGroup(ctx, group.ID)
	assert.ErrorIs(t, err, repositories.ErrGroupNotFound)
	history, err = f.d.History(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	deleted := f.bus.named(models.EventGroupDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, "carol", deleted[0].target)
	assert.Equal(t, models.GroupDeletedPayload{GroupID: group.ID}, deleted[0].event.Data)
	closed := f.bus.of("close")
	require.Len(t, closed, 1)
	assert.Equal(t, group.ID, closed[0].target)

	assert.ErrorIs(t, f.d.DeleteGroup(ctx, group.ID, "carol"), repositories.ErrGroupNotFound)
	assert.ErrorIs(t, f.d.LeaveGroup(ctx, group.ID, "carol"), repositories.ErrGroupNotFound)
}

func TestAdminMayLeave(t *testing.T) {
	f := newFixture(t, "carol", "dave")
	ctx := context.Background()

	group, err := f.d.CreateGroup(ctx, "g", "carol", []string{"dave"})
	require.NoError(t, err)
	require.NoError(t, f.d.LeaveGroup(ctx, group.ID, "carol"))

	stored, err := f.store.Groups.GetGroup(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, stored.Members)
	assert.Equal(t, "carol", stored.Admin)
}
