package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/rooms"
)

// CreateGroup stores a group whose members always include admin and opens
// its room with a system message.
func (d *Dispatcher) CreateGroup(ctx context.Context, name, admin string, members []string) (group models.Group, err error) {
	ctx, span := d.start(ctx, "CreateGroup")
	defer func() { finish(span, "create_group", "ok", err) }()

	name, admin = strings.TrimSpace(name), strings.TrimSpace(admin)
	if name == "" || admin == "" {
		return models.Group{}, validationError("group name and admin are required")
	}

	group, err = d.groups.CreateGroup(ctx, models.Group{ID: d.newID(), Name: name, Admin: admin, Members: members})
	if err != nil {
		return models.Group{}, fmt.Errorf("create group: %w", err)
	}
	room := rooms.Group(group.ID)

	unlock := d.lockRoom(room)
	_, err = d.appendSystem(ctx, room, fmt.Sprintf("Group \"%s\" created by %s", group.Name, group.Admin))
	unlock()
	if err != nil {
		return models.Group{}, err
	}

	for _, member := range group.Members {
		d.broadcaster.NotifyUser(member, models.Event{Name: models.EventGroupCreated, Data: group})
	}
	log.Info().Str("group_id", group.ID).Str("admin", admin).Int("members", len(group.Members)).Msg("group created")
	return group, nil
}

// LeaveGroup removes username from the group. Any member may leave,
// including the admin.
func (d *Dispatcher) LeaveGroup(ctx context.Context, groupID, username string) (err error) {
	ctx, span := d.start(ctx, "LeaveGroup")
	defer func() { finish(span, "leave_group", "ok", err) }()

	if groupID == "" || username == "" {
		return validationError("group id and username are required")
	}
	if _, err := d.groups.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if err := d.groups.RemoveMember(ctx, groupID, username); err != nil {
		if errors.Is(err, repositories.ErrNotMember) {
			return err
		}
		return fmt.Errorf("remove member: %w", err)
	}
	room := rooms.Group(groupID)
	d.broadcaster.EvictUser(room, username)

	unlock := d.lockRoom(room)
	defer unlock()
	_, err = d.appendSystem(ctx, room, fmt.Sprintf("%s left the group", username))
	return err
}

// DeleteGroup destroys the group and its history. Only the admin may do it.
func (d *Dispatcher) DeleteGroup(ctx context.Context, groupID, requester string) (err error) {
	ctx, span := d.start(ctx, "DeleteGroup")
	defer func() { finish(span, "delete_group", "ok", err) }()

	if groupID == "" || requester == "" {
		return validationError("group id and username are required")
	}
	group, err := d.groups.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.Admin != requester {
		return ErrNotAdmin
	}

	room := rooms.Group(groupID)
	unlock := d.lockRoom(room)
	defer unlock()

	if err := d.messages.ClearRoom(ctx, room); err != nil {
		return fmt.Errorf("clear group room: %w", err)
	}
	if err := d.groups.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	event := models.Event{Name: models.EventGroupDeleted, Data: models.GroupDeletedPayload{GroupID: groupID}}
	for _, member := range group.Members {
		d.broadcaster.NotifyUser(member, event)
	}
	d.broadcaster.CloseRoom(room)
	log.Info().Str("group_id", groupID).Msg("group deleted")
	return nil
}

// Groups lists the groups username belongs to.
func (d *Dispatcher) Groups(ctx context.Context, username string) ([]models.Group, error) {
	if username == "" {
		return nil, validationError("username is required")
	}
	groups, err := d.groups.ListGroupsForUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// appendSystem must run under the room lock.
func (d *Dispatcher) appendSystem(ctx context.Context, room, text string) (models.Message, error) {
	msg, err := d.messages.AppendMessage(ctx, models.Message{
		Room:      room,
		Author:    models.SystemAuthor,
		Recipient: models.RecipientAll,
		Kind:      models.KindSystem,
		Body:      text,
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("append system message: %w", err)
	}
	d.broadcaster.Publish(room, models.Event{Name: models.EventReceiveMessage, Data: msg}, "")
	return msg, nil
}
