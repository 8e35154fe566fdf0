package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/rooms"
)

// Delivery says which branch a sent message took.
type Delivery string

const (
	DeliveredGroup   Delivery = "group"
	DeliveredSelf    Delivery = "self"
	DeliveredFriends Delivery = "friends"
	// DeliveredMutual means the message resolved a pending request the other way.
	DeliveredMutual Delivery = "mutual"
	// HeldRequestCreated means the message was stored and a request opened.
	HeldRequestCreated Delivery = "request_created"
	// HeldRequestPending means the message was stored behind an existing request.
	HeldRequestPending Delivery = "request_pending"
)

// SendInput is a send-message intent.
type SendInput struct {
	Room      string
	Author    string
	Recipient string
	Kind      models.MessageKind
	Body      string
	// SessionID is the sending session; it does not get the echo.
	SessionID string
}

// SendResult is the stored message and the branch it took.
type SendResult struct {
	Message  models.Message
	Delivery Delivery
}

func (in *SendInput) normalize() error {
	in.Room = strings.TrimSpace(in.Room)
	in.Author = strings.TrimSpace(in.Author)
	in.Recipient = strings.TrimSpace(in.Recipient)
	if in.Kind == "" {
		in.Kind = models.KindText
	}
	switch {
	case in.Room == "":
		return validationError("room is required")
	case in.Author == "":
		return validationError("author is required")
	case in.Recipient == "":
		return validationError("recipient is required")
	case !in.Kind.Valid() || in.Kind == models.KindSystem:
		return validationError("unsupported message type %q", in.Kind)
	case strings.TrimSpace(in.Body) == "":
		return validationError("message body is empty")
	}
	return nil
}

// SendMessage runs the delivery state machine for one message.
func (d *Dispatcher) SendMessage(ctx context.Context, in SendInput) (result SendResult, err error) {
	ctx, span := d.start(ctx, "SendMessage")
	defer func() { finish(span, "send_message", string(result.Delivery), err) }()

	if err := in.normalize(); err != nil {
		return SendResult{}, err
	}
	span.SetAttributes(attribute.String("room", in.Room), attribute.String("author", in.Author))

	author, err := d.resolveUser(ctx, in.Author)
	if err != nil {
		return SendResult{}, err
	}
	if in.Recipient == models.RecipientAll {
		in.Author = author
		return d.sendGroup(ctx, in)
	}
	if err := d.resolveDirect(ctx, &in, author); err != nil {
		return SendResult{}, err
	}

	if in.Author == in.Recipient {
		unlock := d.lockRoom(in.Room)
		defer unlock()
		msg, err := d.appendAndPublish(ctx, in)
		if err != nil {
			return SendResult{}, err
		}
		d.notifyRecipient(in.Recipient, in.Author, msg)
		return SendResult{Message: msg, Delivery: DeliveredSelf}, nil
	}

	unlockPair := d.lockPair(in.Author, in.Recipient)
	defer unlockPair()

	friends, err := d.friends.AreFriends(ctx, in.Author, in.Recipient)
	if err != nil {
		return SendResult{}, fmt.Errorf("check friendship: %w", err)
	}

	unlockRoom := d.lockRoom(in.Room)
	defer unlockRoom()

	if friends {
		msg, err := d.appendAndPublish(ctx, in)
		if err != nil {
			return SendResult{}, err
		}
		d.notifyRecipient(in.Recipient, in.Author, msg)
		return SendResult{Message: msg, Delivery: DeliveredFriends}, nil
	}

	// Strangers: the message is kept but not shown until the request is accepted.
	msg, err := d.messages.AppendMessage(ctx, newMessage(in))
	if err != nil {
		return SendResult{}, fmt.Errorf("append message: %w", err)
	}
	outcome, err := d.friends.SendRequest(ctx, in.Author, in.Recipient)
	if err != nil {
		return SendResult{Message: msg}, fmt.Errorf("ensure friend request: %w", err)
	}
	switch outcome {
	case models.RequestCreated:
		d.broadcaster.NotifyUser(in.Recipient, models.Event{Name: models.EventRequestReceived, Data: models.RequestReceivedPayload{Sender: in.Author}})
		return SendResult{Message: msg, Delivery: HeldRequestCreated}, nil
	case models.RequestAlreadyRequested:
		return SendResult{Message: msg, Delivery: HeldRequestPending}, nil
	case models.RequestMutual:
		d.announceFriendship(in.Author, in.Recipient)
		d.publishMessage(in, msg)
		d.notifyRecipient(in.Recipient, in.Author, msg)
		return SendResult{Message: msg, Delivery: DeliveredMutual}, nil
	default:
		// Became friends through another instance after the check above.
		d.publishMessage(in, msg)
		d.notifyRecipient(in.Recipient, in.Author, msg)
		return SendResult{Message: msg, Delivery: DeliveredFriends}, nil
	}
}

// resolveDirect rewrites the participants and room of a direct message to
// their stored spelling. The room sent by the client must match the pair as
// sent or as stored.
func (d *Dispatcher) resolveDirect(ctx context.Context, in *SendInput, author string) error {
	recipient := author
	if !strings.EqualFold(in.Recipient, in.Author) {
		var err error
		if recipient, err = d.resolveUser(ctx, in.Recipient); err != nil {
			return err
		}
	}
	room, err := rooms.Direct(author, recipient)
	if err != nil {
		return validationError("%v", err)
	}
	if in.Room != room {
		sent, err := rooms.Direct(in.Author, in.Recipient)
		if err != nil || in.Room != sent {
			return validationError("room %q does not belong to %s and %s", in.Room, author, recipient)
		}
	}
	in.Author, in.Recipient, in.Room = author, recipient, room
	return nil
}

func (d *Dispatcher) sendGroup(ctx context.Context, in SendInput) (SendResult, error) {
	group, err := d.groups.GetGroup(ctx, in.Room)
	if err != nil {
		return SendResult{}, err
	}
	if !group.HasMember(in.Author) {
		return SendResult{}, repositories.ErrNotMember
	}

	unlock := d.lockRoom(in.Room)
	msg, err := d.appendAndPublish(ctx, in)
	unlock()
	if err != nil {
		return SendResult{}, err
	}

	for _, member := range group.Members {
		if member == in.Author {
			continue
		}
		d.broadcaster.NotifyUser(member, models.Event{Name: models.EventNotification, Data: msg})
		d.push(member, group.Name, withAuthorPrefix(msg))
	}
	return SendResult{Message: msg, Delivery: DeliveredGroup}, nil
}

func newMessage(in SendInput) models.Message {
	return models.Message{
		Room:      in.Room,
		Author:    in.Author,
		Recipient: in.Recipient,
		Kind:      in.Kind,
		Body:      in.Body,
	}
}

// appendAndPublish must run under the room lock so broadcasts follow append order.
func (d *Dispatcher) appendAndPublish(ctx context.Context, in SendInput) (models.Message, error) {
	msg, err := d.messages.AppendMessage(ctx, newMessage(in))
	if err != nil {
		return models.Message{}, fmt.Errorf("append message: %w", err)
	}
	d.publishMessage(in, msg)
	return msg, nil
}

func (d *Dispatcher) publishMessage(in SendInput, msg models.Message) {
	d.broadcaster.Publish(in.Room, models.Event{Name: models.EventReceiveMessage, Data: msg}, in.SessionID)
}

func (d *Dispatcher) notifyRecipient(recipient, author string, msg models.Message) {
	d.broadcaster.NotifyUser(recipient, models.Event{Name: models.EventNotification, Data: msg})
	d.push(recipient, author, msg)
}

func withAuthorPrefix(msg models.Message) models.Message {
	if msg.Kind == models.KindText {
		msg.Body = msg.Author + ": " + msg.Body
	}
	return msg
}

// MarkSeen flips every unseen message addressed to viewer in room and
// announces the change only when something flipped.
func (d *Dispatcher) MarkSeen(ctx context.Context, room, viewer string) (changed int, err error) {
	ctx, span := d.start(ctx, "MarkSeen")
	defer func() { finish(span, "mark_seen", "ok", err) }()

	if room == "" || viewer == "" {
		return 0, validationError("room and username are required")
	}
	unlock := d.lockRoom(room)
	defer unlock()

	changed, err = d.messages.MarkSeen(ctx, room, viewer)
	if err != nil {
		return 0, fmt.Errorf("mark seen: %w", err)
	}
	if changed > 0 {
		d.broadcaster.Publish(room, models.Event{Name: models.EventSeenUpdate, Data: models.RoomPayload{Room: room}}, "")
	}
	return changed, nil
}

// DeleteMessage removes one message. Only its author may delete it.
func (d *Dispatcher) DeleteMessage(ctx context.Context, room, id, requester string) (err error) {
	ctx, span := d.start(ctx, "DeleteMessage")
	defer func() { finish(span, "delete_message", "ok", err) }()

	if room == "" || id == "" || requester == "" {
		return validationError("room, id and username are required")
	}
	unlock := d.lockRoom(room)
	defer unlock()

	msg, err := d.messages.GetMessage(ctx, room, id)
	if err != nil {
		return err
	}
	if msg.Author != requester {
		return ErrForbidden
	}
	if err := d.messages.DeleteMessage(ctx, room, id); err != nil {
		return err
	}
	d.broadcaster.Publish(room, models.Event{Name: models.EventMessageDeleted, Data: id}, "")
	return nil
}

// ClearRoom wipes a room's history and tells its subscribers.
func (d *Dispatcher) ClearRoom(ctx context.Context, room string) (err error) {
	ctx, span := d.start(ctx, "ClearRoom")
	defer func() { finish(span, "clear_room", "ok", err) }()

	if room == "" {
		return validationError("room is required")
	}
	unlock := d.lockRoom(room)
	defer unlock()

	if err := d.messages.ClearRoom(ctx, room); err != nil {
		return fmt.Errorf("clear room: %w", err)
	}
	d.broadcaster.Publish(room, models.Event{Name: models.EventChatCleared, Data: models.RoomPayload{Room: room}}, "")
	log.Info().Str("room", room).Msg("room cleared")
	return nil
}

// History returns the room's messages in append order.
func (d *Dispatcher) History(ctx context.Context, room string) ([]models.Message, error) {
	if room == "" {
		return nil, validationError("room is required")
	}
	msgs, err := d.messages.History(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// Typing relays typing state to the rest of the room. Nothing is stored.
func (d *Dispatcher) Typing(room, username, sessionID string, typing bool) error {
	if room == "" || username == "" {
		return validationError("room and username are required")
	}
	name := models.EventUserStopTyping
	if typing {
		name = models.EventUserTyping
	}
	d.broadcaster.Publish(room, models.Event{Name: name, Data: models.TypingPayload{Room: room, Username: username}}, sessionID)
	return nil
}
