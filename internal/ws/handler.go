package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"messenger-service/internal/dispatch"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/rooms"
)

const eventTimeout = 10 * time.Second

var errNotLoggedIn = errors.New("login first")

type tokenValidator interface {
	Validate(token string) (string, error)
}

type messageDispatcher interface {
	SendMessage(ctx context.Context, in dispatch.SendInput) (dispatch.SendResult, error)
	MarkSeen(ctx context.Context, room, viewer string) (int, error)
	DeleteMessage(ctx context.Context, room, id, requester string) error
	Typing(room, username, sessionID string, typing bool) error
}

type membershipChecker interface {
	IsMember(ctx context.Context, groupID, username string) (bool, error)
}

// Handler upgrades GET /ws and runs the event loop of each session.
type Handler struct {
	registry   *presence.Registry
	dispatcher messageDispatcher
	groups     membershipChecker
	tokens     tokenValidator
}

// NewHandler constructs a Handler. tokens may be nil, in which case sessions
// bind only through the login event.
func NewHandler(registry *presence.Registry, dispatcher messageDispatcher, groups membershipChecker, tokens tokenValidator) *Handler {
	return &Handler{registry: registry, dispatcher: dispatcher, groups: groups, tokens: tokens}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection. A token, when present, pre-binds the
// session to its user.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messenger-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var username string
	if token := tokenFromRequest(c); token != "" && h.tokens != nil {
		name, err := h.tokens.Validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		username = name
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		Username:    username,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	session := newSession(conn, info)
	if username != "" {
		session.pinned = true
		h.registry.Bind(username, session)
	}

	observability.IncWSActive()
	observability.IncWSEvent("in", observability.WSConnect)
	publishLifecycle(observability.WSConnect, info, "")

	go session.writePump()
	go func() {
		reason := session.readPump(func(frame []byte) { h.handleFrame(session, frame) })
		h.registry.Unbind(session.ID())
		session.close()
		observability.DecWSActive()
		observability.IncWSEvent("in", observability.WSDisconnect)
		publishLifecycle(observability.WSDisconnect, session.connInfo(), reason)
	}()
}

func tokenFromRequest(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func publishLifecycle(event string, info ConnInfo, reason string) {
	envelope := observability.NewWSEnvelope(event, info.ConnID, reason, info.ConnectedAt, info.identity())
	_ = observability.PublishEvent(context.Background(), observability.WSRoutingKey, envelope,
		observability.BuildHeaders(info.RequestID, info.TraceID))
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomData struct {
	Room string `json:"room"`
}

type sendData struct {
	Room      string             `json:"room"`
	Author    string             `json:"author"`
	Recipient string             `json:"recipient"`
	Kind      models.MessageKind `json:"type"`
	Body      string             `json:"message"`
}

type seenData struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type deleteData struct {
	Room string `json:"room"`
	ID   string `json:"id"`
}

func (h *Handler) handleFrame(s *Session, frame []byte) {
	var in inboundFrame
	if err := json.Unmarshal(frame, &in); err != nil || in.Event == "" {
		h.reject(s, "", errors.New("malformed frame"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	var err error
	switch in.Event {
	case models.EventLogin:
		err = h.login(s, in.Data)
	case models.EventJoinRoom:
		err = h.joinRoom(ctx, s, in.Data)
	case models.EventLeaveRoom:
		err = h.leaveRoom(s, in.Data)
	case models.EventSendMessage:
		err = h.sendMessage(ctx, s, in.Data)
	case models.EventMarkSeen:
		err = h.markSeen(ctx, s, in.Data)
	case models.EventDeleteMessage:
		err = h.deleteMessage(ctx, s, in.Data)
	case models.EventTyping, models.EventStopTyping:
		err = h.typing(s, in.Data, in.Event == models.EventTyping)
	default:
		h.reject(s, in.Event, errors.New("unknown event"))
		return
	}
	observability.IncWSEvent("in", in.Event)
	if err != nil {
		h.reject(s, in.Event, err)
	}
}

func (h *Handler) reject(s *Session, event string, err error) {
	log.Debug().Err(err).Str("conn_id", s.ID()).Str("event", event).Msg("websocket event rejected")
	_ = s.Send(models.Event{Name: models.EventError, Data: models.ErrorPayload{Event: event, Message: err.Error()}})
}

// boundUser returns the user the session is bound to.
func (h *Handler) boundUser(s *Session) (string, error) {
	username, ok := h.registry.Username(s.ID())
	if !ok {
		return "", errNotLoggedIn
	}
	return username, nil
}

// login accepts either a bare username or {"username": ...}. A session
// authenticated by token cannot switch to another user.
func (h *Handler) login(s *Session, raw json.RawMessage) error {
	var username string
	if err := json.Unmarshal(raw, &username); err != nil {
		var obj struct {
			Username string `json:"username"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return errors.New("username is required")
		}
		username = obj.Username
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}
	if s.pinned && s.connInfo().Username != username {
		return errors.New("session is bound to another user")
	}
	h.registry.Bind(username, s)
	s.setUsername(username)
	return nil
}

// parseRoom accepts either a bare room key or {"room": ...}.
func parseRoom(raw json.RawMessage) (string, error) {
	var room string
	if err := json.Unmarshal(raw, &room); err != nil {
		var data roomData
		if err := json.Unmarshal(raw, &data); err != nil {
			return "", errors.New("room is required")
		}
		room = data.Room
	}
	if room == "" {
		return "", errors.New("room is required")
	}
	return room, nil
}

func (h *Handler) joinRoom(ctx context.Context, s *Session, raw json.RawMessage) error {
	room, err := parseRoom(raw)
	if err != nil {
		return err
	}
	username, err := h.boundUser(s)
	if err != nil {
		return err
	}
	if _, ok := rooms.Peer(room, username); !ok {
		member, err := h.groups.IsMember(ctx, room, username)
		if err != nil {
			return err
		}
		if !member {
			return dispatch.ErrForbidden
		}
	}
	h.registry.JoinRoom(s.ID(), room)
	return nil
}

func (h *Handler) leaveRoom(s *Session, raw json.RawMessage) error {
	room, err := parseRoom(raw)
	if err != nil {
		return err
	}
	if _, err := h.boundUser(s); err != nil {
		return err
	}
	h.registry.LeaveRoom(s.ID(), room)
	return nil
}

func (h *Handler) sendMessage(ctx context.Context, s *Session, raw json.RawMessage) error {
	var data sendData
	if err := json.Unmarshal(raw, &data); err != nil {
		return errors.New("invalid message payload")
	}
	username, err := h.boundUser(s)
	if err != nil {
		return err
	}
	if data.Author == "" {
		data.Author = username
	}
	if data.Author != username {
		return dispatch.ErrForbidden
	}
	_, err = h.dispatcher.SendMessage(ctx, dispatch.SendInput{
		Room:      data.Room,
		Author:    data.Author,
		Recipient: data.Recipient,
		Kind:      data.Kind,
		Body:      data.Body,
		SessionID: s.ID(),
	})
	return err
}

func (h *Handler) markSeen(ctx context.Context, s *Session, raw json.RawMessage) error {
	var data seenData
	if err := json.Unmarshal(raw, &data); err != nil {
		return errors.New("invalid mark_seen payload")
	}
	username, err := h.boundUser(s)
	if err != nil {
		return err
	}
	if data.Username != "" && data.Username != username {
		return dispatch.ErrForbidden
	}
	_, err = h.dispatcher.MarkSeen(ctx, data.Room, username)
	return err
}

func (h *Handler) deleteMessage(ctx context.Context, s *Session, raw json.RawMessage) error {
	var data deleteData
	if err := json.Unmarshal(raw, &data); err != nil {
		return errors.New("invalid delete_message payload")
	}
	username, err := h.boundUser(s)
	if err != nil {
		return err
	}
	return h.dispatcher.DeleteMessage(ctx, data.Room, data.ID, username)
}

func (h *Handler) typing(s *Session, raw json.RawMessage, typing bool) error {
	var data seenData
	if err := json.Unmarshal(raw, &data); err != nil {
		return errors.New("invalid typing payload")
	}
	username, err := h.boundUser(s)
	if err != nil {
		return err
	}
	return h.dispatcher.Typing(data.Room, username, s.ID(), typing)
}
