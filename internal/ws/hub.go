package ws

import (
	"context"

	"github.com/rs/zerolog/log"

	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
)

// Hub fans events out to the sessions tracked by a presence registry.
type Hub struct {
	registry *presence.Registry
}

// NewHub creates a hub over registry.
func NewHub(registry *presence.Registry) *Hub {
	return &Hub{registry: registry}
}

// Publish sends event to every session subscribed to room except the one
// identified by exceptSessionID.
func (h *Hub) Publish(room string, event models.Event, exceptSessionID string) {
	for _, s := range h.registry.RoomSessions(room) {
		if s.ID() == exceptSessionID {
			continue
		}
		h.deliver(s, event)
	}
}

// NotifyUser sends event to every session bound to username.
func (h *Hub) NotifyUser(username string, event models.Event) {
	for _, s := range h.registry.SessionsFor(username) {
		h.deliver(s, event)
	}
}

// EvictUser unsubscribes username's sessions from room.
func (h *Hub) EvictUser(room, username string) {
	h.registry.EvictUser(room, username)
}

// CloseRoom drops every subscription to room.
func (h *Hub) CloseRoom(room string) {
	h.registry.CloseRoom(room)
}

func (h *Hub) deliver(s presence.Session, event models.Event) {
	if err := s.Send(event); err != nil {
		log.Warn().Err(err).Str("conn_id", s.ID()).Str("event", event.Name).Msg("websocket delivery failed")
		h.publishWSError(s, err)
		return
	}
	observability.IncWSEvent("out", event.Name)
}

func (h *Hub) publishWSError(s presence.Session, err error) {
	observability.IncWSEvent("out", observability.WSError)
	session, ok := s.(*Session)
	if !ok {
		return
	}
	info := session.connInfo()
	envelope := observability.NewWSEnvelope(observability.WSError, info.ConnID, err.Error(), info.ConnectedAt, info.identity())
	_ = observability.PublishEvent(context.Background(), observability.WSRoutingKey, envelope,
		observability.BuildHeaders(info.RequestID, info.TraceID))
}
