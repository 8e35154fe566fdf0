package observability

import "time"

const (
	WSRoutingKey = "ws_events.sessions"

	WSConnect    = "ws_connect"
	WSDisconnect = "ws_disconnect"
	WSError      = "ws_error"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSLifecycle describes one websocket session event.
type WSLifecycle struct {
	WS       WSDetails  `json:"ws"`
	Identity WSIdentity `json:"identity"`
}

type WSDetails struct {
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

type WSIdentity struct {
	Username string `json:"username,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	IP       string `json:"ip"`
}

// NewWSEnvelope wraps a lifecycle event for the bus.
func NewWSEnvelope(event, connID, reason string, connectedAt time.Time, identity WSIdentity) EventEnvelope {
	var duration int64
	if !connectedAt.IsZero() && event != WSConnect {
		duration = time.Since(connectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: WSLifecycle{
			WS:       WSDetails{Event: event, ConnID: connID, DurationMS: duration, Reason: reason},
			Identity: identity,
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
