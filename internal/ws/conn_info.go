package ws

import (
	"time"

	"messenger-service/internal/observability"
)

type ConnInfo struct {
	ConnID      string
	Username    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) identity() observability.WSIdentity {
	return observability.WSIdentity{Username: i.Username, DeviceID: i.DeviceID, IP: i.IP}
}
