package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"messenger-service/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session outbound queue full")
)

// Session is one websocket connection. Outbound frames are queued and
// written by a single writer goroutine.
type Session struct {
	conn *websocket.Conn
	info ConnInfo
	// pinned sessions were authenticated by token and keep their user.
	pinned bool

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newConnID() string {
	return uuid.NewString()
}

func newSession(conn *websocket.Conn, info ConnInfo) *Session {
	return &Session{conn: conn, info: info, send: make(chan []byte, sendBuffer)}
}

func (s *Session) ID() string { return s.info.ConnID }

// Send queues event without blocking. A session that cannot keep up is closed.
func (s *Session) Send(event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- payload:
		return nil
	default:
		s.closed = true
		close(s.send)
		return ErrSlowConsumer
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *Session) setUsername(username string) {
	s.mu.Lock()
	s.info.Username = username
	s.mu.Unlock()
}

func (s *Session) connInfo() ConnInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// readPump feeds inbound frames to handle until the peer goes away and
// returns the close reason.
func (s *Session) readPump(handle func([]byte)) string {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn_id", s.ID()).Msg("websocket read failed")
			}
			return err.Error()
		}
		handle(frame)
	}
}

// writePump is the only writer on the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Str("conn_id", s.ID()).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
