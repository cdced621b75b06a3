package hub

import (
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum inbound frame size allowed.
	// Command frames are small; anything larger is a broken client.
	maxMessageSize = 64 * 1024
)

// Conn is the subset of the websocket connection the hub uses.
// *websocket.Conn satisfies it; tests substitute a fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// MessageHandler receives every inbound frame from a session. It runs on the
// session's read goroutine; implementations must do their own locking.
type MessageHandler func(s *Session, data []byte)

// Session represents a single observer websocket connection
type Session struct {
	// ID identifies the session in logs.
	ID string

	hub     *Hub
	conn    Conn
	send    chan []byte
	onFrame MessageHandler
}

// NewSession creates a session and registers it with the hub.
// onFrame may be nil when inbound traffic should be discarded.
func NewSession(h *Hub, conn Conn, onFrame MessageHandler) *Session {
	s := &Session{
		ID:      uuid.NewString(),
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 256), // Buffered channel for backpressure
		onFrame: onFrame,
	}
	h.register <- s
	return s
}

// Send queues a frame for this session only (e.g. a hello reply).
// Returns false if the session's buffer is full.
func (s *Session) Send(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// SendJSON encodes and queues a frame for this session only.
func (s *Session) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.Send(data)
	return nil
}

// Run starts the session's read and write pumps
// This should be called in the websocket handler
func (s *Session) Run() {
	go s.writePump()
	s.readPump() // Blocks until connection closes
}

// readPump reads frames from the websocket connection and hands them to the
// message handler. It also keeps the connection alive and detects disconnection.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			break
		}
		if s.onFrame != nil {
			s.onFrame(s, data)
		}
	}
}

// writePump writes frames to the websocket connection
// Only this goroutine writes to the connection - no race conditions!
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel - send close frame
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
