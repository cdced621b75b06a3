// Package hub provides a thread-safe websocket session hub
// using the idiomatic Go channel-based fan-out pattern.
//
// Observers register on connect and receive identical broadcast frames.
// Broadcasting iterates a registry owned by the hub goroutine, so connects
// and disconnects mid-broadcast never corrupt iteration. A client whose send
// buffer is full is dropped; reconnecting is the observer's responsibility.
package hub

import (
	"encoding/json"
	"sync"

	"github.com/wujilabs/go-wuji/internal/log"
)

// Hub maintains the set of active sessions and broadcasts frames to them
type Hub struct {
	// Name for logging
	name string

	// Registered sessions
	sessions map[*Session]bool

	// Outbound frames to broadcast
	broadcast chan []byte

	// Register requests from sessions
	register chan *Session

	// Unregister requests from sessions
	unregister chan *Session

	// Mutex for session count (read-only access from outside)
	mu sync.RWMutex

	count int
}

// New creates a new Hub
func New(name string) *Hub {
	return &Hub{
		name:       name,
		sessions:   make(map[*Session]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Session),
		unregister: make(chan *Session),
	}
}

// Run starts the hub's main loop
// This should be called in a goroutine
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.sessions[s] = true
			h.setCount(len(h.sessions))
			log.Info("observer connected", "hub", h.name, "session", s.ID, "total", len(h.sessions))

		case s := <-h.unregister:
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				close(s.send)
			}
			h.setCount(len(h.sessions))
			log.Info("observer disconnected", "hub", h.name, "session", s.ID, "remaining", len(h.sessions))

		case frame := <-h.broadcast:
			for s := range h.sessions {
				select {
				case s.send <- frame:
					// Frame queued successfully
				default:
					// Session's buffer is full - they're too slow.
					// Close and remove them; no retry.
					close(s.send)
					delete(h.sessions, s)
					log.Warn("dropped slow observer", "hub", h.name, "session", s.ID)
				}
			}
			h.setCount(len(h.sessions))
		}
	}
}

// Broadcast sends a frame to all connected sessions
func (h *Hub) Broadcast(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
		// Broadcast channel full - drop frame
		log.Warn("broadcast channel full, dropping frame", "hub", h.name)
	}
}

// BroadcastJSON encodes and broadcasts a JSON frame
func (h *Hub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// SessionCount returns the number of connected sessions
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
