package hub

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/websocket/v2"
)

// fakeConn is an in-memory Conn. Reads block on the inbound channel until
// the connection is closed; text writes are recorded.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte

	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	if messageType != websocket.TextMessage {
		return nil // control frames are uninteresting here
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBroadcastFanOut(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		t.Run(fmt.Sprintf("%d observers", n), func(t *testing.T) {
			h := New("test")
			go h.Run()

			conns := make([]*fakeConn, n)
			for i := range conns {
				conns[i] = newFakeConn()
				s := NewSession(h, conns[i], nil)
				go s.Run()
			}
			waitFor(t, "registrations", func() bool { return h.SessionCount() == n })

			frame := []byte(`{"type":"telemetry","ts":1}`)
			h.Broadcast(frame)

			for i, c := range conns {
				i, c := i, c
				waitFor(t, fmt.Sprintf("frame on conn %d", i), func() bool {
					fs := c.frames()
					return len(fs) == 1 && string(fs[0]) == string(frame)
				})
			}

			for _, c := range conns {
				c.Close()
			}
			waitFor(t, "unregistrations", func() bool { return h.SessionCount() == 0 })
		})
	}
}

func TestSessionSendIsUnicast(t *testing.T) {
	h := New("test")
	go h.Run()

	c1, c2 := newFakeConn(), newFakeConn()
	s1 := NewSession(h, c1, nil)
	NewSession(h, c2, nil) // registered but pumps never started
	go s1.Run()
	waitFor(t, "registrations", func() bool { return h.SessionCount() == 2 })

	if err := s1.SendJSON(map[string]string{"type": "status"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "unicast frame", func() bool { return len(c1.frames()) == 1 })

	time.Sleep(20 * time.Millisecond)
	if got := len(c2.frames()); got != 0 {
		t.Errorf("unicast leaked to another session: %d frames", got)
	}
	c1.Close()
}

func TestSlowObserverDropped(t *testing.T) {
	h := New("test")
	go h.Run()

	// Register a session but never run its write pump: its buffer can
	// only fill up.
	c := newFakeConn()
	NewSession(h, c, nil)
	waitFor(t, "registration", func() bool { return h.SessionCount() == 1 })

	frame := []byte(`{"type":"telemetry"}`)
	for i := 0; i < 300; i++ {
		h.Broadcast(frame)
		time.Sleep(time.Millisecond / 4)
	}

	waitFor(t, "slow observer drop", func() bool { return h.SessionCount() == 0 })
}

func TestInboundFramesDispatch(t *testing.T) {
	h := New("test")
	go h.Run()

	var mu sync.Mutex
	var got [][]byte
	handler := func(s *Session, data []byte) {
		mu.Lock()
		got = append(got, data)
		mu.Unlock()
	}

	c := newFakeConn()
	s := NewSession(h, c, handler)
	go s.Run()
	waitFor(t, "registration", func() bool { return h.SessionCount() == 1 })

	c.inbound <- []byte(`{"type":"arm","enabled":true}`)
	c.inbound <- []byte(`{"type":"hand_data"}`)

	waitFor(t, "dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	c.Close()
	waitFor(t, "unregistration", func() bool { return h.SessionCount() == 0 })
}

func TestBroadcastJSONEncodeError(t *testing.T) {
	h := New("test")
	if err := h.BroadcastJSON(func() {}); err == nil {
		t.Error("expected encode error for unserializable value")
	}
}
