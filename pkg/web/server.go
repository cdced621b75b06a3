// Package web exposes the bridge to observers: a websocket endpoint for the
// command/telemetry stream and a small REST surface for health checks.
package web

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/wujilabs/go-wuji/pkg/hub"
	"github.com/wujilabs/go-wuji/pkg/protocol"
)

// Controller is what the server needs from the bridge: a status snapshot for
// new observers and REST, and the inbound frame dispatcher.
type Controller interface {
	Status() protocol.Status
	HandleFrame(s *hub.Session, data []byte)
}

// Server is the observer-facing websocket/HTTP server
type Server struct {
	app  *fiber.App
	addr string

	hub  *hub.Hub
	ctrl Controller
}

// NewServer creates the server. The hub must be started (hub.Run) by the
// caller before Listen.
func NewServer(host string, port int, h *hub.Hub, ctrl Controller) *Server {
	s := &Server{
		addr: fmt.Sprintf("%s:%d", host, port),
		hub:  h,
		ctrl: ctrl,
	}

	app := fiber.New(fiber.Config{
		AppName:               "wuji-bridge",
		DisableStartupMessage: true,
	})

	// CORS for browser-based observers (Vision OS dev builds, dashboards)
	app.Use(cors.New())

	app.Get("/api/status", s.handleStatus)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleWS))

	s.app = app
	return s
}

// Listen blocks serving the endpoint. Failure to bind is the only
// process-fatal error in the system; the caller decides.
func (s *Server) Listen() error {
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handleStatus returns the bridge status snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.ctrl.Status())
}

// handleWS runs one observer session: register with the hub, send the
// initial status, then pump frames until the connection drops.
func (s *Server) handleWS(conn *websocket.Conn) {
	session := hub.NewSession(s.hub, conn, s.ctrl.HandleFrame)
	session.SendJSON(s.ctrl.Status())
	session.Run() // Blocks until connection closes
}
