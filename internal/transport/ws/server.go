// Package ws serves the chat WebSocket endpoint.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/config"
	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
)

// Server handles WebSocket connections.
type Server struct {
	ctx      context.Context
	cfg      *config.Config
	hub      *hub.Hub
	svc      *service.Service
	upgrader websocket.Upgrader
	log      *log.Logger
}

// NewServer creates a new WebSocket server. Frames are processed under ctx,
// so cancelling it aborts in-flight gateway calls at shutdown.
func NewServer(ctx context.Context, cfg *config.Config, h *hub.Hub, svc *service.Service, logger *log.Logger) *Server {
	return &Server{
		ctx: ctx,
		cfg: cfg,
		hub: h,
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: logger.With("component", "ws"),
	}
}

// RegisterRoutes registers the WebSocket route.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
	e.GET("/ws/chat", s.HandleWebSocket)
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	req := c.Request()
	ownerID := s.svc.ResolveOwner(req.Context(), auth.RequestToken(req))

	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		s.log.Warn("failed to upgrade WebSocket", "err", err)
		return err
	}

	// Create and register connection
	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	conv := s.svc.NewConversation(ownerID, service.EmitterFunc(func(v interface{}) error {
		return s.hub.SendJSONToConnection(conn, v)
	}))

	s.log.Debug("connection opened", "conn_id", conn.ID, "owner_id", ownerID)

	// Start reader and writer goroutines
	go s.writePump(conn)
	go s.readPump(conn, conv)

	return nil
}

// readPump reads frames from the WebSocket connection and feeds them to the
// conversation one at a time.
func (s *Server) readPump(conn *hub.Connection, conv *service.Conversation) {
	defer func() {
		conv.Close()
		s.hub.Unregister(conn)
		conn.Close()
		s.log.Debug("connection closed", "conn_id", conn.ID, "chat_id", conv.ChatID())
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	conv.Open(s.ctx)
	s.hub.BindChat(conn, conv.ChatID())

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("WebSocket error", "conn_id", conn.ID, "err", err)
			}
			break
		}

		conv.HandleFrame(s.ctx, message)
		s.hub.BindChat(conn, conv.ChatID())
		// A slow gateway call must not count against the idle timeout.
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug("failed to write message", "conn_id", conn.ID, "err", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
