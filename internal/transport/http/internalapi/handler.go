// Package internalapi provides the HTTP handlers used by other backend
// components to reach connected clients.
package internalapi

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/hub"
	"github.com/xiaot623/gogo/chatrelay/internal/protocol"
)

// Handler handles internal API requests.
type Handler struct {
	hub *hub.Hub
	log *log.Logger
}

// NewHandler creates a new internal API handler.
func NewHandler(h *hub.Hub, logger *log.Logger) *Handler {
	return &Handler{hub: h, log: logger}
}

// RegisterRoutes registers internal routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.POST("/internal/send", h.Send)
}

// Health reports the number of live connections and bound chats.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": h.hub.GetConnectionCount(),
		"chats":       h.hub.GetChatCount(),
	})
}

// SendRequest represents the request body for POST /internal/send.
type SendRequest struct {
	ChatID  string          `json:"chat_id"`
	Message json.RawMessage `json:"message"`
}

// SendResponse represents the response for POST /internal/send.
type SendResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// Send pushes a message to every connection bound to a chat.
func (h *Handler) Send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.ChatID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "chat_id is required"})
	}
	if len(req.Message) == 0 || string(req.Message) == "null" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}

	delivered := h.hub.HasActiveConnections(req.ChatID)
	if err := h.hub.BroadcastJSON(req.ChatID, protocol.PushFrame{Message: req.Message}); err != nil {
		h.log.Error("failed to broadcast message", "chat_id", req.ChatID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to broadcast message"})
	}

	h.log.Debug("message pushed", "chat_id", req.ChatID, "delivered", delivered)
	return c.JSON(http.StatusOK, SendResponse{
		OK:        true,
		Delivered: delivered,
	})
}
