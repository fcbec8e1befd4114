package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/domain"
)

// ListChats returns the caller's chats, newest first.
// GET /v1/chats
func (h *Handler) ListChats(c echo.Context) error {
	chats, err := h.service.ListChats(c.Request().Context(), currentUser(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"chats": chats,
	})
}

// GetChatMessages returns a chat's history in order.
// GET /v1/chats/:chat_id/messages
func (h *Handler) GetChatMessages(c echo.Context) error {
	messages, err := h.service.ChatMessages(c.Request().Context(), currentUser(c), c.Param("chat_id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
	})
}

// UpdateChat changes title and/or status.
// PATCH /v1/chats/:chat_id
func (h *Handler) UpdateChat(c echo.Context) error {
	var req domain.ChatUpdate
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, detail("invalid request body"))
	}

	chat, err := h.service.UpdateChat(c.Request().Context(), currentUser(c), c.Param("chat_id"), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, chat)
}

// DeleteChat removes a chat and its messages.
// DELETE /v1/chats/:chat_id
func (h *Handler) DeleteChat(c echo.Context) error {
	if err := h.service.DeleteChat(c.Request().Context(), currentUser(c), c.Param("chat_id")); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
