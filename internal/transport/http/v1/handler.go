// Package v1 provides the REST handlers for accounts, chats and forms.
package v1

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatrelay/internal/auth"
	"github.com/xiaot623/gogo/chatrelay/internal/domain"
	"github.com/xiaot623/gogo/chatrelay/internal/service"
)

const userIDKey = "user_id"

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	log     *log.Logger
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, logger *log.Logger) *Handler {
	return &Handler{
		service: service,
		log:     logger,
	}
}

// RegisterRoutes registers the REST routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/accounts/register", h.Register)
	e.POST("/v1/accounts/login", h.Login)

	authed := e.Group("/v1", h.requireUser)
	authed.POST("/accounts/logout", h.Logout)
	authed.DELETE("/accounts/me", h.DeleteAccount)

	authed.GET("/chats", h.ListChats)
	authed.GET("/chats/:chat_id/messages", h.GetChatMessages)
	authed.PATCH("/chats/:chat_id", h.UpdateChat)
	authed.DELETE("/chats/:chat_id", h.DeleteChat)

	authed.GET("/forms", h.ListForms)
	authed.POST("/forms", h.CreateForm)
	authed.DELETE("/forms/:form_id", h.DeleteForm)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// requireUser rejects requests without a valid bearer token and stores the
// caller's id on the context.
func (h *Handler) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return c.JSON(http.StatusUnauthorized, detail("Authentication credentials were not provided."))
		}
		userID, err := h.service.Authenticate(c.Request().Context(), token)
		if err != nil {
			return h.writeError(c, err)
		}
		c.Set(userIDKey, userID)
		return next(c)
	}
}

func currentUser(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func detail(msg string) map[string]string {
	return map[string]string{"detail": msg}
}

// writeError maps service errors to responses.
func (h *Handler) writeError(c echo.Context, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, verr.Fields)
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, detail("Not found."))
	case errors.Is(err, domain.ErrForbidden):
		return c.JSON(http.StatusForbidden, detail("You do not have permission to perform this action."))
	case errors.Is(err, domain.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, detail("Invalid credentials."))
	case errors.Is(err, domain.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, detail("Invalid token."))
	case errors.Is(err, domain.ErrInvalidStatus):
		return c.JSON(http.StatusBadRequest, map[string][]string{"status": {"Not a valid choice."}})
	default:
		h.log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "err", err)
		return c.JSON(http.StatusInternalServerError, detail("Internal server error."))
	}
}
