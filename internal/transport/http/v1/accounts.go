package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// CredentialsRequest is the body of register and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterResponse is returned for a new account.
type RegisterResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Token string `json:"token"`
}

// LoginResponse is returned for a successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Register creates an account.
// POST /v1/accounts/register
func (h *Handler) Register(c echo.Context) error {
	var req CredentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, detail("invalid request body"))
	}

	session, err := h.service.Register(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, RegisterResponse{
		ID:    session.User.ID,
		Email: session.User.Email,
		Token: session.Token,
	})
}

// Login issues a token for valid credentials.
// POST /v1/accounts/login
func (h *Handler) Login(c echo.Context) error {
	var req CredentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, detail("invalid request body"))
	}

	session, err := h.service.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, LoginResponse{
		Token:  session.Token,
		UserID: session.User.ID,
		Email:  session.User.Email,
	})
}

// Logout ends the session. Tokens are stateless so there is nothing to revoke.
// POST /v1/accounts/logout
func (h *Handler) Logout(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// DeleteAccount removes the caller and everything they own.
// DELETE /v1/accounts/me
func (h *Handler) DeleteAccount(c echo.Context) error {
	if err := h.service.DeleteAccount(c.Request().Context(), currentUser(c)); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
