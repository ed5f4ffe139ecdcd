// handlers_auth.go - Sign-in and sign-out handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/photo-gallery/backend/internal/identity"
)

// AuthHandlerImpl implements the AuthHandler interface
type AuthHandlerImpl struct {
	provider *identity.Provider
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(p *identity.Provider) AuthHandler {
	return &AuthHandlerImpl{provider: p}
}

type signInRequest struct {
	Token string `json:"token"`
}

type signInResponse struct {
	Session string        `json:"session"`
	User    identity.User `json:"user"`
}

// HandleSignIn exchanges a configured credential for a session token
func (h *AuthHandlerImpl) HandleSignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Token == "" {
		return NewValidationError("token")
	}

	session, user, err := h.provider.SignIn(req.Token)
	if err != nil {
		return NewUnauthorizedError(err)
	}
	return c.JSON(http.StatusOK, signInResponse{Session: session, User: user})
}

// HandleSignOut ends the session carried in the Authorization header
func (h *AuthHandlerImpl) HandleSignOut(c echo.Context) error {
	session := identity.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if session == "" {
		return NewUnauthorizedError(nil)
	}
	if err := h.provider.SignOut(session); err != nil {
		return NewUnauthorizedError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleMe returns the authenticated user
func (h *AuthHandlerImpl) HandleMe(c echo.Context) error {
	u, ok := identity.UserFrom(c)
	if !ok {
		return NewUnauthorizedError(nil)
	}
	return c.JSON(http.StatusOK, u)
}
