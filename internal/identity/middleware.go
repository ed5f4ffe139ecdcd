package identity

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"
)

const userKey = "identity.user"

// Middleware resolves the bearer token of each request. Requests without a
// token pass through anonymously unless authentication is required; an
// invalid token is always rejected.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				if p.required {
					return fmt.Errorf("missing bearer token: %w", ErrUnauthenticated)
				}
				return next(c)
			}
			u, err := p.Authenticate(token)
			if err != nil {
				return err
			}
			c.Set(userKey, u)
			return next(c)
		}
	}
}

// RequireOwner rejects authenticated requests whose owner differs from the
// user. owner extracts the owner named by the request.
func RequireOwner(owner func(c echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, ok := UserFrom(c)
			if !ok {
				return next(c)
			}
			if o := owner(c); o != "" && o != u.ID {
				return fmt.Errorf("user %s cannot access %s: %w", u.ID, o, ErrForbidden)
			}
			return next(c)
		}
	}
}

// UserFrom returns the authenticated user of the request.
func UserFrom(c echo.Context) (User, bool) {
	u, ok := c.Get(userKey).(User)
	return u, ok
}

// BearerToken extracts the token of an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
