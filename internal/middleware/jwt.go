package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-seat-admission/internal/model"
)

// TokenParser verifies access tokens. *token.Issuer satisfies it.
type TokenParser interface {
	Parse(raw string) (model.AccessToken, error)
}

// Context keys set by RequireAccessToken.
const (
	ctxAccessToken = "access_token"
	ctxUserID      = "user_id"
)

// RequireAccessToken returns an Echo middleware that validates a Bearer
// access token and stores the admission decision it carries in the
// request context. Handlers read it back with AccessTokenFrom.
func RequireAccessToken(parser TokenParser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "missing bearer token"})
			}
			tok, err := parser.Parse(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "message": "invalid access token"})
			}
			c.Set(ctxAccessToken, tok)
			c.Set(ctxUserID, strconv.FormatUint(tok.UserID, 10))
			return next(c)
		}
	}
}
