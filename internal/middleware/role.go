package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireGranted aborts with 403 unless the request carries an access
// token that admitted its holder immediately. Deferred (queued) tokens
// cannot confirm, release or cancel a seat detail. It must run after
// RequireAccessToken.
func RequireGranted() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok, ok := AccessTokenFrom(c)
			if !ok || !tok.Granted() {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "message": "access token does not grant the seat detail"})
			}
			return next(c)
		}
	}
}
